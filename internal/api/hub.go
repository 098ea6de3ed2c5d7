package api

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"honeyguard/internal/models"
)

// AttackChannel is the Redis pub/sub channel shared by all instances.
const AttackChannel = "honeyguard:attacks"

// hubWriteWait bounds each client write so a stalled reader cannot hold up
// the broadcast loop.
const hubWriteWait = 5 * time.Second

// Hub fans attack events out to connected websocket clients. With a Redis
// client every broadcast goes through pub/sub so clients of all instances
// receive it.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
	rdb        *redis.Client
	writeWait  time.Duration
}

func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stop:       make(chan struct{}),
		rdb:        rdb,
		writeWait:  hubWriteWait,
	}
}

func (h *Hub) Run() {
	if h.rdb != nil {
		go h.subscribe()
	}
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				_ = client.SetWriteDeadline(time.Now().Add(h.writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					zlog.Debug().Err(err).Str("remote", client.RemoteAddr().String()).Msg("Hub: dropping websocket client")
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) subscribe() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubsub := h.rdb.Subscribe(ctx, AttackChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-h.stop:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.deliver([]byte(msg.Payload))
		}
	}
}

// BroadcastAttack sends an attack to every client. If publishing to Redis
// fails the attack is still delivered to local clients.
func (h *Hub) BroadcastAttack(a models.Attack) {
	h.BroadcastEvent("attack", a)
}

func (h *Hub) BroadcastEvent(action string, data interface{}) {
	msg, err := json.Marshal(map[string]interface{}{
		"action": action,
		"data":   data,
	})
	if err != nil {
		zlog.Error().Err(err).Str("action", action).Msg("Hub: failed to encode event")
		return
	}
	if h.rdb != nil {
		err := h.rdb.Publish(context.Background(), AttackChannel, msg).Err()
		if err == nil {
			return
		}
		zlog.Warn().Err(err).Msg("Hub: publish failed, delivering locally")
	}
	h.deliver(msg)
}

func (h *Hub) deliver(msg []byte) {
	select {
	case h.broadcast <- msg:
	case <-h.stop:
	default:
		// Drop when the buffer is full or the hub stopped
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}
