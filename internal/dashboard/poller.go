// Package dashboard keeps the latest copy of each honeypot resource and
// derives the view the dashboard renders from it.
package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"honeyguard/internal/metrics"
)

// ErrPollInFlight is returned by Poll when a previous poll of the same
// resource has not completed yet. The new poll is skipped, not queued.
var ErrPollInFlight = errors.New("poll already in flight")

// DefaultInterval is the refresh period of the dashboard pages.
const DefaultInterval = 5 * time.Second

// FetchFunc loads one resource.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Poller owns the most recent successfully fetched value of one resource.
// At most one fetch is outstanding at any time.
type Poller[T any] struct {
	name  string
	fetch FetchFunc[T]
	slot  chan struct{}

	mu        sync.RWMutex
	value     T
	loaded    bool
	updatedAt time.Time
	lastErr   error
	listeners []func(T)
}

func NewPoller[T any](name string, fetch FetchFunc[T]) *Poller[T] {
	return &Poller[T]{
		name:  name,
		fetch: fetch,
		slot:  make(chan struct{}, 1),
	}
}

// OnUpdate registers fn to be called with every newly stored value.
func (p *Poller[T]) OnUpdate(fn func(T)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Poll performs one fetch. On failure the stored value is left as it was and
// the error is returned. A result that arrives after ctx is done is dropped.
func (p *Poller[T]) Poll(ctx context.Context) error {
	select {
	case p.slot <- struct{}{}:
	default:
		metrics.MetricPollTotal.WithLabelValues(p.name, "skipped").Inc()
		return ErrPollInFlight
	}
	defer func() { <-p.slot }()

	v, err := p.fetch(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		metrics.MetricPollTotal.WithLabelValues(p.name, "discarded").Inc()
		return ctxErr
	}

	p.mu.Lock()
	if err != nil {
		p.lastErr = err
		p.mu.Unlock()
		metrics.MetricPollTotal.WithLabelValues(p.name, "error").Inc()
		return err
	}
	p.value = v
	p.loaded = true
	p.updatedAt = time.Now()
	p.lastErr = nil
	listeners := append([]func(T){}, p.listeners...)
	p.mu.Unlock()

	metrics.MetricPollTotal.WithLabelValues(p.name, "ok").Inc()
	for _, fn := range listeners {
		fn(v)
	}
	return nil
}

// Run polls immediately and then once per interval until ctx is done. A tick
// that fires while the previous fetch is still outstanding is skipped.
func (p *Poller[T]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	var wg sync.WaitGroup
	defer wg.Wait()

	tick := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Poll(ctx)
			switch {
			case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			case errors.Is(err, ErrPollInFlight):
				zlog.Debug().Str("resource", p.name).Msg("Previous poll still running, skipping tick")
			default:
				zlog.Warn().Err(err).Str("resource", p.name).Msg("Poll failed, keeping previous data")
			}
		}()
	}

	tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// Latest returns the stored value, or the zero value before the first
// successful poll.
func (p *Poller[T]) Latest() T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

type Snapshot[T any] struct {
	Value     T
	Loaded    bool
	UpdatedAt time.Time
	// Err is the error of the most recent poll, nil once a poll succeeds again.
	Err error
}

func (p *Poller[T]) Snapshot() Snapshot[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot[T]{Value: p.value, Loaded: p.loaded, UpdatedAt: p.updatedAt, Err: p.lastErr}
}
