// Package telemetry appends structured request events to a JSON-lines log and
// reads them back incrementally.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"honeyguard/internal/models"
)

// TimestampLayout is the layout of RequestEvent.Timestamp.
const TimestampLayout = time.RFC3339Nano

type Writer struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewWriter(path string) *Writer {
	return &Writer{path: path, now: time.Now}
}

func (w *Writer) Path() string { return w.path }

// Append stamps the event with the current UTC time and writes it as one line.
// The stamped event is returned.
func (w *Writer) Append(ev models.RequestEvent) (models.RequestEvent, error) {
	ev.Timestamp = w.now().UTC().Format(TimestampLayout)

	line, err := json.Marshal(ev)
	if err != nil {
		return ev, fmt.Errorf("encode request event: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ev, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return ev, fmt.Errorf("open request log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return ev, fmt.Errorf("append request log: %w", err)
	}
	return ev, nil
}
