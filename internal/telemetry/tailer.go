package telemetry

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"

	"honeyguard/internal/models"
)

// Tailer reads a request log from the last consumed offset. Only complete
// lines are consumed; a trailing partial line is read on a later call.
type Tailer struct {
	path   string
	mu     sync.Mutex
	offset int64
}

func NewTailer(path string) *Tailer {
	return &Tailer{path: path}
}

func (t *Tailer) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// Reset makes the next TailOnce start from the beginning of the file.
func (t *Tailer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = 0
}

// TailOnce hands every new well-formed event to fn and returns how many were
// processed. Blank and undecodable lines are skipped. A missing file is not
// an error.
func (t *Tailer) TailOnce(fn func(models.RequestEvent)) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open request log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat request log: %w", err)
	}
	if info.Size() < t.offset {
		zlog.Info().Str("path", t.path).Msg("Request log truncated, reading from start")
		t.offset = 0
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek request log: %w", err)
	}

	processed := 0
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return processed, fmt.Errorf("read request log: %w", err)
		}
		t.offset += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var ev models.RequestEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			zlog.Debug().Err(err).Msg("Skipping malformed request log line")
			continue
		}
		fn(ev)
		processed++
	}
	return processed, nil
}
