package telemetry

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// Rotate moves the log into a gzip archive next to it and truncates it once
// it has grown to maxBytes. It returns the archive path, or "" when the log
// was left alone. maxBytes <= 0 disables rotation.
func (w *Writer) Rotate(maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		return "", nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat request log: %w", err)
	}
	if info.Size() < maxBytes {
		return "", nil
	}

	archive := fmt.Sprintf("%s.%s.gz", w.path, w.now().UTC().Format("20060102T150405.000000000"))
	if err := compressFile(w.path, archive); err != nil {
		_ = os.Remove(archive)
		return "", err
	}
	if err := os.Truncate(w.path, 0); err != nil {
		return archive, fmt.Errorf("truncate request log: %w", err)
	}
	return archive, nil
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open request log: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	gz, err := gzip.NewWriterLevel(out, gzip.BestSpeed)
	if err != nil {
		return err
	}
	if _, err := io.Copy(gz, in); err != nil {
		_ = gz.Close()
		return fmt.Errorf("compress request log: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return out.Sync()
}
