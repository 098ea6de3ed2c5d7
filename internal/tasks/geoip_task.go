package tasks

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"
	zlog "github.com/rs/zerolog/log"

	"honeyguard/internal/config"
)

const (
	TypeGeoIPUpdate = "geoip:update"
)

type GeoIPPayload struct {
	Edition string `json:"edition"`
}

func NewGeoIPUpdateTask(edition string) (*asynq.Task, error) {
	payload, err := json.Marshal(GeoIPPayload{Edition: edition})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeGeoIPUpdate, payload, asynq.MaxRetry(3), asynq.Queue("low")), nil
}

// GeoIPReloader is notified after a database file was replaced.
type GeoIPReloader interface {
	ReloadReaders()
}

type GeoIPTaskHandler struct {
	cfg      *config.Config
	reloader GeoIPReloader
	client   *http.Client
}

func NewGeoIPTaskHandler(cfg *config.Config, reloader GeoIPReloader) *GeoIPTaskHandler {
	return &GeoIPTaskHandler{
		cfg:      cfg,
		reloader: reloader,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

func (h *GeoIPTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p GeoIPPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.Download(ctx, p.Edition); err != nil {
		return err
	}

	if h.reloader != nil {
		h.reloader.ReloadReaders()
	}
	return nil
}

func (h *GeoIPTaskHandler) dbPath(edition string) string {
	return filepath.Join(h.cfg.GeoIPDir, edition+".mmdb")
}

// Download fetches the tar.gz of edition and extracts its .mmdb file into
// GEOIP_DIR. The file is replaced atomically.
func (h *GeoIPTaskHandler) Download(ctx context.Context, edition string) error {
	if h.cfg.GeoIPAccountID == "" || h.cfg.GeoIPLicenseKey == "" {
		return fmt.Errorf("MaxMind credentials missing: %w", asynq.SkipRetry)
	}

	url := fmt.Sprintf("%s/%s/download?suffix=tar.gz", strings.TrimRight(h.cfg.GeoIPDownloadURL, "/"), edition)
	zlog.Info().Str("edition", edition).Msg("Asynq: downloading GeoIP database")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(h.cfg.GeoIPAccountID, h.cfg.GeoIPLicenseKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	gzr, err := gzip.NewReader(resp.Body)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if !strings.HasSuffix(header.Name, ".mmdb") {
			continue
		}

		destPath := h.dbPath(edition)
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return err
		}
		tmp, err := os.CreateTemp(filepath.Dir(destPath), edition+"-*.tmp")
		if err != nil {
			return err
		}
		if _, err := io.Copy(tmp, tr); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return err
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return err
		}
		if err := os.Rename(tmp.Name(), destPath); err != nil {
			os.Remove(tmp.Name())
			return err
		}
		zlog.Info().Str("path", destPath).Msg("Asynq: GeoIP database updated")
		return nil
	}

	return fmt.Errorf("mmdb not found in archive")
}
