package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "epibot/pkg/logx"
)

// Fetcher downloads source feeds into a local cache directory,
// one subdirectory per source.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	log      logx.Logger
}

func NewFetcher(cacheDir string, timeout time.Duration, log logx.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		cacheDir: cacheDir,
		log:      log,
	}
}

func (f *Fetcher) localPath(spec Spec, key string) (string, error) {
	rf, ok := spec.Files[key]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownFile, spec.Source, key)
	}
	return filepath.Join(f.cacheDir, string(spec.Source), rf.Local), nil
}

func (f *Fetcher) remoteURL(spec Spec, key string) (string, error) {
	rf, ok := spec.Files[key]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownFile, spec.Source, key)
	}
	return strings.TrimRight(spec.BaseURL, "/") + "/" + rf.Remote, nil
}

// Refresh pulls the source's remote files into the cache. When the source
// declares an update key, files are only re-downloaded if the remote dataset reports
// a newer last-update timestamp than the cached one (or the cache is
// incomplete).
func (f *Fetcher) Refresh(ctx context.Context, spec Spec) error {
	keys := make([]string, 0, len(spec.Files))
	for k := range spec.Files {
		keys = append(keys, k)
	}

	if spec.UpdateKey != "" {
		stale, err := f.isStale(ctx, spec)
		if err != nil {
			// Freshness probing is best-effort; fall through to a download.
			f.log.Warn("dataset freshness check failed; downloading anyway",
				logx.String("source", string(spec.Source)), logx.Err(err))
		} else if !stale {
			f.log.Debug("dataset cache is fresh", logx.String("source", string(spec.Source)))
			return nil
		}
	}

	for _, key := range keys {
		if err := f.download(ctx, spec, key); err != nil {
			return fmt.Errorf("refresh %s/%s: %w", spec.Source, key, err)
		}
	}
	f.log.Debug("dataset refreshed",
		logx.String("source", string(spec.Source)), logx.Int("files", len(keys)))
	return nil
}

func (f *Fetcher) isStale(ctx context.Context, spec Spec) (bool, error) {
	// Missing cache files force a download regardless of timestamps.
	for key := range spec.Files {
		p, err := f.localPath(spec, key)
		if err != nil {
			return false, err
		}
		if _, err := os.Stat(p); err != nil {
			return true, nil
		}
	}

	localPath, err := f.localPath(spec, spec.UpdateKey)
	if err != nil {
		return false, err
	}
	local, err := readLastUpdateFile(localPath)
	if err != nil {
		return true, nil
	}

	url, err := f.remoteURL(spec, spec.UpdateKey)
	if err != nil {
		return false, err
	}
	body, err := f.get(ctx, url)
	if err != nil {
		return false, err
	}
	remote, err := parseLastUpdate(body)
	if err != nil {
		return false, err
	}
	return remote.After(local), nil
}

func (f *Fetcher) download(ctx context.Context, spec Spec, key string) error {
	url, err := f.remoteURL(spec, key)
	if err != nil {
		return err
	}
	local, err := f.localPath(spec, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}

	// Write to a temp file and rename so readers never see partial feeds.
	tmp, err := os.CreateTemp(filepath.Dir(local), ".download-*")
	if err != nil {
		return err
	}
	_, err = io.Copy(tmp, resp.Body)
	cerr := tmp.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), local)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func readLastUpdateFile(path string) (time.Time, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	return parseLastUpdate(b)
}

func parseLastUpdate(b []byte) (time.Time, error) {
	var v struct {
		LastUpdate string `json:"ultimo_aggiornamento"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return time.Time{}, err
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(v.LastUpdate)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable last-update timestamp %q", v.LastUpdate)
}
