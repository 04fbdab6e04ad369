// Package ics loads iCalendar sources and turns their VEVENTs into master
// entities with sparse instance overrides.
package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "calcore/internal/log"
	"calcore/internal/temporal"
)

// Source is one configured calendar. Exactly one of Path and URL is set.
type Source struct {
	ID   string
	Name string
	Path string
	URL  string
}

func (s Source) location() string {
	if s.Path != "" {
		return s.Path
	}
	return redactURL(s.URL)
}

// validatorMeta holds the HTTP validators of the last good response.
type validatorMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Loader reads sources from disk or over HTTP. Remote bodies are kept in
// cacheDir and revalidated with ETag / Last-Modified; the cached copy is
// served when the server is unreachable.
type Loader struct {
	client   *http.Client
	cacheDir string
	zones    temporal.Zones
}

// NewLoader returns a Loader. An empty cacheDir disables the HTTP body
// cache.
func NewLoader(cacheDir string, zones temporal.Zones) *Loader {
	if zones == nil {
		zones = temporal.DefaultZones()
	}
	return &Loader{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
		zones:    zones,
	}
}

// LoadAll loads and parses every source. Failing sources are logged and
// reported in the error slice; the rest are returned.
func (l *Loader) LoadAll(ctx context.Context, sources []Source) ([]*Calendar, []error) {
	cals := make([]*Calendar, 0, len(sources))
	var errs []error
	for _, src := range sources {
		body, err := l.Read(ctx, src)
		if err != nil {
			appLog.Error("calendar load failed", err, "id", src.ID, "from", src.location())
			errs = append(errs, err)
			continue
		}
		cal, err := Parse(src, body, l.zones)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cals = append(cals, cal)
	}
	return cals, errs
}

// Read returns the raw payload of src.
func (l *Loader) Read(ctx context.Context, src Source) ([]byte, error) {
	switch {
	case src.Path != "":
		body, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("ics: read %s: %w", src.ID, err)
		}
		return body, nil
	case src.URL != "":
		return l.fetch(ctx, src)
	default:
		return nil, fmt.Errorf("ics: source %q has neither path nor url", src.ID)
	}
}

func (l *Loader) fetch(ctx context.Context, src Source) ([]byte, error) {
	dir := l.cachePath(src.URL)
	var meta validatorMeta
	var cached []byte
	if dir != "" {
		meta, _ = loadMeta(dir)
		cached, _ = os.ReadFile(filepath.Join(dir, "body.ics"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("ics: request %s: %w", src.ID, err)
	}
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := l.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Warn("calendar fetch failed, serving cached copy", "id", src.ID, "url", redactURL(src.URL), "err", err)
			return cached, nil
		}
		return nil, fmt.Errorf("ics: fetch %s: %w", src.ID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("ics: read body %s: %w", src.ID, err)
		}
		if dir != "" {
			next := validatorMeta{
				URL:          src.URL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveCache(dir, next, body); err != nil {
				appLog.Error("calendar cache save failed", err, "id", src.ID)
			}
		}
		appLog.Debug("calendar fetched", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, fmt.Errorf("ics: %s: 304 without a cached body", src.ID)
		}
		appLog.Debug("calendar not modified", "id", src.ID)
		return cached, nil

	default:
		if len(cached) > 0 {
			appLog.Warn("calendar fetch non-OK, serving cached copy", "id", src.ID, "status", resp.StatusCode)
			return cached, nil
		}
		return nil, fmt.Errorf("ics: fetch %s: %s", src.ID, resp.Status)
	}
}

func (l *Loader) cachePath(rawURL string) string {
	if l.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(l.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (validatorMeta, error) {
	var meta validatorMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return validatorMeta{}, err
	}
	return meta, nil
}

// saveCache writes the body before the metadata so validators never point
// at a missing body.
func saveCache(dir string, meta validatorMeta, body []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; calendar URLs often embed tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/(redacted)"
}

