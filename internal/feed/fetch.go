package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	applog "inkcal/internal/log"
)

// Source identifies one remote calendar.
type Source struct {
	// ID is the configured calendar name; unique within a config.
	ID string
	// URL is the ICS endpoint.
	URL string
}

// Result is the outcome of fetching one source. Exactly one of Body or Err
// is meaningful; Err is a *FetchError when set.
type Result struct {
	Source    Source
	Body      []byte
	FromCache bool
	Err       error
}

// cacheEntry holds HTTP cache metadata for a single feed URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher retrieves feed bodies with conditional requests (ETag /
// Last-Modified) and a disk-backed body cache for stale fallback.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	timeout  time.Duration
}

// NewFetcher creates a Fetcher. timeout bounds each individual source fetch.
func NewFetcher(cacheDir string, timeout time.Duration) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./cache/feeds"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		cacheDir: cacheDir,
		timeout:  timeout,
	}
}

// FetchAll fetches all sources concurrently, one goroutine per source, and
// waits until every fetch has completed or timed out. Results come back in
// source order; a straggler contributes an error entry rather than blocking
// the whole cycle past its own timeout.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) []Result {
	results := make([]Result, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()

			res, err := f.FetchOne(fetchCtx, src)
			if err != nil {
				results[i] = Result{Source: src, Err: &FetchError{SourceID: src.ID, Err: err}}
				return
			}
			results[i] = res
		}(i, src)
	}
	wg.Wait()

	return results
}

// FetchOne fetches a single source, honoring ETag and Last-Modified, with a
// disk cache keyed by a hash of the URL. On network failure the cached body
// (if any) is returned instead.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (Result, error) {
	if src.URL == "" {
		return Result{}, errors.New("source URL is empty")
	}

	cachePath := f.cachePathForURL(src.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return Result{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return Result{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			applog.Warn("feed fetch failed, using cached body", "id", src.ID, "url", redactURL(src.URL), "reason", err)
			return Result{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return Result{}, readErr
		}

		newMeta := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			applog.Error("feed cache save failed", err, "id", src.ID)
		}

		applog.Info("feed fetch ok", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return Result{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return Result{}, errors.New("304 Not Modified but no cached body available")
		}
		applog.Info("feed not modified, using cache", "id", src.ID, "url", redactURL(src.URL))
		return Result{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			applog.Warn("feed fetch non-OK, using cached body", "id", src.ID, "status", resp.StatusCode)
			return Result{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, errors.New(resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so the metadata never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL hides everything past the host, since feed URLs commonly embed
// secret tokens.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
