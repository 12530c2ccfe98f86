package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Downloader fetches a URL's body, returning the HTTP status code alongside
// any transport error so callers can distinguish "not found" (move to the
// next granule) from transient failures (retry).
type Downloader interface {
	Get(ctx context.Context, url string) (body []byte, status int, err error)
}

// httpDownloader is the production Downloader, backed by a plain
// *http.Client.
type httpDownloader struct {
	client *http.Client
}

// NewHTTPDownloader builds a Downloader with a bounded per-request timeout.
func NewHTTPDownloader(timeout time.Duration) Downloader {
	return &httpDownloader{client: &http.Client{Timeout: timeout}}
}

func (d *httpDownloader) Get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain to allow connection reuse, discarding the body.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}
