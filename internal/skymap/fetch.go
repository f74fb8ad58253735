package skymap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// MaxMapBytes bounds a downloaded sky map.
const MaxMapBytes = 256 << 20

// Fetcher downloads sky maps over HTTP with retries.
type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a fetcher whose whole request, retries included, is
// bounded by timeout.
func NewFetcher(timeout time.Duration, retries int) *Fetcher {
	rC := retryablehttp.NewClient()
	rC.Logger = nil
	rC.RetryMax = retries
	rC.RetryWaitMin = 250 * time.Millisecond
	rC.RetryWaitMax = 2 * time.Second
	c := rC.StandardClient()
	c.Timeout = timeout
	return &Fetcher{client: c}
}

// Get downloads url and returns the body.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxMapBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if len(body) > MaxMapBytes {
		return nil, fmt.Errorf("fetch %s: sky map exceeds %d bytes", url, MaxMapBytes)
	}
	return body, nil
}

func readFile(path string) ([]byte, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if st.Size() > MaxMapBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, MaxMapBytes)
	}
	return os.ReadFile(path) // #nosec G304 -- operator-supplied path
}
