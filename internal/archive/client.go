// Package archive looks up historical notices by identifier and keeps a
// compressed copy of every raw payload the daemon handles.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// MaxPayloadBytes bounds a notice fetched from the remote archive.
const MaxPayloadBytes = 4 << 20

// ErrNotFound is returned when the archive has no notice for an identifier.
var ErrNotFound = errors.New("notice not in archive")

// Client fetches raw notice payloads from a VOEvent archive exposing
// <base>/packet/xml/<identifier without the ivo:// scheme>.
type Client struct {
	base   string
	client *http.Client
}

// NewClient returns a client for the archive at baseURL.
func NewClient(baseURL string, timeout time.Duration, retries int) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("archive url %q must be an absolute http(s) URL", baseURL)
	}

	rC := retryablehttp.NewClient()
	rC.Logger = nil
	rC.RetryMax = retries
	rC.RetryWaitMin = 250 * time.Millisecond
	rC.RetryWaitMax = 2 * time.Second
	c := rC.StandardClient()
	c.Timeout = timeout

	return &Client{base: strings.TrimRight(baseURL, "/"), client: c}, nil
}

// Fetch returns the raw payload of the notice with the given identifier.
func (c *Client) Fetch(ctx context.Context, ivorn string) ([]byte, error) {
	rest, ok := strings.CutPrefix(ivorn, "ivo://")
	if !ok || rest == "" {
		return nil, fmt.Errorf("not an ivo:// identifier: %q", ivorn)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/packet/xml/"+url.PathEscape(rest), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ivorn)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("archive returned status %d for %s", resp.StatusCode, ivorn)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read archive response: %w", err)
	}
	if len(body) > MaxPayloadBytes {
		return nil, fmt.Errorf("archive payload for %s exceeds %d bytes", ivorn, MaxPayloadBytes)
	}
	return body, nil
}
