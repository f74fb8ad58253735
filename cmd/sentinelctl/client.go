package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
)

const apiPrefix = "/api/v1"

// client talks to the control API of one daemon.
type client struct {
	base string
	http *http.Client
}

func newClient(addr string, timeout time.Duration, retries int) (*client, error) {
	u, err := url.Parse(addr)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid daemon address %q", addr)
	}
	rC := retryablehttp.NewClient()
	rC.Logger = nil
	rC.RetryMax = retries
	rC.RetryWaitMin = 200 * time.Millisecond
	rC.RetryWaitMax = time.Second
	// hand the last response back so API error messages survive retries
	rC.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c := rC.StandardClient()
	c.Timeout = timeout
	return &client{base: strings.TrimRight(addr, "/") + apiPrefix, http: c}, nil
}

// do sends one request and returns the response body. Non-2xx responses
// become errors carrying the API's error message.
func (c *client) do(ctx context.Context, method, path string, body io.Reader, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(data, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return nil, &apiError{Status: resp.StatusCode, Message: msg}
	}
	return data, nil
}

func (c *client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

func (c *client) post(ctx context.Context, path string, v any) ([]byte, error) {
	if v == nil {
		return c.do(ctx, http.MethodPost, path, nil, nil)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(b), http.Header{"Content-Type": {"application/json"}})
}

// apiError is a non-2xx control API response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}
