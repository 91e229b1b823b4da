package pagerduty

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1 << 20
	userAgent       = "pdrelay/1"
)

// Response is the part of an HTTP response the channel needs.
type Response interface {
	StatusCode() int
	Body() []byte
}

// Transport posts a JSON body to url. It returns an error only when no
// response could be obtained; non-2xx statuses are returned as a Response.
type Transport interface {
	Post(ctx context.Context, url string, body []byte) (Response, error)
}

// HTTPResponse is the Response returned by HTTPTransport.
type HTTPResponse struct {
	Status  int
	Content []byte
}

// StatusCode returns the HTTP status code.
func (r *HTTPResponse) StatusCode() int { return r.Status }

// Body returns the response body, capped at 1 MiB.
func (r *HTTPResponse) Body() []byte { return r.Content }

// HTTPTransport is a Transport backed by an *http.Client.
// Timeouts and TLS settings belong to the client.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps client. A nil client is replaced by one with a
// 10 second timeout.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPTransport{client: client}
}

// Post sends body to url with Content-Type application/json.
func (t *HTTPTransport) Post(ctx context.Context, url string, body []byte) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	// *url.Error already names the method and URL.
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &HTTPResponse{Status: resp.StatusCode, Content: content}, nil
}
