package llm

import (
	"context"
	"io"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 45 * time.Second

// Transport sends the two kinds of requests the client needs. Tests swap in a
// stub; production uses HTTPTransport.
type Transport interface {
	Get(ctx context.Context, url string) (*http.Response, error)
	Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error)
}

// HTTPTransport is the default Transport. Every request asks for JSON.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns a transport whose requests give up after timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPTransport{Client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return t.do(req)
}

func (t *HTTPTransport) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return t.do(req)
}

func (t *HTTPTransport) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	c := t.Client
	if c == nil {
		c = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return c.Do(req)
}
