// Package http builds the outbound HTTP client used to fetch remote
// templates and JSON resources.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"kumascript/internal/circuitbreaker"
	"kumascript/internal/common/errors"
)

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	Transport           http.RoundTripper
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithTransport sets a custom transport
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// NewHTTPClient creates a new HTTP client with the given options
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		}
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// DefaultMaxBodySize caps how much of a response body Fetcher reads.
const DefaultMaxBodySize = 5 << 20

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher performs GET requests through a circuit breaker per upstream host.
type Fetcher struct {
	client      *http.Client
	breakers    *circuitbreaker.Manager
	maxBodySize int64
	userAgent   string
}

// NewFetcher creates a fetcher. A nil client uses NewHTTPClient(); nil
// breakers disables circuit breaking.
func NewFetcher(client *http.Client, breakers *circuitbreaker.Manager) *Fetcher {
	if client == nil {
		client = NewHTTPClient()
	}
	return &Fetcher{
		client:      client,
		breakers:    breakers,
		maxBodySize: DefaultMaxBodySize,
		userAgent:   "kumascript",
	}
}

// Get fetches rawURL. 404 maps to a not-found error, other 4xx responses to
// a validation error and 5xx responses or transport failures to a
// connection error; only the latter count against the host's breaker.
func (f *Fetcher) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, errors.ValidationError(fmt.Sprintf("invalid URL %q", rawURL))
	}

	var resp *Response
	do := func() error {
		r, err := f.do(ctx, u.String(), header)
		resp = r
		return err
	}

	if f.breakers == nil {
		err = do()
	} else {
		err = f.breakers.Execute(u.Host, do)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (f *Fetcher) do(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("invalid request for %s: %v", rawURL, err))
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	start := time.Now()
	res, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.TimeoutError("GET "+rawURL, err)
		}
		return nil, errors.ConnectionError("GET "+rawURL+" failed", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, f.maxBodySize))
	if err != nil {
		return nil, errors.ConnectionError("reading response from "+rawURL+" failed", err)
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, errors.NotFoundError(rawURL)
	case res.StatusCode >= 500:
		return nil, errors.ConnectionError(fmt.Sprintf("GET %s returned %d", rawURL, res.StatusCode), nil).
			WithContext("status", res.StatusCode)
	case res.StatusCode >= 400:
		return nil, errors.ValidationError(fmt.Sprintf("GET %s returned %d", rawURL, res.StatusCode)).
			WithContext("status", res.StatusCode)
	}

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}
