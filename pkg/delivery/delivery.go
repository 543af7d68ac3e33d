// Package delivery provides the outbound HTTP client used to deliver
// webhook payloads. The client performs exactly one POST per call: it
// never retries and never interprets the response beyond the status
// code. Retry policy belongs to the caller.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Header is one name/value pair added to the outgoing request. Pairs
// are added in order and names may repeat.
type Header struct {
	Name  string
	Value string
}

// Request describes one outgoing delivery.
type Request struct {
	URL     string
	Body    []byte
	Headers []Header
}

// Response carries the only part of the endpoint's answer the engine
// acts on.
type Response struct {
	StatusCode int
}

// Success reports whether the endpoint acknowledged with a 2xx.
func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client posts delivery requests. Implementations must be safe for
// concurrent use.
type Client interface {
	Post(ctx context.Context, req Request) (Response, error)
}

// Config holds HTTP client settings.
type Config struct {
	// Timeout bounds one request end to end.
	Timeout time.Duration

	// MaxConcurrent caps in-flight requests across all webhooks.
	MaxConcurrent int

	// RateLimit caps outbound requests per second across all webhooks.
	// Zero disables the limiter.
	RateLimit float64

	// MaxIdleConnsPerHost sizes the connection pool per endpoint host.
	MaxIdleConnsPerHost int
}

// DefaultConfig returns the default client settings.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		MaxConcurrent:       64,
		MaxIdleConnsPerHost: 8,
	}
}

// HTTPClient implements Client over net/http.
type HTTPClient struct {
	httpClient *http.Client
	sem        *semaphore.Weighted
	limiter    *rate.Limiter
}

// NewHTTPClient creates a delivery client with the given settings.
// Zero values fall back to DefaultConfig.
func NewHTTPClient(cfg Config) *HTTPClient {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost

	c := &HTTPClient{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		sem: semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// Post delivers the request and returns the endpoint's status code.
// Transport failures, timeouts and cancellation return an error; any
// HTTP response, 2xx or not, returns a Response without error.
func (c *HTTPClient) Post(ctx context.Context, req Request) (Response, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Response{}, err
	}
	defer c.sem.Release(1)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Response{}, err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	for _, h := range req.Headers {
		httpReq.Header.Add(h.Name, h.Value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	return Response{StatusCode: resp.StatusCode}, nil
}
