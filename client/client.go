// Package client provides the HTTP client shared by all registry connectors,
// with retry, rate limiting, circuit breaking, and URL construction.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/dnscache"
	"golang.org/x/time/rate"
)

var (
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamDown is returned for 5xx responses after retries.
	ErrUpstreamDown = errors.New("upstream registry unavailable")
)

// HTTPError represents a non-2xx response that is neither a 404, a rate
// limit, nor a server error.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsNotFound returns true if the error represents a 404 response.
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// RateLimitError is returned when the registry rate limits requests and
// retries did not clear it.
type RateLimitError struct {
	RetryAfter int // seconds, 0 if the upstream did not say
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %d seconds", e.RetryAfter)
}

// Client is an HTTP client for registry JSON APIs. Requests pass through a
// token-bucket rate gate, then a per-host circuit breaker, then a retry loop
// with exponential backoff and jitter.
type Client struct {
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	limiter    *rate.Limiter
	breakers   *breakerGroup
	authFn     func(url string) (headerName, headerValue string)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.httpClient.Timeout = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// WithMaxRetries sets the maximum number of retries.
func WithMaxRetries(n int) Option {
	return func(cl *Client) {
		cl.maxRetries = n
	}
}

// WithBaseDelay sets the base delay for exponential backoff between retries.
func WithBaseDelay(d time.Duration) Option {
	return func(cl *Client) {
		cl.baseDelay = d
	}
}

// WithRateLimit caps request pacing at rps requests per second with the
// given burst. The gate blocks until a token is available; it never fails
// the request.
func WithRateLimit(rps float64, burst int) Option {
	return func(cl *Client) {
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithAuthFunc sets a function that returns an auth header for a given URL.
// Return empty strings to skip authentication for that URL.
func WithAuthFunc(fn func(url string) (headerName, headerValue string)) Option {
	return func(cl *Client) {
		cl.authFn = fn
	}
}

// WithoutCircuitBreaker disables the per-host circuit breaker.
func WithoutCircuitBreaker() Option {
	return func(cl *Client) {
		cl.breakers = nil
	}
}

// DefaultClient returns a client with sensible defaults:
// - 30s timeout
// - 5 retries with exponential backoff
// - retry on 429 and 5xx responses
// - per-host circuit breaker
func DefaultClient() *Client {
	return NewClient()
}

// NewClient creates a new client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: newCachingTransport(),
		},
		userAgent:  "stackscout/1.0",
		maxRetries: 5,
		baseDelay:  500 * time.Millisecond,
		breakers:   newBreakerGroup(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newCachingTransport builds a transport that resolves hosts through a
// refreshing DNS cache. Refresh cycles are ingestion-heavy against a small
// set of registry hosts, so cached lookups remove most resolver traffic.
func newCachingTransport() *http.Transport {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			for _, ip := range ips {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if err == nil {
					return conn, nil
				}
			}
			return nil, fmt.Errorf("failed to dial any resolved IP")
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// GetJSON fetches url and decodes the response body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	return c.GetJSONAs(ctx, url, "application/json", v)
}

// GetJSONAs is GetJSON with an explicit Accept header, for registries that
// negotiate their JSON representation (PyPI's simple index).
func (c *Client) GetJSONAs(ctx context.Context, url, accept string, v any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if c.breakers != nil {
		return c.breakers.call(url, func() error {
			return c.getJSONWithRetry(ctx, url, accept, v)
		})
	}
	return c.getJSONWithRetry(ctx, url, accept, v)
}

func (c *Client) getJSONWithRetry(ctx context.Context, url, accept string, v any) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff with 10% jitter to prevent thundering herd
			delay := c.baseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			jitter := time.Duration(float64(delay) * (rand.Float64() * 0.1))
			delay += jitter

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.doGetJSON(ctx, url, accept, v)
		if err == nil {
			return nil
		}

		lastErr = err

		// Don't retry on not found or client errors
		if errors.Is(err, ErrNotFound) {
			return err
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			return err
		}

		// Retry on rate limit and server errors
		var rlErr *RateLimitError
		if errors.As(err, &rlErr) || errors.Is(err, ErrUpstreamDown) {
			continue
		}

		// Context cancellation is final; other transport errors get retried
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return lastErr
}

func (c *Client) doGetJSON(ctx context.Context, url, accept string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)

	if c.authFn != nil {
		if name, value := c.authFn(url); name != "" && value != "" {
			req.Header.Set(name, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("decoding %s: %w", url, err)
		}
		return nil

	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 0
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if n, err := strconv.Atoi(ra); err == nil {
				retryAfter = n
			}
		}
		return &RateLimitError{RetryAfter: retryAfter}

	case resp.StatusCode >= 500:
		return ErrUpstreamDown

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &HTTPError{StatusCode: resp.StatusCode, URL: url, Body: string(body)}
	}
}
