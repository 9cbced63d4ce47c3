package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetJSONDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("unexpected Accept header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"left-pad","version":"1.3.0"}`))
	}))
	defer server.Close()

	c := NewClient(WithHTTPClient(server.Client()))
	var out struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := c.GetJSON(context.Background(), server.URL, &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out.Name != "left-pad" || out.Version != "1.3.0" {
		t.Errorf("unexpected payload: %+v", out)
	}
}

func TestGetJSONAsSetsAcceptHeader(t *testing.T) {
	const accept = "application/vnd.pypi.simple.v1+json"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != accept {
			t.Errorf("expected Accept %q, got %q", accept, got)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient(WithHTTPClient(server.Client()))
	var out map[string]any
	if err := c.GetJSONAs(context.Background(), server.URL, accept, &out); err != nil {
		t.Fatalf("GetJSONAs failed: %v", err)
	}
}

func TestGetJSONNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer server.Close()

	c := NewClient(WithHTTPClient(server.Client()))
	var out map[string]any
	err := c.GetJSON(context.Background(), server.URL, &out)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(500)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := NewClient(
		WithHTTPClient(server.Client()),
		WithMaxRetries(5),
		WithBaseDelay(time.Millisecond),
	)
	var out map[string]any
	if err := c.GetJSON(context.Background(), server.URL, &out); err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestGetJSONExhaustedRetriesReturnUpstreamDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer server.Close()

	c := NewClient(
		WithHTTPClient(server.Client()),
		WithMaxRetries(2),
		WithBaseDelay(time.Millisecond),
		WithoutCircuitBreaker(),
	)
	var out map[string]any
	err := c.GetJSON(context.Background(), server.URL, &out)
	if !errors.Is(err, ErrUpstreamDown) {
		t.Errorf("expected ErrUpstreamDown, got %v", err)
	}
}

func TestGetJSONRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(429)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient(
		WithHTTPClient(server.Client()),
		WithMaxRetries(3),
		WithBaseDelay(time.Millisecond),
	)
	var out map[string]any
	if err := c.GetJSON(context.Background(), server.URL, &out); err != nil {
		t.Fatalf("expected retry after 429 to succeed, got %v", err)
	}
}

func TestGetJSONRateLimitErrorCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(429)
	}))
	defer server.Close()

	c := NewClient(
		WithHTTPClient(server.Client()),
		WithMaxRetries(1),
		WithBaseDelay(time.Millisecond),
		WithoutCircuitBreaker(),
	)
	var out map[string]any
	err := c.GetJSON(context.Background(), server.URL, &out)

	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rlErr.RetryAfter != 7 {
		t.Errorf("expected RetryAfter 7, got %d", rlErr.RetryAfter)
	}
}

func TestGetJSONClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(403)
	}))
	defer server.Close()

	c := NewClient(WithHTTPClient(server.Client()), WithMaxRetries(5))
	var out map[string]any
	err := c.GetJSON(context.Background(), server.URL, &out)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != 403 {
		t.Errorf("expected status 403, got %d", httpErr.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls.Load())
	}
}

func TestGetJSONSendsUserAgentAndAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "test-agent" {
			t.Errorf("unexpected User-Agent: %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("unexpected Authorization: %q", got)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient(
		WithHTTPClient(server.Client()),
		WithUserAgent("test-agent"),
		WithAuthFunc(func(string) (string, string) {
			return "Authorization", "Bearer sekrit"
		}),
	)
	var out map[string]any
	if err := c.GetJSON(context.Background(), server.URL, &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
}

func TestGetJSONHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(WithHTTPClient(server.Client()), WithoutCircuitBreaker())
	var out map[string]any
	err := c.GetJSON(ctx, server.URL, &out)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestRateLimitGatePacesRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient(
		WithHTTPClient(server.Client()),
		WithRateLimit(20, 1),
	)

	start := time.Now()
	for i := 0; i < 3; i++ {
		var out map[string]any
		if err := c.GetJSON(context.Background(), server.URL, &out); err != nil {
			t.Fatalf("GetJSON failed: %v", err)
		}
	}
	// Burst 1 at 20 rps means the second and third requests each wait ~50ms.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("requests were not paced, took %s", elapsed)
	}
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(500)
	}))
	defer server.Close()

	c := NewClient(
		WithHTTPClient(server.Client()),
		WithMaxRetries(0),
		WithBaseDelay(time.Millisecond),
	)

	var out map[string]any
	for i := 0; i < 10; i++ {
		_ = c.GetJSON(context.Background(), server.URL, &out)
	}

	states := c.BreakerStates()
	if len(states) != 1 {
		t.Fatalf("expected one breaker, got %d", len(states))
	}
	// Once open, calls stop reaching the upstream.
	if calls.Load() >= 10 {
		t.Errorf("breaker never opened, upstream saw %d calls", calls.Load())
	}
}
