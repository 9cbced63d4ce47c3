package client

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// breakerGroup holds one circuit breaker per upstream host, so a dead
// registry stops consuming retries without affecting the others.
type breakerGroup struct {
	breakers map[string]*circuit.Breaker
	mu       sync.RWMutex
}

func newBreakerGroup() *breakerGroup {
	return &breakerGroup{
		breakers: make(map[string]*circuit.Breaker),
	}
}

// get returns or creates a circuit breaker for the given host.
func (g *breakerGroup) get(host string) *circuit.Breaker {
	g.mu.RLock()
	breaker, exists := g.breakers[host]
	g.mu.RUnlock()

	if exists {
		return breaker
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists := g.breakers[host]; exists {
		return breaker
	}

	// Trips after 5 consecutive failures, reopens on an exponential schedule
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	opts := &circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	}
	breaker = circuit.NewBreakerWithOptions(opts)

	g.breakers[host] = breaker
	return breaker
}

// call runs fn under the circuit breaker for the request's host.
func (g *breakerGroup) call(requestURL string, fn func() error) error {
	host := extractHost(requestURL)
	breaker := g.get(host)

	if !breaker.Ready() {
		return fmt.Errorf("circuit breaker open for %s: %w", host, ErrUpstreamDown)
	}

	return breaker.Call(fn, 0)
}

// States returns the current open/closed state per host, for health checks.
func (g *breakerGroup) States() map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	states := make(map[string]string)
	for host, breaker := range g.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

// BreakerStates exposes the per-host circuit breaker states.
func (c *Client) BreakerStates() map[string]string {
	if c.breakers == nil {
		return nil
	}
	return c.breakers.States()
}

// extractHost extracts a host identifier from a URL for breaker grouping.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		// Fallback to simple truncation
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}
