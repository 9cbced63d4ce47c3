package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/stackscout/stackscout/client"
)

// Connector is the interface implemented by all ecosystem connectors. Each
// connector isolates one upstream's pagination, auth, and rate-limit quirks
// behind this uniform shape so the scheduler never branches on source type.
type Connector interface {
	// Source returns the ecosystem this connector fetches from.
	Source() Source

	// FetchPage retrieves one page of raw records. An empty cursor requests
	// the first page; an empty next cursor means the sequence is complete.
	// Re-fetching the same cursor returns the same or a superset of records.
	FetchPage(ctx context.Context, cursor string) (records []RawRecord, next string, err error)

	// FetchOne retrieves a single package by name, for on-demand collection.
	FetchOne(ctx context.Context, name string) (*RawRecord, error)

	// URLs returns the URL builder for this ecosystem.
	URLs() client.URLBuilder
}

// Factory creates a connector for a given base URL.
type Factory func(baseURL string, c *client.Client) Connector

var (
	factories = make(map[Source]Factory)
	defaults  = make(map[Source]string)
	mu        sync.RWMutex
)

// Register adds a connector factory to the global registry. Connector
// packages call this from init; import them (directly or via the all
// package) to make them available.
func Register(source Source, defaultURL string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[source] = factory
	defaults[source] = defaultURL
}

// New creates a connector for the given source.
// If baseURL is empty, the default registry URL is used.
// If c is nil, client.DefaultClient() is used.
func New(source Source, baseURL string, c *client.Client) (Connector, error) {
	mu.RLock()
	factory, ok := factories[source]
	defaultURL := defaults[source]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown source: %s", source)
	}

	if baseURL == "" {
		baseURL = defaultURL
	}

	if c == nil {
		c = client.DefaultClient()
	}

	return factory(baseURL, c), nil
}

// SupportedSources returns all registered sources.
func SupportedSources() []Source {
	mu.RLock()
	defer mu.RUnlock()

	sources := make([]Source, 0, len(factories))
	for s := range factories {
		sources = append(sources, s)
	}
	return sources
}

// DefaultURL returns the default registry URL for a source.
func DefaultURL(source Source) string {
	mu.RLock()
	defer mu.RUnlock()
	return defaults[source]
}
