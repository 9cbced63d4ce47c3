// Package query is the thin façade the external API layer calls. It
// validates paging and filter parameters and translates them into index
// store calls; it never exposes ingestion errors, only the data the index
// currently holds.
package query

import (
	"log/slog"

	"github.com/stackscout/stackscout/internal/core"
	"github.com/stackscout/stackscout/internal/index"
)

const (
	// DefaultPageSize applies when the caller does not ask for a size.
	DefaultPageSize = 20
	// MaxPageSize bounds a single page.
	MaxPageSize = 100
)

// Options filter and page a search.
type Options struct {
	Source   core.Source // empty matches all sources
	MinScore int         // 0 matches everything
	Page     int         // zero-based
	PageSize int         // 0 means DefaultPageSize
}

// Result is one page of search hits.
type Result struct {
	Items    []core.ScoredRecord
	Total    int
	Page     int
	PageSize int
}

// Service answers search, lookup, and stats requests against the index.
type Service struct {
	store *index.Store
	log   *slog.Logger
}

// New creates a query service over the given store.
func New(store *index.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, log: logger}
}

// Search returns one page of records matching text and the options' filters.
// An empty text matches everything.
func (s *Service) Search(text string, opts Options) (Result, error) {
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageSize < 1 || opts.PageSize > MaxPageSize {
		return Result{}, &core.InvalidArgumentError{Reason: "pageSize must be between 1 and 100"}
	}
	if opts.Page < 0 {
		return Result{}, &core.InvalidArgumentError{Reason: "page must not be negative"}
	}
	if opts.MinScore < 0 || opts.MinScore > 100 {
		return Result{}, &core.InvalidArgumentError{Reason: "minScore must be between 0 and 100"}
	}

	items, total := s.store.Search(index.Query{
		Text:     text,
		Source:   opts.Source,
		MinScore: opts.MinScore,
		Page:     opts.Page,
		PageSize: opts.PageSize,
	})

	return Result{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.PageSize,
	}, nil
}

// Get looks up a single record by id string, accepting both "npm/left-pad"
// and "pkg:npm/left-pad" forms.
func (s *Service) Get(id string) (core.ScoredRecord, error) {
	parsed, err := core.ParseID(id)
	if err != nil {
		return core.ScoredRecord{}, err
	}
	return s.store.Get(parsed)
}

// Stats returns the index aggregates.
func (s *Service) Stats() core.AggregateStats {
	return s.store.Stats()
}
