// Package index holds the current canonical, scored records and answers
// point lookups, substring search, and aggregate statistics.
//
// The store is the engine's only shared mutable state. A single RWMutex
// serializes batch commits while allowing unlimited concurrent reads, so a
// reader always observes either the pre- or post-batch state for a source,
// never an interleaving.
package index

import (
	"sort"
	"strings"
	"sync"

	"github.com/stackscout/stackscout/internal/core"
)

// DefaultEvictAfter is the number of consecutive cycles a record may go
// unreported before it is evicted.
const DefaultEvictAfter = 3

// Store is the in-memory scored-record index.
type Store struct {
	mu         sync.RWMutex
	records    map[string]*core.ScoredRecord
	evictAfter int

	// Incrementally-maintained aggregates; reads are O(1).
	total      int
	freshCount int
	scoreSum   int // over fresh records only
	staleCount int
	perSource  map[core.Source]int
}

// New creates a store. evictAfter is the missed-cycle threshold; values
// below 1 fall back to DefaultEvictAfter.
func New(evictAfter int) *Store {
	if evictAfter < 1 {
		evictAfter = DefaultEvictAfter
	}
	return &Store{
		records:    make(map[string]*core.ScoredRecord),
		evictAfter: evictAfter,
		perSource:  make(map[core.Source]int),
	}
}

// UpsertBatch inserts or replaces records without touching miss tracking for
// the rest of the source. Used by on-demand single collections; full refresh
// cycles go through CommitCycle.
func (s *Store) UpsertBatch(recs []core.ScoredRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range recs {
		s.insertLocked(recs[i])
	}
}

// CommitCycle atomically replaces source's data with the given batch.
// Records the source previously reported but this cycle did not are marked
// stale and accrue a missed cycle; a record missing for evictAfter
// consecutive cycles is evicted. Records from other sources are untouched.
func (s *Store) CommitCycle(source core.Source, recs []core.ScoredRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reported := make(map[string]bool, len(recs))
	for i := range recs {
		reported[recs[i].ID.String()] = true
	}

	for key, rec := range s.records {
		if rec.Source != source || reported[key] {
			continue
		}
		rec.MissedCycles++
		if rec.MissedCycles >= s.evictAfter {
			s.removeLocked(key, rec)
			continue
		}
		if rec.Status == core.StatusFresh {
			rec.Status = core.StatusStale
			s.freshCount--
			s.scoreSum -= rec.Score.Value
			s.staleCount++
		}
	}

	for i := range recs {
		s.insertLocked(recs[i])
	}
}

// insertLocked replaces whole-object; records are never patched in place.
func (s *Store) insertLocked(rec core.ScoredRecord) {
	rec.Status = core.StatusFresh
	rec.MissedCycles = 0
	key := rec.ID.String()

	if prev, ok := s.records[key]; ok {
		if prev.Status == core.StatusFresh {
			s.freshCount--
			s.scoreSum -= prev.Score.Value
		} else {
			s.staleCount--
		}
		s.total--
		s.perSource[prev.Source]--
	}

	s.records[key] = &rec
	s.total++
	s.freshCount++
	s.scoreSum += rec.Score.Value
	s.perSource[rec.Source]++
}

func (s *Store) removeLocked(key string, rec *core.ScoredRecord) {
	delete(s.records, key)
	s.total--
	s.perSource[rec.Source]--
	if s.perSource[rec.Source] == 0 {
		delete(s.perSource, rec.Source)
	}
	if rec.Status == core.StatusFresh {
		s.freshCount--
		s.scoreSum -= rec.Score.Value
	} else {
		s.staleCount--
	}
}

// Get returns the record for id, or core.ErrNotFound.
func (s *Store) Get(id core.ID) (core.ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id.String()]
	if !ok {
		return core.ScoredRecord{}, core.ErrNotFound
	}
	return *rec, nil
}

// Query is a search request against the index.
type Query struct {
	Text     string      // case-insensitive substring over name/description
	Source   core.Source // empty matches all sources
	MinScore int
	Page     int // zero-based
	PageSize int
}

// Search returns one page of matches and the total match count.
//
// Ranking: exact name matches first, then health score descending, then name
// ascending so equal scores order deterministically.
func (s *Store) Search(q Query) ([]core.ScoredRecord, int) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	s.mu.RLock()
	matches := make([]core.ScoredRecord, 0, 64)
	for _, rec := range s.records {
		if q.Source != "" && rec.Source != q.Source {
			continue
		}
		if rec.Score.Value < q.MinScore {
			continue
		}
		if needle != "" && !matchesText(rec, needle) {
			continue
		}
		matches = append(matches, *rec)
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		aExact := needle != "" && strings.ToLower(a.Name) == needle
		bExact := needle != "" && strings.ToLower(b.Name) == needle
		if aExact != bExact {
			return aExact
		}
		if a.Score.Value != b.Score.Value {
			return a.Score.Value > b.Score.Value
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID.String() < b.ID.String()
	})

	total := len(matches)
	start := q.Page * q.PageSize
	if start >= total {
		return []core.ScoredRecord{}, total
	}
	end := start + q.PageSize
	if end > total {
		end = total
	}
	return matches[start:end], total
}

func matchesText(rec *core.ScoredRecord, needle string) bool {
	if strings.Contains(strings.ToLower(rec.Name), needle) {
		return true
	}
	return strings.Contains(strings.ToLower(rec.Description), needle)
}

// Stats returns the incrementally-maintained aggregates. No scan happens on
// the read path.
func (s *Store) Stats() core.AggregateStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	avg := 0.0
	if s.freshCount > 0 {
		avg = float64(s.scoreSum) / float64(s.freshCount)
	}
	sources := make(map[core.Source]int, len(s.perSource))
	for src, n := range s.perSource {
		sources[src] = n
	}
	return core.AggregateStats{
		TotalLibraries:     s.total,
		AverageHealthScore: avg,
		Sources:            sources,
		StaleCount:         s.staleCount,
	}
}
