package index

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackscout/stackscout/internal/core"
)

func rec(source core.Source, name string, value int) core.ScoredRecord {
	return core.ScoredRecord{
		PackageRecord: core.PackageRecord{
			ID:          core.ID{Source: source, Name: name},
			Name:        name,
			Source:      source,
			Description: "a " + name + " library",
		},
		Score: core.HealthScore{Value: value},
	}
}

func TestGetAfterCommit(t *testing.T) {
	s := New(3)
	s.CommitCycle(core.SourceNPM, []core.ScoredRecord{rec(core.SourceNPM, "left-pad", 86)})

	got, err := s.Get(core.ID{Source: core.SourceNPM, Name: "left-pad"})
	require.NoError(t, err)
	assert.Equal(t, 86, got.Score.Value)
	assert.Equal(t, core.StatusFresh, got.Status)
	assert.Zero(t, got.MissedCycles)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := New(3)
	_, err := s.Get(core.ID{Source: core.SourceNPM, Name: "nope"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCommitCycleReplacesWholeRecord(t *testing.T) {
	s := New(3)
	s.CommitCycle(core.SourceNPM, []core.ScoredRecord{rec(core.SourceNPM, "left-pad", 40)})
	s.CommitCycle(core.SourceNPM, []core.ScoredRecord{rec(core.SourceNPM, "left-pad", 90)})

	got, err := s.Get(core.ID{Source: core.SourceNPM, Name: "left-pad"})
	require.NoError(t, err)
	assert.Equal(t, 90, got.Score.Value)

	stats := s.Stats()
	assert.Equal(t, 1, stats.TotalLibraries)
	assert.Equal(t, 90.0, stats.AverageHealthScore)
}

func TestCommitCycleMarksUnreportedStaleThenEvicts(t *testing.T) {
	s := New(2)
	s.CommitCycle(core.SourceNPM, []core.ScoredRecord{
		rec(core.SourceNPM, "keeper", 70),
		rec(core.SourceNPM, "vanisher", 60),
	})

	// First cycle without vanisher: stale, still served.
	s.CommitCycle(core.SourceNPM, []core.ScoredRecord{rec(core.SourceNPM, "keeper", 70)})
	got, err := s.Get(core.ID{Source: core.SourceNPM, Name: "vanisher"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusStale, got.Status)
	assert.Equal(t, 1, got.MissedCycles)
	assert.Equal(t, 1, s.Stats().StaleCount)

	// Second consecutive miss reaches the threshold: evicted.
	s.CommitCycle(core.SourceNPM, []core.ScoredRecord{rec(core.SourceNPM, "keeper", 70)})
	_, err = s.Get(core.ID{Source: core.SourceNPM, Name: "vanisher"})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 0, s.Stats().StaleCount)
	assert.Equal(t, 1, s.Stats().TotalLibraries)
}

func TestReappearanceResetsMissTracking(t *testing.T) {
	s := New(3)
	s.CommitCycle(core.SourceNPM, []core.ScoredRecord{rec(core.SourceNPM, "flaky", 50)})
	s.CommitCycle(core.SourceNPM, nil)
	s.CommitCycle(core.SourceNPM, []core.ScoredRecord{rec(core.SourceNPM, "flaky", 55)})

	got, err := s.Get(core.ID{Source: core.SourceNPM, Name: "flaky"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFresh, got.Status)
	assert.Zero(t, got.MissedCycles)
	assert.Equal(t, 55, got.Score.Value)
}

func TestCommitCycleIsolatesSources(t *testing.T) {
	s := New(2)
	s.CommitCycle(core.SourceNPM, []core.ScoredRecord{rec(core.SourceNPM, "shared-name", 80)})
	s.CommitCycle(core.SourcePyPI, []core.ScoredRecord{rec(core.SourcePyPI, "shared-name", 30)})

	// Empty npm cycles must never touch the pypi record.
	s.CommitCycle(core.SourceNPM, nil)
	s.CommitCycle(core.SourceNPM, nil)

	_, err := s.Get(core.ID{Source: core.SourceNPM, Name: "shared-name"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	got, err := s.Get(core.ID{Source: core.SourcePyPI, Name: "shared-name"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFresh, got.Status)
}

func TestUpsertBatchDoesNotAffectMissTracking(t *testing.T) {
	s := New(3)
	s.CommitCycle(core.SourceNPM, []core.ScoredRecord{
		rec(core.SourceNPM, "a", 10),
		rec(core.SourceNPM, "b", 20),
	})

	// On-demand collection of one package leaves the other untouched.
	s.UpsertBatch([]core.ScoredRecord{rec(core.SourceNPM, "a", 15)})

	got, err := s.Get(core.ID{Source: core.SourceNPM, Name: "b"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFresh, got.Status)
	assert.Zero(t, got.MissedCycles)
}

func TestSearchRanking(t *testing.T) {
	s := New(3)
	s.CommitCycle(core.SourceNPM, []core.ScoredRecord{
		rec(core.SourceNPM, "left-pad-plus", 95),
		rec(core.SourceNPM, "left-pad", 40),
		rec(core.SourceNPM, "left-padder", 80),
	})

	items, total := s.Search(Query{Text: "left-pad", Page: 0, PageSize: 10})
	require.Equal(t, 3, total)
	// Exact name match outranks higher-scored substring matches.
	assert.Equal(t, "left-pad", items[0].Name)
	assert.Equal(t, "left-pad-plus", items[1].Name)
	assert.Equal(t, "left-padder", items[2].Name)
}

func TestSearchMatchesDescription(t *testing.T) {
	s := New(3)
	r := rec(core.SourceNPM, "padder", 50)
	r.Description = "String padding helpers"
	s.CommitCycle(core.SourceNPM, []core.ScoredRecord{r})

	items, total := s.Search(Query{Text: "padding", Page: 0, PageSize: 10})
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "padder", items[0].Name)
}

func TestSearchFilters(t *testing.T) {
	s := New(3)
	s.CommitCycle(core.SourceNPM, []core.ScoredRecord{rec(core.SourceNPM, "lib-a", 90)})
	s.CommitCycle(core.SourcePyPI, []core.ScoredRecord{rec(core.SourcePyPI, "lib-b", 30)})

	items, total := s.Search(Query{Source: core.SourcePyPI, Page: 0, PageSize: 10})
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, core.SourcePyPI, items[0].Source)

	_, total = s.Search(Query{MinScore: 50, Page: 0, PageSize: 10})
	assert.Equal(t, 1, total)
}

func TestSearchPagination(t *testing.T) {
	s := New(3)
	batch := make([]core.ScoredRecord, 0, 25)
	for i := 0; i < 25; i++ {
		batch = append(batch, rec(core.SourceNPM, fmt.Sprintf("lib-%02d", i), 50))
	}
	s.CommitCycle(core.SourceNPM, batch)

	page0, total := s.Search(Query{Page: 0, PageSize: 10})
	assert.Equal(t, 25, total)
	assert.Len(t, page0, 10)

	page2, _ := s.Search(Query{Page: 2, PageSize: 10})
	assert.Len(t, page2, 5)

	beyond, total := s.Search(Query{Page: 9, PageSize: 10})
	assert.Equal(t, 25, total)
	assert.Empty(t, beyond)
}

func TestStatsAverageExcludesStale(t *testing.T) {
	s := New(5)
	s.CommitCycle(core.SourceNPM, []core.ScoredRecord{
		rec(core.SourceNPM, "fresh-a", 100),
		rec(core.SourceNPM, "soon-stale", 0),
	})
	s.CommitCycle(core.SourceNPM, []core.ScoredRecord{rec(core.SourceNPM, "fresh-a", 100)})

	stats := s.Stats()
	assert.Equal(t, 2, stats.TotalLibraries)
	assert.Equal(t, 1, stats.StaleCount)
	assert.Equal(t, 100.0, stats.AverageHealthScore)
	assert.Equal(t, map[core.Source]int{core.SourceNPM: 2}, stats.Sources)
}

func TestStatsEmptyStore(t *testing.T) {
	s := New(0) // falls back to the default threshold
	stats := s.Stats()
	assert.Zero(t, stats.TotalLibraries)
	assert.Zero(t, stats.AverageHealthScore)
	assert.Empty(t, stats.Sources)
}
