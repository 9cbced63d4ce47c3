package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackscout/stackscout/internal/core"
	"github.com/stackscout/stackscout/internal/index"
)

func seededService(t *testing.T) *Service {
	t.Helper()
	store := index.New(3)
	store.CommitCycle(core.SourceNPM, []core.ScoredRecord{
		{
			PackageRecord: core.PackageRecord{
				ID:     core.ID{Source: core.SourceNPM, Name: "left-pad"},
				Name:   "left-pad",
				Source: core.SourceNPM,
			},
			Score: core.HealthScore{Value: 86},
		},
		{
			PackageRecord: core.PackageRecord{
				ID:     core.ID{Source: core.SourceNPM, Name: "right-pad"},
				Name:   "right-pad",
				Source: core.SourceNPM,
			},
			Score: core.HealthScore{Value: 42},
		},
	})
	return New(store, nil)
}

func TestSearchDefaultsPageSize(t *testing.T) {
	svc := seededService(t)
	res, err := svc.Search("", Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, res.PageSize)
	assert.Equal(t, 2, res.Total)
	assert.Len(t, res.Items, 2)
}

func TestSearchRejectsBadPaging(t *testing.T) {
	svc := seededService(t)

	var invalid *core.InvalidArgumentError

	_, err := svc.Search("", Options{PageSize: MaxPageSize + 1})
	require.ErrorAs(t, err, &invalid)

	_, err = svc.Search("", Options{PageSize: -5})
	require.ErrorAs(t, err, &invalid)

	_, err = svc.Search("", Options{Page: -1})
	require.ErrorAs(t, err, &invalid)
}

func TestSearchRejectsBadMinScore(t *testing.T) {
	svc := seededService(t)
	var invalid *core.InvalidArgumentError

	_, err := svc.Search("", Options{MinScore: 101})
	require.ErrorAs(t, err, &invalid)

	_, err = svc.Search("", Options{MinScore: -1})
	require.ErrorAs(t, err, &invalid)
}

func TestSearchAppliesFilters(t *testing.T) {
	svc := seededService(t)

	res, err := svc.Search("", Options{MinScore: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "left-pad", res.Items[0].Name)

	res, err = svc.Search("", Options{Source: core.SourcePyPI})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}

func TestGetAcceptsBothIDForms(t *testing.T) {
	svc := seededService(t)

	got, err := svc.Get("npm/left-pad")
	require.NoError(t, err)
	assert.Equal(t, 86, got.Score.Value)

	got, err = svc.Get("pkg:npm/left-pad")
	require.NoError(t, err)
	assert.Equal(t, 86, got.Score.Value)
}

func TestGetBadID(t *testing.T) {
	svc := seededService(t)
	var invalid *core.InvalidArgumentError
	_, err := svc.Get("just-a-name")
	require.ErrorAs(t, err, &invalid)
}

func TestGetMissing(t *testing.T) {
	svc := seededService(t)
	_, err := svc.Get("npm/nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStats(t *testing.T) {
	svc := seededService(t)
	stats := svc.Stats()
	assert.Equal(t, 2, stats.TotalLibraries)
	assert.Equal(t, 64.0, stats.AverageHealthScore)
}
