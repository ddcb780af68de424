package synthetic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/source"
	"github.com/trailhead/trailimport/internal/validate"
)

func newPager() *source.Pager {
	return source.NewPager(source.PagerConfig{PageSize: 100, RetryAttempts: 1})
}

func TestRecord_Deterministic(t *testing.T) {
	a := NewAdapter(ParksCanada, 10, newPager())
	b := NewAdapter(ParksCanada, 10, newPager())

	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Record(i), b.Record(i))
	}
	assert.NotEqual(t, a.Record(0).Name+a.Record(0).Location, a.Record(1).Name+a.Record(1).Location)
}

func TestRecord_Valid(t *testing.T) {
	a := NewAdapter(StateParks, 200, newPager())
	records, err := a.FetchAll(context.Background(), source.FetchOptions{})
	require.NoError(t, err)
	require.Len(t, records, 200)

	seen := make(map[string]bool)
	for i := range records {
		rec := records[i]
		assert.True(t, validate.Validate(&rec).IsValid, "record %s", rec.SourceID)
		assert.True(t, rec.Difficulty.Valid())
		assert.Equal(t, "state_parks", rec.Source)
		assert.False(t, seen[rec.SourceID], "duplicate %s", rec.SourceID)
		seen[rec.SourceID] = true
	}
}

func TestFetchAll_Filters(t *testing.T) {
	a := NewAdapter(ParksCanada, 120, newPager())

	alberta, err := a.FetchAll(context.Background(), source.FetchOptions{Region: "AB"})
	require.NoError(t, err)
	// 3 of the 12 regions are in Alberta
	assert.Len(t, alberta, 30)
	for _, rec := range alberta {
		assert.Equal(t, "AB", rec.StateProvince)
	}

	none, err := a.FetchAll(context.Background(), source.FetchOptions{Country: "US"})
	require.NoError(t, err)
	assert.Empty(t, none)

	box := &domain.BBox{MinLon: -140, MinLat: 60, MaxLon: -139, MaxLat: 61.5}
	kluane, err := a.FetchAll(context.Background(), source.FetchOptions{BBox: box})
	require.NoError(t, err)
	assert.NotEmpty(t, kluane)
	for _, rec := range kluane {
		assert.Equal(t, "Kluane National Park and Reserve", rec.Location)
	}
}

func TestFetchTrails_Window(t *testing.T) {
	a := NewAdapter(StandIn("usgs", "USGS"), 50, newPager())

	page, err := a.FetchTrails(context.Background(), source.FetchOptions{Offset: 45, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, "usgs-synthetic-000045", page[0].SourceID)
	assert.Equal(t, "usgs", page[0].Source)
}
