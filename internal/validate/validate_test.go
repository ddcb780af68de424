package validate

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailhead/trailimport/internal/domain"
)

func ptr(f float64) *float64 { return &f }

func validRecord() domain.TrailRecord {
	return domain.TrailRecord{
		Source:     "usgs",
		SourceID:   "usgs-1",
		Name:       "Ridge Loop",
		Location:   "Boulder, CO",
		Country:    "US",
		Latitude:   ptr(40.01),
		Longitude:  ptr(-105.27),
		Difficulty: domain.DifficultyHard,
	}
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.TrailRecord)
		reason string
	}{
		{"missing name", func(r *domain.TrailRecord) { r.Name = "" }, "name is required"},
		{"blank name", func(r *domain.TrailRecord) { r.Name = "   " }, "name is required"},
		{"missing location", func(r *domain.TrailRecord) { r.Location = "" }, "location is required"},
		{"missing country", func(r *domain.TrailRecord) { r.Country = "" }, "country is required"},
		{"missing source id", func(r *domain.TrailRecord) { r.SourceID = "" }, "source_id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec)

			res := Validate(&rec)
			assert.False(t, res.IsValid)
			require.NotEmpty(t, res.Errors)
			assert.Contains(t, res.Errors, tt.reason)
		})
	}
}

func TestValidate_Coordinates(t *testing.T) {
	tests := []struct {
		name  string
		lat   *float64
		lon   *float64
		valid bool
	}{
		{"absent coordinates are legal", nil, nil, true},
		{"edges inclusive", ptr(90), ptr(-180), true},
		{"latitude too high", ptr(90.5), ptr(0), false},
		{"longitude too low", ptr(0), ptr(-181), false},
		{"NaN latitude", ptr(math.NaN()), ptr(0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			rec.Latitude, rec.Longitude = tt.lat, tt.lon
			assert.Equal(t, tt.valid, Validate(&rec).IsValid)
		})
	}
}

func TestRepair_UnknownDifficultyBecomesModerate(t *testing.T) {
	rec := validRecord()
	rec.Difficulty = "unknown-value"

	Repair(&rec)

	assert.Equal(t, domain.DifficultyModerate, rec.Difficulty)
	assert.True(t, Validate(&rec).IsValid)
}

func TestRepair_NumericDefects(t *testing.T) {
	rec := validRecord()
	rec.LengthKm = ptr(-3)
	rec.ElevationGain = ptr(math.Inf(1))
	rec.Elevation = ptr(math.NaN())
	rec.Difficulty = " HARD "

	Repair(&rec)

	assert.Nil(t, rec.LengthKm)
	assert.Nil(t, rec.ElevationGain)
	assert.Nil(t, rec.Elevation)
	assert.Equal(t, domain.DifficultyHard, rec.Difficulty)
}

func TestPartition(t *testing.T) {
	good := validRecord()
	noName := validRecord()
	noName.SourceID = "usgs-2"
	noName.Name = ""
	noCountry := validRecord()
	noCountry.SourceID = "usgs-3"
	noCountry.Country = ""
	odd := validRecord()
	odd.SourceID = "usgs-4"
	odd.Difficulty = "extreme scramble"

	valid, failures := Partition([]domain.TrailRecord{good, noName, noCountry, odd})

	require.Len(t, valid, 2)
	assert.Equal(t, "usgs-1", valid[0].SourceID)
	assert.Equal(t, "usgs-4", valid[1].SourceID)
	assert.Equal(t, domain.DifficultyModerate, valid[1].Difficulty)

	require.Len(t, failures, 2)
	for _, f := range failures {
		assert.True(t, errors.Is(f.Err, domain.ErrValidation))
		assert.NotEmpty(t, f.Err.Reasons)
		assert.NotEqual(t, "usgs-1", f.Record.SourceID)
	}
}
