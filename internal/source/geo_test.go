package source

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailhead/trailimport/internal/domain"
)

func TestHaversine(t *testing.T) {
	// London to Paris, roughly 343.5 km.
	d := Haversine(51.5074, -0.1278, 48.8566, 2.3522)
	assert.InDelta(t, 343.5, d, 1.0)
	assert.Zero(t, Haversine(10, 10, 10, 10))
}

func TestLineLengthKm(t *testing.T) {
	// One degree of latitude is about 111.2 km.
	line := [][]float64{{0, 0}, {0, 0.5}, {0, 1}}
	assert.InDelta(t, 111.2, LineLengthKm(line), 0.1)
	assert.Zero(t, LineLengthKm([][]float64{{0, 0}}))
}

func TestGeometry(t *testing.T) {
	var g Geometry
	require.NoError(t, json.Unmarshal([]byte(`{"type":"MultiLineString","coordinates":[[[0,0],[0,1]],[[1,1],[1,2]]]}`), &g))

	km, ok := g.LengthKm()
	require.True(t, ok)
	assert.InDelta(t, 222.4, km, 0.2)

	lat, lon, ok := g.StartPoint()
	require.True(t, ok)
	assert.Equal(t, 0.0, lat)
	assert.Equal(t, 0.0, lon)

	var pt Geometry
	require.NoError(t, json.Unmarshal([]byte(`{"type":"Point","coordinates":[-105.2,40.1]}`), &pt))
	_, ok = pt.LengthKm()
	assert.False(t, ok)
	lat, lon, ok = pt.StartPoint()
	require.True(t, ok)
	assert.Equal(t, 40.1, lat)
	assert.Equal(t, -105.2, lon)
}

func TestMapDifficulty(t *testing.T) {
	tests := []struct {
		raw  string
		want domain.Difficulty
	}{
		{"", domain.DifficultyModerate},
		{"Easy", domain.DifficultyEasy},
		{"flat and accessible", domain.DifficultyEasy},
		{"Intermediate", domain.DifficultyModerate},
		{"Strenuous climb", domain.DifficultyHard},
		{"demanding_alpine_hiking", domain.DifficultyExpert},
		{"Black diamond", domain.DifficultyModerate},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := MapDifficulty(tt.raw); got != tt.want {
				t.Errorf("MapDifficulty(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}
