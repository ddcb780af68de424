package osm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/source"
)

func relation(id int64, tags map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"type": "relation",
		"id":   id,
		"tags": tags,
		"members": []map[string]interface{}{
			{"type": "way", "role": "", "geometry": []map[string]float64{
				{"lat": 46.0, "lon": 7.0},
				{"lat": 46.1, "lon": 7.0},
			}},
			{"type": "node", "role": "guidepost"},
		},
	}
}

func newOverpass(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.True(t, strings.Contains(r.PostForm.Get("data"), `relation["route"="hiking"]`))
		n := calls.Add(1)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"elements": []map[string]interface{}{
				relation(1, map[string]string{"name": "Haute Route", "sac_scale": "demanding_alpine_hiking", "is_in:country": "CH"}),
				relation(2, map[string]string{"name": "Lake Walk", "sac_scale": "hiking", "distance": "3.5 mi"}),
				relation(100+n, map[string]string{"name": "Tile Walk", "difficulty": "moderate"}),
				{"type": "way", "id": 9},
			},
		})
	}))
	return srv, &calls
}

func newAdapter(url string) *Adapter {
	pager := source.NewPager(source.PagerConfig{PageSize: 100, RetryAttempts: 1})
	return NewAdapter(source.NewHTTPClient(url, time.Second), pager, 0.5)
}

func TestTiles(t *testing.T) {
	tiles := Tiles(domain.BBox{MinLon: 0, MinLat: 0, MaxLon: 1.2, MaxLat: 1}, 0.5)
	require.Len(t, tiles, 6)
	assert.Equal(t, domain.BBox{MinLon: 1, MinLat: 0, MaxLon: 1.2, MaxLat: 0.5}, tiles[2])
}

func TestFetchAll_DedupesAcrossTiles(t *testing.T) {
	srv, calls := newOverpass(t)
	defer srv.Close()

	box := &domain.BBox{MinLon: 7, MinLat: 46, MaxLon: 8, MaxLat: 47}
	records, err := newAdapter(srv.URL).FetchAll(context.Background(), source.FetchOptions{
		BBox:    box,
		Country: "CH",
		Region:  "Valais",
	})

	require.NoError(t, err)
	assert.EqualValues(t, 4, calls.Load())
	assert.Len(t, records, 6)

	byID := make(map[string]domain.TrailRecord)
	for _, r := range records {
		byID[r.SourceID] = r
	}

	haute := byID["relation/1"]
	assert.Equal(t, domain.DifficultyExpert, haute.Difficulty)
	assert.Equal(t, "Valais", haute.Location)
	assert.Equal(t, "CH", haute.Country)
	require.NotNil(t, haute.LengthKm)
	assert.InDelta(t, 11.12, *haute.LengthKm, 0.01)
	assert.NotEmpty(t, haute.GeoJSON)

	lake := byID["relation/2"]
	assert.Equal(t, domain.DifficultyEasy, lake.Difficulty)
	assert.Equal(t, "CH", lake.Country)
	require.NotNil(t, lake.LengthKm)
	assert.InDelta(t, 5.63, *lake.LengthKm, 0.001)
}

func TestFetchAll_RequiresBBox(t *testing.T) {
	_, err := newAdapter("http://127.0.0.1:1").FetchAll(context.Background(), source.FetchOptions{})
	assert.ErrorIs(t, err, ErrBBoxRequired)
}

func TestParseDistance(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"12", 12, true},
		{"12,5 km", 12.5, true},
		{"2 mi", 3.22, true},
		{"", 0, false},
		{"long", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseDistance(tt.raw)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseDistance(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}
