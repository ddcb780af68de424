// Package synthetic generates deterministic trail records for sources that
// have no live feed, and for live sources switched off in a deployment.
package synthetic

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"strings"

	"gorm.io/datatypes"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/source"
)

// Region anchors generated trails around a park or area centre.
type Region struct {
	Name     string
	Province string
	Country  string
	Lat      float64
	Lon      float64
}

// Profile describes one generated source.
type Profile struct {
	SourceType  string
	DisplayName string
	IDPrefix    string
	Regions     []Region
}

// Adapter implements source.Adapter by generating records. Record i of a
// profile is identical across calls, so re-imports upsert rather than add.
type Adapter struct {
	profile Profile
	total   int
	seed    uint64
	pager   *source.Pager
}

// NewAdapter creates a generator holding total records.
func NewAdapter(profile Profile, total int, pager *source.Pager) *Adapter {
	h := fnv.New64a()
	_, _ = h.Write([]byte(profile.SourceType))
	return &Adapter{profile: profile, total: total, seed: h.Sum64(), pager: pager}
}

func (a *Adapter) SourceType() string  { return a.profile.SourceType }
func (a *Adapter) DisplayName() string { return a.profile.DisplayName }

// Total returns how many records the generator holds.
func (a *Adapter) Total() int { return a.total }

// FetchTrails returns records [Offset, Offset+Limit) that pass the filters.
func (a *Adapter) FetchTrails(ctx context.Context, opts source.FetchOptions) ([]domain.TrailRecord, error) {
	records, _, err := a.page(ctx, opts, opts.Offset, a.pager.Limit(opts.Limit))
	return records, err
}

// FetchAll generates every record, honouring the pager's cap.
func (a *Adapter) FetchAll(ctx context.Context, opts source.FetchOptions) ([]domain.TrailRecord, error) {
	return a.pager.FetchAll(ctx, a.profile.SourceType, opts.MaxRecords, func(ctx context.Context, cursor string, limit int) ([]domain.TrailRecord, string, error) {
		offset := 0
		if cursor != "" {
			var err error
			if offset, err = strconv.Atoi(cursor); err != nil {
				return nil, "", fmt.Errorf("invalid cursor: %w", err)
			}
		}
		return a.page(ctx, opts, offset, limit)
	})
}

func (a *Adapter) page(ctx context.Context, opts source.FetchOptions, offset, limit int) ([]domain.TrailRecord, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	end := offset + limit
	if end > a.total {
		end = a.total
	}

	records := make([]domain.TrailRecord, 0, limit)
	for i := offset; i < end; i++ {
		rec := a.Record(i)
		if !matches(&rec, opts) {
			continue
		}
		records = append(records, rec)
	}

	next := ""
	if end < a.total {
		next = strconv.Itoa(end)
	}
	return records, next, nil
}

func matches(rec *domain.TrailRecord, opts source.FetchOptions) bool {
	if opts.Country != "" && !strings.EqualFold(rec.Country, opts.Country) {
		return false
	}
	if opts.Region != "" && !strings.EqualFold(rec.StateProvince, opts.Region) && !strings.Contains(strings.ToLower(rec.Location), strings.ToLower(opts.Region)) {
		return false
	}
	if opts.StateCode != "" && !strings.EqualFold(rec.StateProvince, opts.StateCode) {
		return false
	}
	if opts.BBox != nil && !opts.BBox.Contains(*rec.Latitude, *rec.Longitude) {
		return false
	}
	return true
}

var (
	adjectives = []string{"Hidden", "Upper", "Lower", "Old", "North", "South", "Silver", "Eagle", "Bear", "Cedar", "Granite", "Sunset", "Misty", "Crystal", "Lost"}
	features   = []string{"Lake", "Ridge", "Falls", "Canyon", "Meadow", "Creek", "Peak", "Valley", "Pass", "Bluff", "Basin", "Glacier"}
	kinds      = []string{"Trail", "Loop", "Path", "Route", "Traverse", "Circuit"}
)

// Record generates record i. It is a pure function of (profile, i).
func (a *Adapter) Record(i int) domain.TrailRecord {
	r := rand.New(rand.NewSource(int64(a.seed ^ uint64(i)*0x9e3779b97f4a7c15)))
	region := a.profile.Regions[i%len(a.profile.Regions)]

	name := fmt.Sprintf("%s %s %s",
		adjectives[r.Intn(len(adjectives))],
		features[r.Intn(len(features))],
		kinds[r.Intn(len(kinds))])

	lat := region.Lat + (r.Float64()-0.5)*0.6
	lon := region.Lon + (r.Float64()-0.5)*0.6
	lengthKm := source.Round2(0.8 + r.Float64()*24)
	gain := float64(r.Intn(1600))
	elevation := float64(200 + r.Intn(2800))

	coords := make([][]float64, 0, 5)
	cLat, cLon := lat, lon
	for v := 0; v < 5; v++ {
		coords = append(coords, []float64{source.Round6(cLon), source.Round6(cLat)})
		cLat += (r.Float64() - 0.5) * 0.02
		cLon += (r.Float64() - 0.5) * 0.02
	}
	geom, _ := json.Marshal(map[string]interface{}{"type": "LineString", "coordinates": coords})

	return domain.TrailRecord{
		Source:        a.profile.SourceType,
		SourceID:      fmt.Sprintf("%s-%06d", a.profile.IDPrefix, i),
		Name:          name,
		Location:      region.Name,
		Country:       region.Country,
		StateProvince: region.Province,
		Latitude:      source.Float(source.Round6(lat)),
		Longitude:     source.Float(source.Round6(lon)),
		LengthKm:      source.Float(lengthKm),
		ElevationGain: source.Float(gain),
		Elevation:     source.Float(elevation),
		Difficulty:    difficultyFor(lengthKm, gain),
		GeoJSON:       datatypes.JSON(geom),
	}
}

func difficultyFor(lengthKm, gain float64) domain.Difficulty {
	score := lengthKm/4 + gain/300
	switch {
	case score < 2:
		return domain.DifficultyEasy
	case score < 4:
		return domain.DifficultyModerate
	case score < 7:
		return domain.DifficultyHard
	}
	return domain.DifficultyExpert
}
