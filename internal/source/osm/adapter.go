// Package osm fetches hiking route relations from an Overpass API
// endpoint, tiling the requested bounding box.
package osm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"gorm.io/datatypes"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/retry"
	"github.com/trailhead/trailimport/internal/source"
)

const (
	SourceType = "osm"
	SourceName = "OpenStreetMap"

	// DefaultTileDegrees is the edge length of one Overpass query tile.
	DefaultTileDegrees = 0.5
)

// ErrBBoxRequired is returned when no bounding box was configured.
var ErrBBoxRequired = errors.New("osm: bbox is required")

// sacScale maps the OSM sac_scale tag onto the canonical scale.
var sacScale = map[string]domain.Difficulty{
	"hiking":                    domain.DifficultyEasy,
	"mountain_hiking":           domain.DifficultyModerate,
	"demanding_mountain_hiking": domain.DifficultyHard,
	"alpine_hiking":             domain.DifficultyExpert,
	"demanding_alpine_hiking":   domain.DifficultyExpert,
	"difficult_alpine_hiking":   domain.DifficultyExpert,
}

// Adapter implements source.Adapter over Overpass. Each tile of the bbox is
// one page.
type Adapter struct {
	client   *resty.Client
	pager    *source.Pager
	tileSize float64
}

// NewAdapter creates an OSM adapter. tileSize <= 0 uses DefaultTileDegrees.
func NewAdapter(client *resty.Client, pager *source.Pager, tileSize float64) *Adapter {
	if tileSize <= 0 {
		tileSize = DefaultTileDegrees
	}
	return &Adapter{client: client, pager: pager, tileSize: tileSize}
}

func (a *Adapter) SourceType() string  { return SourceType }
func (a *Adapter) DisplayName() string { return SourceName }

type overpassResponse struct {
	Elements []element `json:"elements"`
	Remark   string    `json:"remark"`
}

type element struct {
	Type    string            `json:"type"`
	ID      int64             `json:"id"`
	Tags    map[string]string `json:"tags"`
	Members []member          `json:"members"`
}

type member struct {
	Type     string  `json:"type"`
	Role     string  `json:"role"`
	Geometry []point `json:"geometry"`
}

type point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// FetchTrails queries the whole bbox once and slices by Offset/Limit.
func (a *Adapter) FetchTrails(ctx context.Context, opts source.FetchOptions) ([]domain.TrailRecord, error) {
	if opts.BBox == nil {
		return nil, ErrBBoxRequired
	}
	records, err := a.query(ctx, *opts.BBox, 0, opts)
	if err != nil {
		return nil, err
	}
	if opts.Offset >= len(records) {
		return []domain.TrailRecord{}, nil
	}
	records = records[opts.Offset:]
	if limit := a.pager.Limit(opts.Limit); limit < len(records) {
		records = records[:limit]
	}
	return records, nil
}

// FetchAll walks the bbox tile by tile. Relations spanning tiles are
// returned once.
func (a *Adapter) FetchAll(ctx context.Context, opts source.FetchOptions) ([]domain.TrailRecord, error) {
	if opts.BBox == nil {
		return nil, &domain.SourceFetchError{Source: SourceType, Err: ErrBBoxRequired}
	}
	tiles := Tiles(*opts.BBox, a.tileSize)
	seen := make(map[string]struct{})

	return a.pager.FetchAll(ctx, SourceType, opts.MaxRecords, func(ctx context.Context, cursor string, limit int) ([]domain.TrailRecord, string, error) {
		idx := 0
		if cursor != "" {
			var err error
			if idx, err = strconv.Atoi(cursor); err != nil {
				return nil, "", retry.Permanent(fmt.Errorf("invalid cursor: %w", err))
			}
		}
		if idx >= len(tiles) {
			return nil, "", nil
		}

		records, err := a.query(ctx, tiles[idx], limit, opts)
		if err != nil {
			return nil, "", err
		}
		out := records[:0]
		for _, rec := range records {
			if _, dup := seen[rec.SourceID]; dup {
				continue
			}
			seen[rec.SourceID] = struct{}{}
			out = append(out, rec)
		}

		next := ""
		if idx+1 < len(tiles) {
			next = strconv.Itoa(idx + 1)
		}
		return out, next, nil
	})
}

// Tiles splits box into a row-major grid of cells no larger than size
// degrees on each edge.
func Tiles(box domain.BBox, size float64) []domain.BBox {
	var tiles []domain.BBox
	for lat := box.MinLat; lat < box.MaxLat; lat += size {
		for lon := box.MinLon; lon < box.MaxLon; lon += size {
			tiles = append(tiles, domain.BBox{
				MinLon: lon,
				MinLat: lat,
				MaxLon: math.Min(lon+size, box.MaxLon),
				MaxLat: math.Min(lat+size, box.MaxLat),
			})
		}
	}
	if len(tiles) == 0 {
		tiles = append(tiles, box)
	}
	return tiles
}

func buildQuery(box domain.BBox, limit int) string {
	out := "out geom;"
	if limit > 0 {
		out = fmt.Sprintf("out geom %d;", limit)
	}
	return fmt.Sprintf(`[out:json][timeout:25];relation["route"="hiking"](%f,%f,%f,%f);%s`,
		box.MinLat, box.MinLon, box.MaxLat, box.MaxLon, out)
}

func (a *Adapter) query(ctx context.Context, box domain.BBox, limit int, opts source.FetchOptions) ([]domain.TrailRecord, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"data": buildQuery(box, limit)}).
		Post("/interpreter")
	if err := source.CheckResponse(resp, err, "Overpass"); err != nil {
		return nil, err
	}

	var body overpassResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("failed to decode Overpass response: %w", err)
	}
	if strings.Contains(body.Remark, "runtime error") {
		return nil, fmt.Errorf("overpass: %s", body.Remark)
	}

	records := make([]domain.TrailRecord, 0, len(body.Elements))
	for i := range body.Elements {
		if body.Elements[i].Type != "relation" {
			continue
		}
		records = append(records, toRecord(&body.Elements[i], opts))
	}
	return records, nil
}

func toRecord(el *element, opts source.FetchOptions) domain.TrailRecord {
	tags := el.Tags
	rec := domain.TrailRecord{
		Source:        SourceType,
		SourceID:      "relation/" + strconv.FormatInt(el.ID, 10),
		Name:          firstNonEmpty(tags["name"], tags["name:en"]),
		Location:      firstNonEmpty(tags["is_in"], tags["operator"], opts.Region),
		Country:       firstNonEmpty(tags["is_in:country"], opts.Country),
		StateProvince: firstNonEmpty(tags["is_in:state"], tags["is_in:province"]),
		Difficulty:    difficulty(tags),
	}

	var lines [][][]float64
	for _, m := range el.Members {
		if m.Type != "way" || len(m.Geometry) < 2 {
			continue
		}
		line := make([][]float64, 0, len(m.Geometry))
		for _, p := range m.Geometry {
			line = append(line, []float64{p.Lon, p.Lat})
		}
		lines = append(lines, line)
	}

	if len(lines) > 0 {
		var km float64
		for _, line := range lines {
			km += source.LineLengthKm(line)
		}
		rec.LengthKm = source.Float(source.Round2(km))
		rec.Latitude = source.Float(lines[0][0][1])
		rec.Longitude = source.Float(lines[0][0][0])
		if geom, err := json.Marshal(map[string]interface{}{
			"type":        "MultiLineString",
			"coordinates": lines,
		}); err == nil {
			rec.GeoJSON = datatypes.JSON(geom)
		}
	}
	if d, ok := parseDistance(tags["distance"]); ok {
		rec.LengthKm = source.Float(d)
	}
	if ele, err := strconv.ParseFloat(tags["ele"], 64); err == nil {
		rec.Elevation = source.Float(ele)
	}
	return rec
}

func difficulty(tags map[string]string) domain.Difficulty {
	if d, ok := sacScale[tags["sac_scale"]]; ok {
		return d
	}
	return source.MapDifficulty(tags["difficulty"])
}

// parseDistance reads the route distance tag, which is km unless suffixed
// with mi.
func parseDistance(raw string) (float64, bool) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return 0, false
	}
	factor := 1.0
	switch {
	case strings.HasSuffix(raw, "mi"):
		factor = 1.609344
		raw = strings.TrimSuffix(raw, "mi")
	case strings.HasSuffix(raw, "km"):
		raw = strings.TrimSuffix(raw, "km")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(raw, ",", ".")), 64)
	if err != nil {
		return 0, false
	}
	return source.Round2(v * factor), true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
