// Package usgs fetches trails from the USGS National Map transportation
// layer through its ArcGIS query endpoint.
package usgs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"gorm.io/datatypes"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/source"
)

const (
	SourceType = "usgs"
	SourceName = "USGS National Map"

	kmPerMile = 1.609344
)

// Adapter implements source.Adapter against an ArcGIS MapServer layer.
type Adapter struct {
	client *resty.Client
	pager  *source.Pager
}

// NewAdapter creates a USGS adapter. The client base URL must point at the
// layer, e.g. .../MapServer/37.
func NewAdapter(client *resty.Client, pager *source.Pager) *Adapter {
	return &Adapter{client: client, pager: pager}
}

func (a *Adapter) SourceType() string  { return SourceType }
func (a *Adapter) DisplayName() string { return SourceName }

type featureCollection struct {
	Features              []feature `json:"features"`
	ExceededTransferLimit bool      `json:"exceededTransferLimit"`
	Error                 *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type feature struct {
	ID         interface{}       `json:"id"`
	Properties featureProperties `json:"properties"`
	Geometry   json.RawMessage   `json:"geometry"`
}

type featureProperties struct {
	PermanentIdentifier    string   `json:"permanentidentifier"`
	ObjectID               *int64   `json:"objectid"`
	Name                   string   `json:"name"`
	TrailNumber            string   `json:"trailnumber"`
	TrailType              string   `json:"trailtype"`
	LengthMiles            *float64 `json:"lengthmiles"`
	PrimaryTrailMaintainer string   `json:"primarytrailmaintainer"`
	StateCode              string   `json:"statecode"`
	Difficulty             string   `json:"difficulty"`
}

// FetchTrails fetches one page at opts.Offset.
func (a *Adapter) FetchTrails(ctx context.Context, opts source.FetchOptions) ([]domain.TrailRecord, error) {
	records, _, err := a.fetchPage(ctx, opts, opts.Offset, a.pager.Limit(opts.Limit))
	return records, err
}

// FetchAll pages through the layer with resultOffset/resultRecordCount.
func (a *Adapter) FetchAll(ctx context.Context, opts source.FetchOptions) ([]domain.TrailRecord, error) {
	return a.pager.FetchAll(ctx, SourceType, opts.MaxRecords, func(ctx context.Context, cursor string, limit int) ([]domain.TrailRecord, string, error) {
		offset := 0
		if cursor != "" {
			var err error
			if offset, err = strconv.Atoi(cursor); err != nil {
				return nil, "", fmt.Errorf("invalid cursor: %w", err)
			}
		}
		return a.fetchPage(ctx, opts, offset, limit)
	})
}

func (a *Adapter) fetchPage(ctx context.Context, opts source.FetchOptions, offset, limit int) ([]domain.TrailRecord, string, error) {
	params := map[string]string{
		"where":             whereClause(opts),
		"outFields":         "*",
		"returnGeometry":    "true",
		"outSR":             "4326",
		"f":                 "geojson",
		"orderByFields":     "objectid",
		"resultOffset":      strconv.Itoa(offset),
		"resultRecordCount": strconv.Itoa(limit),
	}
	if opts.BBox != nil {
		params["geometry"] = fmt.Sprintf("%f,%f,%f,%f", opts.BBox.MinLon, opts.BBox.MinLat, opts.BBox.MaxLon, opts.BBox.MaxLat)
		params["geometryType"] = "esriGeometryEnvelope"
		params["inSR"] = "4326"
		params["spatialRel"] = "esriSpatialRelIntersects"
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get("/query")
	if err := source.CheckResponse(resp, err, "USGS query"); err != nil {
		return nil, "", err
	}

	var fc featureCollection
	if err := json.Unmarshal(resp.Body(), &fc); err != nil {
		return nil, "", fmt.Errorf("failed to decode USGS response: %w", err)
	}
	if fc.Error != nil {
		return nil, "", fmt.Errorf("USGS query error %d: %s", fc.Error.Code, fc.Error.Message)
	}

	records := make([]domain.TrailRecord, 0, len(fc.Features))
	for i := range fc.Features {
		records = append(records, toRecord(&fc.Features[i], opts))
	}

	next := ""
	if len(fc.Features) == limit || fc.ExceededTransferLimit {
		next = strconv.Itoa(offset + len(fc.Features))
	}
	return records, next, nil
}

func whereClause(opts source.FetchOptions) string {
	if opts.StateCode != "" {
		return fmt.Sprintf("statecode = '%s'", strings.ReplaceAll(strings.ToUpper(opts.StateCode), "'", ""))
	}
	return "1=1"
}

func toRecord(f *feature, opts source.FetchOptions) domain.TrailRecord {
	p := f.Properties

	id := p.PermanentIdentifier
	if id == "" && p.ObjectID != nil {
		id = strconv.FormatInt(*p.ObjectID, 10)
	}
	if id == "" {
		id = featureID(f.ID)
	}

	rec := domain.TrailRecord{
		Source:        SourceType,
		SourceID:      id,
		Name:          strings.TrimSpace(p.Name),
		Location:      location(p, opts),
		Country:       "US",
		StateProvince: strings.ToUpper(p.StateCode),
		Difficulty:    source.MapDifficulty(p.Difficulty + " " + p.TrailType),
	}
	if p.LengthMiles != nil {
		rec.LengthKm = source.Float(source.Round2(*p.LengthMiles * kmPerMile))
	}

	if len(f.Geometry) > 0 && string(f.Geometry) != "null" {
		rec.GeoJSON = datatypes.JSON(f.Geometry)
		var geom source.Geometry
		if json.Unmarshal(f.Geometry, &geom) == nil {
			if rec.LengthKm == nil {
				if km, ok := geom.LengthKm(); ok {
					rec.LengthKm = source.Float(source.Round2(km))
				}
			}
			if lat, lon, ok := geom.StartPoint(); ok {
				rec.Latitude, rec.Longitude = source.Float(lat), source.Float(lon)
			}
		}
	}
	return rec
}

func location(p featureProperties, opts source.FetchOptions) string {
	switch {
	case p.PrimaryTrailMaintainer != "":
		return p.PrimaryTrailMaintainer
	case p.StateCode != "":
		return strings.ToUpper(p.StateCode) + ", United States"
	case opts.Region != "":
		return opts.Region
	}
	return "United States"
}

func featureID(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}
