// Package nps fetches hiking activities from the National Park Service
// developer API.
package nps

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/source"
)

const (
	SourceType = "nps"
	SourceName = "National Park Service"
)

// Adapter implements source.Adapter over /thingstodo, filtered to hikes.
type Adapter struct {
	client *resty.Client
	apiKey string
	pager  *source.Pager
}

// NewAdapter creates an NPS adapter. apiKey is sent as the api_key query
// parameter.
func NewAdapter(client *resty.Client, apiKey string, pager *source.Pager) *Adapter {
	return &Adapter{client: client, apiKey: apiKey, pager: pager}
}

func (a *Adapter) SourceType() string  { return SourceType }
func (a *Adapter) DisplayName() string { return SourceName }

type listResponse struct {
	Total string      `json:"total"`
	Limit string      `json:"limit"`
	Start string      `json:"start"`
	Data  []thingToDo `json:"data"`
}

type thingToDo struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	ShortDescription string `json:"shortDescription"`
	Duration         string `json:"duration"`
	Location         string `json:"location"`
	Latitude         string `json:"latitude"`
	Longitude        string `json:"longitude"`
	RelatedParks     []struct {
		ParkCode string `json:"parkCode"`
		FullName string `json:"fullName"`
		States   string `json:"states"`
	} `json:"relatedParks"`
	Activities []struct {
		Name string `json:"name"`
	} `json:"activities"`
}

// FetchTrails fetches one page starting at opts.Offset.
func (a *Adapter) FetchTrails(ctx context.Context, opts source.FetchOptions) ([]domain.TrailRecord, error) {
	records, _, err := a.fetchPage(ctx, opts, opts.Offset, a.pager.Limit(opts.Limit))
	return records, err
}

// FetchAll pages with start/limit until total is reached.
func (a *Adapter) FetchAll(ctx context.Context, opts source.FetchOptions) ([]domain.TrailRecord, error) {
	return a.pager.FetchAll(ctx, SourceType, opts.MaxRecords, func(ctx context.Context, cursor string, limit int) ([]domain.TrailRecord, string, error) {
		start := 0
		if cursor != "" {
			var err error
			if start, err = strconv.Atoi(cursor); err != nil {
				return nil, "", fmt.Errorf("invalid cursor: %w", err)
			}
		}
		return a.fetchPage(ctx, opts, start, limit)
	})
}

func (a *Adapter) fetchPage(ctx context.Context, opts source.FetchOptions, start, limit int) ([]domain.TrailRecord, string, error) {
	req := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":     "hiking",
			"start": strconv.Itoa(start),
			"limit": strconv.Itoa(limit),
		})
	if a.apiKey != "" {
		req.SetHeader("X-Api-Key", a.apiKey)
	}
	if opts.StateCode != "" {
		req.SetQueryParam("stateCode", strings.ToLower(opts.StateCode))
	}

	resp, err := req.Get("/thingstodo")
	if err := source.CheckResponse(resp, err, "NPS thingstodo"); err != nil {
		return nil, "", err
	}

	var body listResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, "", fmt.Errorf("failed to decode NPS response: %w", err)
	}

	records := make([]domain.TrailRecord, 0, len(body.Data))
	for i := range body.Data {
		item := &body.Data[i]
		if !isHike(item) {
			continue
		}
		rec := toRecord(item)
		if opts.BBox != nil && rec.HasCoordinates() && !opts.BBox.Contains(*rec.Latitude, *rec.Longitude) {
			continue
		}
		records = append(records, rec)
	}

	next := ""
	total, _ := strconv.Atoi(body.Total)
	if consumed := start + len(body.Data); len(body.Data) > 0 && consumed < total {
		next = strconv.Itoa(consumed)
	}
	return records, next, nil
}

func isHike(item *thingToDo) bool {
	if len(item.Activities) == 0 {
		return true
	}
	for _, act := range item.Activities {
		if strings.Contains(strings.ToLower(act.Name), "hik") {
			return true
		}
	}
	return false
}

func toRecord(item *thingToDo) domain.TrailRecord {
	rec := domain.TrailRecord{
		Source:     SourceType,
		SourceID:   item.ID,
		Name:       strings.TrimSpace(item.Title),
		Location:   strings.TrimSpace(item.Location),
		Country:    "US",
		Difficulty: source.MapDifficulty(item.ShortDescription + " " + item.Duration),
	}
	if len(item.RelatedParks) > 0 {
		park := item.RelatedParks[0]
		if rec.Location == "" {
			rec.Location = park.FullName
		}
		rec.StateProvince = firstState(park.States)
	}
	if lat, err := strconv.ParseFloat(item.Latitude, 64); err == nil {
		rec.Latitude = source.Float(lat)
	}
	if lon, err := strconv.ParseFloat(item.Longitude, 64); err == nil {
		rec.Longitude = source.Float(lon)
	}
	return rec
}

func firstState(states string) string {
	if i := strings.Index(states, ","); i >= 0 {
		return strings.TrimSpace(states[:i])
	}
	return strings.TrimSpace(states)
}
