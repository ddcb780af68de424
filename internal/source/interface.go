package source

import (
	"context"

	"github.com/trailhead/trailimport/internal/domain"
)

// FetchOptions narrows what an adapter returns. Zero values mean "no filter".
type FetchOptions struct {
	BBox       *domain.BBox
	Limit      int
	Offset     int
	Country    string
	Region     string
	StateCode  string
	MaxRecords int
}

// OptionsFromDataSource maps a stored DataSource config onto FetchOptions.
func OptionsFromDataSource(ds *domain.DataSource) FetchOptions {
	opts := ds.Options()
	return FetchOptions{
		BBox:       opts.BBox,
		Country:    opts.Country,
		Region:     opts.Region,
		StateCode:  opts.StateCode,
		MaxRecords: opts.MaxRecords,
	}
}

// Adapter produces canonical trail records from one external source.
// Implementations are stateless and safe for concurrent use.
type Adapter interface {
	// SourceType returns the registry key, e.g. "usgs".
	// Parameters: none.
	// Returns:
	//   - string: stable source type identifier.
	SourceType() string

	// DisplayName returns a human-readable name for this source.
	// Parameters: none.
	// Returns:
	//   - string: display-friendly source name.
	DisplayName() string

	// FetchTrails fetches a single page of records.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - opts: filters plus Limit/Offset for the page.
	// Returns:
	//   - []domain.TrailRecord: mapped records, possibly empty.
	//   - error: non-nil if the upstream request fails.
	FetchTrails(ctx context.Context, opts FetchOptions) ([]domain.TrailRecord, error)

	// FetchAll pages until the source is exhausted or the safety cap is hit.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - opts: filters; Limit and Offset are ignored.
	// Returns:
	//   - []domain.TrailRecord: everything fetched, including pages
	//     gathered before a failure.
	//   - error: *domain.SourceFetchError when a page failed.
	FetchAll(ctx context.Context, opts FetchOptions) ([]domain.TrailRecord, error)
}

// PageFunc fetches one cursor-addressed page. An empty nextCursor means the
// source is exhausted.
type PageFunc func(ctx context.Context, cursor string, limit int) (records []domain.TrailRecord, nextCursor string, err error)
