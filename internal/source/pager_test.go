package source

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/retry"
)

func offsetPages(total int, failAt int, calls *int) PageFunc {
	return func(ctx context.Context, cursor string, limit int) ([]domain.TrailRecord, string, error) {
		*calls++
		offset, _ := strconv.Atoi(cursor)
		if failAt >= 0 && offset >= failAt {
			return nil, "", retry.Permanent(errors.New("bad request"))
		}
		var out []domain.TrailRecord
		for i := offset; i < offset+limit && i < total; i++ {
			out = append(out, domain.TrailRecord{SourceID: strconv.Itoa(i)})
		}
		next := ""
		if offset+len(out) < total {
			next = strconv.Itoa(offset + len(out))
		}
		return out, next, nil
	}
}

func TestPager_SafetyCap(t *testing.T) {
	p := NewPager(PagerConfig{PageSize: 40, SafetyCap: 100, RetryAttempts: 1})
	calls := 0

	records, err := p.FetchAll(context.Background(), "test", 0, offsetPages(1000, -1, &calls))

	require.NoError(t, err)
	assert.Len(t, records, 100)
	assert.Equal(t, 3, calls)
}

func TestPager_PermanentErrorNotRetried(t *testing.T) {
	p := NewPager(PagerConfig{PageSize: 10, RetryAttempts: 3, RetryBaseDelay: time.Millisecond})
	calls := 0

	records, err := p.FetchAll(context.Background(), "test", 0, offsetPages(100, 30, &calls))

	var fetchErr *domain.SourceFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 30, fetchErr.Fetched)
	assert.Len(t, records, 30)
	assert.Equal(t, 4, calls)
}

func TestPager_PageDelay(t *testing.T) {
	p := NewPager(PagerConfig{PageSize: 10, PageDelay: 20 * time.Millisecond, RetryAttempts: 1})
	calls := 0

	start := time.Now()
	records, err := p.FetchAll(context.Background(), "test", 0, offsetPages(30, -1, &calls))

	require.NoError(t, err)
	assert.Len(t, records, 30)
	// first page is immediate, the next two wait for the limiter
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestPager_RequestTimeout(t *testing.T) {
	p := NewPager(PagerConfig{PageSize: 10, RequestTimeout: 10 * time.Millisecond, RetryAttempts: 1})

	_, err := p.FetchAll(context.Background(), "slow", 0, func(ctx context.Context, _ string, _ int) ([]domain.TrailRecord, string, error) {
		<-ctx.Done()
		return nil, "", ctx.Err()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type stubAdapter struct{ kind string }

func (s stubAdapter) SourceType() string  { return s.kind }
func (s stubAdapter) DisplayName() string { return s.kind }
func (s stubAdapter) FetchTrails(context.Context, FetchOptions) ([]domain.TrailRecord, error) {
	return nil, nil
}
func (s stubAdapter) FetchAll(context.Context, FetchOptions) ([]domain.TrailRecord, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubAdapter{"usgs"}, stubAdapter{"nps"})
	r.Register(stubAdapter{"osm"})

	assert.Equal(t, []string{"nps", "osm", "usgs"}, r.Types())

	a, err := r.Lookup("nps")
	require.NoError(t, err)
	assert.Equal(t, "nps", a.SourceType())

	_, err = r.Lookup("blm")
	assert.ErrorIs(t, err, domain.ErrUnknownSource)
}
