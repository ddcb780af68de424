package source

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/logger"
	"github.com/trailhead/trailimport/internal/retry"
)

// PagerConfig controls pagination for every adapter.
type PagerConfig struct {
	PageSize       int
	PageDelay      time.Duration
	RequestTimeout time.Duration
	SafetyCap      int
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultPagerConfig returns page size 1000, 250ms between pages, a 30s
// request timeout and a 50k record cap.
func DefaultPagerConfig() PagerConfig {
	return PagerConfig{
		PageSize:       1000,
		PageDelay:      250 * time.Millisecond,
		RequestTimeout: 30 * time.Second,
		SafetyCap:      50000,
		RetryAttempts:  3,
		RetryBaseDelay: 200 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
	}
}

// Pager drives a PageFunc until exhaustion, the safety cap, or the first
// failed page.
type Pager struct {
	cfg PagerConfig
}

// NewPager creates a pager; zero fields fall back to DefaultPagerConfig.
func NewPager(cfg PagerConfig) *Pager {
	def := DefaultPagerConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.SafetyCap <= 0 {
		cfg.SafetyCap = def.SafetyCap
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	return &Pager{cfg: cfg}
}

// PageSize returns the configured page size.
func (p *Pager) PageSize() int {
	return p.cfg.PageSize
}

// Limit clamps a requested page limit to the configured page size.
func (p *Pager) Limit(requested int) int {
	if requested <= 0 || requested > p.cfg.PageSize {
		return p.cfg.PageSize
	}
	return requested
}

// FetchAll collects pages from fetch. On a failed page it returns the
// records gathered so far and a *domain.SourceFetchError.
func (p *Pager) FetchAll(ctx context.Context, sourceType string, maxRecords int, fetch PageFunc) ([]domain.TrailRecord, error) {
	limitCap := p.cfg.SafetyCap
	if maxRecords > 0 && maxRecords < limitCap {
		limitCap = maxRecords
	}

	// A fresh limiter per call keeps concurrent sources from throttling
	// each other.
	var limiter *rate.Limiter
	if p.cfg.PageDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(p.cfg.PageDelay), 1)
	}

	policy := retry.Policy{
		MaxAttempts: p.cfg.RetryAttempts,
		Delay:       retry.Exponential(p.cfg.RetryBaseDelay, p.cfg.RetryMaxDelay),
		Retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
		OnRetry: func(attempt int, err error) {
			logger.CtxWarn(ctx, "Page fetch from %s failed (attempt %d), retrying: %v", sourceType, attempt, err)
		},
	}

	var (
		out    []domain.TrailRecord
		cursor string
		pages  int
	)
	for len(out) < limitCap {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return out, &domain.SourceFetchError{Source: sourceType, Fetched: len(out), Err: err}
			}
		}

		limit := p.cfg.PageSize
		if remaining := limitCap - len(out); remaining < limit {
			limit = remaining
		}

		var (
			page []domain.TrailRecord
			next string
		)
		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
			defer cancel()
			var ferr error
			page, next, ferr = fetch(reqCtx, cursor, limit)
			return ferr
		})
		if err != nil {
			logger.With(logger.Fields{
				logger.FieldSource: sourceType,
				logger.FieldCount:  len(out),
			}).Warn(ctx, "Stopping pagination after failed page: %v", err)
			return out, &domain.SourceFetchError{Source: sourceType, Fetched: len(out), Err: err}
		}

		pages++
		out = append(out, page...)
		// Filtered pages may be empty; only the cursor decides exhaustion.
		if next == "" || next == cursor {
			break
		}
		cursor = next
	}

	if len(out) > limitCap {
		out = out[:limitCap]
	}
	if len(out) == limitCap {
		logger.With(logger.Fields{logger.FieldSource: sourceType}).
			Info(ctx, "Record cap %d reached after %d pages", limitCap, pages)
	}
	return out, nil
}
