// Package notify reports finished import runs to operators.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/trailhead/trailimport/internal/domain"
)

// Event describes a finished run.
type Event struct {
	JobID     string
	BulkJobID string
	Status    domain.JobStatus
	Sources   []string
	Result    *domain.ImportResult
	Err       error
}

// Fatal reports whether the run was aborted.
func (e Event) Fatal() bool {
	return e.Result != nil && e.Result.Fatal
}

// Duration is the wall time of the run, zero when unknown.
func (e Event) Duration() time.Duration {
	if e.Result == nil || e.Result.CompletedAt.IsZero() {
		return 0
	}
	return e.Result.CompletedAt.Sub(e.Result.StartedAt)
}

// Sink receives run events. Implementations must not block for long; the
// orchestrator calls Notify inline after a run.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// MultiSink forwards to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
