package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/trailhead/trailimport/internal/config"
	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/logger"
)

// SentrySink reports aborted and failed runs to Sentry. Successful runs are
// not sent.
type SentrySink struct {
	hub *sentry.Hub
}

// NewSentrySink initializes the Sentry client. It returns nil, nil when no
// DSN is configured so callers can skip the sink.
func NewSentrySink(cfg *config.SentryConfig, log *logger.Logger) (*SentrySink, error) {
	if cfg.DSN == "" {
		if log != nil {
			log.Warn("Sentry DSN not configured, run failures will only be logged")
		}
		return nil, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			if event.Request != nil && event.Request.Headers != nil {
				delete(event.Request.Headers, "Authorization")
				delete(event.Request.Headers, "Apikey")
			}
			return event
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}

	if log != nil {
		log.WithFields(logger.Fields{
			"environment": cfg.Environment,
			"release":     cfg.Release,
		}).Info("Sentry initialized")
	}
	return NewSentrySinkWithHub(sentry.NewHub(client, sentry.NewScope())), nil
}

// NewSentrySinkWithHub wraps an existing hub.
func NewSentrySinkWithHub(hub *sentry.Hub) *SentrySink {
	return &SentrySink{hub: hub}
}

func (s *SentrySink) Notify(ctx context.Context, ev Event) error {
	if !ev.Fatal() && ev.Status != domain.JobStatusError {
		return nil
	}

	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("job_id", ev.JobID)
		scope.SetTag("status", string(ev.Status))
		if ev.BulkJobID != "" {
			scope.SetTag("bulk_job_id", ev.BulkJobID)
		}
		ctxData := map[string]interface{}{"sources": ev.Sources}
		if r := ev.Result; r != nil {
			ctxData["processed"] = r.TotalProcessed
			ctxData["failed"] = r.TotalFailed
			ctxData["errors"] = r.Errors
		}
		scope.SetContext("import", sentry.Context(ctxData))

		err := ev.Err
		if err == nil && ev.Result != nil && ev.Result.FatalReason != "" {
			err = errors.New(ev.Result.FatalReason)
		}
		if err != nil {
			s.hub.CaptureException(err)
		} else {
			s.hub.CaptureMessage(fmt.Sprintf("import job %s finished with status %s", ev.JobID, ev.Status))
		}
	})
	return nil
}

// Flush waits for queued events to be delivered.
func (s *SentrySink) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}
