package notify

import (
	"context"

	"github.com/trailhead/trailimport/internal/logger"
)

// LogSink writes one structured line per finished run.
type LogSink struct {
	logger *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.GetDefault()
	}
	return &LogSink{logger: log.WithField(logger.FieldComponent, "notify")}
}

func (s *LogSink) Notify(ctx context.Context, ev Event) error {
	fields := logger.Fields{
		logger.FieldJobID:      ev.JobID,
		logger.FieldStatus:     ev.Status,
		logger.FieldDurationMs: ev.Duration().Milliseconds(),
		"sources":              ev.Sources,
	}
	if ev.BulkJobID != "" {
		fields[logger.FieldBulkJobID] = ev.BulkJobID
	}
	if r := ev.Result; r != nil {
		fields["processed"] = r.TotalProcessed
		fields["added"] = r.TotalAdded
		fields["updated"] = r.TotalUpdated
		fields["failed"] = r.TotalFailed
		fields["validation_failed"] = r.ValidationFailed
	}

	entry := s.logger.WithFields(fields)
	switch {
	case ev.Fatal():
		entry.WithField("reason", ev.Result.FatalReason).Error("Import run aborted")
	case ev.Err != nil:
		entry.WithError(ev.Err).Warn("Import run finished with errors")
	default:
		entry.Info("Import run finished")
	}
	return nil
}
