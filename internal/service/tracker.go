package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/logger"
)

// JobStore persists import jobs. Implemented by repository.JobRepository.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.ImportJob) error
	CreateBulkJob(ctx context.Context, job *domain.BulkImportJob) error
	GetJob(ctx context.Context, id string) (*domain.ImportJob, error)
	GetBulkJob(ctx context.Context, id string) (*domain.BulkImportJob, error)
	IncrementJob(ctx context.Context, id string, d domain.JobDelta) (bool, error)
	SetJobRequested(ctx context.Context, id string, requested int) error
	FinishJob(ctx context.Context, id string, status domain.JobStatus, errMsg string) (bool, error)
	FinishBulkJob(ctx context.Context, id string, status domain.JobStatus) (bool, error)
	RecomputeBulkJob(ctx context.Context, bulkID string) (*domain.BulkImportJob, error)
}

var errNegativeDelta = errors.New("job counters only move forward")

const (
	defaultWatchInterval = 2500 * time.Millisecond
	defaultWatchTimeout  = 10 * time.Minute
)

// WatchOptions configures WatchJob.
type WatchOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	// Bulk watches a bulk job id. Otherwise the id is tried as a source job
	// first and as a bulk job second.
	Bulk       bool
	OnTick     func(domain.JobSnapshot)
	OnTerminal func(domain.JobSnapshot)
}

// JobTracker owns the job lifecycle: creation, additive progress updates,
// the single terminal transition, and polling.
type JobTracker struct {
	store  JobStore
	logger *logger.Logger
	now    func() time.Time
}

func NewJobTracker(store JobStore, log *logger.Logger) *JobTracker {
	if log == nil {
		log = logger.GetDefault()
	}
	return &JobTracker{
		store:  store,
		logger: log.WithField(logger.FieldComponent, "job_tracker"),
		now:    time.Now,
	}
}

// CreateJob starts a processing job for one source and returns its id.
func (t *JobTracker) CreateJob(ctx context.Context, sourceID string, totalRequested int, bulkJobID string) (string, error) {
	job := &domain.ImportJob{
		ID:              uuid.New().String(),
		SourceID:        sourceID,
		Status:          domain.JobStatusProcessing,
		TrailsRequested: totalRequested,
		StartedAt:       t.now().UTC(),
	}
	if bulkJobID != "" {
		job.BulkJobID = &bulkJobID
	}
	if err := t.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create import job: %w", err)
	}

	t.logger.WithFields(logger.Fields{
		logger.FieldJobID:     job.ID,
		logger.FieldSource:    sourceID,
		logger.FieldBulkJobID: bulkJobID,
	}).Info("Import job created")
	return job.ID, nil
}

// CreateBulkJob starts a parent job spanning several sources.
func (t *JobTracker) CreateBulkJob(ctx context.Context, sources []string, totalRequested int) (string, error) {
	job := &domain.BulkImportJob{
		ID:                    uuid.New().String(),
		TotalSourcesRequested: len(sources),
		TotalTrailsRequested:  totalRequested,
		Status:                domain.JobStatusProcessing,
		StartedAt:             t.now().UTC(),
	}
	if err := t.store.CreateBulkJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create bulk import job: %w", err)
	}
	return job.ID, nil
}

// SetRequested records the number of trails a job will process once the
// fetch has finished.
func (t *JobTracker) SetRequested(ctx context.Context, jobID string, requested int) error {
	if err := t.store.SetJobRequested(ctx, jobID, requested); err != nil {
		return fmt.Errorf("failed to set requested count: %w", err)
	}
	return nil
}

// UpdateJob adds delta to a job's counters. Counters never decrease, so a
// negative delta is rejected. Updates to terminal jobs are ignored. When the
// job belongs to a bulk job, the bulk aggregate is rebuilt from its children.
func (t *JobTracker) UpdateJob(ctx context.Context, jobID string, delta domain.JobDelta) error {
	if delta.Processed < 0 || delta.Added < 0 || delta.Updated < 0 || delta.Failed < 0 {
		return fmt.Errorf("invalid delta for job %s: %w", jobID, errNegativeDelta)
	}
	if delta.IsZero() {
		return nil
	}

	applied, err := t.store.IncrementJob(ctx, jobID, delta)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	if !applied {
		logger.FromContext(ctx).WithField(logger.FieldJobID, jobID).Debug("Ignoring update for terminal or unknown job")
		return nil
	}
	return t.recomputeParent(ctx, jobID)
}

// CompleteJob moves a job to a terminal status. Only the first call has an
// effect; it reports whether this call made the transition.
func (t *JobTracker) CompleteJob(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	done, err := t.store.FinishJob(ctx, jobID, status, errMsg)
	if err != nil {
		return false, fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	if done {
		t.logger.WithFields(logger.Fields{
			logger.FieldJobID:  jobID,
			logger.FieldStatus: status,
		}).Info("Import job finished")
	}
	if err := t.recomputeParent(ctx, jobID); err != nil {
		return done, err
	}
	return done, nil
}

// FailBulkJob marks a bulk job as error without waiting for its children.
func (t *JobTracker) FailBulkJob(ctx context.Context, bulkID string) error {
	done, err := t.store.FinishBulkJob(ctx, bulkID, domain.JobStatusError)
	if err != nil {
		return fmt.Errorf("failed to fail bulk job %s: %w", bulkID, err)
	}
	if done {
		t.logger.WithField(logger.FieldBulkJobID, bulkID).Warn("Bulk import job abandoned")
	}
	return nil
}

func (t *JobTracker) recomputeParent(ctx context.Context, jobID string) error {
	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.BulkJobID == nil {
		return nil
	}
	if _, err := t.store.RecomputeBulkJob(ctx, *job.BulkJobID); err != nil {
		return fmt.Errorf("failed to recompute bulk job %s: %w", *job.BulkJobID, err)
	}
	return nil
}

// PollJob returns the current state of a source job.
func (t *JobTracker) PollJob(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobSnapshot{}, fmt.Errorf("failed to poll job %s: %w", jobID, err)
	}
	return snapshotJob(job), nil
}

// PollBulkJob rebuilds the bulk aggregate from its children and returns it.
func (t *JobTracker) PollBulkJob(ctx context.Context, bulkID string) (domain.JobSnapshot, error) {
	bulk, err := t.store.RecomputeBulkJob(ctx, bulkID)
	if err != nil {
		return domain.JobSnapshot{}, fmt.Errorf("failed to poll bulk job %s: %w", bulkID, err)
	}
	return snapshotBulk(bulk), nil
}

// Poll looks id up as a source job first, then as a bulk job.
func (t *JobTracker) Poll(ctx context.Context, id string) (domain.JobSnapshot, error) {
	snap, err := t.PollJob(ctx, id)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return snap, err
	}
	return t.PollBulkJob(ctx, id)
}

// WatchJob polls a job until it reaches a terminal status, calling OnTick on
// every successful read and OnTerminal exactly once at the end. Read errors
// are logged and retried on the next tick. If Timeout elapses first the last
// snapshot is returned with ErrMonitorTimeout; the job itself may still be
// running.
func (t *JobTracker) WatchJob(ctx context.Context, jobID string, opts WatchOptions) (domain.JobSnapshot, error) {
	if opts.Interval <= 0 {
		opts.Interval = defaultWatchInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultWatchTimeout
	}

	poll := t.Poll
	if opts.Bulk {
		poll = t.PollBulkJob
	}

	log := logger.FromContext(ctx).WithField(logger.FieldJobID, jobID)
	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var last domain.JobSnapshot
	for {
		snap, err := poll(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			log.WithError(err).Warn("Job poll failed, retrying")
		} else {
			last = snap
			if opts.OnTick != nil {
				opts.OnTick(snap)
			}
			if snap.Status.Terminal() {
				if opts.OnTerminal != nil {
					opts.OnTerminal(snap)
				}
				return snap, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			log.WithField("timeout", opts.Timeout.String()).Warn("Stopped watching job before it finished")
			return last, fmt.Errorf("job %s after %s: %w", jobID, opts.Timeout, domain.ErrMonitorTimeout)
		case <-ticker.C:
		}
	}
}

func snapshotJob(job *domain.ImportJob) domain.JobSnapshot {
	return domain.JobSnapshot{
		ID:              job.ID,
		Status:          job.Status,
		Requested:       job.TrailsRequested,
		Processed:       job.TrailsProcessed,
		Added:           job.TrailsAdded,
		Updated:         job.TrailsUpdated,
		Failed:          job.TrailsFailed,
		PercentComplete: domain.Percent(job.Status, job.TrailsProcessed, job.TrailsRequested),
		ErrorMessage:    job.ErrorMessage,
	}
}

func snapshotBulk(job *domain.BulkImportJob) domain.JobSnapshot {
	return domain.JobSnapshot{
		ID:              job.ID,
		Bulk:            true,
		Status:          job.Status,
		Requested:       job.TotalTrailsRequested,
		Processed:       job.TrailsProcessed,
		Added:           job.TrailsAdded,
		Updated:         job.TrailsUpdated,
		Failed:          job.TrailsFailed,
		PercentComplete: domain.Percent(job.Status, job.TrailsProcessed, job.TotalTrailsRequested),
	}
}
