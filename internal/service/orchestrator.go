package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/logger"
	"github.com/trailhead/trailimport/internal/notify"
	"github.com/trailhead/trailimport/internal/repository"
	"github.com/trailhead/trailimport/internal/source"
	"github.com/trailhead/trailimport/internal/validate"
)

// SourceCatalog lists configured data sources. Implemented by
// repository.SourceRepository.
type SourceCatalog interface {
	ListActive(ctx context.Context) ([]domain.DataSource, error)
	FindActive(ctx context.Context, keys []string) ([]domain.DataSource, error)
	MarkSynced(ctx context.Context, id string, at time.Time, next *time.Time) error
}

// StoreInspector runs the read-only checks around an import.
type StoreInspector interface {
	Probe(ctx context.Context) error
	FindDuplicates(ctx context.Context, limit int) ([]repository.DuplicateGroup, error)
	CountMissingRequired(ctx context.Context) (int64, error)
}

// SnapshotArchiver keeps the raw output of a fetch.
type SnapshotArchiver interface {
	Save(ctx context.Context, source, jobID string, records []domain.TrailRecord) (string, error)
}

// TrailIndexer mirrors written trails into the geo index.
type TrailIndexer interface {
	IndexTrails(ctx context.Context, records []domain.TrailRecord) (int, error)
}

const (
	maxResultErrors     = 100
	duplicateReportSize = 20
)

type OrchestratorConfig struct {
	FetchConcurrency int
	// FailureTolerance is the fraction of written records allowed to fail
	// before batch_import is reported unsuccessful.
	FailureTolerance float64
	// SyncInterval sets DataSource.NextSync after a successful run. Zero
	// leaves NextSync empty.
	SyncInterval time.Duration
}

// OrchestratorDeps wires the orchestrator. Archive, Index and Notifier are
// optional.
type OrchestratorDeps struct {
	Registry  *source.Registry
	Sources   SourceCatalog
	Inspector StoreInspector
	Writer    *BatchWriter
	Tracker   *JobTracker
	Progress  *Broadcaster
	Archive   SnapshotArchiver
	Index     TrailIndexer
	Notifier  notify.Sink
	Metrics   *Metrics
	Logger    *logger.Logger
}

// RunRequest selects what to import. Empty SourceIDs means every active
// source; TargetCount of zero lets each source fetch up to its own limit.
type RunRequest struct {
	SourceIDs   []string
	TargetCount int
}

// Run is a started import whose jobs exist but whose phases have not run.
type Run struct {
	// JobID is the id callers poll: the bulk job when several sources are
	// imported, otherwise the single source job.
	JobID       string
	BulkJobID   string
	Sources     []domain.DataSource
	JobIDs      map[string]string
	TargetCount int
	perSource   int
}

// Orchestrator executes the four import phases in order: health_check,
// fetch, batch_import and post_validation.
type Orchestrator struct {
	registry  *source.Registry
	sources   SourceCatalog
	inspector StoreInspector
	writer    *BatchWriter
	tracker   *JobTracker
	progress  *Broadcaster
	archive   SnapshotArchiver
	index     TrailIndexer
	notifier  notify.Sink
	metrics   *Metrics
	cfg       OrchestratorConfig
	logger    *logger.Logger
	now       func() time.Time
}

func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) *Orchestrator {
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 2
	}
	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}
	progress := deps.Progress
	if progress == nil {
		progress = NewBroadcaster()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Orchestrator{
		registry:  deps.Registry,
		sources:   deps.Sources,
		inspector: deps.Inspector,
		writer:    deps.Writer,
		tracker:   deps.Tracker,
		progress:  progress,
		archive:   deps.Archive,
		index:     deps.Index,
		notifier:  notifier,
		metrics:   deps.Metrics,
		cfg:       cfg,
		logger:    log.WithField(logger.FieldComponent, "orchestrator"),
		now:       time.Now,
	}
}

// Progress returns the broadcaster the orchestrator publishes on.
func (o *Orchestrator) Progress() *Broadcaster {
	return o.progress
}

// Tracker returns the job tracker used for runs.
func (o *Orchestrator) Tracker() *JobTracker {
	return o.tracker
}

// Start resolves the requested sources and creates their jobs. The returned
// Run is handed to Execute.
func (o *Orchestrator) Start(ctx context.Context, req RunRequest) (*Run, error) {
	var (
		sources []domain.DataSource
		err     error
	)
	if len(req.SourceIDs) > 0 {
		sources, err = o.sources.FindActive(ctx, req.SourceIDs)
	} else {
		sources, err = o.sources.ListActive(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load data sources: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no active data source matches %v: %w", req.SourceIDs, domain.ErrNotFound)
	}

	run := &Run{
		Sources:     sources,
		JobIDs:      make(map[string]string, len(sources)),
		TargetCount: req.TargetCount,
	}
	if req.TargetCount > 0 {
		run.perSource = (req.TargetCount + len(sources) - 1) / len(sources)
	}

	if len(sources) > 1 {
		ids := make([]string, len(sources))
		for i, ds := range sources {
			ids[i] = ds.ID
		}
		run.BulkJobID, err = o.tracker.CreateBulkJob(ctx, ids, req.TargetCount)
		if err != nil {
			return nil, err
		}
		run.JobID = run.BulkJobID
	}

	for _, ds := range sources {
		jobID, err := o.tracker.CreateJob(ctx, ds.ID, run.perSource, run.BulkJobID)
		if err != nil {
			o.abandon(ctx, run, err)
			return nil, err
		}
		run.JobIDs[ds.ID] = jobID
		if run.JobID == "" {
			run.JobID = jobID
		}
	}
	return run, nil
}

// abandon closes the jobs of a Run whose Start failed part way, so none of
// them is left processing.
func (o *Orchestrator) abandon(ctx context.Context, run *Run, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContext(ctx)
	msg := "import aborted before it started: " + cause.Error()
	for _, jobID := range run.JobIDs {
		if _, err := o.tracker.CompleteJob(ctx, jobID, domain.JobStatusError, msg); err != nil {
			log.WithError(err).WithField(logger.FieldJobID, jobID).Error("Failed to close job of aborted run")
		}
	}
	if run.BulkJobID != "" {
		if err := o.tracker.FailBulkJob(ctx, run.BulkJobID); err != nil {
			log.WithError(err).WithField(logger.FieldBulkJobID, run.BulkJobID).Error("Failed to close bulk job of aborted run")
		}
	}
}

// Run starts and executes an import in one call.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*domain.ImportResult, error) {
	run, err := o.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, run)
}

// sourceRun carries one source through the phases. warnings collects
// bookkeeping failures that do not stop the source but must reach the
// result.
type sourceRun struct {
	ds       domain.DataSource
	jobID    string
	records  []domain.TrailRecord
	fetchErr error
	summary  WriteSummary
	written  []domain.TrailRecord
	status   domain.JobStatus
	errMsg   string
	warnings []string
}

// drainWarnings moves sr's warnings into the phase and the run result.
func (sr *sourceRun) drainWarnings(phase string, result *domain.ImportResult, pr *domain.PhaseResult) {
	for _, w := range sr.warnings {
		msg := fmt.Sprintf("%s: %s", sr.ds.ID, w)
		pr.Errors = append(pr.Errors, msg)
		addError(result, phase+": "+msg)
	}
	sr.warnings = nil
}

// Execute runs the phases for a started Run. The returned result is never
// nil. A fatal phase skips the remaining ones, marks every job as error and
// is returned as the error alongside the partial result.
func (o *Orchestrator) Execute(ctx context.Context, run *Run) (*domain.ImportResult, error) {
	ctx = logger.SetJobID(ctx, run.JobID)
	if run.BulkJobID != "" {
		ctx = logger.WithField(ctx, logger.FieldBulkJobID, run.BulkJobID)
	}

	result := &domain.ImportResult{
		JobIDs:    run.JobIDs,
		BulkJobID: run.BulkJobID,
		StartedAt: o.now().UTC(),
	}
	runs := make([]*sourceRun, len(run.Sources))
	for i, ds := range run.Sources {
		runs[i] = &sourceRun{ds: ds, jobID: run.JobIDs[ds.ID], status: domain.JobStatusCompleted}
	}

	o.logger.WithFields(logger.Fields{
		logger.FieldJobID: run.JobID,
		"sources":         len(runs),
		"target_count":    run.TargetCount,
	}).Info("Import run started")

	var fatal error
	phases := []struct {
		name string
		fn   func(context.Context, *Run, []*sourceRun, *domain.ImportResult, *domain.PhaseResult) error
	}{
		{domain.PhaseHealthCheck, o.healthCheck},
		{domain.PhaseFetch, o.fetch},
		{domain.PhaseBatchImport, o.batchImport},
		{domain.PhasePostValidation, o.postValidate},
	}
	for _, ph := range phases {
		if fatal != nil {
			result.Phases = append(result.Phases, domain.PhaseResult{Phase: ph.name, Skipped: true})
			continue
		}

		pr := domain.PhaseResult{Phase: ph.name}
		start := time.Now()
		err := ph.fn(ctx, run, runs, result, &pr)
		elapsed := time.Since(start)
		pr.DurationMs = elapsed.Milliseconds()
		result.Phases = append(result.Phases, pr)
		o.metrics.observePhase(ph.name, pr.Success, elapsed)

		logger.With(logger.Fields{
			logger.FieldPhase:      ph.name,
			"success":              pr.Success,
			logger.FieldDurationMs: pr.DurationMs,
		}).Info(ctx, "Phase finished")

		if err != nil {
			fatal = err
			result.Fatal = true
			result.FatalReason = err.Error()
			addError(result, fmt.Sprintf("%s: %v", ph.name, err))
		}
	}

	return o.finish(ctx, run, runs, result, fatal)
}

func (o *Orchestrator) healthCheck(ctx context.Context, _ *Run, _ []*sourceRun, result *domain.ImportResult, pr *domain.PhaseResult) error {
	err := o.inspector.Probe(ctx)
	if err == nil {
		pr.Success = true
		return nil
	}

	msg := err.Error()
	if errors.Is(err, domain.ErrPermission) {
		msg = "permission failure: " + msg
	}
	pr.Errors = append(pr.Errors, msg)
	addError(result, "health_check: "+msg)
	logger.FromContext(ctx).WithError(err).Warn("Store health check failed, continuing")
	return nil
}

func (o *Orchestrator) fetch(ctx context.Context, run *Run, runs []*sourceRun, result *domain.ImportResult, pr *domain.PhaseResult) error {
	sem := make(chan struct{}, o.cfg.FetchConcurrency)
	var wg sync.WaitGroup
	for _, sr := range runs {
		wg.Add(1)
		go func(sr *sourceRun) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				sr.fetchErr = ctx.Err()
				return
			}
			defer func() { <-sem }()
			o.fetchSource(ctx, run, sr)
		}(sr)
	}
	wg.Wait()

	for _, sr := range runs {
		result.TotalFetched += len(sr.records)
		if sr.fetchErr != nil {
			msg := fmt.Sprintf("%s: %v", sr.ds.ID, sr.fetchErr)
			pr.Errors = append(pr.Errors, msg)
			addError(result, "fetch: "+msg)
		}
		sr.drainWarnings(domain.PhaseFetch, result, pr)
	}
	pr.Processed = result.TotalFetched
	pr.Success = result.TotalFetched > 0
	if !pr.Success {
		return errors.New("no records fetched from any source")
	}
	return nil
}

func (o *Orchestrator) fetchSource(ctx context.Context, run *Run, sr *sourceRun) {
	ctx = logger.SetSource(ctx, sr.ds.SourceType)
	log := logger.FromContext(ctx)

	adapter, err := o.registry.Lookup(sr.ds.SourceType)
	if err != nil {
		sr.fetchErr = err
		return
	}

	opts := source.OptionsFromDataSource(&sr.ds)
	if run.perSource > 0 && (opts.MaxRecords == 0 || opts.MaxRecords > run.perSource) {
		opts.MaxRecords = run.perSource
	}

	start := time.Now()
	sr.records, sr.fetchErr = adapter.FetchAll(ctx, opts)
	logger.With(logger.Fields{
		logger.FieldCount:      len(sr.records),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "Fetched %s", adapter.DisplayName())
	if sr.fetchErr != nil {
		log.WithError(sr.fetchErr).Warn("Source fetch incomplete, keeping partial results")
	}

	if err := o.tracker.SetRequested(ctx, sr.jobID, len(sr.records)); err != nil {
		log.WithError(err).Warn("Failed to record requested count")
		sr.warnings = append(sr.warnings, err.Error())
	}

	if o.archive != nil && len(sr.records) > 0 {
		url, err := o.archive.Save(ctx, sr.ds.SourceType, sr.jobID, sr.records)
		if err != nil {
			log.WithError(err).Warn("Failed to archive fetch snapshot")
			sr.warnings = append(sr.warnings, "failed to archive fetch snapshot: "+err.Error())
		} else {
			log.WithField("snapshot", url).Debug("Fetch snapshot archived")
		}
	}

	o.progress.Publish(domain.Progress{JobID: run.JobID, CurrentSource: sr.ds.SourceType})
}

func (o *Orchestrator) batchImport(ctx context.Context, run *Run, runs []*sourceRun, result *domain.ImportResult, pr *domain.PhaseResult) error {
	var batches, fatalBatches int
	var permission bool
	for _, sr := range runs {
		o.importSource(ctx, run, sr, result, pr)

		s := sr.summary
		result.TotalProcessed += s.TotalProcessed
		result.TotalAdded += s.TotalAdded
		result.TotalUpdated += s.TotalUpdated
		result.TotalFailed += s.TotalFailed
		batches += s.Batches
		fatalBatches += s.FatalBatches
		permission = permission || s.PermissionDenied
		for _, err := range s.Errors {
			msg := fmt.Sprintf("%s: %v", sr.ds.ID, err)
			pr.Errors = append(pr.Errors, msg)
			addError(result, "batch_import: "+msg)
		}
		sr.drainWarnings(domain.PhaseBatchImport, result, pr)
	}

	pr.Processed = result.TotalProcessed
	pr.Added = result.TotalAdded
	pr.Updated = result.TotalUpdated
	pr.Failed = result.TotalFailed
	pr.Success = float64(result.TotalFailed) <= o.cfg.FailureTolerance*float64(result.TotalProcessed)

	if batches > 0 && fatalBatches == batches {
		if permission {
			return fmt.Errorf("every chunk was rejected: %w", domain.ErrPermission)
		}
		return fmt.Errorf("every chunk was rejected: %w", domain.ErrStoreUnavailable)
	}
	return nil
}

// importSource validates and writes one source. Every validation failure is
// itemized in pr.Errors; result.Errors keeps only the capped summary.
func (o *Orchestrator) importSource(ctx context.Context, run *Run, sr *sourceRun, result *domain.ImportResult, pr *domain.PhaseResult) {
	ctx = logger.SetSource(ctx, sr.ds.SourceType)
	log := logger.FromContext(ctx)

	valid, failures := validate.Partition(sr.records)
	result.ValidationFailed += len(failures)
	o.metrics.observeValidation(sr.ds.SourceType, len(failures))
	for _, f := range failures {
		pr.Errors = append(pr.Errors, fmt.Sprintf("%s: validation: %v", sr.ds.ID, f.Err))
		addError(result, "validation: "+f.Err.Error())
	}
	if len(failures) > 0 {
		log.WithField("invalid", len(failures)).Warn("Dropped records that failed validation")
	}

	var (
		mu      sync.Mutex
		totals  domain.Progress
		written []domain.TrailRecord
	)
	onBatch := func(ev BatchEvent) {
		delta := domain.JobDelta{
			Processed: ev.Size,
			Added:     ev.Result.Inserted,
			Updated:   ev.Result.Updated,
			Failed:    ev.Failed,
		}
		updateErr := o.tracker.UpdateJob(ctx, sr.jobID, delta)
		if updateErr != nil {
			log.WithError(updateErr).WithField(logger.FieldBatch, ev.Index).Warn("Failed to update job counters")
		}

		mu.Lock()
		if updateErr != nil {
			sr.warnings = append(sr.warnings, fmt.Sprintf("batch %d/%d: %v", ev.Index, ev.Total, updateErr))
		}
		totals.Processed += delta.Processed
		totals.Inserted += delta.Added
		totals.Updated += delta.Updated
		totals.Failed += delta.Failed
		if ev.Err == nil {
			written = append(written, ev.Records...)
		}
		p := totals
		mu.Unlock()

		p.JobID = run.JobID
		p.CurrentSource = sr.ds.SourceType
		p.CurrentBatch = ev.Index
		p.TotalBatches = ev.Total
		o.progress.Publish(p)
	}

	sr.summary = o.writer.WriteAll(ctx, valid, o.writer.Options(sr.ds.SourceType, onBatch))
	sr.written = written

	switch {
	case sr.summary.PermissionDenied && sr.summary.Fatal():
		sr.status = domain.JobStatusError
		sr.errMsg = domain.ErrPermission.Error()
	case sr.summary.Batches > 0 && sr.summary.FailedBatches == sr.summary.Batches:
		sr.status = domain.JobStatusError
		sr.errMsg = joinErrors(sr.summary.Errors)
	case len(valid) == 0 && sr.fetchErr != nil:
		sr.status = domain.JobStatusError
		sr.errMsg = sr.fetchErr.Error()
	}

	if o.index != nil && len(written) > 0 {
		n, err := o.index.IndexTrails(ctx, written)
		if err != nil {
			log.WithError(err).Warn("Failed to index trails")
			sr.warnings = append(sr.warnings, "failed to index trails: "+err.Error())
		} else {
			log.WithField(logger.FieldCount, n).Debug("Trails indexed")
		}
	}
}

func (o *Orchestrator) postValidate(ctx context.Context, _ *Run, _ []*sourceRun, _ *domain.ImportResult, pr *domain.PhaseResult) error {
	log := logger.FromContext(ctx)
	pr.Success = true

	dups, err := o.inspector.FindDuplicates(ctx, duplicateReportSize)
	if err != nil {
		log.WithError(err).Warn("Duplicate check failed")
		pr.Errors = append(pr.Errors, "duplicate check: "+err.Error())
		pr.Success = false
	}
	for _, d := range dups {
		pr.Errors = append(pr.Errors, fmt.Sprintf("duplicate: %q at %q appears %d times", d.Name, d.Location, d.Count))
	}

	missing, err := o.inspector.CountMissingRequired(ctx)
	if err != nil {
		log.WithError(err).Warn("Required field check failed")
		pr.Errors = append(pr.Errors, "required field check: "+err.Error())
		pr.Success = false
	} else if missing > 0 {
		pr.Errors = append(pr.Errors, fmt.Sprintf("%d trails are missing required fields", missing))
	}

	if len(dups) > 0 || missing > 0 {
		pr.Success = false
		log.WithFields(logger.Fields{
			"duplicate_groups": len(dups),
			"missing_required": missing,
		}).Warn("Post-import validation found issues")
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, run *Run, runs []*sourceRun, result *domain.ImportResult, fatal error) (*domain.ImportResult, error) {
	// Jobs must reach a terminal status even when the run was cancelled.
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContext(ctx)
	now := o.now().UTC()

	runStatus := domain.JobStatusError
	for _, sr := range runs {
		status, msg := sr.status, sr.errMsg
		if fatal != nil {
			status, msg = domain.JobStatusError, fatal.Error()
		}
		if err := o.reconcileJob(ctx, sr); err != nil {
			log.WithError(err).WithField(logger.FieldJobID, sr.jobID).Error("Job counters are out of date")
			addError(result, fmt.Sprintf("%s: %v", sr.ds.ID, err))
			if status == domain.JobStatusCompleted {
				status, msg = domain.JobStatusError, err.Error()
			}
		}
		if _, err := o.tracker.CompleteJob(ctx, sr.jobID, status, msg); err != nil {
			log.WithError(err).Error("Failed to complete job")
			addError(result, err.Error())
		}
		if status != domain.JobStatusCompleted {
			continue
		}
		runStatus = domain.JobStatusCompleted

		var next *time.Time
		if o.cfg.SyncInterval > 0 {
			t := now.Add(o.cfg.SyncInterval)
			next = &t
		}
		if err := o.sources.MarkSynced(ctx, sr.ds.ID, now, next); err != nil {
			log.WithError(err).Warn("Failed to mark source synced")
			addError(result, fmt.Sprintf("%s: failed to mark source synced: %v", sr.ds.ID, err))
		}
	}

	result.CompletedAt = o.now().UTC()
	o.progress.Publish(domain.Progress{
		JobID:         run.JobID,
		CurrentSource: domain.ProgressComplete,
		Processed:     result.TotalProcessed,
		Inserted:      result.TotalAdded,
		Updated:       result.TotalUpdated,
		Failed:        result.TotalFailed,
	})
	o.metrics.observeRun(string(runStatus))

	ids := make([]string, len(runs))
	for i, sr := range runs {
		ids[i] = sr.ds.ID
	}
	if err := o.notifier.Notify(ctx, notify.Event{
		JobID:     run.JobID,
		BulkJobID: run.BulkJobID,
		Status:    runStatus,
		Sources:   ids,
		Result:    result,
		Err:       fatal,
	}); err != nil {
		log.WithError(err).Warn("Failed to send run notification")
	}

	logger.With(logger.Fields{
		logger.FieldStatus:     runStatus,
		"processed":            result.TotalProcessed,
		"added":                result.TotalAdded,
		"updated":              result.TotalUpdated,
		"failed":               result.TotalFailed,
		"validation_failed":    result.ValidationFailed,
		logger.FieldDurationMs: result.CompletedAt.Sub(result.StartedAt).Milliseconds(),
	}).Info(ctx, "Import run finished")

	if fatal != nil {
		return result, fmt.Errorf("import run aborted: %w", fatal)
	}
	return result, nil
}

// reconcileJob brings the persisted job counters up to the write summary.
// Per-chunk updates that failed during batch_import leave the job behind;
// the missing difference is applied here in one update.
func (o *Orchestrator) reconcileJob(ctx context.Context, sr *sourceRun) error {
	snap, err := o.tracker.PollJob(ctx, sr.jobID)
	if err != nil {
		return fmt.Errorf("job counters out of date: %w", err)
	}
	s := sr.summary
	missing := domain.JobDelta{
		Processed: max(s.TotalProcessed-snap.Processed, 0),
		Added:     max(s.TotalAdded-snap.Added, 0),
		Updated:   max(s.TotalUpdated-snap.Updated, 0),
		Failed:    max(s.TotalFailed-snap.Failed, 0),
	}
	if missing.IsZero() {
		return nil
	}
	if err := o.tracker.UpdateJob(ctx, sr.jobID, missing); err != nil {
		return fmt.Errorf("job counters out of date: %w", err)
	}
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldJobID: sr.jobID,
		"processed":       missing.Processed,
	}).Info("Reconciled job counters with write summary")
	return nil
}

func addError(result *domain.ImportResult, msg string) {
	switch {
	case len(result.Errors) < maxResultErrors:
		result.Errors = append(result.Errors, msg)
	case len(result.Errors) == maxResultErrors:
		result.Errors = append(result.Errors, "further errors omitted")
	}
}

func joinErrors(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for i, err := range errs {
		if i == 3 {
			msgs = append(msgs, fmt.Sprintf("and %d more", len(errs)-i))
			break
		}
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}
