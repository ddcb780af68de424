package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/logger"
)

const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// TrailCounter reports how many trails the store holds.
type TrailCounter interface {
	CountTrails(ctx context.Context) (int64, error)
	CountBySource(ctx context.Context) (map[string]int64, error)
}

// Invoker starts an import somewhere else and returns the job id to watch.
type Invoker interface {
	Invoke(ctx context.Context, name string, body interface{}) (string, error)
}

type BootstrapConfig struct {
	MinThreshold   int64
	TargetCount    int64
	Mode           string
	PollInterval   time.Duration
	MonitorTimeout time.Duration
	FunctionName   string
}

type BootstrapResult struct {
	Needed         bool   `json:"needed"`
	Triggered      bool   `json:"triggered"`
	AlreadyRunning bool   `json:"already_running"`
	CurrentCount   int64  `json:"current_count"`
	JobID          string `json:"job_id,omitempty"`
}

type TriggerResult struct {
	JobID          string `json:"job_id,omitempty"`
	Started        bool   `json:"started"`
	AlreadyRunning bool   `json:"already_running"`
}

type ImportStatus struct {
	TotalTrails     int64            `json:"total_trails"`
	SourceBreakdown map[string]int64 `json:"source_breakdown"`
	Running         bool             `json:"running"`
}

type remoteRequest struct {
	SourceIDs   []string `json:"source_ids,omitempty"`
	TargetCount int      `json:"target_count,omitempty"`
}

// Bootstrapper decides when the trail table needs filling and owns the
// token that allows at most one run per instance.
type Bootstrapper struct {
	counter TrailCounter
	orch    *Orchestrator
	tracker *JobTracker
	remote  Invoker
	metrics *Metrics
	cfg     BootstrapConfig
	logger  *logger.Logger

	running atomic.Bool
	wg      sync.WaitGroup
	rootCtx context.Context
	stop    context.CancelFunc
}

// NewBootstrapper creates the controller. remote may be nil in local mode.
func NewBootstrapper(counter TrailCounter, orch *Orchestrator, remote Invoker, metrics *Metrics, cfg BootstrapConfig, log *logger.Logger) *Bootstrapper {
	if cfg.Mode == "" {
		cfg.Mode = ModeLocal
	}
	if log == nil {
		log = logger.GetDefault()
	}
	rootCtx, stop := context.WithCancel(context.Background())
	return &Bootstrapper{
		counter: counter,
		orch:    orch,
		tracker: orch.Tracker(),
		remote:  remote,
		metrics: metrics,
		cfg:     cfg,
		logger:  log.WithField(logger.FieldComponent, "bootstrap"),
		rootCtx: rootCtx,
		stop:    stop,
	}
}

// Running reports whether a run currently holds the token.
func (b *Bootstrapper) Running() bool {
	return b.running.Load()
}

// Progress returns the broadcaster local runs publish on.
func (b *Bootstrapper) Progress() *Broadcaster {
	return b.orch.Progress()
}

func (b *Bootstrapper) acquire() bool {
	if !b.running.CompareAndSwap(false, true) {
		return false
	}
	b.metrics.setRunning(true)
	return true
}

func (b *Bootstrapper) release() {
	b.metrics.setRunning(false)
	b.running.Store(false)
}

// CheckAndBootstrap starts an import sized to reach TargetCount when the
// store holds fewer than MinThreshold trails.
func (b *Bootstrapper) CheckAndBootstrap(ctx context.Context) (BootstrapResult, error) {
	count, err := b.counter.CountTrails(ctx)
	if err != nil {
		return BootstrapResult{}, fmt.Errorf("failed to count trails: %w", err)
	}

	result := BootstrapResult{CurrentCount: count}
	if count >= b.cfg.MinThreshold {
		b.logger.WithFields(logger.Fields{
			"current":   count,
			"threshold": b.cfg.MinThreshold,
		}).Debug("Bootstrap not needed")
		return result, nil
	}

	result.Needed = true
	// A zero target would mean "no limit" to TriggerImport.
	target := b.cfg.TargetCount - count
	if target <= 0 {
		b.logger.WithFields(logger.Fields{
			"current": count,
			"target":  b.cfg.TargetCount,
		}).Warn("Trail count below threshold but target already reached, not bootstrapping")
		return result, nil
	}

	b.logger.WithFields(logger.Fields{
		"current":   count,
		"threshold": b.cfg.MinThreshold,
		"target":    target,
	}).Info("Trail count below threshold, bootstrapping")

	tr, err := b.TriggerImport(ctx, nil, int(target))
	if err != nil {
		return result, err
	}
	result.Triggered = tr.Started
	result.AlreadyRunning = tr.AlreadyRunning
	result.JobID = tr.JobID
	return result, nil
}

// TriggerImport starts an import in the background and returns the job id
// to poll. A second trigger while a run is in flight reports
// AlreadyRunning and starts nothing.
func (b *Bootstrapper) TriggerImport(ctx context.Context, sourceIDs []string, targetCount int) (TriggerResult, error) {
	if !b.acquire() {
		b.logger.Info("Import already in progress, ignoring trigger")
		return TriggerResult{AlreadyRunning: true}, nil
	}
	handedOff := false
	defer func() {
		if !handedOff {
			b.release()
		}
	}()

	runCtx := logger.FromContext(ctx).WithContext(b.rootCtx)

	switch b.cfg.Mode {
	case ModeRemote:
		if b.remote == nil {
			return TriggerResult{}, fmt.Errorf("remote mode requires a function endpoint")
		}
		jobID, err := b.remote.Invoke(ctx, b.cfg.FunctionName, remoteRequest{SourceIDs: sourceIDs, TargetCount: targetCount})
		if err != nil {
			return TriggerResult{}, err
		}
		handedOff = true
		b.spawn(func() { b.watchRemote(runCtx, jobID) })
		return TriggerResult{JobID: jobID, Started: true}, nil

	default:
		run, err := b.orch.Start(ctx, RunRequest{SourceIDs: sourceIDs, TargetCount: targetCount})
		if err != nil {
			return TriggerResult{}, err
		}
		handedOff = true
		b.spawn(func() {
			if _, err := b.orch.Execute(runCtx, run); err != nil {
				logger.FromContext(runCtx).WithError(err).Error("Import run failed")
			}
		})
		return TriggerResult{JobID: run.JobID, Started: true}, nil
	}
}

// spawn runs fn on a goroutine that owns the run token and releases it on
// every exit path.
func (b *Bootstrapper) spawn(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.release()
		defer func() {
			if r := recover(); r != nil {
				b.logger.WithField("panic", r).Error("Import run panicked")
			}
		}()
		fn()
	}()
}

func (b *Bootstrapper) watchRemote(ctx context.Context, jobID string) {
	snap, err := b.tracker.WatchJob(ctx, jobID, WatchOptions{
		Interval: b.cfg.PollInterval,
		Timeout:  b.cfg.MonitorTimeout,
		OnTick: func(s domain.JobSnapshot) {
			b.orch.Progress().Publish(domain.Progress{
				JobID:     jobID,
				Processed: s.Processed,
				Inserted:  s.Added,
				Updated:   s.Updated,
				Failed:    s.Failed,
			})
		},
	})
	log := logger.FromContext(ctx).WithField(logger.FieldJobID, jobID)
	// Subscribers wait for a Done event, so it is sent with the last known
	// counters even when watching stopped early.
	b.orch.Progress().Publish(domain.Progress{
		JobID:         jobID,
		CurrentSource: domain.ProgressComplete,
		Processed:     snap.Processed,
		Inserted:      snap.Added,
		Updated:       snap.Updated,
		Failed:        snap.Failed,
	})
	if err != nil {
		log.WithError(err).Warn("Stopped watching remote import")
		return
	}
	log.WithField(logger.FieldStatus, snap.Status).Info("Remote import finished")
}

// RunNow executes an import in the calling goroutine under the same run
// token. It returns domain.ErrAlreadyRunning when another run holds it.
func (b *Bootstrapper) RunNow(ctx context.Context, sourceIDs []string, targetCount int) (*domain.ImportResult, error) {
	if !b.acquire() {
		return nil, domain.ErrAlreadyRunning
	}
	defer b.release()
	return b.orch.Run(ctx, RunRequest{SourceIDs: sourceIDs, TargetCount: targetCount})
}

// GetProgress returns the snapshot of a source or bulk job.
func (b *Bootstrapper) GetProgress(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	return b.tracker.Poll(ctx, jobID)
}

// GetImportStatus reports the trail count overall and per source.
func (b *Bootstrapper) GetImportStatus(ctx context.Context) (ImportStatus, error) {
	total, err := b.counter.CountTrails(ctx)
	if err != nil {
		return ImportStatus{}, fmt.Errorf("failed to count trails: %w", err)
	}
	bySource, err := b.counter.CountBySource(ctx)
	if err != nil {
		return ImportStatus{}, fmt.Errorf("failed to count trails by source: %w", err)
	}
	return ImportStatus{TotalTrails: total, SourceBreakdown: bySource, Running: b.Running()}, nil
}

// Wait blocks until background runs have returned.
func (b *Bootstrapper) Wait() {
	b.wg.Wait()
}

// Close cancels background runs and waits for them.
func (b *Bootstrapper) Close() {
	b.stop()
	b.wg.Wait()
}
