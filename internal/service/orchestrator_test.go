package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/logger"
	"github.com/trailhead/trailimport/internal/notify"
	"github.com/trailhead/trailimport/internal/repository"
	"github.com/trailhead/trailimport/internal/repository/repotest"
	"github.com/trailhead/trailimport/internal/source"
	"github.com/trailhead/trailimport/internal/source/synthetic"
	"github.com/trailhead/trailimport/internal/source/usgs"
	"github.com/trailhead/trailimport/internal/source/usgs/usgstest"
	"github.com/trailhead/trailimport/internal/storage"
)

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingSink) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) last() notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// deniedStore rejects every write the way a row-level security policy does.
type deniedStore struct{}

func (deniedStore) UpsertTrails(context.Context, []domain.TrailRecord) (repository.UpsertResult, error) {
	return repository.UpsertResult{}, fmt.Errorf("upsert trails: %w", domain.ErrPermission)
}

type harness struct {
	db       *gorm.DB
	trails   *repository.TrailRepository
	jobs     *repository.JobRepository
	sources  *repository.SourceRepository
	registry *source.Registry
	archive  *storage.MemoryStorage
	sink     *recordingSink
	metrics  *Metrics
}

func newHarness(t *testing.T, sources ...domain.DataSource) *harness {
	t.Helper()
	db := repotest.NewDB(t)
	h := &harness{
		db:       db,
		trails:   repository.NewTrailRepository(db),
		jobs:     repository.NewJobRepository(db),
		sources:  repository.NewSourceRepository(db),
		registry: source.NewRegistry(),
		archive:  storage.NewMemoryStorage(),
		sink:     &recordingSink{},
		metrics:  NewMetrics(),
	}
	_, err := h.sources.EnsureDefaults(context.Background(), sources)
	require.NoError(t, err)
	return h
}

func testPager() *source.Pager {
	return source.NewPager(source.PagerConfig{
		PageSize:       100,
		RequestTimeout: 5 * time.Second,
		SafetyCap:      10000,
		RetryAttempts:  2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  time.Millisecond,
	})
}

func (h *harness) orchestrator(store TrailStore) *Orchestrator {
	return h.orchestratorWithJobs(store, h.jobs)
}

func (h *harness) orchestratorWithJobs(store TrailStore, jobs JobStore) *Orchestrator {
	log := logger.NewDiscard()
	writer := NewBatchWriter(store, BatchWriterConfig{
		BatchSize:      50,
		Concurrency:    2,
		RetryAttempts:  2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  time.Millisecond,
	}, h.metrics, log)
	return NewOrchestrator(OrchestratorDeps{
		Registry:  h.registry,
		Sources:   h.sources,
		Inspector: h.trails,
		Writer:    writer,
		Tracker:   NewJobTracker(jobs, log),
		Archive:   storage.NewArchive(h.archive, ""),
		Notifier:  h.sink,
		Metrics:   h.metrics,
		Logger:    log,
	}, OrchestratorConfig{FetchConcurrency: 2, SyncInterval: 24 * time.Hour})
}

func usgsSource() domain.DataSource {
	return domain.DataSource{ID: "usgs-main", Name: "USGS National Trails", SourceType: usgs.SourceType, IsActive: true}
}

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	ctx := context.Background()
	srv := usgstest.NewServer(150, usgstest.WithMissingName(func(i int) bool { return i%15 == 0 }))
	defer srv.Close()

	h := newHarness(t, usgsSource())
	h.registry.Register(usgs.NewAdapter(source.NewHTTPClient(srv.URL, 5*time.Second), testPager()))
	orch := h.orchestrator(h.trails)

	events, unsubscribe := orch.Progress().Subscribe()
	defer unsubscribe()

	run, err := orch.Start(ctx, RunRequest{})
	require.NoError(t, err)
	require.Empty(t, run.BulkJobID)

	before, err := orch.Tracker().PollJob(ctx, run.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, before.Status)

	result, err := orch.Execute(ctx, run)
	require.NoError(t, err)

	assert.Equal(t, 150, result.TotalFetched)
	assert.Equal(t, 10, result.ValidationFailed)
	assert.Equal(t, 140, result.TotalProcessed)
	assert.Equal(t, 140, result.TotalAdded)
	assert.Zero(t, result.TotalFailed)
	assert.False(t, result.Fatal)

	require.Len(t, result.Phases, 4)
	for i, name := range []string{domain.PhaseHealthCheck, domain.PhaseFetch, domain.PhaseBatchImport, domain.PhasePostValidation} {
		assert.Equal(t, name, result.Phases[i].Phase)
		assert.True(t, result.Phases[i].Success, name)
	}

	after, err := orch.Tracker().PollJob(ctx, run.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, after.Status)
	assert.Equal(t, 140, after.Processed)
	assert.Equal(t, 140, after.Added)

	count, err := h.trails.CountTrails(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(140), count)

	var last domain.Progress
	batches := 0
	for p := range events {
		if p.TotalBatches > 0 {
			batches++
		}
		last = p
		if p.Done() {
			break
		}
	}
	assert.Equal(t, 3, batches)
	assert.Equal(t, 140, last.Processed)

	all, err := h.sources.ListAll(ctx)
	require.NoError(t, err)
	require.NotNil(t, all[0].LastSynced)
	require.NotNil(t, all[0].NextSync)

	assert.Len(t, h.archive.Keys(), 1)
	assert.Equal(t, domain.JobStatusCompleted, h.sink.last().Status)
	assert.Equal(t, 140.0, counterValue(t, h.metrics, "trailimport_records_total", map[string]string{"source": "usgs", "outcome": "added"}))
	assert.Equal(t, 10.0, counterValue(t, h.metrics, "trailimport_validation_failures_total", map[string]string{"source": "usgs"}))

	// a second run touches the same keys and only updates
	again, err := orch.Run(ctx, RunRequest{SourceIDs: []string{"usgs-main"}})
	require.NoError(t, err)
	assert.Zero(t, again.TotalAdded)
	assert.Equal(t, 140, again.TotalUpdated)
}

func TestOrchestrator_TargetCountLimitsFetch(t *testing.T) {
	srv := usgstest.NewServer(500)
	defer srv.Close()

	h := newHarness(t, usgsSource())
	h.registry.Register(usgs.NewAdapter(source.NewHTTPClient(srv.URL, 5*time.Second), testPager()))

	result, err := h.orchestrator(h.trails).Run(context.Background(), RunRequest{TargetCount: 120})
	require.NoError(t, err)
	assert.Equal(t, 120, result.TotalFetched)
	assert.Equal(t, 120, result.TotalAdded)
}

func TestOrchestrator_BulkRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		domain.DataSource{ID: "pc", Name: "Parks Canada", SourceType: synthetic.ParksCanada.SourceType, IsActive: true},
		domain.DataSource{ID: "sp", Name: "State Parks", SourceType: synthetic.StateParks.SourceType, IsActive: true},
	)
	h.registry.Register(synthetic.NewAdapter(synthetic.ParksCanada, 40, testPager()))
	h.registry.Register(synthetic.NewAdapter(synthetic.StateParks, 25, testPager()))
	orch := h.orchestrator(h.trails)

	result, err := orch.Run(ctx, RunRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, result.BulkJobID)
	assert.Len(t, result.JobIDs, 2)

	bulk, err := orch.Tracker().PollBulkJob(ctx, result.BulkJobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, bulk.Status)
	assert.Equal(t, 65, bulk.Processed)
	assert.Equal(t, bulk.Processed, bulk.Added+bulk.Updated+bulk.Failed)
}

func TestOrchestrator_PermissionDeniedIsFatal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, usgsSource())
	h.registry.Register(synthetic.NewAdapter(synthetic.StandIn(usgs.SourceType, usgs.SourceName), 80, testPager()))
	orch := h.orchestrator(deniedStore{})

	result, err := orch.Run(ctx, RunRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermission)
	require.NotNil(t, result)
	assert.True(t, result.Fatal)
	assert.Equal(t, 80, result.TotalFailed)
	assert.True(t, result.Phase(domain.PhasePostValidation).Skipped)
	assert.NotEmpty(t, result.Errors)

	job, err := orch.Tracker().PollJob(ctx, result.JobIDs["usgs-main"])
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, job.Status)
	assert.Contains(t, job.ErrorMessage, "permission")

	ev := h.sink.last()
	assert.True(t, ev.Fatal())
	assert.Equal(t, domain.JobStatusError, ev.Status)

	all, err := h.sources.ListAll(ctx)
	require.NoError(t, err)
	assert.Nil(t, all[0].LastSynced)
}

func TestOrchestrator_NothingFetchedSkipsImport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.DataSource{ID: "ghost", Name: "Ghost", SourceType: "ghost", IsActive: true})

	result, err := h.orchestrator(h.trails).Run(ctx, RunRequest{})
	require.Error(t, err)
	assert.True(t, result.Fatal)
	assert.False(t, result.Phase(domain.PhaseFetch).Success)
	assert.True(t, result.Phase(domain.PhaseBatchImport).Skipped)
	assert.Contains(t, result.Phase(domain.PhaseFetch).Errors[0], domain.ErrUnknownSource.Error())
}

func TestOrchestrator_UnknownSourceID(t *testing.T) {
	h := newHarness(t, usgsSource())
	_, err := h.orchestrator(h.trails).Start(context.Background(), RunRequest{SourceIDs: []string{"nope"}})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrchestrator_PostValidationReportsDuplicates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, usgsSource())
	h.registry.Register(synthetic.NewAdapter(synthetic.StandIn(usgs.SourceType, usgs.SourceName), 10, testPager()))

	dup := domain.TrailRecord{Name: "Twin", Location: "Same Forest", Country: "US"}
	a, b := dup, dup
	a.Source, a.SourceID = "legacy", "1"
	b.Source, b.SourceID = "legacy", "2"
	_, err := h.trails.UpsertTrails(ctx, []domain.TrailRecord{a, b})
	require.NoError(t, err)

	result, err := h.orchestrator(h.trails).Run(ctx, RunRequest{})
	require.NoError(t, err)

	pv := result.Phase(domain.PhasePostValidation)
	require.NotNil(t, pv)
	assert.False(t, pv.Success)
	assert.NotEmpty(t, pv.Errors)
	assert.False(t, result.Fatal, "post validation is advisory")
}

// flakyJobStore fails selected job writes and passes the rest to the real
// repository.
type flakyJobStore struct {
	*repository.JobRepository
	incrementFailures atomic.Int32
	createFailOn      int32
	creates           atomic.Int32
}

func (f *flakyJobStore) IncrementJob(ctx context.Context, id string, d domain.JobDelta) (bool, error) {
	if f.incrementFailures.Add(-1) >= 0 {
		return false, fmt.Errorf("increment job: %w", domain.ErrStoreUnavailable)
	}
	return f.JobRepository.IncrementJob(ctx, id, d)
}

func (f *flakyJobStore) CreateJob(ctx context.Context, job *domain.ImportJob) error {
	if f.creates.Add(1) == f.createFailOn {
		return fmt.Errorf("insert job: %w", domain.ErrStoreUnavailable)
	}
	return f.JobRepository.CreateJob(ctx, job)
}

func countContaining(msgs []string, sub string) int {
	n := 0
	for _, m := range msgs {
		if strings.Contains(m, sub) {
			n++
		}
	}
	return n
}

func TestOrchestrator_FailedCounterUpdatesAreReconciled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, usgsSource())
	h.registry.Register(synthetic.NewAdapter(synthetic.StandIn(usgs.SourceType, usgs.SourceName), 80, testPager()))
	jobs := &flakyJobStore{JobRepository: h.jobs}
	// both chunk updates fail; the reconciling update goes through
	jobs.incrementFailures.Store(2)

	orch := h.orchestratorWithJobs(h.trails, jobs)
	result, err := orch.Run(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 80, result.TotalProcessed)

	job, err := orch.Tracker().PollJob(ctx, result.JobIDs["usgs-main"])
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 80, job.Processed)
	assert.Equal(t, 80, job.Added)
	assert.Equal(t, job.Processed, job.Added+job.Updated+job.Failed)

	assert.Equal(t, 2, countContaining(result.Errors, "failed to update job"))
	assert.Equal(t, 2, countContaining(result.Phase(domain.PhaseBatchImport).Errors, "failed to update job"))
}

func TestOrchestrator_UnreconciledCountersFailTheJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, usgsSource())
	h.registry.Register(synthetic.NewAdapter(synthetic.StandIn(usgs.SourceType, usgs.SourceName), 80, testPager()))
	jobs := &flakyJobStore{JobRepository: h.jobs}
	jobs.incrementFailures.Store(1000)

	orch := h.orchestratorWithJobs(h.trails, jobs)
	result, err := orch.Run(ctx, RunRequest{})
	require.NoError(t, err)

	job, err := orch.Tracker().PollJob(ctx, result.JobIDs["usgs-main"])
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, job.Status)
	assert.Contains(t, job.ErrorMessage, "job counters out of date")
	assert.Equal(t, 1, countContaining(result.Errors, "job counters out of date"))
	assert.Equal(t, domain.JobStatusError, h.sink.last().Status)

	all, err := h.sources.ListAll(ctx)
	require.NoError(t, err)
	assert.Nil(t, all[0].LastSynced)
}

func TestOrchestrator_StartFailureClosesCreatedJobs(t *testing.T) {
	tests := []struct {
		name     string
		failOn   int32
		children int
	}{
		{"first source job", 1, 0},
		{"second source job", 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t,
				domain.DataSource{ID: "pc", Name: "Parks Canada", SourceType: synthetic.ParksCanada.SourceType, IsActive: true},
				domain.DataSource{ID: "sp", Name: "State Parks", SourceType: synthetic.StateParks.SourceType, IsActive: true},
			)
			jobs := &flakyJobStore{JobRepository: h.jobs, createFailOn: tt.failOn}

			run, err := h.orchestratorWithJobs(h.trails, jobs).Start(ctx, RunRequest{})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
			assert.Nil(t, run)

			var bulks []domain.BulkImportJob
			require.NoError(t, h.db.Find(&bulks).Error)
			require.Len(t, bulks, 1)
			assert.Equal(t, domain.JobStatusError, bulks[0].Status)
			assert.NotNil(t, bulks[0].CompletedAt)

			children, err := h.jobs.ListChildJobs(ctx, bulks[0].ID)
			require.NoError(t, err)
			require.Len(t, children, tt.children)
			for _, c := range children {
				assert.Equal(t, domain.JobStatusError, c.Status)
				assert.Contains(t, c.ErrorMessage, "aborted")
			}
		})
	}
}

func TestOrchestrator_ItemizesEveryValidationFailure(t *testing.T) {
	srv := usgstest.NewServer(300, usgstest.WithMissingName(func(i int) bool { return i%2 == 0 }))
	defer srv.Close()

	h := newHarness(t, usgsSource())
	h.registry.Register(usgs.NewAdapter(source.NewHTTPClient(srv.URL, 5*time.Second), testPager()))

	result, err := h.orchestrator(h.trails).Run(context.Background(), RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 150, result.ValidationFailed)

	assert.Equal(t, 150, countContaining(result.Phase(domain.PhaseBatchImport).Errors, "usgs-main: validation:"))
	require.Len(t, result.Errors, maxResultErrors+1)
	assert.Equal(t, "further errors omitted", result.Errors[maxResultErrors])
}
