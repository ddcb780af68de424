package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailhead/trailimport/internal/config"
	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/logger"
	"github.com/trailhead/trailimport/internal/source"
	"github.com/trailhead/trailimport/internal/source/synthetic"
)

// gatedAdapter blocks FetchAll until release is closed.
type gatedAdapter struct {
	inner   *synthetic.Adapter
	entered chan struct{}
	release chan struct{}
}

func newGatedAdapter(total int) *gatedAdapter {
	return &gatedAdapter{
		inner:   synthetic.NewAdapter(synthetic.StandIn("gated", "Gated"), total, testPager()),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (g *gatedAdapter) SourceType() string  { return "gated" }
func (g *gatedAdapter) DisplayName() string { return "Gated" }

func (g *gatedAdapter) FetchTrails(ctx context.Context, opts source.FetchOptions) ([]domain.TrailRecord, error) {
	return g.inner.FetchTrails(ctx, opts)
}

func (g *gatedAdapter) FetchAll(ctx context.Context, opts source.FetchOptions) ([]domain.TrailRecord, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.FetchAll(ctx, opts)
}

func gatedSource() domain.DataSource {
	return domain.DataSource{ID: "gated-main", Name: "Gated", SourceType: "gated", IsActive: true}
}

func TestCheckAndBootstrap_Threshold(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, gatedSource())
	gate := newGatedAdapter(30)
	close(gate.release)
	h.registry.Register(gate)

	b := NewBootstrapper(h.trails, h.orchestrator(h.trails), nil, h.metrics, BootstrapConfig{
		MinThreshold: 20,
		TargetCount:  30,
	}, logger.NewDiscard())
	defer b.Close()

	res, err := b.CheckAndBootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, res.Needed)
	assert.True(t, res.Triggered)
	assert.NotEmpty(t, res.JobID)
	b.Wait()

	snap, err := b.GetProgress(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, snap.Status)
	assert.Equal(t, 30, snap.Processed)

	res, err = b.CheckAndBootstrap(ctx)
	require.NoError(t, err)
	assert.False(t, res.Needed)
	assert.False(t, res.Triggered)
	assert.Equal(t, int64(30), res.CurrentCount)

	status, err := b.GetImportStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), status.TotalTrails)
	assert.Equal(t, int64(30), status.SourceBreakdown["gated"])
	assert.False(t, status.Running)
}

func TestCheckAndBootstrap_TargetBelowThresholdStartsNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, gatedSource())
	gate := newGatedAdapter(30)
	close(gate.release)
	h.registry.Register(gate)

	b := NewBootstrapper(h.trails, h.orchestrator(h.trails), nil, h.metrics, BootstrapConfig{
		MinThreshold: 50,
		TargetCount:  0,
	}, logger.NewDiscard())
	defer b.Close()

	res, err := b.CheckAndBootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, res.Needed)
	assert.False(t, res.Triggered)
	assert.Empty(t, res.JobID)
	assert.False(t, b.Running())

	count, err := h.trails.CountTrails(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "an unbounded import must not start")
}

func TestTriggerImport_SingleRunPerInstance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, gatedSource())
	gate := newGatedAdapter(10)
	h.registry.Register(gate)

	b := NewBootstrapper(h.trails, h.orchestrator(h.trails), nil, h.metrics, BootstrapConfig{}, logger.NewDiscard())
	defer b.Close()

	first, err := b.TriggerImport(ctx, nil, 0)
	require.NoError(t, err)
	require.True(t, first.Started)
	<-gate.entered
	assert.True(t, b.Running())

	second, err := b.TriggerImport(ctx, nil, 0)
	require.NoError(t, err)
	assert.True(t, second.AlreadyRunning)
	assert.False(t, second.Started)
	assert.Empty(t, second.JobID)

	_, err = b.RunNow(ctx, nil, 0)
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	close(gate.release)
	b.Wait()
	assert.False(t, b.Running(), "token released after the run")

	third, err := b.TriggerImport(ctx, nil, 0)
	require.NoError(t, err)
	assert.True(t, third.Started)
	b.Wait()
}

func TestTriggerImport_StartFailureReleasesToken(t *testing.T) {
	h := newHarness(t)
	b := NewBootstrapper(h.trails, h.orchestrator(h.trails), nil, nil, BootstrapConfig{}, logger.NewDiscard())
	defer b.Close()

	_, err := b.TriggerImport(context.Background(), []string{"missing"}, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, b.Running())
}

func TestTriggerImport_RemoteMode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	orch := h.orchestrator(h.trails)

	var gotBody remoteRequest
	fn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/import-trails", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		jobID, err := orch.Tracker().CreateJob(r.Context(), "remote", 25, "")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = orch.Tracker().UpdateJob(context.Background(), jobID, domain.JobDelta{Processed: 25, Added: 25})
			_, _ = orch.Tracker().CompleteJob(context.Background(), jobID, domain.JobStatusCompleted, "")
		}()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": jobID})
	}))
	defer fn.Close()

	remote := NewRemoteInvoker(&config.FunctionsConfig{BaseURL: fn.URL, APIKey: "secret", Timeout: 5 * time.Second})
	b := NewBootstrapper(h.trails, orch, remote, nil, BootstrapConfig{
		Mode:           ModeRemote,
		FunctionName:   "import-trails",
		PollInterval:   5 * time.Millisecond,
		MonitorTimeout: 5 * time.Second,
	}, logger.NewDiscard())
	defer b.Close()

	events, unsubscribe := b.Progress().Subscribe()
	defer unsubscribe()

	res, err := b.TriggerImport(ctx, []string{"usgs-main"}, 25)
	require.NoError(t, err)
	require.True(t, res.Started)
	assert.Equal(t, []string{"usgs-main"}, gotBody.SourceIDs)
	assert.Equal(t, 25, gotBody.TargetCount)

	var last domain.Progress
	for p := range events {
		last = p
		if p.Done() {
			break
		}
	}
	assert.Equal(t, res.JobID, last.JobID)
	assert.Equal(t, 25, last.Processed)

	b.Wait()
	assert.False(t, b.Running())
}

func TestTriggerImport_RemoteWatchTimeoutStillCompletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	orch := h.orchestrator(h.trails)

	fn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jobID, err := orch.Tracker().CreateJob(r.Context(), "remote", 25, "")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		// the remote run reports some progress and then goes quiet
		assert.NoError(t, orch.Tracker().UpdateJob(r.Context(), jobID, domain.JobDelta{Processed: 10, Added: 10}))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": jobID})
	}))
	defer fn.Close()

	remote := NewRemoteInvoker(&config.FunctionsConfig{BaseURL: fn.URL, Timeout: 5 * time.Second})
	b := NewBootstrapper(h.trails, orch, remote, nil, BootstrapConfig{
		Mode:           ModeRemote,
		FunctionName:   "import-trails",
		PollInterval:   5 * time.Millisecond,
		MonitorTimeout: 50 * time.Millisecond,
	}, logger.NewDiscard())
	defer b.Close()

	events, unsubscribe := b.Progress().Subscribe()
	defer unsubscribe()

	res, err := b.TriggerImport(ctx, nil, 25)
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	var last domain.Progress
	for !last.Done() {
		select {
		case last = <-events:
		case <-deadline:
			t.Fatal("no complete event after the watch timed out")
		}
	}
	assert.Equal(t, res.JobID, last.JobID)
	assert.Equal(t, 10, last.Processed)

	b.Wait()
	snap, err := orch.Tracker().PollJob(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, snap.Status, "the remote job itself is left alone")
}

func TestRemoteInvoker_ErrorStatus(t *testing.T) {
	fn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer fn.Close()

	_, err := NewRemoteInvoker(&config.FunctionsConfig{BaseURL: fn.URL}).Invoke(context.Background(), "import-trails", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Contains(t, err.Error(), "403")
}
