package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailhead/trailimport/internal/config"
	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/logger"
)

type recordingSink struct {
	events []Event
	err    error
}

func (r *recordingSink) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingSink{}
	b := &recordingSink{err: boom}

	err := MultiSink{a, nil, b}.Notify(context.Background(), Event{JobID: "j1"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestLogSink_LevelFollowsOutcome(t *testing.T) {
	base, hook := test.NewNullLogger()
	sink := NewLogSink(&logger.Logger{Entry: logrus.NewEntry(base)})

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ok := &domain.ImportResult{TotalProcessed: 140, StartedAt: start, CompletedAt: start.Add(3 * time.Second)}
	require.NoError(t, sink.Notify(context.Background(), Event{JobID: "j1", Status: domain.JobStatusCompleted, Result: ok}))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, 140, hook.LastEntry().Data["processed"])
	assert.Equal(t, int64(3000), hook.LastEntry().Data[logger.FieldDurationMs])

	fatal := &domain.ImportResult{Fatal: true, FatalReason: "permission denied by store"}
	require.NoError(t, sink.Notify(context.Background(), Event{JobID: "j2", Status: domain.JobStatusError, Result: fatal}))
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "permission denied by store", hook.LastEntry().Data["reason"])
}

func TestNewSentrySink_DisabledWithoutDSN(t *testing.T) {
	sink, err := NewSentrySink(&config.SentryConfig{}, logger.NewDiscard())
	require.NoError(t, err)
	assert.Nil(t, sink)
}

func TestSentrySink_SkipsSuccessfulRuns(t *testing.T) {
	var sent []*sentry.Event
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			sent = append(sent, event)
			return nil
		},
	})
	require.NoError(t, err)
	sink := NewSentrySinkWithHub(sentry.NewHub(client, sentry.NewScope()))

	require.NoError(t, sink.Notify(context.Background(), Event{JobID: "ok", Status: domain.JobStatusCompleted}))
	assert.Empty(t, sent)

	require.NoError(t, sink.Notify(context.Background(), Event{
		JobID:  "bad",
		Status: domain.JobStatusError,
		Err:    errors.New("all chunks failed"),
	}))
	require.Len(t, sent, 1)
	assert.Equal(t, "bad", sent[0].Tags["job_id"])
}
