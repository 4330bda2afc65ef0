package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendsched/internal/eventbus"
	"trendsched/internal/jobs"
	logx "trendsched/pkg/logx"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newService(t *testing.T, cfg Config) (*Service, *stepClock) {
	t.Helper()
	clk := &stepClock{t: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)}
	cfg.Enabled = true
	return New(cfg, logx.Nop(), WithNow(clk.now)), clk
}

func mustCreate(t *testing.T, s *Service, typ Type, sev Severity, title, message string, meta map[string]string) string {
	t.Helper()
	id, err := s.Create(typ, sev, title, message, meta)
	require.NoError(t, err)
	return id
}

func TestCreateResolveList(t *testing.T) {
	t.Parallel()
	s, _ := newService(t, Config{})

	a := mustCreate(t, s, JobFailure, High, "Job Failed: daily_refresh", "boom", map[string]string{"job_name": "daily_refresh"})
	b := mustCreate(t, s, SchedulerBusy, Medium, "Scheduler Busy", "queue full", nil)
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)

	list := s.List(0)
	require.Len(t, list, 2)
	assert.Equal(t, b, list[0].ID, "newest first")
	assert.Equal(t, "daily_refresh", list[1].Metadata["job_name"])
	assert.NotNil(t, list[0].Metadata)

	require.NoError(t, s.Resolve(a))
	require.NoError(t, s.Resolve(a), "resolving twice is fine")
	require.ErrorIs(t, s.Resolve("missing"), ErrUnknownAlert)

	active := s.Active()
	require.Len(t, active, 1)
	assert.Equal(t, b, active[0].ID)

	resolved := s.List(0)[1]
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedAt)

	assert.Len(t, s.List(1), 1)
}

func TestMaxAlertsEvictsOldest(t *testing.T) {
	t.Parallel()
	s, _ := newService(t, Config{MaxAlerts: 2})

	first := mustCreate(t, s, SystemError, Low, "one", "", nil)
	mustCreate(t, s, SystemError, Low, "two", "", nil)
	mustCreate(t, s, SystemError, Low, "three", "", nil)

	list := s.List(0)
	require.Len(t, list, 2)
	for _, a := range list {
		assert.NotEqual(t, first, a.ID)
	}
	assert.Equal(t, "three", list[0].Title)
}

func TestCleanupAndStatistics(t *testing.T) {
	t.Parallel()
	s, clk := newService(t, Config{Retention: time.Hour})

	old := mustCreate(t, s, DatabaseError, Critical, "Database Error", "x", nil)
	clk.t = clk.t.Add(2 * time.Hour)
	mustCreate(t, s, JobFailure, High, "Job Failed", "y", nil)
	recent := mustCreate(t, s, JobFailure, High, "Job Failed", "z", nil)
	require.NoError(t, s.Resolve(recent))

	st := s.Statistics()
	assert.Equal(t, 3, st.TotalAlerts)
	assert.Equal(t, 2, st.ActiveAlerts)
	assert.Equal(t, 1, st.ResolvedAlerts)
	assert.Equal(t, 2, st.TypeCounts[JobFailure])
	assert.Equal(t, 1, st.SeverityCounts[Critical])

	removed := s.Cleanup(clk.t)
	assert.Equal(t, 1, removed)
	for _, a := range s.List(0) {
		assert.NotEqual(t, old, a.ID)
	}
}

func TestDisabledCreatesNothing(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, logx.Nop())
	id, err := s.Create(JobFailure, High, "x", "y", nil)
	require.ErrorIs(t, err, ErrDisabled)
	assert.Empty(t, id)
	assert.Empty(t, s.List(0))

	s.Apply(Config{Enabled: true})
	assert.NotEmpty(t, mustCreate(t, s, JobFailure, High, "x", "y", nil))
}

func TestHandleMapsEvents(t *testing.T) {
	t.Parallel()
	s, _ := newService(t, Config{})

	failed := jobs.Execution{ID: "e1", JobName: "daily_refresh", Status: jobs.StatusScheduled, Trigger: jobs.TriggerScheduled, QueuedAt: time.Now()}
	failed = failed.Start(time.Now()).Complete(time.Now(), errors.New("upstream 502"))

	s.Handle(eventbus.Event{Type: eventbus.ExecutionFailed, Data: failed})
	s.Handle(eventbus.Event{Type: eventbus.HistoryInconsistent, Data: "execution e1 already recorded"})
	s.Handle(eventbus.Event{Type: eventbus.TriggerRejected, Data: eventbus.Rejection{Job: "daily_refresh", Reason: "busy"}})
	s.Handle(eventbus.Event{Type: eventbus.TriggerRejected, Data: eventbus.Rejection{Job: "daily_refresh", Reason: "stopped"}})
	s.Handle(eventbus.Event{Type: eventbus.StorageError, Data: eventbus.StorageFailure{Op: "append", Err: "disk full"}})

	st := s.Statistics()
	assert.Equal(t, 4, st.TotalAlerts)
	assert.Equal(t, 1, st.TypeCounts[JobFailure])
	assert.Equal(t, 1, st.TypeCounts[HistoryInconsistency])
	assert.Equal(t, 1, st.TypeCounts[SchedulerBusy])
	assert.Equal(t, 1, st.TypeCounts[DatabaseError])
	assert.Equal(t, 2, st.SeverityCounts[Critical])

	var jobAlert Alert
	for _, a := range s.List(0) {
		if a.Type == JobFailure {
			jobAlert = a
		}
	}
	assert.Contains(t, jobAlert.Message, "upstream 502")
	assert.Equal(t, "e1", jobAlert.Metadata["execution_id"])
}

func TestWebhookIsThrottled(t *testing.T) {
	t.Parallel()

	var posts atomic.Int32
	got := make(chan Alert, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		_ = json.NewDecoder(r.Body).Decode(&a)
		posts.Add(1)
		got <- a
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, _ := newService(t, Config{WebhookURL: srv.URL, WebhookRate: time.Hour})
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, bus) }()

	id := mustCreate(t, s, SystemError, High, "first", "posted", nil)
	mustCreate(t, s, SystemError, High, "second", "throttled", nil)

	select {
	case a := <-got:
		assert.Equal(t, id, a.ID)
		assert.Equal(t, SystemError, a.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("webhook not delivered")
	}
	assert.EqualValues(t, 1, s.WebhookDropped())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.EqualValues(t, 1, posts.Load())
}
