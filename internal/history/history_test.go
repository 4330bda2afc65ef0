package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendsched/internal/jobs"
	"trendsched/internal/storage"
	logx "trendsched/pkg/logx"
)

var base = time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)

func done(id, job string, startOffset time.Duration, err error) jobs.Execution {
	e := jobs.Execution{ID: id, JobName: job, Status: jobs.StatusScheduled, Trigger: jobs.TriggerManual, QueuedAt: base}
	e = e.Start(base.Add(startOffset))
	return e.Complete(base.Add(startOffset+time.Second), err)
}

func registered() []string { return []string{"daily_refresh", "weekly_newsletter"} }

func newStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Jobs == nil {
		opts.Jobs = registered
	}
	return New(storage.NewMemory(), logx.Nop(), opts)
}

func TestAppendIsIdempotentByID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t, Options{})

	e := done("a", "daily_refresh", 0, nil)
	require.NoError(t, s.Append(ctx, e))
	require.NoError(t, s.Append(ctx, e))
	assert.Len(t, s.Query("daily_refresh"), 1)

	conflict := done("a", "daily_refresh", 0, errors.New("boom"))
	err := s.Append(ctx, conflict)
	var inc *jobs.InconsistentHistoryError
	require.ErrorAs(t, err, &inc)
	assert.Equal(t, jobs.StatusCompleted, inc.Have)
	assert.Equal(t, jobs.StatusFailed, inc.Got)

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
}

func TestAppendRejectsNonTerminal(t *testing.T) {
	t.Parallel()
	s := newStore(t, Options{})

	running := jobs.Execution{ID: "r", JobName: "daily_refresh", Status: jobs.StatusScheduled, Trigger: jobs.TriggerManual, QueuedAt: base}.Start(base)
	require.Error(t, s.Append(context.Background(), running))

	bad := done("b", "daily_refresh", 0, nil)
	msg := "nope"
	bad.ErrorMessage = &msg
	require.Error(t, s.Append(context.Background(), bad))
	assert.Equal(t, 0, s.Len())
}

func TestQueryNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t, Options{})

	require.NoError(t, s.Append(ctx, done("old", "daily_refresh", 0, nil)))
	require.NoError(t, s.Append(ctx, done("new", "daily_refresh", time.Hour, nil)))
	require.NoError(t, s.Append(ctx, done("mid", "daily_refresh", time.Minute, errors.New("x"))))
	// Same start time: the id breaks the tie.
	require.NoError(t, s.Append(ctx, done("mid2", "daily_refresh", time.Minute, nil)))

	var order []string
	for _, e := range s.Query("daily_refresh") {
		order = append(order, e.ID)
	}
	assert.Equal(t, []string{"new", "mid2", "mid", "old"}, order)
}

func TestQueryAllListsEveryRegisteredJob(t *testing.T) {
	t.Parallel()
	s := newStore(t, Options{})
	require.NoError(t, s.Append(context.Background(), done("a", "daily_refresh", 0, nil)))

	all := s.QueryAll()
	require.Len(t, all, 2)
	assert.Len(t, all["daily_refresh"], 1)
	require.NotNil(t, all["weekly_newsletter"])
	assert.Empty(t, all["weekly_newsletter"])
}

func TestQueryReturnsCopies(t *testing.T) {
	t.Parallel()
	s := newStore(t, Options{})
	require.NoError(t, s.Append(context.Background(), done("a", "daily_refresh", 0, nil)))

	got := s.Query("daily_refresh")
	got[0].JobName = "mutated"
	assert.Equal(t, "daily_refresh", s.Query("daily_refresh")[0].JobName)
}

func TestClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t, Options{})
	require.NoError(t, s.Append(ctx, done("a", "daily_refresh", 0, nil)))
	require.NoError(t, s.Append(ctx, done("b", "daily_refresh", time.Second, nil)))
	require.NoError(t, s.Append(ctx, done("c", "weekly_newsletter", 0, nil)))

	n, err := s.Clear(ctx, "daily_refresh")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, s.Query("daily_refresh"))
	assert.Len(t, s.Query("weekly_newsletter"), 1)
	_, ok := s.Get("a")
	assert.False(t, ok)

	n, err = s.Clear(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, s.Len())

	n, err = s.Clear(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPrune(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t, Options{MaxPerJob: 2, MaxAge: 24 * time.Hour})

	require.NoError(t, s.Append(ctx, done("ancient", "weekly_newsletter", -72*time.Hour, nil)))
	for i, id := range []string{"d1", "d2", "d3"} {
		require.NoError(t, s.Append(ctx, done(id, "daily_refresh", time.Duration(i)*time.Minute, nil)))
	}

	n, err := s.Prune(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var kept []string
	for _, e := range s.Query("daily_refresh") {
		kept = append(kept, e.ID)
	}
	assert.Equal(t, []string{"d3", "d2"}, kept)
	assert.Empty(t, s.Query("weekly_newsletter"))
}

func TestLoadRebuildsFromStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hist.sqlite")

	backend, err := storage.Open(storage.Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	s := New(backend, logx.Nop(), Options{Jobs: registered})
	require.NoError(t, s.Append(ctx, done("a", "daily_refresh", 0, nil)))
	require.NoError(t, s.Append(ctx, done("b", "daily_refresh", time.Minute, errors.New("boom"))))
	require.NoError(t, backend.Close())

	backend, err = storage.Open(storage.Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer backend.Close()
	s = New(backend, logx.Nop(), Options{Jobs: registered})
	require.NoError(t, s.Load(ctx))

	list := s.Query("daily_refresh")
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	require.NotNil(t, list[0].ErrorMessage)
	assert.Equal(t, "boom", *list[0].ErrorMessage)
	require.NoError(t, s.Ping(ctx))
}

type failingBackend struct{ storage.Store }

func (failingBackend) PutExecution(context.Context, jobs.Execution) error {
	return errors.New("disk full")
}

func TestAppendKeepsExecutionWhenBackendFails(t *testing.T) {
	t.Parallel()
	s := New(failingBackend{storage.NewMemory()}, logx.Nop(), Options{})

	err := s.Append(context.Background(), done("a", "daily_refresh", 0, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	_, ok := s.Get("a")
	assert.True(t, ok)
}
