package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"trendsched/internal/jobs"
	logx "trendsched/pkg/logx"
)

func sampleExec(id, job string, failed bool) jobs.Execution {
	q := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
	e := jobs.Execution{ID: id, JobName: job, Status: jobs.StatusScheduled, Trigger: jobs.TriggerScheduled, QueuedAt: q}
	e = e.Start(q.Add(10 * time.Millisecond))
	var err error
	if failed {
		err = errors.New("boom")
	}
	e = e.Complete(q.Add(1500*time.Millisecond), err)
	e.Attempts = 1
	return e
}

func ids(list []jobs.Execution) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.ID)
	}
	sort.Strings(out)
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testConfigs(t *testing.T) map[string]Config {
	dir := t.TempDir()
	return map[string]Config{
		"memory": {Driver: "memory"},
		"file":   {Driver: "file", Path: filepath.Join(dir, "hist.db")},
		"sqlite": {Driver: "sqlite", Path: filepath.Join(dir, "hist.sqlite")},
	}
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	for name, cfg := range testConfigs(t) {
		name, cfg := name, cfg
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()

			if st.Driver() != name {
				t.Fatalf("Driver() = %q", st.Driver())
			}
			if err := st.Ping(ctx); err != nil {
				t.Fatalf("Ping: %v", err)
			}

			for _, e := range []jobs.Execution{
				sampleExec("a", "daily_refresh", false),
				sampleExec("b", "daily_refresh", true),
				sampleExec("c", "weekly_newsletter", false),
			} {
				if err := st.PutExecution(ctx, e); err != nil {
					t.Fatalf("PutExecution(%s): %v", e.ID, err)
				}
			}
			// Same id again replaces.
			if err := st.PutExecution(ctx, sampleExec("a", "daily_refresh", false)); err != nil {
				t.Fatalf("PutExecution replay: %v", err)
			}

			list, err := st.ListExecutions(ctx)
			if err != nil {
				t.Fatalf("ListExecutions: %v", err)
			}
			if got := ids(list); !equalIDs(got, []string{"a", "b", "c"}) {
				t.Fatalf("ids = %v", got)
			}
			for _, e := range list {
				if err := e.Validate(); err != nil {
					t.Fatalf("stored execution invalid: %v", err)
				}
				if e.ID == "b" && (e.ErrorMessage == nil || *e.ErrorMessage != "boom") {
					t.Fatalf("failed execution lost its message: %+v", e)
				}
				if e.DurationMs == nil || *e.DurationMs != 1490 {
					t.Fatalf("duration = %v", e.DurationMs)
				}
			}

			if err := st.DeleteExecutions(ctx, []string{"a", "missing"}); err != nil {
				t.Fatalf("DeleteExecutions: %v", err)
			}
			list, _ = st.ListExecutions(ctx)
			if got := ids(list); !equalIDs(got, []string{"b", "c"}) {
				t.Fatalf("ids after delete = %v", got)
			}
		})
	}
}

func TestDurableDriversSurviveReopen(t *testing.T) {
	t.Parallel()

	for name, cfg := range testConfigs(t) {
		if name == "memory" {
			continue
		}
		name, cfg := name, cfg
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			_ = st.PutExecution(ctx, sampleExec("a", "daily_refresh", false))
			_ = st.PutExecution(ctx, sampleExec("b", "daily_refresh", true))
			_ = st.DeleteExecutions(ctx, []string{"a"})
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			ro := cfg
			ro.ReadOnly = true
			st, err = Open(ro, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer st.Close()

			list, err := st.ListExecutions(ctx)
			if err != nil {
				t.Fatalf("ListExecutions: %v", err)
			}
			if got := ids(list); !equalIDs(got, []string{"b"}) {
				t.Fatalf("ids after reopen = %v", got)
			}
			if !list[0].QueuedAt.Equal(sampleExec("b", "", true).QueuedAt) {
				t.Fatalf("queued_at = %s", list[0].QueuedAt)
			}
			if err := st.PutExecution(ctx, sampleExec("z", "daily_refresh", false)); !errors.Is(err, ErrReadOnly) {
				t.Fatalf("read-only Put err = %v, want ErrReadOnly", err)
			}
		})
	}
}

func TestFileJournalToleratesTornLine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "hist")}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.PutExecution(context.Background(), sampleExec("a", "daily_refresh", false))
	fs := st.(*fileStore)
	fs.mu.Lock()
	_, _ = fs.journal.WriteString(`{"op":"put","exec":{"id":"tr`)
	// Skip compaction on Close so the torn line stays in the journal.
	fs.writes = 0
	fs.mu.Unlock()
	_ = st.Close()

	if _, err := os.Stat(filepath.Join(dir, "hist.executions.journal.jsonl")); err != nil {
		t.Fatalf("journal missing: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	list, _ := st.ListExecutions(context.Background())
	if got := ids(list); !equalIDs(got, []string{"a"}) {
		t.Fatalf("ids = %v", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for sqlite without path")
	}
}

func TestNormalizeDriver(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"":         DriverMemory,
		" none ":   DriverMemory,
		"FILE":     DriverFile,
		"sqlite3":  DriverSQLite,
		"postgres": "postgres",
	} {
		if got := NormalizeDriver(in); got != want {
			t.Errorf("NormalizeDriver(%q) = %q, want %q", in, got, want)
		}
	}
}
