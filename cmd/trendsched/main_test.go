package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"trendsched/internal/app"
	"trendsched/internal/jobs"
	"trendsched/internal/storage"
	logx "trendsched/pkg/logx"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	historyJob, historyLimit = "", 50
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestValidate(t *testing.T) {
	p := writeFile(t, t.TempDir(), "c.yaml", `
clock: {timezone: UTC}
jobs:
  - name: daily_refresh
    schedule: "0 2 * * *"
    trigger_alias: refresh-trending
    handler: {kind: noop}
`)
	out, err := run(t, "validate", "--config", p, "-n", "2")
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "config ok: 1 jobs") || !strings.Contains(out, "alias=refresh-trending") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "T02:00:00Z") {
		t.Fatalf("missing next fire time:\n%s", out)
	}
}

func TestValidateBadCron(t *testing.T) {
	p := writeFile(t, t.TempDir(), "c.yaml", `
jobs:
  - name: broken
    schedule: "61 * * * *"
`)
	if _, err := run(t, "validate", "--config", p); err == nil {
		t.Fatalf("expected error for bad schedule")
	}
}

func TestHistoryPrintsJSONLines(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.ToSlash(filepath.Join(dir, "hist"))
	p := writeFile(t, dir, "c.yaml", "storage: {driver: file, path: \""+prefix+"\"}\n")

	st, err := storage.Open(storage.Config{Driver: "file", Path: prefix}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
	for i, job := range []string{"daily_refresh", "weekly_newsletter", "daily_refresh"} {
		e := jobs.Execution{ID: string(rune('a' + i)), JobName: job, Trigger: jobs.TriggerScheduled, QueuedAt: base.Add(time.Duration(i) * time.Hour)}
		e = e.Start(e.QueuedAt).Complete(e.QueuedAt.Add(time.Second), nil)
		if err := st.PutExecution(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "history", "--config", p, "--job", "daily_refresh")
	if err != nil {
		t.Fatalf("history: %v\n%s", err, out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	var first jobs.Execution
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if first.ID != "c" {
		t.Fatalf("newest first: got %q", first.ID)
	}
}

func TestStopReason(t *testing.T) {
	cases := []struct {
		sig   os.Signal
		fatal error
		want  app.StopReason
	}{
		{syscall.SIGTERM, nil, app.StopSIGTERM},
		{os.Interrupt, nil, app.StopSIGINT},
		{os.Interrupt, errors.New("boom"), app.StopSIGINT},
		{nil, errors.New("boom"), app.StopFatalError},
		{nil, nil, app.StopAppStop},
	}
	for _, tc := range cases {
		if got := stopReason(tc.sig, tc.fatal); got != tc.want {
			t.Errorf("stopReason(%v, %v) = %q, want %q", tc.sig, tc.fatal, got, tc.want)
		}
	}
}
