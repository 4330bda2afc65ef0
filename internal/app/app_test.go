package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trendsched/internal/config"
)

const testConfig = `
logging: {level: error, console: false}
storage: {driver: file, path: "%DIR%/hist"}
engine: {workers: 2, queue_size: 8, shutdown_grace: 2s}
clock: {tick: 50ms}
jobs:
  - name: daily_refresh
    schedule: "0 2 * * *"
    trigger_alias: refresh-trending
    handler: {kind: noop}
  - name: weekly_newsletter
    schedule: "0 9 * * 1"
    trigger_alias: send-newsletter
    handler: {kind: sleep, duration: 10ms}
http: {addr: "127.0.0.1:0"}
`

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "trendsched.yaml")
	body := strings.ReplaceAll(testConfig, "%DIR%", filepath.ToSlash(dir))
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p, dir
}

func getJSON(t *testing.T, method, url string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestAppLifecycle(t *testing.T) {
	path, _ := writeTestConfig(t)
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	base := "http://" + a.HTTPAddr()

	var st map[string]any
	deadline := time.Now().Add(3 * time.Second)
	for {
		st = nil
		if code := getJSON(t, http.MethodGet, base+"/api/admin/scheduler/status", &st); code != http.StatusOK {
			t.Fatalf("status code = %d", code)
		}
		if st["is_running"] == true || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if st["is_running"] != true {
		t.Fatalf("scheduler not running: %v", st)
	}

	var trig map[string]any
	if code := getJSON(t, http.MethodPost, base+"/api/admin/jobs/send-newsletter", &trig); code != http.StatusCreated {
		t.Fatalf("trigger code = %d (%v)", code, trig)
	}
	id, _ := trig["execution_id"].(string)
	if id == "" {
		t.Fatalf("no execution id: %v", trig)
	}

	var ex map[string]any
	for deadline := time.Now().Add(3 * time.Second); time.Now().Before(deadline); time.Sleep(20 * time.Millisecond) {
		ex = nil
		getJSON(t, http.MethodGet, base+"/api/admin/jobs/status/"+id, &ex)
		if ex["status"] == "completed" {
			break
		}
	}
	if ex["status"] != "completed" {
		t.Fatalf("execution did not complete: %v", ex)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// History survives a restart through the file store.
	b, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := b.hist.Get(id)
	if !ok || got.Status != "completed" {
		t.Fatalf("history after restart = %+v, %v", got, ok)
	}
	if total, held := b.facade.Status().TotalExecutions, uint64(b.hist.Len()); total < held {
		t.Fatalf("total_executions after restart = %d, history holds %d", total, held)
	}
	_ = b.store.Close()
	_ = b.logs.Close()
}

func TestNewRejectsBadCron(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "c.yaml")
	body := `
storage: {driver: memory}
jobs:
  - name: broken
    schedule: "not a cron"
    handler: {kind: noop}
`
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(p); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
}

func TestMapStorage(t *testing.T) {
	cases := []struct {
		in      config.StorageConfig
		driver  string
		wantErr bool
	}{
		{in: config.StorageConfig{}, driver: "memory"},
		{in: config.StorageConfig{Driver: "file"}, driver: "file"},
		{in: config.StorageConfig{Driver: "SQLite", Path: "x.db"}, driver: "sqlite"},
		{in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{in: config.StorageConfig{Driver: "mongo"}, wantErr: true},
	}
	for _, tc := range cases {
		got, err := MapStorage(&config.Config{Storage: tc.in})
		if tc.wantErr {
			if err == nil {
				t.Errorf("MapStorage(%+v): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("MapStorage(%+v): %v", tc.in, err)
			continue
		}
		if got.Driver != tc.driver {
			t.Errorf("MapStorage(%+v).Driver = %q, want %q", tc.in, got.Driver, tc.driver)
		}
	}
}

func TestBuildRegistryAliases(t *testing.T) {
	cfg := &config.Config{Jobs: []config.JobConfig{
		{Name: "a", Schedule: "*/5 * * * *", TriggerAlias: "run-a"},
		{Name: "b", Schedule: "@hourly"},
	}}
	reg, err := BuildRegistry(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if def, ok := reg.ByAlias("run-a"); !ok || def.Name != "a" {
		t.Fatalf("ByAlias(run-a) = %+v, %v", def, ok)
	}
	if reg.Len() != 2 {
		t.Fatalf("Len = %d", reg.Len())
	}
}
