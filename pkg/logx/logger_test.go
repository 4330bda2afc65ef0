package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("IsZero = false, want true")
	}
	l.Info("dropped", String("k", "v"))
	if l.With(Component("x")).IsZero() {
		t.Fatalf("With() should produce a non-zero logger")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARN ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, LevelInfo); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if ValidLevel("loud") {
		t.Fatalf("ValidLevel(loud) = true, want false")
	}
}

func TestServiceApplySwapsLevel(t *testing.T) {
	t.Parallel()

	svc, log := New(Config{Level: "info", Console: false, File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "a.log")}})
	defer svc.Close()

	if log.Enabled(LevelDebug) {
		t.Fatalf("debug enabled at info level")
	}
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "b.log")}})
	if !log.Enabled(LevelDebug) {
		t.Fatalf("debug not enabled after Apply")
	}
}

func TestCappedFileRotates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cap.log")
	f, err := openCapped(path, 16)
	if err != nil {
		t.Fatalf("openCapped: %v", err)
	}
	defer f.Close()

	for i := 0; i < 3; i++ {
		if _, err := f.Write([]byte("0123456789\n")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("rotated file missing: %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size() > 16 {
		t.Fatalf("size = %d, want <= 16", st.Size())
	}
}

func TestWithDoesNotShareFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := Logger{src: fixedRoot(zerolog.New(&buf))}.With(Component("engine"))
	a := base.With(Job("a"))
	_ = base.With(Job("b"))

	a.Info("run", Execution("x1"), Err(nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["job"] != "a" || line["comp"] != "engine" || line["execution_id"] != "x1" {
		t.Fatalf("unexpected line: %v", line)
	}
	if _, ok := line["err"]; ok {
		t.Fatalf("nil error rendered: %v", line)
	}
	if c, _ := line["caller"].(string); !strings.HasPrefix(c, "logger_test.go:") {
		t.Fatalf("caller = %q", c)
	}
}
