package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trendsched/internal/config"
	"trendsched/internal/jobs"
)

func TestHTTPHandlerSuccess(t *testing.T) {
	t.Parallel()

	var got httpPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("X-Token") != "s3cret" {
			t.Errorf("missing custom header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h, err := Build(config.HandlerConfig{Kind: "http", URL: srv.URL, Headers: map[string]string{"X-Token": "s3cret"}}, srv.Client())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	run := jobs.Run{ExecutionID: "e1", JobName: "daily_refresh", Trigger: jobs.TriggerManual}
	if err := h.Run(context.Background(), run); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.ExecutionID != "e1" || got.JobName != "daily_refresh" || got.Trigger != jobs.TriggerManual {
		t.Fatalf("payload = %+v", got)
	}
}

func TestHTTPHandlerNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "github rate limited", http.StatusBadGateway)
	}))
	defer srv.Close()

	h, err := NewHTTP(HTTPOptions{URL: srv.URL, Client: srv.Client()})
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	err = h.Run(context.Background(), jobs.Run{ExecutionID: "e2", JobName: "x"})
	if err == nil || !strings.Contains(err.Error(), "status 502") || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v, want status 502 with body", err)
	}
	if jobs.IsPermanent(err) {
		t.Fatalf("5xx should stay retryable")
	}
}

func TestHTTPHandler4xxIsPermanent(t *testing.T) {
	t.Parallel()

	for code, permanent := range map[int]bool{
		http.StatusBadRequest:      true,
		http.StatusNotFound:        true,
		http.StatusTooManyRequests: false,
		http.StatusRequestTimeout:  false,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		h, err := NewHTTP(HTTPOptions{URL: srv.URL, Client: srv.Client()})
		if err != nil {
			t.Fatalf("NewHTTP: %v", err)
		}
		err = h.Run(context.Background(), jobs.Run{ExecutionID: "e3", JobName: "x"})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", code)
		}
		if got := jobs.IsPermanent(err); got != permanent {
			t.Fatalf("status %d: IsPermanent = %v, want %v", code, got, permanent)
		}
	}
}

func TestNewHTTPRejectsBadURL(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTP(HTTPOptions{URL: "file:///etc/passwd"}); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestSleepHandler(t *testing.T) {
	t.Parallel()

	h, err := Build(config.HandlerConfig{Kind: "sleep", Duration: "10ms", FailMessage: "boom"}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := h.Run(context.Background(), jobs.Run{}); err == nil || err.Error() != "boom" {
		t.Fatalf("err = %v, want boom", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := Sleep(time.Hour, "").Run(ctx, jobs.Run{}); err == nil {
		t.Fatalf("expected ctx error")
	}
}

func TestBuildUnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := Build(config.HandlerConfig{Kind: "shell"}, nil); err == nil {
		t.Fatalf("expected error")
	}
}
