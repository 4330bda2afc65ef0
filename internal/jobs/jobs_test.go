package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

var nop = HandlerFunc(func(context.Context, Run) error { return nil })

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC) // Monday
	cases := []struct {
		in   string
		want time.Time
	}{
		{"0 2 * * *", time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)},
		{"0 9 * * 1", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		{"30 0 2 * * *", time.Date(2026, 3, 2, 2, 0, 30, 0, time.UTC)},
		{"@hourly", time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)},
		{"every:15m", base.Add(15 * time.Minute)},
		{"cron:*/10 * * * *", time.Date(2026, 3, 2, 1, 40, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		s, err := ParseSchedule(tc.in, time.UTC)
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tc.in, err)
		}
		if got := s.Next(base); !got.Equal(tc.want) {
			t.Fatalf("ParseSchedule(%q).Next = %v, want %v", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "0 25 * * *", "every:soon", "every:10ms", "not a cron"} {
		if _, err := ParseSchedule(bad, time.UTC); err == nil {
			t.Fatalf("ParseSchedule(%q) = nil error, want error", bad)
		}
	}
}

func TestParseScheduleLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+7", 7*3600)
	s, err := ParseSchedule("0 2 * * *", loc)
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	next := s.Next(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if want := time.Date(2026, 1, 1, 19, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("Next = %v, want %v", next.UTC(), want)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry(time.UTC)
	if _, err := r.Register(Spec{Name: "daily_refresh", Schedule: "0 2 * * *", Alias: "refresh-trending", Handler: nop}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register(Spec{Name: "weekly_newsletter", Schedule: "0 9 * * 1", Handler: nop}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := r.Register(Spec{Name: "daily_refresh", Schedule: "@daily", Handler: nop})
	var dup *DuplicateJobError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want DuplicateJobError", err)
	}

	_, err = r.Register(Spec{Name: "broken", Schedule: "61 * * * *", Handler: nop})
	var inv *InvalidScheduleError
	if !errors.As(err, &inv) || inv.Job != "broken" {
		t.Fatalf("err = %v, want InvalidScheduleError", err)
	}

	if got := r.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}
	list := r.List()
	if list[0].Name != "daily_refresh" || list[1].Name != "weekly_newsletter" {
		t.Fatalf("List order = %v,%v", list[0].Name, list[1].Name)
	}
	if d, ok := r.ByAlias("refresh-trending"); !ok || d.Name != "daily_refresh" {
		t.Fatalf("ByAlias = %v, %v", d.Name, ok)
	}
	if _, ok := r.Lookup("nope"); ok {
		t.Fatalf("Lookup(nope) = ok")
	}

	r.Seal()
	if _, err := r.Register(Spec{Name: "late", Schedule: "@daily", Handler: nop}); !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("err = %v, want ErrRegistrySealed", err)
	}
}

func TestExecutionTransitions(t *testing.T) {
	t.Parallel()

	q := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := Execution{ID: "a", JobName: "j", Status: StatusScheduled, Trigger: TriggerManual, QueuedAt: q}
	if err := e.Validate(); err != nil {
		t.Fatalf("scheduled Validate: %v", err)
	}

	running := e.Start(q.Add(time.Second))
	if e.Status != StatusScheduled {
		t.Fatalf("Start mutated the receiver")
	}
	done := running.Complete(q.Add(4*time.Second), nil)
	if err := done.Validate(); err != nil {
		t.Fatalf("completed Validate: %v", err)
	}
	if done.DurationMs == nil || *done.DurationMs != 3000 {
		t.Fatalf("DurationMs = %v, want 3000", done.DurationMs)
	}

	failed := running.Complete(q.Add(2*time.Second), &HandlerTimeoutError{Timeout: time.Second})
	if failed.Status != StatusFailed || failed.ErrorMessage == nil || *failed.ErrorMessage != "handler timed out after 1s" {
		t.Fatalf("failed = %+v", failed)
	}
	if err := failed.Validate(); err != nil {
		t.Fatalf("failed Validate: %v", err)
	}

	bad := done
	msg := "x"
	bad.ErrorMessage = &msg
	if err := bad.Validate(); err == nil {
		t.Fatalf("completed with error_message should not validate")
	}
}

func TestNewerIsTotal(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Execution{ID: "a", QueuedAt: t0}.Start(t0)
	b := Execution{ID: "b", QueuedAt: t0}.Start(t0)
	c := Execution{ID: "c", QueuedAt: t0.Add(time.Minute)}

	if !Newer(b, a) || Newer(a, b) {
		t.Fatalf("id tiebreak broken")
	}
	if !Newer(c, a) {
		t.Fatalf("queued_at fallback broken")
	}
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	if !IsNotFound(&UnknownJobError{Job: "x"}) || !IsNotFound(&UnknownExecutionError{ID: "y"}) {
		t.Fatalf("IsNotFound false for not-found errors")
	}
	if IsNotFound(errors.New("x")) {
		t.Fatalf("IsNotFound true for plain error")
	}
	if !IsBusy(&SchedulerBusyError{Job: "j", Capacity: 1}) {
		t.Fatalf("IsBusy false")
	}
}
