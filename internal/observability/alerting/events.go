package alerting

import (
	"context"
	"errors"
	"sync"

	"trendsched/internal/eventbus"
	"trendsched/internal/jobs"
)

// Run raises alerts from bus events and delivers webhooks until ctx ends.
func (s *Service) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(128,
		eventbus.ExecutionFailed,
		eventbus.HistoryInconsistent,
		eventbus.TriggerRejected,
		eventbus.StorageError,
	)
	defer unsub()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.hook.run(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return errors.New("alert subscription closed")
			}
			s.Handle(e)
		}
	}
}

// Handle maps one event to an alert. Events it does not care about are
// ignored.
func (s *Service) Handle(e eventbus.Event) {
	switch e.Type {
	case eventbus.ExecutionFailed:
		x, ok := e.Data.(jobs.Execution)
		if !ok {
			return
		}
		msg := "unknown error"
		if x.ErrorMessage != nil {
			msg = *x.ErrorMessage
		}
		s.Create(JobFailure, High, "Job Failed: "+x.JobName,
			"Job '"+x.JobName+"' failed with error: "+msg,
			map[string]string{"job_name": x.JobName, "execution_id": x.ID, "trigger_kind": string(x.Trigger)})
	case eventbus.HistoryInconsistent:
		detail, _ := e.Data.(string)
		s.Create(HistoryInconsistency, Critical, "History Inconsistency", detail, nil)
	case eventbus.TriggerRejected:
		r, ok := e.Data.(eventbus.Rejection)
		if !ok || r.Reason != "busy" {
			return
		}
		s.Create(SchedulerBusy, Medium, "Scheduler Busy",
			"Manual trigger of '"+r.Job+"' rejected: run queue is full",
			map[string]string{"job_name": r.Job})
	case eventbus.StorageError:
		f, ok := e.Data.(eventbus.StorageFailure)
		if !ok {
			return
		}
		s.Create(DatabaseError, Critical, "Database Error",
			"Database operation '"+f.Op+"' failed: "+f.Err,
			map[string]string{"operation": f.Op})
	}
}
