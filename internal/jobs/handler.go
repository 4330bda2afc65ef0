package jobs

import "context"

// Run identifies the execution a handler is working on.
type Run struct {
	ExecutionID string
	JobName     string
	Trigger     TriggerKind
}

// Handler runs a job to completion or fails. Handlers should be safe to
// retry and should honor ctx; the engine abandons a handler that outlives its
// timeout.
type Handler interface {
	Run(ctx context.Context, run Run) error
}

type HandlerFunc func(ctx context.Context, run Run) error

func (f HandlerFunc) Run(ctx context.Context, run Run) error { return f(ctx, run) }
