// Package jobs defines schedulable job definitions, the registry that holds
// them, and the Execution record every run produces.
//
// The registry is filled once at startup and sealed; job_count stays stable
// for the life of the process. Executions are immutable values: the engine
// replaces a record on every transition instead of mutating it in place.
package jobs
