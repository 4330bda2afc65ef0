package metrics

import (
	"sort"
	"time"

	"trendsched/internal/jobs"
)

// JobSummary is the "job_metrics" object.
type JobSummary struct {
	TotalJobsExecuted uint64                `json:"total_jobs_executed"`
	SuccessfulJobs    uint64                `json:"successful_jobs"`
	FailedJobs        uint64                `json:"failed_jobs"`
	PerJob            map[string]JobMetrics `json:"per_job"`
}

type JobMetrics struct {
	JobName              string     `json:"job_name"`
	TotalExecutions      uint64     `json:"total_executions"`
	SuccessfulExecutions uint64     `json:"successful_executions"`
	FailedExecutions     uint64     `json:"failed_executions"`
	AverageDurationMs    float64    `json:"average_duration_ms"`
	LastExecution        *time.Time `json:"last_execution"`
	LastSuccess          *time.Time `json:"last_success"`
	LastFailure          *time.Time `json:"last_failure"`
}

// Aggregate summarizes the retained history. Every key of byJob gets an
// entry, including jobs that never ran.
func Aggregate(byJob map[string][]jobs.Execution) JobSummary {
	out := JobSummary{PerJob: make(map[string]JobMetrics, len(byJob))}

	names := make([]string, 0, len(byJob))
	for name := range byJob {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := JobMetrics{JobName: name}
		var durSum int64
		var durN int64
		for _, e := range byJob[name] {
			m.TotalExecutions++
			at := e.SortTime()
			if e.CompletedAt != nil {
				at = *e.CompletedAt
			}
			m.LastExecution = later(m.LastExecution, at)
			switch e.Status {
			case jobs.StatusCompleted:
				m.SuccessfulExecutions++
				m.LastSuccess = later(m.LastSuccess, at)
			case jobs.StatusFailed:
				m.FailedExecutions++
				m.LastFailure = later(m.LastFailure, at)
			}
			if e.DurationMs != nil {
				durSum += *e.DurationMs
				durN++
			}
		}
		if durN > 0 {
			m.AverageDurationMs = float64(durSum) / float64(durN)
		}
		out.TotalJobsExecuted += m.TotalExecutions
		out.SuccessfulJobs += m.SuccessfulExecutions
		out.FailedJobs += m.FailedExecutions
		out.PerJob[name] = m
	}
	return out
}

func later(cur *time.Time, t time.Time) *time.Time {
	if cur == nil || t.After(*cur) {
		return &t
	}
	return cur
}
