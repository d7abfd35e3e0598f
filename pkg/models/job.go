package models

import "time"

// JobResult is the lifecycle state of a single job.
type JobResult string

const (
	JobPending    JobResult = "pending"
	JobRunning    JobResult = "running"
	JobSuccess    JobResult = "success"
	JobFailure    JobResult = "failure"
	JobInfraError JobResult = "infra_error"
	JobCanceled   JobResult = "canceled"
	JobSkipped    JobResult = "skipped"
)

// Valid returns true if the result is a known value.
func (r JobResult) Valid() bool {
	switch r {
	case JobPending, JobRunning, JobSuccess, JobFailure, JobInfraError, JobCanceled, JobSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true once the result can no longer change.
func (r JobResult) Terminal() bool {
	switch r {
	case JobSuccess, JobFailure, JobInfraError, JobCanceled, JobSkipped:
		return true
	default:
		return false
	}
}

// RunnerClass names a class of execution capacity.
type RunnerClass string

const (
	// RunnerShared is cheap shared capacity.
	RunnerShared RunnerClass = "shared"
	// RunnerSmall is a small dedicated runner.
	RunnerSmall RunnerClass = "small"
	// RunnerLarge is a large dedicated runner.
	RunnerLarge RunnerClass = "large"
)

// Valid returns true if the class is a known value.
func (c RunnerClass) Valid() bool {
	switch c {
	case RunnerShared, RunnerSmall, RunnerLarge:
		return true
	default:
		return false
	}
}

// Job is one opaque executable check created when its tier starts.
type Job struct {
	// ID is the unique identifier of this job instance.
	ID string `json:"id"`
	// RunID is the pipeline run that owns the job.
	RunID string `json:"run_id"`
	// Name is the job name from the pipeline definition.
	Name string `json:"name"`
	// Tier is the ordinal of the owning tier.
	Tier int `json:"tier"`
	// Runner is the runner class the job executes on.
	Runner RunnerClass `json:"runner"`
	// Timeout bounds a single execution attempt.
	Timeout time.Duration `json:"timeout"`
	// Result is the current lifecycle state.
	Result JobResult `json:"result"`
	// Attempts counts executions, including infra retries.
	Attempts int `json:"attempts,omitempty"`
	// Detail explains a non-success result.
	Detail string `json:"detail,omitempty"`
	// LogURL points at the job's log output.
	LogURL string `json:"log_url,omitempty"`
	// StartedAt is set when the job starts running.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// FinishedAt is set when the job reaches a terminal result.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
