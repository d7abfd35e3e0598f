package models

import "time"

// TierAggregate is the computed outcome of a whole tier.
type TierAggregate string

const (
	TierSuccess    TierAggregate = "success"
	TierFailure    TierAggregate = "failure"
	TierInfraError TierAggregate = "infra_error"
	TierSkipped    TierAggregate = "skipped"
)

// Blocking returns true if the aggregate stops the pipeline.
func (a TierAggregate) Blocking() bool {
	return a == TierFailure || a == TierInfraError
}

// Reasons recorded on skipped tiers.
const (
	ReasonNotEligible    = "not_eligible"
	ReasonUpstreamFailed = "upstream_failed"
	ReasonSuperseded     = "superseded"
	ReasonNoJobs         = "no_eligible_jobs"
	ReasonPathsExcluded  = "paths_excluded"
)

// TierResult is computed exactly once per tier and never changes afterwards.
type TierResult struct {
	Tier      int           `json:"tier"`
	Name      string        `json:"name"`
	Aggregate TierAggregate `json:"aggregate"`
	// Reason explains a skipped aggregate.
	Reason     string     `json:"reason,omitempty"`
	Jobs       []Job      `json:"jobs,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// FailedJobs returns the jobs that ended in failure or infra_error.
func (r TierResult) FailedJobs() []Job {
	var failed []Job
	for _, j := range r.Jobs {
		if j.Result == JobFailure || j.Result == JobInfraError {
			failed = append(failed, j)
		}
	}
	return failed
}

// Verdict is the run-level outcome.
type Verdict string

const (
	VerdictPending    Verdict = "pending"
	VerdictRunning    Verdict = "running"
	VerdictSucceeded  Verdict = "succeeded"
	VerdictFailed     Verdict = "failed"
	VerdictSkipped    Verdict = "skipped"
	VerdictSuperseded Verdict = "superseded"
)

// Terminal returns true once the verdict can no longer change.
func (v Verdict) Terminal() bool {
	switch v {
	case VerdictSucceeded, VerdictFailed, VerdictSkipped, VerdictSuperseded:
		return true
	default:
		return false
	}
}

// PipelineRun is one execution of a pipeline for one triggering event.
type PipelineRun struct {
	ID             string         `json:"id"`
	Trigger        TriggerContext `json:"trigger"`
	ConcurrencyKey string         `json:"concurrency_key"`
	Tiers          []TierResult   `json:"tiers"`
	Verdict        Verdict        `json:"verdict"`
	// FailedTier is the ordinal of the earliest blocking tier, 0 if none.
	FailedTier  int                 `json:"failed_tier,omitempty"`
	Publication *PublicationOutcome `json:"publication,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
}

// Tier returns the result for the given ordinal, if it exists.
func (r *PipelineRun) Tier(ordinal int) (TierResult, bool) {
	for _, t := range r.Tiers {
		if t.Tier == ordinal {
			return t, true
		}
	}
	return TierResult{}, false
}

// JobCount returns the number of jobs created across all tiers.
func (r *PipelineRun) JobCount() int {
	n := 0
	for _, t := range r.Tiers {
		n += len(t.Jobs)
	}
	return n
}
