// Package dispatch runs the jobs of one tier in parallel against the runner
// pool and aggregates their results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/tierci/internal/pipeline"
	"github.com/ShayCichocki/tierci/internal/runner"
	"github.com/ShayCichocki/tierci/pkg/models"
)

// Reporter receives a copy of a job every time it changes state.
// It is called from the dispatching goroutine, never concurrently.
type Reporter func(job models.Job)

// Request describes one tier execution.
type Request struct {
	RunID string
	Tier  *pipeline.TierDefinition
	// Skip maps job names to the reason they are not eligible.
	Skip map[string]string
}

// Dispatcher fans a tier's jobs out to the runner pool.
type Dispatcher struct {
	pool runner.Pool
}

// New creates a dispatcher on the shared pool.
func New(pool runner.Pool) *Dispatcher {
	return &Dispatcher{pool: pool}
}

// done is what a job goroutine sends back. Attempts counts executions.
type done struct {
	index    int
	result   models.JobResult
	detail   string
	logURL   string
	attempts int
}

// RunTier creates the tier's jobs, runs them and returns the aggregate.
// Canceling ctx cancels every running job; the tier is then reported as
// skipped with reason superseded.
func (d *Dispatcher) RunTier(ctx context.Context, req Request, report Reporter) models.TierResult {
	if report == nil {
		report = func(models.Job) {}
	}
	tier := req.Tier
	started := time.Now().UTC()
	res := models.TierResult{Tier: tier.Ordinal, Name: tier.Name, StartedAt: &started}

	jobs := make([]models.Job, len(tier.Jobs))
	runnable := 0
	for i, def := range tier.Jobs {
		jobs[i] = models.Job{
			ID:      uuid.New().String(),
			RunID:   req.RunID,
			Name:    def.Name,
			Tier:    tier.Ordinal,
			Runner:  tier.Runner,
			Timeout: tier.JobTimeout(def),
			Result:  models.JobPending,
		}
		if reason, skip := req.Skip[def.Name]; skip {
			jobs[i].Result = models.JobSkipped
			jobs[i].Detail = reason
		} else {
			runnable++
		}
		report(jobs[i])
	}

	finish := func(agg models.TierAggregate, reason string) models.TierResult {
		now := time.Now().UTC()
		res.Aggregate = agg
		res.Reason = reason
		res.Jobs = jobs
		res.FinishedAt = &now
		return res
	}

	if runnable == 0 {
		return finish(models.TierSkipped, models.ReasonNoJobs)
	}
	if ctx.Err() != nil {
		cancelRemaining(jobs, "run superseded before the tier started", report)
		return finish(models.TierSkipped, models.ReasonSuperseded)
	}

	tierCtx, cancelTier := context.WithCancel(ctx)
	defer cancelTier()

	// Buffered so goroutines never block once the tier has returned.
	results := make(chan done, runnable)
	for i := range jobs {
		if jobs[i].Result != models.JobPending {
			continue
		}
		now := time.Now().UTC()
		jobs[i].Result = models.JobRunning
		jobs[i].StartedAt = &now
		report(jobs[i])
		go d.runJob(tierCtx, req, i, jobs[i], results)
	}

	for pending := runnable; pending > 0; {
		select {
		case <-ctx.Done():
			cancelTier()
			cancelRemaining(jobs, "run superseded", report)
			return finish(models.TierSkipped, models.ReasonSuperseded)

		case r := <-results:
			job := &jobs[r.index]
			if job.Result.Terminal() {
				continue
			}
			pending--
			now := time.Now().UTC()
			job.Result = r.result
			job.Detail = r.detail
			job.LogURL = r.logURL
			job.Attempts = r.attempts
			job.FinishedAt = &now
			report(*job)

			blocking := r.result == models.JobFailure || r.result == models.JobInfraError
			if blocking && tier.FailFast == pipeline.StopOnFirst {
				cancelTier()
				cancelRemaining(jobs, fmt.Sprintf("canceled after %s failed", job.Name), report)
				return finish(aggregate(jobs), "")
			}
		}
	}

	if ctx.Err() != nil {
		return finish(models.TierSkipped, models.ReasonSuperseded)
	}
	return finish(aggregate(jobs), "")
}

// runJob resolves the runner class and executes the job, re-running it
// while it ends in infra_error and the tier's retry budget allows.
func (d *Dispatcher) runJob(ctx context.Context, req Request, index int, job models.Job, results chan<- done) {
	tier := req.Tier
	def := tier.Jobs[index]

	exec, err := d.pool.Resolve(tier.Runner)
	if err != nil {
		results <- done{index: index, result: models.JobInfraError, detail: err.Error()}
		return
	}

	var out done
	for attempt := 1; attempt <= tier.InfraRetries+1; attempt++ {
		out = d.attempt(ctx, exec, req, job, def, attempt)
		out.index = index
		out.attempts = attempt
		if out.result != models.JobInfraError || ctx.Err() != nil {
			break
		}
		if attempt <= tier.InfraRetries {
			log.Printf("[dispatch] job %s/%s infra_error, retrying (%d/%d): %s", tier.Name, job.Name, attempt, tier.InfraRetries, out.detail)
		}
	}
	results <- out
}

func (d *Dispatcher) attempt(ctx context.Context, exec runner.Executor, req Request, job models.Job, def pipeline.JobDefinition, attempt int) done {
	jobCtx := ctx
	cancel := context.CancelFunc(func() {})
	if job.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, job.Timeout)
	}
	defer cancel()

	outcome := exec.Execute(jobCtx, runner.JobSpec{
		RunID:   req.RunID,
		JobID:   job.ID,
		Name:    job.Name,
		Tier:    job.Tier,
		Runner:  job.Runner,
		Command: def.Command,
		Image:   def.Image,
		Env:     def.Env,
		Attempt: attempt,
	})

	if ctx.Err() != nil {
		return done{result: models.JobCanceled, detail: "canceled", logURL: outcome.LogURL}
	}
	if outcome.Result == runner.ResultTimeout || errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		result := req.Tier.TimeoutResult
		if result != models.JobInfraError {
			result = models.JobFailure
		}
		return done{
			result: result,
			detail: fmt.Sprintf("timed out after %s", job.Timeout),
			logURL: outcome.LogURL,
		}
	}

	switch outcome.Result {
	case runner.ResultSuccess:
		return done{result: models.JobSuccess, detail: outcome.Detail, logURL: outcome.LogURL}
	case runner.ResultFailure:
		return done{result: models.JobFailure, detail: outcome.Detail, logURL: outcome.LogURL}
	default:
		return done{result: models.JobInfraError, detail: outcome.Detail, logURL: outcome.LogURL}
	}
}

// cancelRemaining marks every non-terminal job canceled.
func cancelRemaining(jobs []models.Job, detail string, report Reporter) {
	now := time.Now().UTC()
	for i := range jobs {
		if jobs[i].Result.Terminal() {
			continue
		}
		jobs[i].Result = models.JobCanceled
		jobs[i].Detail = detail
		jobs[i].FinishedAt = &now
		report(jobs[i])
	}
}

// aggregate computes the tier outcome: failure beats infra_error, and a
// tier where nothing ran is skipped.
func aggregate(jobs []models.Job) models.TierAggregate {
	var failure, infra, ran bool
	for _, j := range jobs {
		switch j.Result {
		case models.JobFailure:
			failure = true
		case models.JobInfraError:
			infra = true
		case models.JobSuccess:
			ran = true
		}
	}
	switch {
	case failure:
		return models.TierFailure
	case infra:
		return models.TierInfraError
	case ran:
		return models.TierSuccess
	default:
		return models.TierSkipped
	}
}
