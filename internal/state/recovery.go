package state

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/tierci/pkg/models"
)

// interruptedDetail is recorded on jobs that were in flight when the
// coordinator stopped.
const interruptedDetail = "interrupted: coordinator restarted"

// InterruptedRun describes a run that never reached a terminal verdict.
type InterruptedRun struct {
	RunID       string
	Pipeline    string
	Trigger     string
	CreatedAt   time.Time
	RunningJobs int
}

// RecoveryManager detects and closes runs left behind by a previous process.
type RecoveryManager struct {
	db *DB
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db}
}

// CheckForInterrupted lists runs whose verdict is still pending or running.
// Call it before the coordinator accepts events: every such run belongs to a
// dead process.
func (rm *RecoveryManager) CheckForInterrupted(ctx context.Context) ([]InterruptedRun, error) {
	var out []InterruptedRun
	for _, v := range []models.Verdict{models.VerdictPending, models.VerdictRunning} {
		runs, err := rm.db.ListRuns(ctx, RunFilter{Verdict: v, Limit: 1000})
		if err != nil {
			return nil, err
		}
		for _, r := range runs {
			jobs, err := rm.db.ListJobs(ctx, r.ID)
			if err != nil {
				return nil, err
			}
			running := 0
			for _, j := range jobs {
				if !j.Result.Terminal() {
					running++
				}
			}
			out = append(out, InterruptedRun{
				RunID:       r.ID,
				Pipeline:    r.Trigger.Pipeline,
				Trigger:     r.Trigger.String(),
				CreatedAt:   r.CreatedAt,
				RunningJobs: running,
			})
		}
	}
	return out, nil
}

// Clean closes an interrupted run. In-flight jobs become infra_error and the
// run fails at the earliest tier that had one; a run with nothing in flight
// is marked superseded.
func (rm *RecoveryManager) Clean(ctx context.Context, runID string) error {
	run, err := rm.db.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	if run.Verdict.Terminal() {
		return nil
	}

	now := time.Now().UTC()
	failedTier := 0
	for ti := range run.Tiers {
		tier := &run.Tiers[ti]
		interrupted := false
		for ji := range tier.Jobs {
			j := &tier.Jobs[ji]
			if j.Result.Terminal() {
				continue
			}
			j.Result = models.JobInfraError
			j.Detail = interruptedDetail
			j.FinishedAt = &now
			interrupted = true
		}
		if interrupted {
			tier.Aggregate = models.TierInfraError
			tier.FinishedAt = &now
			if failedTier == 0 || tier.Tier < failedTier {
				failedTier = tier.Tier
			}
		}
	}

	if failedTier > 0 {
		run.Verdict = models.VerdictFailed
		run.FailedTier = failedTier
	} else {
		run.Verdict = models.VerdictSuperseded
	}
	run.FinishedAt = &now

	if err := rm.db.SaveRun(ctx, run); err != nil {
		return err
	}
	log.Printf("[state] closed interrupted run %s as %s", runID, run.Verdict)
	return nil
}

// CleanAll closes every interrupted run and returns how many were closed.
func (rm *RecoveryManager) CleanAll(ctx context.Context) (int, error) {
	runs, err := rm.CheckForInterrupted(ctx)
	if err != nil {
		return 0, err
	}
	for _, r := range runs {
		if err := rm.Clean(ctx, r.RunID); err != nil {
			return 0, fmt.Errorf("clean run %s: %w", r.RunID, err)
		}
	}
	return len(runs), nil
}
