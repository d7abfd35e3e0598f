package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ShayCichocki/tierci/pkg/models"
)

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Pipeline string
	Verdict  models.Verdict
	Ref      string
	// Limit caps the number of runs returned; 0 means 50.
	Limit int
}

const defaultListLimit = 50

// SaveRun writes a run with its tier results and jobs, replacing any
// previous copy.
func (db *DB) SaveRun(ctx context.Context, run *models.PipelineRun) error {
	trigger, err := json.Marshal(run.Trigger)
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}
	var publication *string
	if run.Publication != nil {
		data, err := json.Marshal(run.Publication)
		if err != nil {
			return fmt.Errorf("encode publication: %w", err)
		}
		s := string(data)
		publication = &s
	}

	err = db.Transaction(ctx, func(tx *Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO runs (id, pipeline, event_kind, ref_kind, ref, concurrency_key, trigger_json, verdict, failed_tier, publication_json, created_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				verdict = excluded.verdict,
				failed_tier = excluded.failed_tier,
				publication_json = excluded.publication_json,
				finished_at = excluded.finished_at
		`, run.ID, run.Trigger.Pipeline, string(run.Trigger.Kind), string(run.Trigger.RefKind), run.Trigger.Ref,
			run.ConcurrencyKey, string(trigger), string(run.Verdict), run.FailedTier, publication,
			formatTime(run.CreatedAt), nullableTime(run.FinishedAt))
		if err != nil {
			return err
		}

		for _, t := range run.Tiers {
			_, err := tx.Exec(ctx, `
				INSERT INTO tier_results (run_id, tier, name, aggregate, reason, started_at, finished_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (run_id, tier) DO UPDATE SET
					aggregate = excluded.aggregate,
					reason = excluded.reason,
					started_at = excluded.started_at,
					finished_at = excluded.finished_at
			`, run.ID, t.Tier, t.Name, string(t.Aggregate), t.Reason, nullableTime(t.StartedAt), nullableTime(t.FinishedAt))
			if err != nil {
				return err
			}
			for _, j := range t.Jobs {
				if err := upsertJob(ctx, tx, j); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// SaveJob records a single job transition while its tier is running.
// The owning run must already be saved.
func (db *DB) SaveJob(ctx context.Context, job models.Job) error {
	err := db.Transaction(ctx, func(tx *Tx) error {
		return upsertJob(ctx, tx, job)
	})
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func upsertJob(ctx context.Context, tx *Tx, j models.Job) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO jobs (id, run_id, name, tier, runner, timeout_ms, result, attempts, detail, log_url, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			result = excluded.result,
			attempts = excluded.attempts,
			detail = excluded.detail,
			log_url = excluded.log_url,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, j.ID, j.RunID, j.Name, j.Tier, string(j.Runner), j.Timeout.Milliseconds(), string(j.Result),
		j.Attempts, j.Detail, j.LogURL, nullableTime(j.StartedAt), nullableTime(j.FinishedAt))
	return err
}

const runColumns = `id, concurrency_key, trigger_json, verdict, failed_tier, publication_json, created_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.PipelineRun, error) {
	var (
		run         models.PipelineRun
		trigger     string
		publication sql.NullString
		createdAt   string
		finishedAt  sql.NullString
	)
	if err := row.Scan(&run.ID, &run.ConcurrencyKey, &trigger, &run.Verdict, &run.FailedTier, &publication, &createdAt, &finishedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(trigger), &run.Trigger); err != nil {
		return nil, fmt.Errorf("decode trigger of run %s: %w", run.ID, err)
	}
	if publication.Valid {
		run.Publication = &models.PublicationOutcome{}
		if err := json.Unmarshal([]byte(publication.String), run.Publication); err != nil {
			return nil, fmt.Errorf("decode publication of run %s: %w", run.ID, err)
		}
	}
	run.CreatedAt, _ = parseTime(createdAt)
	run.FinishedAt = parseNullableTime(finishedAt)
	return &run, nil
}

// GetRun loads a run with its tiers and jobs. Returns nil if it does not exist.
func (db *DB) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	run, err := scanRun(db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	tiers, err := db.loadTiers(ctx, id)
	if err != nil {
		return nil, err
	}
	jobs, err := db.ListJobs(ctx, id)
	if err != nil {
		return nil, err
	}

	// A tier still in progress has jobs but no result row yet.
	byTier := make(map[int]int, len(tiers))
	for i, t := range tiers {
		byTier[t.Tier] = i
	}
	for _, j := range jobs {
		i, ok := byTier[j.Tier]
		if !ok {
			tiers = append(tiers, models.TierResult{Tier: j.Tier})
			i = len(tiers) - 1
			byTier[j.Tier] = i
		}
		tiers[i].Jobs = append(tiers[i].Jobs, j)
	}
	sort.Slice(tiers, func(a, b int) bool { return tiers[a].Tier < tiers[b].Tier })
	run.Tiers = tiers
	return run, nil
}

func (db *DB) loadTiers(ctx context.Context, runID string) ([]models.TierResult, error) {
	rows, err := db.Query(ctx, `
		SELECT tier, name, aggregate, reason, started_at, finished_at
		FROM tier_results WHERE run_id = ? ORDER BY tier
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list tier results: %w", err)
	}
	defer rows.Close()

	var tiers []models.TierResult
	for rows.Next() {
		var t models.TierResult
		var startedAt, finishedAt sql.NullString
		if err := rows.Scan(&t.Tier, &t.Name, &t.Aggregate, &t.Reason, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan tier result: %w", err)
		}
		t.StartedAt = parseNullableTime(startedAt)
		t.FinishedAt = parseNullableTime(finishedAt)
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// ListJobs returns a run's jobs ordered by tier and name.
func (db *DB) ListJobs(ctx context.Context, runID string) ([]models.Job, error) {
	rows, err := db.Query(ctx, `
		SELECT id, run_id, name, tier, runner, timeout_ms, result, attempts, detail, log_url, started_at, finished_at
		FROM jobs WHERE run_id = ? ORDER BY tier, name
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var j models.Job
		var timeoutMS int64
		var startedAt, finishedAt sql.NullString
		if err := rows.Scan(&j.ID, &j.RunID, &j.Name, &j.Tier, &j.Runner, &timeoutMS, &j.Result,
			&j.Attempts, &j.Detail, &j.LogURL, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Timeout = time.Duration(timeoutMS) * time.Millisecond
		j.StartedAt = parseNullableTime(startedAt)
		j.FinishedAt = parseNullableTime(finishedAt)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ListRuns returns runs newest first, without tiers.
func (db *DB) ListRuns(ctx context.Context, f RunFilter) ([]models.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if f.Pipeline != "" {
		query += ` AND pipeline = ?`
		args = append(args, f.Pipeline)
	}
	if f.Verdict != "" {
		query += ` AND verdict = ?`
		args = append(args, string(f.Verdict))
	}
	if f.Ref != "" {
		query += ` AND ref = ?`
		args = append(args, f.Ref)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// UpstreamRun loads a run without its tiers for chained triggers. Returns
// nil if it does not exist.
func (db *DB) UpstreamRun(ctx context.Context, runID string) (*models.PipelineRun, error) {
	run, err := scanRun(db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get upstream run: %w", err)
	}
	return run, nil
}
