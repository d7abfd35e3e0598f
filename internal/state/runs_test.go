package state

import (
	"context"
	"testing"
	"time"

	"github.com/ShayCichocki/tierci/pkg/models"
)

func sampleRun(id string, created time.Time) *models.PipelineRun {
	start := created.Add(time.Second)
	end := created.Add(time.Minute)
	return &models.PipelineRun{
		ID: id,
		Trigger: models.TriggerContext{
			Kind:         models.EventPush,
			RefKind:      models.RefBranch,
			Ref:          "main",
			Pipeline:     "ci",
			ChangedPaths: []string{"src/main.go"},
		},
		ConcurrencyKey: "ci/branch:main",
		Verdict:        models.VerdictFailed,
		FailedTier:     1,
		CreatedAt:      created,
		FinishedAt:     &end,
		Tiers: []models.TierResult{
			{
				Tier: 1, Name: "lint", Aggregate: models.TierFailure, StartedAt: &start, FinishedAt: &end,
				Jobs: []models.Job{
					{ID: id + "-vet", RunID: id, Name: "vet", Tier: 1, Runner: models.RunnerShared, Timeout: 5 * time.Minute,
						Result: models.JobFailure, Attempts: 1, Detail: "exit code 1", LogURL: "file:///logs/vet.log", StartedAt: &start, FinishedAt: &end},
				},
			},
			{Tier: 2, Name: "unit", Aggregate: models.TierSkipped, Reason: models.ReasonUpstreamFailed},
		},
	}
}

func TestSaveRun_GetRun(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	if err := db.SaveRun(ctx, sampleRun("run-1", created)); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	got, err := db.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetRun returned nil")
	}
	if got.Verdict != models.VerdictFailed || got.FailedTier != 1 {
		t.Errorf("verdict = %s at %d", got.Verdict, got.FailedTier)
	}
	if got.Trigger.Ref != "main" || len(got.Trigger.ChangedPaths) != 1 {
		t.Errorf("trigger = %+v", got.Trigger)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if len(got.Tiers) != 2 {
		t.Fatalf("tiers = %d, want 2", len(got.Tiers))
	}
	if got.Tiers[1].Reason != models.ReasonUpstreamFailed || len(got.Tiers[1].Jobs) != 0 {
		t.Errorf("tier 2 = %+v", got.Tiers[1])
	}
	job := got.Tiers[0].Jobs[0]
	if job.Name != "vet" || job.Result != models.JobFailure || job.Timeout != 5*time.Minute || job.LogURL == "" {
		t.Errorf("job = %+v", job)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	db := setupTestDB(t)
	got, err := db.GetRun(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestSaveRun_Upserts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	run := &models.PipelineRun{
		ID:        "run-1",
		Trigger:   models.TriggerContext{Kind: models.EventTag, RefKind: models.RefTag, Ref: "v1.0.0", Pipeline: "ci"},
		Verdict:   models.VerdictRunning,
		CreatedAt: time.Now(),
	}
	if err := db.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	now := time.Now()
	run.Verdict = models.VerdictSucceeded
	run.FinishedAt = &now
	run.Publication = &models.PublicationOutcome{Draft: true, Deliveries: []models.Delivery{{Artifact: "bin", Location: "s3://b/k"}}}
	if err := db.SaveRun(ctx, run); err != nil {
		t.Fatalf("second SaveRun failed: %v", err)
	}

	got, _ := db.GetRun(ctx, "run-1")
	if got.Verdict != models.VerdictSucceeded || got.FinishedAt == nil {
		t.Errorf("run = %+v", got)
	}
	if got.Publication == nil || !got.Publication.Draft || len(got.Publication.Deliveries) != 1 {
		t.Errorf("publication = %+v", got.Publication)
	}
}

func TestSaveJob_InProgressTier(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	run := &models.PipelineRun{ID: "run-1", Trigger: models.TriggerContext{Pipeline: "ci", Ref: "main"}, Verdict: models.VerdictRunning, CreatedAt: time.Now()}
	if err := db.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	job := models.Job{ID: "job-1", RunID: "run-1", Name: "build", Tier: 1, Runner: models.RunnerLarge, Result: models.JobRunning}
	if err := db.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}
	job.Result = models.JobSuccess
	job.Attempts = 2
	if err := db.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob update failed: %v", err)
	}

	got, _ := db.GetRun(ctx, "run-1")
	if len(got.Tiers) != 1 || got.Tiers[0].Tier != 1 || got.Tiers[0].Aggregate != "" {
		t.Fatalf("tiers = %+v", got.Tiers)
	}
	if j := got.Tiers[0].Jobs[0]; j.Result != models.JobSuccess || j.Attempts != 2 {
		t.Errorf("job = %+v", j)
	}
}

func TestListRuns(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := sampleRun(id, base.Add(time.Duration(i)*time.Minute))
		if id == "run-b" {
			run.Verdict = models.VerdictSucceeded
			run.FailedTier = 0
		}
		if err := db.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter RunFilter
		want   []string
	}{
		{"all newest first", RunFilter{}, []string{"run-c", "run-b", "run-a"}},
		{"by verdict", RunFilter{Verdict: models.VerdictFailed}, []string{"run-c", "run-a"}},
		{"limit", RunFilter{Limit: 1}, []string{"run-c"}},
		{"other pipeline", RunFilter{Pipeline: "deploy"}, nil},
		{"by ref", RunFilter{Ref: "main", Limit: 2}, []string{"run-c", "run-b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := db.ListRuns(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRuns failed: %v", err)
			}
			var ids []string
			for _, r := range runs {
				ids = append(ids, r.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ListRuns() = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("ListRuns()[%d] = %s, want %s", i, ids[i], tt.want[i])
				}
			}
		})
	}
}

func TestUpstreamRun(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	if err := db.SaveRun(ctx, sampleRun("run-1", time.Now())); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	run, err := db.UpstreamRun(ctx, "run-1")
	if err != nil || run == nil {
		t.Fatalf("UpstreamRun() = %v, %v", run, err)
	}
	if run.Verdict != models.VerdictFailed {
		t.Errorf("Verdict = %s, want failed", run.Verdict)
	}
	if got := run.Trigger.ConcurrencyKey(); got != "ci/branch:main" {
		t.Errorf("trigger key = %q, want ci/branch:main", got)
	}

	run, err = db.UpstreamRun(ctx, "missing")
	if err != nil || run != nil {
		t.Errorf("UpstreamRun(missing) = %v, %v", run, err)
	}
}

func TestPurgeRuns(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	old := sampleRun("old", time.Now().Add(-48*time.Hour))
	fresh := sampleRun("fresh", time.Now())
	active := sampleRun("active", time.Now().Add(-48*time.Hour))
	active.Verdict = models.VerdictRunning
	active.FinishedAt = nil
	for _, r := range []*models.PipelineRun{old, fresh, active} {
		if err := db.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	n, err := db.PurgeRuns(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeRuns failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if got, _ := db.GetRun(ctx, "old"); got != nil {
		t.Error("old run should be purged")
	}
	if jobs, _ := db.ListJobs(ctx, "old"); len(jobs) != 0 {
		t.Errorf("old jobs should be purged, got %d", len(jobs))
	}
	if got, _ := db.GetRun(ctx, "active"); got == nil {
		t.Error("unfinished runs must not be purged")
	}
}
