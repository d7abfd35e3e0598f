package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/tierci/internal/coordinator"
	"github.com/ShayCichocki/tierci/internal/pipeline"
	"github.com/ShayCichocki/tierci/internal/runner"
	"github.com/ShayCichocki/tierci/internal/state"
	"github.com/ShayCichocki/tierci/internal/version"
	"github.com/ShayCichocki/tierci/pkg/models"
)

func testPipeline() *pipeline.Config {
	return &pipeline.Config{
		Name:          "ci",
		DefaultBranch: "main",
		Tiers: []pipeline.TierDefinition{{
			Ordinal:       1,
			Name:          "lint",
			Runner:        models.RunnerShared,
			FailFast:      pipeline.CollectAll,
			Timeout:       5 * time.Second,
			TimeoutResult: models.JobFailure,
			Jobs:          []pipeline.JobDefinition{{Name: "vet", Command: "go vet ./..."}},
		}},
	}
}

func newTestServer(t *testing.T, exec runner.ExecutorFunc, reader state.RunReader) (*Server, *coordinator.Coordinator) {
	t.Helper()
	if exec == nil {
		exec = func(context.Context, runner.JobSpec) runner.Outcome {
			return runner.Outcome{Result: runner.ResultSuccess}
		}
	}
	pool := runner.NewStaticPool()
	pool.Register(runner.Capacity{Class: models.RunnerShared}, exec)
	coord := coordinator.New(pipeline.Static{Config: testPipeline()}, pool)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})
	return New(":0", coord, reader), coord
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func waitRun(t *testing.T, coord *coordinator.Coordinator, id string) *models.PipelineRun {
	t.Helper()
	h, ok := coord.Handle(id)
	if !ok {
		t.Fatalf("run %s not tracked", id)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return run
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	rec := do(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("GET /health = %d %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Server"); got != version.UserAgent() {
		t.Errorf("Server header = %q, want %q", got, version.UserAgent())
	}
}

func TestSubmitEvent(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"push", `{"kind":"push","ref":"main"}`, http.StatusAccepted},
		{"alias kind", `{"kind":"pull_request","ref":"42"}`, http.StatusAccepted},
		{"unknown kind", `{"kind":"deploy","ref":"main"}`, http.StatusBadRequest},
		{"missing ref", `{"kind":"push"}`, http.StatusBadRequest},
		{"other pipeline", `{"kind":"push","ref":"main","pipeline":"nightly"}`, http.StatusNotFound},
		{"malformed", `{"kind":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, coord := newTestServer(t, nil, nil)
			rec := do(t, s, http.MethodPost, "/v1/events", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("POST /v1/events = %d, want %d (body %q)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want != http.StatusAccepted {
				return
			}
			resp := decode[SubmitResponse](t, rec)
			if resp.RunID == "" || resp.ConcurrencyKey == "" {
				t.Errorf("response = %+v, want run ID and concurrency key", resp)
			}
			if run := waitRun(t, coord, resp.RunID); run.Verdict != models.VerdictSucceeded {
				t.Errorf("Verdict = %s, want succeeded", run.Verdict)
			}
		})
	}
}

func TestDispatch(t *testing.T) {
	s, coord := newTestServer(t, nil, nil)

	rec := do(t, s, http.MethodPost, "/v1/pipelines/ci/dispatch", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("dispatch = %d, want 202 (body %q)", rec.Code, rec.Body.String())
	}
	resp := decode[SubmitResponse](t, rec)
	if resp.Trigger.Kind != models.EventManual || resp.Trigger.Ref != "main" {
		t.Errorf("trigger = %+v, want manual on the default branch", resp.Trigger)
	}
	waitRun(t, coord, resp.RunID)

	rec = do(t, s, http.MethodPost, "/v1/pipelines/nightly/dispatch", `{"ref":"main"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("dispatch unknown pipeline = %d, want 404", rec.Code)
	}
}

func TestPlan(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	rec := do(t, s, http.MethodPost, "/v1/pipelines/ci/plan", `{"kind":"push","ref":"main"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("plan = %d (body %q)", rec.Code, rec.Body.String())
	}
	resp := decode[PlanResponse](t, rec)
	if len(resp.Tiers) != 1 || !resp.Tiers[0].Eligible {
		t.Errorf("plan tiers = %+v, want one eligible tier", resp.Tiers)
	}
}

func TestGetRunAndSummary(t *testing.T) {
	s, coord := newTestServer(t, func(context.Context, runner.JobSpec) runner.Outcome {
		return runner.Outcome{Result: runner.ResultFailure, Detail: "exit code 2"}
	}, nil)

	rec := do(t, s, http.MethodPost, "/v1/events", `{"kind":"push","ref":"main"}`)
	id := decode[SubmitResponse](t, rec).RunID
	waitRun(t, coord, id)

	rec = do(t, s, http.MethodGet, "/v1/runs/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET run = %d", rec.Code)
	}
	run := decode[models.PipelineRun](t, rec)
	if run.Verdict != models.VerdictFailed || run.FailedTier != 1 {
		t.Errorf("run = %s at tier %d, want failed at tier 1", run.Verdict, run.FailedTier)
	}

	rec = do(t, s, http.MethodGet, "/v1/runs/"+id+"/summary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET summary = %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "FAILED") || !strings.Contains(body, "vet") {
		t.Errorf("summary = %q, want verdict and failing job", body)
	}

	if rec := do(t, s, http.MethodGet, "/v1/runs/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown run = %d, want 404", rec.Code)
	}
}

// fakeReader serves runs that are no longer held in memory.
type fakeReader struct {
	runs []models.PipelineRun
}

func (f *fakeReader) GetRun(_ context.Context, id string) (*models.PipelineRun, error) {
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i], nil
		}
	}
	return nil, nil
}

func (f *fakeReader) ListRuns(_ context.Context, filter state.RunFilter) ([]models.PipelineRun, error) {
	var out []models.PipelineRun
	for _, r := range f.runs {
		if filter.Verdict == "" || r.Verdict == filter.Verdict {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReader) UpstreamRun(_ context.Context, id string) (*models.PipelineRun, error) {
	for _, r := range f.runs {
		if r.ID == id {
			run := r
			return &run, nil
		}
	}
	return nil, nil
}

func TestListRuns_FromStore(t *testing.T) {
	reader := &fakeReader{runs: []models.PipelineRun{
		{ID: "r1", Verdict: models.VerdictSucceeded},
		{ID: "r2", Verdict: models.VerdictFailed},
	}}
	s, _ := newTestServer(t, nil, reader)

	rec := do(t, s, http.MethodGet, "/v1/runs?verdict=failed", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET runs = %d", rec.Code)
	}
	resp := decode[struct {
		Runs []models.PipelineRun `json:"runs"`
	}](t, rec)
	if len(resp.Runs) != 1 || resp.Runs[0].ID != "r2" {
		t.Errorf("runs = %+v, want only r2", resp.Runs)
	}

	if rec := do(t, s, http.MethodGet, "/v1/runs/r1", ""); rec.Code != http.StatusOK {
		t.Errorf("GET stored run = %d, want 200", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/v1/runs?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("GET runs with bad limit = %d, want 400", rec.Code)
	}
}

func TestListRuns_InMemory(t *testing.T) {
	s, coord := newTestServer(t, nil, nil)

	for _, ref := range []string{"main", "dev"} {
		rec := do(t, s, http.MethodPost, "/v1/events", `{"kind":"push","ref":"`+ref+`"}`)
		waitRun(t, coord, decode[SubmitResponse](t, rec).RunID)
	}

	rec := do(t, s, http.MethodGet, "/v1/runs?ref=dev", "")
	resp := decode[struct {
		Runs []models.PipelineRun `json:"runs"`
	}](t, rec)
	if len(resp.Runs) != 1 || resp.Runs[0].Trigger.Ref != "dev" {
		t.Errorf("runs = %+v, want the dev run", resp.Runs)
	}
}

func TestCancelRun(t *testing.T) {
	started := make(chan struct{}, 1)
	s, coord := newTestServer(t, func(ctx context.Context, _ runner.JobSpec) runner.Outcome {
		started <- struct{}{}
		<-ctx.Done()
		return runner.Outcome{Result: runner.ResultInfraError}
	}, nil)

	rec := do(t, s, http.MethodPost, "/v1/events", `{"kind":"push","ref":"main"}`)
	id := decode[SubmitResponse](t, rec).RunID

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	rec = do(t, s, http.MethodGet, "/v1/runs/active", "")
	active := decode[struct {
		Active []struct {
			RunID string `json:"run_id"`
		} `json:"active"`
	}](t, rec)
	if len(active.Active) != 1 || active.Active[0].RunID != id {
		t.Errorf("active = %+v, want %s", active.Active, id)
	}

	if rec := do(t, s, http.MethodPost, "/v1/runs/"+id+"/cancel", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("cancel = %d, want 202", rec.Code)
	}
	if run := waitRun(t, coord, id); run.Verdict != models.VerdictSuperseded {
		t.Errorf("Verdict = %s, want superseded", run.Verdict)
	}

	if rec := do(t, s, http.MethodPost, "/v1/runs/"+id+"/cancel", ""); rec.Code != http.StatusConflict {
		t.Errorf("cancel finished run = %d, want 409", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/v1/runs/nope/cancel", ""); rec.Code != http.StatusNotFound {
		t.Errorf("cancel unknown run = %d, want 404", rec.Code)
	}
}
