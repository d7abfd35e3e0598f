package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ShayCichocki/tierci/internal/concurrency"
	"github.com/ShayCichocki/tierci/internal/coordinator"
	"github.com/ShayCichocki/tierci/internal/publish"
	"github.com/ShayCichocki/tierci/internal/state"
	"github.com/ShayCichocki/tierci/internal/trigger"
	"github.com/ShayCichocki/tierci/pkg/models"
)

// maxBody bounds event descriptors.
const maxBody = 1 << 20

// SubmitResponse is returned when a run is accepted.
type SubmitResponse struct {
	RunID          string                `json:"run_id"`
	Verdict        models.Verdict        `json:"verdict"`
	Trigger        models.TriggerContext `json:"trigger"`
	ConcurrencyKey string                `json:"concurrency_key"`
}

// DispatchRequest is the body of a manual dispatch. Every field is optional.
type DispatchRequest struct {
	Ref       string `json:"ref"`
	CommitSHA string `json:"commit_sha"`
}

// PlanResponse describes the eligibility of every tier for an event.
type PlanResponse struct {
	Trigger    models.TriggerContext `json:"trigger"`
	SkipReason string                `json:"skip_reason,omitempty"`
	Tiers      []PlanTier            `json:"tiers"`
}

// PlanTier is one tier of a PlanResponse.
type PlanTier struct {
	Tier     int       `json:"tier"`
	Name     string    `json:"name"`
	Eligible bool      `json:"eligible"`
	Reason   string    `json:"reason,omitempty"`
	Jobs     []PlanJob `json:"jobs,omitempty"`
}

// PlanJob is one job of a PlanTier.
type PlanJob struct {
	Name     string `json:"name"`
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// submitEvent handles POST /v1/events
func (s *Server) submitEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.readEvent(w, r)
	if !ok {
		return
	}
	s.start(w, r, ev)
}

// dispatch handles POST /v1/pipelines/{name}/dispatch
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	s.start(w, r, models.Event{
		Kind:      models.EventManual,
		Ref:       req.Ref,
		Pipeline:  mux.Vars(r)["name"],
		CommitSHA: req.CommitSHA,
	})
}

// plan handles POST /v1/pipelines/{name}/plan
func (s *Server) plan(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.readEvent(w, r)
	if !ok {
		return
	}
	if ev.Pipeline == "" {
		ev.Pipeline = mux.Vars(r)["name"]
	}

	plan, err := s.coord.Plan(r.Context(), ev)
	if err != nil {
		writeStartError(w, err)
		return
	}

	resp := PlanResponse{Trigger: plan.Trigger, SkipReason: plan.SkipReason}
	for _, d := range plan.Tiers {
		pt := PlanTier{Tier: d.Ordinal, Name: d.Name, Eligible: d.Eligible, Reason: d.Reason}
		for _, j := range d.Jobs {
			pt.Jobs = append(pt.Jobs, PlanJob{Name: j.Name, Eligible: j.Eligible, Reason: j.Reason})
		}
		resp.Tiers = append(resp.Tiers, pt)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) readEvent(w http.ResponseWriter, r *http.Request) (models.Event, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return models.Event{}, false
	}
	ev, err := trigger.ParseEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return models.Event{}, false
	}
	return ev, true
}

func (s *Server) start(w http.ResponseWriter, r *http.Request, ev models.Event) {
	h, err := s.coord.Start(r.Context(), ev)
	if err != nil {
		writeStartError(w, err)
		return
	}
	run := h.Snapshot()
	writeJSON(w, http.StatusAccepted, SubmitResponse{
		RunID:          run.ID,
		Verdict:        run.Verdict,
		Trigger:        run.Trigger,
		ConcurrencyKey: run.ConcurrencyKey,
	})
}

func writeStartError(w http.ResponseWriter, err error) {
	var invalid *trigger.InvalidTriggerError
	switch {
	case errors.As(err, &invalid) && invalid.Field == "pipeline":
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, trigger.ErrInvalidTrigger):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, coordinator.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("[server] start run: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// listRuns handles GET /v1/runs
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := state.RunFilter{
		Pipeline: q.Get("pipeline"),
		Verdict:  models.Verdict(q.Get("verdict")),
		Ref:      q.Get("ref"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	if s.reader != nil {
		runs, err := s.reader.ListRuns(r.Context(), f)
		if err != nil {
			log.Printf("[server] list runs: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to list runs")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
		return
	}

	runs := make([]*models.PipelineRun, 0)
	for _, run := range s.coord.Runs() {
		if f.Pipeline != "" && run.Trigger.Pipeline != f.Pipeline {
			continue
		}
		if f.Verdict != "" && run.Verdict != f.Verdict {
			continue
		}
		if f.Ref != "" && run.Trigger.Ref != f.Ref {
			continue
		}
		runs = append(runs, run)
		if f.Limit > 0 && len(runs) == f.Limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// activeRuns handles GET /v1/runs/active
func (s *Server) activeRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"active": s.coord.Active()})
}

// getRun handles GET /v1/runs/{id}
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// getSummary handles GET /v1/runs/{id}/summary
func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, publish.Summarize(run))
}

// cancelRun handles POST /v1/runs/{id}/cancel
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.coord.Cancel(id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "canceling"})
	case errors.Is(err, coordinator.ErrUnknownRun):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, concurrency.ErrNotActive), errors.Is(err, concurrency.ErrFinished):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// lookup prefers the coordinator's live view and falls back to the store.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*models.PipelineRun, bool) {
	id := mux.Vars(r)["id"]
	if h, ok := s.coord.Handle(id); ok {
		return h.Snapshot(), true
	}
	if s.reader != nil {
		run, err := s.reader.GetRun(r.Context(), id)
		if err != nil {
			log.Printf("[server] get run %s: %v", id, err)
			writeError(w, http.StatusInternalServerError, "failed to load run")
			return nil, false
		}
		if run != nil {
			return run, true
		}
	}
	writeError(w, http.StatusNotFound, "run not found")
	return nil, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
