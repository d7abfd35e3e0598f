package coordinator

import (
	"context"
	"sort"
	"sync"

	"github.com/ShayCichocki/tierci/pkg/models"
)

// Handle tracks one run started by the coordinator.
type Handle struct {
	id   string
	done chan struct{}

	mu  sync.Mutex
	run models.PipelineRun
	// current is the tier being dispatched; live holds its jobs by ID.
	current     *models.TierResult
	live        map[string]models.Job
	liveOrdered []string
}

func newHandle(run *models.PipelineRun) *Handle {
	return &Handle{
		id:   run.ID,
		done: make(chan struct{}),
		run:  *run,
	}
}

// RunID returns the ID of the run.
func (h *Handle) RunID() string {
	return h.id
}

// Done is closed once the run has its verdict.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) (*models.PipelineRun, error) {
	select {
	case <-h.done:
		return h.Snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot returns a copy of the run. While a tier is running it is
// included with the live state of its jobs and an empty aggregate.
func (h *Handle) Snapshot() *models.PipelineRun {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := h.run
	out.Tiers = append([]models.TierResult(nil), h.run.Tiers...)
	if h.current != nil {
		cur := *h.current
		cur.Jobs = make([]models.Job, 0, len(h.liveOrdered))
		for _, id := range h.liveOrdered {
			cur.Jobs = append(cur.Jobs, h.live[id])
		}
		out.Tiers = append(out.Tiers, cur)
		sort.Slice(out.Tiers, func(i, j int) bool { return out.Tiers[i].Tier < out.Tiers[j].Tier })
	}
	return &out
}

// sync publishes the coordinator's copy of the run.
func (h *Handle) sync(run *models.PipelineRun) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.run = *run
	h.run.Tiers = append([]models.TierResult(nil), run.Tiers...)
}

func (h *Handle) beginTier(tier models.TierResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = &tier
	h.live = make(map[string]models.Job)
	h.liveOrdered = nil
}

func (h *Handle) jobUpdated(job models.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.live == nil {
		return
	}
	if _, ok := h.live[job.ID]; !ok {
		h.liveOrdered = append(h.liveOrdered, job.ID)
	}
	h.live[job.ID] = job
}

func (h *Handle) endTier() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = nil
	h.live = nil
	h.liveOrdered = nil
}
