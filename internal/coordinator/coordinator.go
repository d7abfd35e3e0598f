// Package coordinator drives pipeline runs: it evaluates the triggering
// event, serializes runs per concurrency key, walks tiers through the gate,
// dispatches each tier's jobs and hands artifacts to the publisher.
package coordinator

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/tierci/internal/concurrency"
	"github.com/ShayCichocki/tierci/internal/dispatch"
	"github.com/ShayCichocki/tierci/internal/gate"
	"github.com/ShayCichocki/tierci/internal/logging"
	"github.com/ShayCichocki/tierci/internal/pipeline"
	"github.com/ShayCichocki/tierci/internal/publish"
	"github.com/ShayCichocki/tierci/internal/runner"
	"github.com/ShayCichocki/tierci/internal/state"
	"github.com/ShayCichocki/tierci/internal/trigger"
	"github.com/ShayCichocki/tierci/pkg/models"
)

// ErrShuttingDown is returned by Start once Shutdown has been called.
var ErrShuttingDown = errors.New("coordinator is shutting down")

// ErrUnknownRun is returned for run IDs the coordinator does not track.
var ErrUnknownRun = errors.New("unknown run")

const defaultHistory = 500

// Coordinator owns the lifecycle of every run it starts.
type Coordinator struct {
	source     pipeline.Source
	evaluator  *trigger.Evaluator
	dispatcher *dispatch.Dispatcher
	controller *concurrency.Controller
	publisher  *publish.Publisher
	store      state.RunStore
	emitter    *EventEmitter
	summary    io.Writer

	// ctx bounds every run; it is canceled only by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closing  bool
	handles  map[string]*Handle
	finished []string
	history  int
}

// New creates a coordinator that reads pipeline snapshots from source and
// executes jobs on pool.
func New(source pipeline.Source, pool runner.Pool, opts ...Option) *Coordinator {
	o := options{history: defaultHistory}
	for _, opt := range opts {
		opt(&o)
	}
	if o.controller == nil {
		o.controller = concurrency.NewController()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		source:     source,
		evaluator:  trigger.New(o.upstream),
		dispatcher: dispatch.New(pool),
		controller: o.controller,
		publisher:  o.publisher,
		store:      o.store,
		emitter:    o.emitter,
		summary:    o.summary,
		ctx:        ctx,
		cancel:     cancel,
		handles:    make(map[string]*Handle),
		history:    o.history,
	}
}

// Start validates the event and begins the run in the background. Invalid
// events return an error matching trigger.ErrInvalidTrigger and start
// nothing. ctx bounds only the validation; the run itself lives until it
// reaches a verdict or the coordinator shuts down.
func (c *Coordinator) Start(ctx context.Context, ev models.Event) (*Handle, error) {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return nil, ErrShuttingDown
	}

	cfg := c.source.Current()
	plan, err := c.evaluator.Evaluate(ctx, cfg, ev)
	if err != nil {
		return nil, err
	}

	g := gate.New(len(cfg.Tiers), plan.Eligible())
	step, err := g.Transition(g.Initial(), gate.Start())
	if err != nil {
		return nil, err
	}

	run := &models.PipelineRun{
		ID:             uuid.New().String(),
		Trigger:        plan.Trigger,
		ConcurrencyKey: plan.Trigger.ConcurrencyKey(),
		Verdict:        models.VerdictPending,
		CreatedAt:      time.Now().UTC(),
	}
	h := newHandle(run)

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, ErrShuttingDown
	}
	c.handles[run.ID] = h
	c.wg.Add(1)
	c.mu.Unlock()

	// Skipped runs take no lease. Everything else claims its key before
	// Start returns, so runs on one key take it in arrival order.
	var lease *concurrency.Lease
	if step.Next.Phase != gate.Skipped {
		lease = c.controller.Register(c.ctx, run.ConcurrencyKey, run.ID)
	}

	log.Printf("[coordinator] run %s accepted: %s (%d of %d tiers eligible)", run.ID, run.Trigger, len(plan.Eligible()), len(cfg.Tiers))
	go c.execute(cfg, plan, g, step, lease, run, h)
	return h, nil
}

// Run starts a run and waits for its verdict.
func (c *Coordinator) Run(ctx context.Context, ev models.Event) (*models.PipelineRun, error) {
	h, err := c.Start(ctx, ev)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// Plan evaluates an event against the current pipeline without running it.
func (c *Coordinator) Plan(ctx context.Context, ev models.Event) (*trigger.Plan, error) {
	return c.evaluator.Evaluate(ctx, c.source.Current(), ev)
}

// Cancel supersedes a running run. Its current tier's jobs are canceled
// and its verdict becomes superseded.
func (c *Coordinator) Cancel(runID string) error {
	if err := c.controller.Cancel(runID); err != nil {
		if errors.Is(err, concurrency.ErrNotActive) {
			c.mu.Lock()
			_, known := c.handles[runID]
			c.mu.Unlock()
			if !known {
				return ErrUnknownRun
			}
		}
		return err
	}
	log.Printf("[coordinator] run %s canceled", runID)
	return nil
}

// Handle returns the handle of a run started by this coordinator.
func (c *Coordinator) Handle(runID string) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[runID]
	return h, ok
}

// Runs returns snapshots of the runs held in memory, newest first.
func (c *Coordinator) Runs() []*models.PipelineRun {
	c.mu.Lock()
	handles := make([]*Handle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	out := make([]*models.PipelineRun, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Active lists runs currently holding a concurrency key.
func (c *Coordinator) Active() []concurrency.ActiveRun {
	return c.controller.Active()
}

// Shutdown stops accepting events and waits for in-flight runs. When ctx
// ends first the remaining runs are superseded and awaited.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		log.Printf("[coordinator] shutdown deadline reached, superseding in-flight runs")
		c.cancel()
		<-done
		return ctx.Err()
	}
}

// execute walks the run through the gate. It owns run; the handle
// receives copies. lease is nil for skipped runs.
func (c *Coordinator) execute(cfg *pipeline.Config, plan *trigger.Plan, g *gate.Gate, step gate.Step, lease *concurrency.Lease, run *models.PipelineRun, h *Handle) {
	defer c.wg.Done()
	defer close(h.done)
	defer c.retire(run.ID)

	c.persist(run, h)
	c.emit(Event{Type: EventRunStarted, RunID: run.ID, Pipeline: cfg.Name, Trigger: run.Trigger.String(), TierCount: len(cfg.Tiers)})

	if step.Next.Phase == gate.Skipped {
		// Nothing to run: no lease, no runner, no jobs.
		for _, ord := range step.Passed {
			run.Tiers = append(run.Tiers, skippedTier(cfg, ord, plan.SkipReason))
		}
		c.finish(cfg, run, h, models.VerdictSkipped)
		return
	}

	if err := lease.WaitTurn(c.ctx); err != nil {
		logging.Debugf("[coordinator] run %s: waiting for %s: %v", run.ID, run.ConcurrencyKey, err)
		c.fillRemaining(cfg, run, models.ReasonSuperseded)
		c.finish(cfg, run, h, lease.Finish(models.VerdictSuperseded))
		return
	}
	defer lease.Release()

	run.Verdict = models.VerdictRunning
	c.recordPassed(cfg, run, step.Passed)
	c.persist(run, h)

	st := step.Next
	for st.Phase == gate.InTier {
		var in gate.Input
		if !lease.BeginTier() {
			in = gate.Cancel()
		} else {
			res := c.runTier(lease.Context(), cfg, plan, run, h, st.Tier)
			run.Tiers = append(run.Tiers, res)
			c.persist(run, h)
			c.emit(Event{Type: EventTierFinished, RunID: run.ID, Pipeline: cfg.Name, Tier: res.Tier, TierName: res.Name, Aggregate: res.Aggregate, Message: res.Reason})

			if res.Reason == models.ReasonSuperseded {
				in = gate.Cancel()
			} else {
				in = gate.TierDone(res.Aggregate)
			}
		}

		step, err := g.Transition(st, in)
		if err != nil {
			log.Printf("[coordinator] run %s: %v", run.ID, err)
			st = gate.State{Phase: gate.Superseded, Tier: st.Tier}
			break
		}
		c.recordPassed(cfg, run, step.Passed)
		st = step.Next
	}

	switch st.Phase {
	case gate.Failed:
		run.FailedTier = st.Tier
		c.fillRemaining(cfg, run, models.ReasonUpstreamFailed)
	case gate.Superseded:
		c.fillRemaining(cfg, run, models.ReasonSuperseded)
	}

	verdict := lease.Finish(st.Phase.Verdict())
	if verdict == models.VerdictSuperseded {
		c.fillRemaining(cfg, run, models.ReasonSuperseded)
	}
	c.finish(cfg, run, h, verdict)
}

// runTier dispatches one tier and reports its job transitions.
func (c *Coordinator) runTier(ctx context.Context, cfg *pipeline.Config, plan *trigger.Plan, run *models.PipelineRun, h *Handle, ordinal int) models.TierResult {
	def, _ := cfg.Tier(ordinal)
	log.Printf("[coordinator] run %s: tier %d (%s) started", run.ID, def.Ordinal, def.Name)
	c.emit(Event{Type: EventTierStarted, RunID: run.ID, Pipeline: cfg.Name, Tier: def.Ordinal, TierName: def.Name})

	skip := make(map[string]string)
	if d, ok := plan.Decision(ordinal); ok {
		for _, jd := range d.Jobs {
			if !jd.Eligible {
				skip[jd.Name] = jd.Reason
			}
		}
	}

	h.beginTier(models.TierResult{Tier: def.Ordinal, Name: def.Name})
	defer h.endTier()

	res := c.dispatcher.RunTier(ctx, dispatch.Request{RunID: run.ID, Tier: def, Skip: skip}, func(job models.Job) {
		h.jobUpdated(job)
		if c.store != nil {
			if err := c.store.SaveJob(context.Background(), job); err != nil {
				log.Printf("[coordinator] run %s: save job %s: %v", run.ID, job.Name, err)
			}
		}
		j := job
		c.emit(Event{Type: EventJobUpdated, RunID: run.ID, Pipeline: cfg.Name, Tier: def.Ordinal, TierName: def.Name, Job: &j})
	})

	log.Printf("[coordinator] run %s: tier %d (%s) %s", run.ID, res.Tier, res.Name, res.Aggregate)
	return res
}

// finish fixes the verdict, publishes when the run qualifies and emits
// the summary.
func (c *Coordinator) finish(cfg *pipeline.Config, run *models.PipelineRun, h *Handle, verdict models.Verdict) {
	sort.Slice(run.Tiers, func(i, j int) bool { return run.Tiers[i].Tier < run.Tiers[j].Tier })
	now := time.Now().UTC()
	run.Verdict = verdict
	run.FinishedAt = &now
	if verdict != models.VerdictFailed {
		run.FailedTier = 0
	}

	if ok, reason := publish.ShouldPublish(run, cfg.Publish, cfg.Terminal()); ok && c.publisher != nil {
		// Publication outlives supersession: the verdict is already fixed.
		outcome, err := c.publisher.Publish(context.Background(), run, cfg.Publish)
		if err != nil && !errors.Is(err, publish.ErrAlreadyPublished) {
			log.Printf("[coordinator] run %s: publish: %v", run.ID, err)
		}
		if outcome != nil {
			run.Publication = outcome
			c.emit(Event{Type: EventArtifactsPublished, RunID: run.ID, Pipeline: cfg.Name, Publication: outcome})
		}
	} else if cfg.Publish.Enabled() {
		logging.Debugf("[coordinator] run %s: not publishing: %s", run.ID, reason)
	}

	c.persist(run, h)

	text := publish.Summarize(run)
	if c.summary != nil {
		publish.RenderSummary(c.summary, run)
	}
	log.Printf("[coordinator] run %s finished: %s", run.ID, run.Verdict)
	c.emit(Event{Type: EventRunFinished, RunID: run.ID, Pipeline: cfg.Name, Trigger: run.Trigger.String(), Verdict: run.Verdict, Message: text})
}

// recordPassed adds skipped results for tiers the gate stepped over.
func (c *Coordinator) recordPassed(cfg *pipeline.Config, run *models.PipelineRun, passed []int) {
	for _, ord := range passed {
		run.Tiers = append(run.Tiers, skippedTier(cfg, ord, models.ReasonNotEligible))
	}
}

// fillRemaining adds skipped results for every tier without one.
func (c *Coordinator) fillRemaining(cfg *pipeline.Config, run *models.PipelineRun, reason string) {
	have := make(map[int]bool, len(run.Tiers))
	for _, t := range run.Tiers {
		have[t.Tier] = true
	}
	for _, def := range cfg.Tiers {
		if !have[def.Ordinal] {
			run.Tiers = append(run.Tiers, skippedTier(cfg, def.Ordinal, reason))
		}
	}
}

func skippedTier(cfg *pipeline.Config, ordinal int, reason string) models.TierResult {
	res := models.TierResult{Tier: ordinal, Aggregate: models.TierSkipped, Reason: reason}
	if def, ok := cfg.Tier(ordinal); ok {
		res.Name = def.Name
	}
	return res
}

func (c *Coordinator) persist(run *models.PipelineRun, h *Handle) {
	h.sync(run)
	if c.store == nil {
		return
	}
	if err := c.store.SaveRun(context.Background(), run); err != nil {
		log.Printf("[coordinator] run %s: save: %v", run.ID, err)
	}
}

func (c *Coordinator) emit(ev Event) {
	if c.emitter != nil {
		c.emitter.Emit(ev)
	}
}

// retire keeps at most history finished runs in memory.
func (c *Coordinator) retire(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = append(c.finished, runID)
	for len(c.finished) > c.history {
		delete(c.handles, c.finished[0])
		c.finished = c.finished[1:]
	}
}
