// Package trigger turns raw change events into validated trigger contexts
// and decides which tiers and jobs are eligible to run.
package trigger

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/ShayCichocki/tierci/internal/pipeline"
	"github.com/ShayCichocki/tierci/pkg/models"
)

// UpstreamResolver looks up the run a chained trigger names. UpstreamRun
// returns nil when the run does not exist.
type UpstreamResolver interface {
	UpstreamRun(ctx context.Context, runID string) (*models.PipelineRun, error)
}

// TierDecision is the eligibility outcome for one tier.
type TierDecision struct {
	Ordinal  int
	Name     string
	Eligible bool
	Reason   string
	Jobs     []JobDecision
}

// JobDecision is the eligibility outcome for one job of an eligible tier.
type JobDecision struct {
	Name     string
	Eligible bool
	Reason   string
}

// Plan is the result of evaluating an event against a pipeline snapshot.
type Plan struct {
	Trigger models.TriggerContext
	Tiers   []TierDecision
	// SkipReason is set when no tier is eligible.
	SkipReason string
}

// Eligible returns the ordinals of eligible tiers in ascending order.
func (p *Plan) Eligible() []int {
	var out []int
	for _, d := range p.Tiers {
		if d.Eligible {
			out = append(out, d.Ordinal)
		}
	}
	return out
}

// IsEligible reports whether the tier with the given ordinal is eligible.
func (p *Plan) IsEligible(ordinal int) bool {
	d, ok := p.Decision(ordinal)
	return ok && d.Eligible
}

// Decision returns the decision for a tier.
func (p *Plan) Decision(ordinal int) (TierDecision, bool) {
	for _, d := range p.Tiers {
		if d.Ordinal == ordinal {
			return d, true
		}
	}
	return TierDecision{}, false
}

// Skipped reports whether the run has nothing to execute.
func (p *Plan) Skipped() bool {
	return len(p.Eligible()) == 0
}

// Evaluator validates events and computes plans.
type Evaluator struct {
	// Upstream is optional. When set, chained triggers must reference a
	// known, succeeded run.
	Upstream UpstreamResolver
}

// New creates an evaluator with an optional upstream resolver.
func New(upstream UpstreamResolver) *Evaluator {
	return &Evaluator{Upstream: upstream}
}

// Evaluate validates the event and computes which tiers and jobs are
// eligible. Malformed events return an error matching ErrInvalidTrigger.
func (e *Evaluator) Evaluate(ctx context.Context, cfg *pipeline.Config, ev models.Event) (*Plan, error) {
	tc, err := e.Context(ctx, cfg, ev)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Trigger: tc}

	if excluded(cfg.PathsIgnore, tc) {
		plan.SkipReason = models.ReasonPathsExcluded
		for _, tier := range cfg.Tiers {
			plan.Tiers = append(plan.Tiers, TierDecision{
				Ordinal: tier.Ordinal,
				Name:    tier.Name,
				Reason:  "all changed paths are ignored",
			})
		}
		return plan, nil
	}

	for _, tier := range cfg.Tiers {
		d := TierDecision{Ordinal: tier.Ordinal, Name: tier.Name}
		d.Eligible, d.Reason = Eligible(tier.When, tc)
		if d.Eligible {
			for _, job := range tier.Jobs {
				jd := JobDecision{Name: job.Name}
				jd.Eligible, jd.Reason = Eligible(job.When, tc)
				d.Jobs = append(d.Jobs, jd)
			}
		}
		plan.Tiers = append(plan.Tiers, d)
	}
	if plan.Skipped() {
		plan.SkipReason = models.ReasonNotEligible
	}
	return plan, nil
}

// excluded reports whether every changed path of a push or proposed change
// matches the pipeline-level ignore list.
func excluded(ignore []string, tc models.TriggerContext) bool {
	if len(ignore) == 0 || len(tc.ChangedPaths) == 0 {
		return false
	}
	if tc.Kind != models.EventPush && tc.Kind != models.EventProposedChange {
		return false
	}
	for _, p := range tc.ChangedPaths {
		if !pipeline.MatchAny(ignore, p) {
			return false
		}
	}
	return true
}

// Context validates an event and builds its trigger context.
func (e *Evaluator) Context(ctx context.Context, cfg *pipeline.Config, ev models.Event) (models.TriggerContext, error) {
	if !ev.Kind.Valid() {
		return models.TriggerContext{}, invalidf("kind", "unknown event kind %q", ev.Kind)
	}
	if ev.Pipeline != "" && ev.Pipeline != cfg.Name {
		return models.TriggerContext{}, invalidf("pipeline", "event targets %q but pipeline is %q", ev.Pipeline, cfg.Name)
	}

	tc := models.TriggerContext{
		Kind:          ev.Kind,
		Pipeline:      cfg.Name,
		Draft:         ev.Draft,
		UpstreamRunID: strings.TrimSpace(ev.UpstreamRunID),
		CommitSHA:     ev.CommitSHA,
	}

	ref := strings.TrimSpace(ev.Ref)
	switch ev.Kind {
	case models.EventPush:
		tc.RefKind = models.RefBranch
		tc.Ref = strings.TrimPrefix(ref, "refs/heads/")
	case models.EventTag:
		tc.RefKind = models.RefTag
		tc.Ref = strings.TrimPrefix(ref, "refs/tags/")
	case models.EventProposedChange:
		tc.RefKind = models.RefChange
		tc.Ref = strings.TrimPrefix(ref, "#")
		if tc.Ref != "" {
			if n, err := strconv.Atoi(tc.Ref); err != nil || n <= 0 {
				return models.TriggerContext{}, invalidf("ref", "proposed change number %q is not a positive integer", ev.Ref)
			}
		}
	case models.EventScheduled, models.EventManual:
		tc.RefKind = models.RefBranch
		tc.Ref = strings.TrimPrefix(ref, "refs/heads/")
		if tc.Ref == "" {
			tc.Ref = cfg.DefaultBranch
		}
	}
	if tc.Ref == "" {
		return models.TriggerContext{}, invalidf("ref", "%s events require a ref", ev.Kind)
	}

	if ev.Draft && ev.Kind != models.EventProposedChange {
		return models.TriggerContext{}, invalidf("draft", "only proposed changes can be drafts")
	}

	paths, err := cleanPaths(ev.ChangedPaths)
	if err != nil {
		return models.TriggerContext{}, err
	}
	tc.ChangedPaths = paths

	if tc.UpstreamRunID != "" {
		if err := e.checkUpstream(ctx, tc); err != nil {
			return models.TriggerContext{}, err
		}
	}

	return tc, nil
}

func cleanPaths(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, invalidf("changed_paths", "empty path")
		}
		if strings.HasPrefix(p, "/") {
			return nil, invalidf("changed_paths", "path %q must be relative to the repository root", p)
		}
		clean := path.Clean(p)
		if clean == ".." || strings.HasPrefix(clean, "../") {
			return nil, invalidf("changed_paths", "path %q escapes the repository", p)
		}
		out = append(out, clean)
	}
	return out, nil
}

func (e *Evaluator) checkUpstream(ctx context.Context, tc models.TriggerContext) error {
	switch tc.Kind {
	case models.EventPush, models.EventProposedChange, models.EventTag:
	default:
		return invalidf("upstream_run_id", "%s events cannot be chained", tc.Kind)
	}
	if e.Upstream == nil {
		return nil
	}

	up, err := e.Upstream.UpstreamRun(ctx, tc.UpstreamRunID)
	if err != nil {
		return fmt.Errorf("resolve upstream run %s: %w", tc.UpstreamRunID, err)
	}
	if up == nil {
		return invalidf("upstream_run_id", "run %s not found", tc.UpstreamRunID)
	}
	// The cheaper tiers must have passed for this very change.
	if key := up.Trigger.ConcurrencyKey(); key != tc.ConcurrencyKey() {
		return invalidf("upstream_run_id", "run %s belongs to %s, not %s", tc.UpstreamRunID, key, tc.ConcurrencyKey())
	}
	if up.Verdict != models.VerdictSucceeded {
		return invalidf("upstream_run_id", "run %s is %s, not succeeded", tc.UpstreamRunID, up.Verdict)
	}
	return nil
}
