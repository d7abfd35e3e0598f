// Package gate implements the tier gate: a small explicit state machine that
// decides, after each tier, whether the run continues, stops or ends.
package gate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ShayCichocki/tierci/pkg/models"
)

// ErrIllegalTransition is returned for an input the current phase does not accept.
var ErrIllegalTransition = errors.New("illegal gate transition")

// Phase is the tag of a gate state.
type Phase string

const (
	NotStarted Phase = "not_started"
	InTier     Phase = "in_tier"
	Succeeded  Phase = "succeeded"
	Failed     Phase = "failed"
	Skipped    Phase = "skipped"
	Superseded Phase = "superseded"
)

// Terminal returns true for phases that accept no further input.
func (p Phase) Terminal() bool {
	switch p {
	case Succeeded, Failed, Skipped, Superseded:
		return true
	default:
		return false
	}
}

// Verdict maps a terminal phase to the run verdict.
func (p Phase) Verdict() models.Verdict {
	switch p {
	case Succeeded:
		return models.VerdictSucceeded
	case Failed:
		return models.VerdictFailed
	case Skipped:
		return models.VerdictSkipped
	case Superseded:
		return models.VerdictSuperseded
	case InTier:
		return models.VerdictRunning
	default:
		return models.VerdictPending
	}
}

// State is the gate position. Tier is the current ordinal while InTier, the
// failing ordinal when Failed and the last active ordinal when Superseded.
type State struct {
	Phase Phase
	Tier  int
}

func (s State) String() string {
	if s.Tier == 0 {
		return string(s.Phase)
	}
	return fmt.Sprintf("%s(%d)", s.Phase, s.Tier)
}

// InputKind tags a gate input.
type InputKind string

const (
	InputStart    InputKind = "start"
	InputTierDone InputKind = "tier_done"
	InputCancel   InputKind = "cancel"
)

// Input drives a transition.
type Input struct {
	Kind      InputKind
	Aggregate models.TierAggregate
}

// Start begins the run.
func Start() Input { return Input{Kind: InputStart} }

// TierDone reports the aggregate of the current tier.
func TierDone(agg models.TierAggregate) Input {
	return Input{Kind: InputTierDone, Aggregate: agg}
}

// Cancel reports supersession or manual cancellation.
func Cancel() Input { return Input{Kind: InputCancel} }

// Step is the result of a transition. Passed lists ordinals that were
// stepped over because they are not eligible.
type Step struct {
	Next   State
	Passed []int
}

// Gate holds the immutable tier layout of one run.
type Gate struct {
	total    int
	eligible []int
}

// New creates a gate for tiers 1..total of which eligible may run.
func New(total int, eligible []int) *Gate {
	el := make([]int, 0, len(eligible))
	for _, o := range eligible {
		if o >= 1 && o <= total {
			el = append(el, o)
		}
	}
	sort.Ints(el)
	return &Gate{total: total, eligible: el}
}

// Initial returns the starting state.
func (g *Gate) Initial() State {
	return State{Phase: NotStarted}
}

// Transition computes the next state. It has no side effects.
func (g *Gate) Transition(s State, in Input) (Step, error) {
	if s.Phase.Terminal() {
		return Step{}, fmt.Errorf("%w: %s from %s", ErrIllegalTransition, in.Kind, s)
	}

	switch in.Kind {
	case InputCancel:
		return Step{Next: State{Phase: Superseded, Tier: s.Tier}}, nil

	case InputStart:
		if s.Phase != NotStarted {
			break
		}
		if len(g.eligible) == 0 {
			return Step{Next: State{Phase: Skipped}, Passed: span(1, g.total)}, nil
		}
		return g.advance(0), nil

	case InputTierDone:
		if s.Phase != InTier {
			break
		}
		switch in.Aggregate {
		case models.TierSuccess, models.TierSkipped:
			return g.advance(s.Tier), nil
		case models.TierFailure, models.TierInfraError:
			return Step{Next: State{Phase: Failed, Tier: s.Tier}}, nil
		default:
			return Step{}, fmt.Errorf("%w: unknown aggregate %q", ErrIllegalTransition, in.Aggregate)
		}
	}

	return Step{}, fmt.Errorf("%w: %s from %s", ErrIllegalTransition, in.Kind, s)
}

// advance moves to the first eligible tier after ordinal from.
func (g *Gate) advance(from int) Step {
	for _, o := range g.eligible {
		if o > from {
			return Step{Next: State{Phase: InTier, Tier: o}, Passed: span(from+1, o-1)}
		}
	}
	return Step{Next: State{Phase: Succeeded}, Passed: span(from+1, g.total)}
}

func span(from, to int) []int {
	if from > to {
		return nil
	}
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}
