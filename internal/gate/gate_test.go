package gate

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ShayCichocki/tierci/pkg/models"
)

func TestTransition(t *testing.T) {
	g := New(4, []int{1, 3, 4})

	tests := []struct {
		name       string
		from       State
		input      Input
		want       State
		wantPassed []int
		wantErr    bool
	}{
		{"start enters first eligible", State{Phase: NotStarted}, Start(), State{Phase: InTier, Tier: 1}, nil, false},
		{"success skips ineligible tier", State{Phase: InTier, Tier: 1}, TierDone(models.TierSuccess), State{Phase: InTier, Tier: 3}, []int{2}, false},
		{"skipped aggregate advances", State{Phase: InTier, Tier: 3}, TierDone(models.TierSkipped), State{Phase: InTier, Tier: 4}, nil, false},
		{"last tier success", State{Phase: InTier, Tier: 4}, TierDone(models.TierSuccess), State{Phase: Succeeded}, nil, false},
		{"failure stops", State{Phase: InTier, Tier: 1}, TierDone(models.TierFailure), State{Phase: Failed, Tier: 1}, nil, false},
		{"infra error stops", State{Phase: InTier, Tier: 3}, TierDone(models.TierInfraError), State{Phase: Failed, Tier: 3}, nil, false},
		{"cancel in tier", State{Phase: InTier, Tier: 3}, Cancel(), State{Phase: Superseded, Tier: 3}, nil, false},
		{"cancel before start", State{Phase: NotStarted}, Cancel(), State{Phase: Superseded}, nil, false},

		{"tier done before start", State{Phase: NotStarted}, TierDone(models.TierSuccess), State{}, nil, true},
		{"start twice", State{Phase: InTier, Tier: 1}, Start(), State{}, nil, true},
		{"unknown aggregate", State{Phase: InTier, Tier: 1}, TierDone("partial"), State{}, nil, true},
		{"succeeded is terminal", State{Phase: Succeeded}, Cancel(), State{}, nil, true},
		{"failed is terminal", State{Phase: Failed, Tier: 1}, TierDone(models.TierSuccess), State{}, nil, true},
		{"superseded is terminal", State{Phase: Superseded, Tier: 1}, Cancel(), State{}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, err := g.Transition(tt.from, tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrIllegalTransition) {
					t.Fatalf("Transition(%s, %s) error = %v, want ErrIllegalTransition", tt.from, tt.input.Kind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Transition(%s, %s) error = %v", tt.from, tt.input.Kind, err)
			}
			if step.Next != tt.want {
				t.Errorf("Transition(%s, %s) = %s, want %s", tt.from, tt.input.Kind, step.Next, tt.want)
			}
			if !reflect.DeepEqual(step.Passed, tt.wantPassed) {
				t.Errorf("Passed = %v, want %v", step.Passed, tt.wantPassed)
			}
		})
	}
}

func TestTransition_NothingEligible(t *testing.T) {
	g := New(3, nil)
	step, err := g.Transition(g.Initial(), Start())
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if step.Next.Phase != Skipped {
		t.Errorf("Next = %s, want skipped", step.Next)
	}
	if !reflect.DeepEqual(step.Passed, []int{1, 2, 3}) {
		t.Errorf("Passed = %v, want [1 2 3]", step.Passed)
	}
}

func TestTransition_TrailingIneligibleTiers(t *testing.T) {
	g := New(3, []int{1})
	step, err := g.Transition(State{Phase: InTier, Tier: 1}, TierDone(models.TierSuccess))
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if step.Next.Phase != Succeeded || !reflect.DeepEqual(step.Passed, []int{2, 3}) {
		t.Errorf("step = %+v, want succeeded passing [2 3]", step)
	}
}

// A failing tier never lets a later tier start, whatever the layout.
func TestTransition_FailureNeverReachesLaterTiers(t *testing.T) {
	layouts := [][]int{{1, 2, 3}, {2, 3}, {1, 3}, {3}}
	for _, eligible := range layouts {
		g := New(3, eligible)
		for failAt := range eligible {
			s := g.Initial()
			step, err := g.Transition(s, Start())
			if err != nil {
				t.Fatal(err)
			}
			s = step.Next
			for i := 0; i < failAt; i++ {
				step, err = g.Transition(s, TierDone(models.TierSuccess))
				if err != nil {
					t.Fatal(err)
				}
				s = step.Next
			}
			failing := s.Tier
			step, err = g.Transition(s, TierDone(models.TierFailure))
			if err != nil {
				t.Fatal(err)
			}
			if step.Next.Phase != Failed || step.Next.Tier != failing {
				t.Errorf("eligible %v failing at %d: next = %s", eligible, failing, step.Next)
			}
			if len(step.Passed) != 0 {
				t.Errorf("failure should not pass over tiers, got %v", step.Passed)
			}
			if _, err := g.Transition(step.Next, Start()); !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("failed state should reject further input")
			}
		}
	}
}

func TestPhase_Verdict(t *testing.T) {
	tests := []struct {
		phase Phase
		want  models.Verdict
	}{
		{NotStarted, models.VerdictPending},
		{InTier, models.VerdictRunning},
		{Succeeded, models.VerdictSucceeded},
		{Failed, models.VerdictFailed},
		{Skipped, models.VerdictSkipped},
		{Superseded, models.VerdictSuperseded},
	}
	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			if got := tt.phase.Verdict(); got != tt.want {
				t.Errorf("Phase(%q).Verdict() = %q, want %q", tt.phase, got, tt.want)
			}
		})
	}
}
