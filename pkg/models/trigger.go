package models

import (
	"fmt"
	"strings"
)

// EventKind is the kind of change event that triggers a pipeline run.
type EventKind string

const (
	// EventPush is a push to a branch.
	EventPush EventKind = "push"
	// EventProposedChange is an opened or updated pull/merge request.
	EventProposedChange EventKind = "proposed_change"
	// EventScheduled is a periodic run.
	EventScheduled EventKind = "scheduled"
	// EventManual is an operator-invoked run.
	EventManual EventKind = "manual"
	// EventTag is a tag push.
	EventTag EventKind = "tag"
)

// Valid returns true if the kind is a known value.
func (k EventKind) Valid() bool {
	switch k {
	case EventPush, EventProposedChange, EventScheduled, EventManual, EventTag:
		return true
	default:
		return false
	}
}

// ParseEventKind converts a string into an EventKind.
// It accepts a few common aliases used by forges ("pull_request", "schedule").
func ParseEventKind(s string) (EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "push":
		return EventPush, nil
	case "proposed_change", "pull_request", "merge_request", "pr", "mr":
		return EventProposedChange, nil
	case "scheduled", "schedule", "cron":
		return EventScheduled, nil
	case "manual", "dispatch", "workflow_dispatch":
		return EventManual, nil
	case "tag":
		return EventTag, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", s)
	}
}

// RefKind classifies the identity a ref refers to.
type RefKind string

const (
	RefBranch RefKind = "branch"
	RefTag    RefKind = "tag"
	RefChange RefKind = "change"
)

// Event is the raw descriptor handed to the ingress.
type Event struct {
	// Kind is the event kind.
	Kind EventKind `json:"kind" yaml:"kind"`
	// Ref is a branch name, a tag name, or a proposed-change number.
	Ref string `json:"ref" yaml:"ref"`
	// ChangedPaths lists repository-relative paths touched by the change.
	// Empty means unknown, which disables path filtering.
	ChangedPaths []string `json:"changed_paths,omitempty" yaml:"changed_paths,omitempty"`
	// Draft marks a proposed change that is still a draft.
	Draft bool `json:"draft,omitempty" yaml:"draft,omitempty"`
	// Pipeline names the pipeline the event targets. Empty means the loaded one.
	Pipeline string `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	// UpstreamRunID references a finished run that chains into this one.
	UpstreamRunID string `json:"upstream_run_id,omitempty" yaml:"upstream_run_id,omitempty"`
	// CommitSHA is informational and shown in summaries.
	CommitSHA string `json:"commit_sha,omitempty" yaml:"commit_sha,omitempty"`
}

// TriggerContext is the validated, immutable view of an Event that
// eligibility predicates are evaluated against.
type TriggerContext struct {
	Kind          EventKind `json:"kind"`
	RefKind       RefKind   `json:"ref_kind"`
	Ref           string    `json:"ref"`
	ChangedPaths  []string  `json:"changed_paths,omitempty"`
	Draft         bool      `json:"draft,omitempty"`
	Pipeline      string    `json:"pipeline"`
	UpstreamRunID string    `json:"upstream_run_id,omitempty"`
	CommitSHA     string    `json:"commit_sha,omitempty"`
}

// Chained reports whether the run was triggered by an upstream run.
func (c TriggerContext) Chained() bool {
	return c.UpstreamRunID != ""
}

// ConcurrencyKey identifies runs that supersede each other.
// Two events for the same pipeline and the same ref identity share a key.
func (c TriggerContext) ConcurrencyKey() string {
	return fmt.Sprintf("%s/%s:%s", c.Pipeline, c.RefKind, c.Ref)
}

// String returns a short description such as "push main".
func (c TriggerContext) String() string {
	switch c.RefKind {
	case RefChange:
		return fmt.Sprintf("%s #%s", c.Kind, c.Ref)
	default:
		return fmt.Sprintf("%s %s", c.Kind, c.Ref)
	}
}
