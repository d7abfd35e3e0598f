package trigger

import (
	"fmt"
	"slices"

	"github.com/ShayCichocki/tierci/internal/pipeline"
	"github.com/ShayCichocki/tierci/pkg/models"
)

// Eligible evaluates a predicate against a trigger context. It is a pure
// function: the same inputs always give the same answer. When the answer is
// false, reason says which term rejected the context.
//
// Manual events bypass the ref and path terms; only events and chained apply.
func Eligible(p pipeline.Predicate, tc models.TriggerContext) (ok bool, reason string) {
	if len(p.Events) > 0 && !slices.Contains(p.Events, tc.Kind) {
		return false, fmt.Sprintf("event %s not selected", tc.Kind)
	}

	switch p.Chained {
	case pipeline.ChainOnly:
		if !tc.Chained() {
			return false, "runs only for chained triggers"
		}
	case pipeline.ChainNever:
		if tc.Chained() {
			return false, "does not run for chained triggers"
		}
	}

	if tc.Kind == models.EventManual {
		return true, ""
	}

	if p.SkipDraft && tc.Draft {
		return false, "skipped for draft changes"
	}

	if ok, reason := refAllowed(p, tc); !ok {
		return false, reason
	}

	if ok, reason := pathsAllowed(p, tc.ChangedPaths); !ok {
		return false, reason
	}

	return true, ""
}

// refAllowed applies the branch and tag filters. Listing only branches
// excludes tags and vice versa. Proposed changes are not ref-filtered.
func refAllowed(p pipeline.Predicate, tc models.TriggerContext) (bool, string) {
	if len(p.Branches) == 0 && len(p.Tags) == 0 {
		return true, ""
	}
	switch tc.RefKind {
	case models.RefBranch:
		if len(p.Branches) == 0 {
			return false, "branches not selected"
		}
		if !pipeline.MatchAny(p.Branches, tc.Ref) {
			return false, fmt.Sprintf("branch %s not selected", tc.Ref)
		}
	case models.RefTag:
		if len(p.Tags) == 0 {
			return false, "tags not selected"
		}
		if !pipeline.MatchAny(p.Tags, tc.Ref) {
			return false, fmt.Sprintf("tag %s not selected", tc.Ref)
		}
	}
	return true, ""
}

// pathsAllowed requires at least one changed path that is selected and not
// ignored. Unknown changed paths never filter.
func pathsAllowed(p pipeline.Predicate, changed []string) (bool, string) {
	if len(changed) == 0 || (len(p.Paths) == 0 && len(p.PathsIgnore) == 0) {
		return true, ""
	}
	for _, path := range changed {
		if len(p.Paths) > 0 && !pipeline.MatchAny(p.Paths, path) {
			continue
		}
		if pipeline.MatchAny(p.PathsIgnore, path) {
			continue
		}
		return true, ""
	}
	return false, "no relevant changed paths"
}
