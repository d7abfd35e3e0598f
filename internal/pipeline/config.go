// Package pipeline defines tiered pipeline definitions and loads them from
// YAML, HCL or TOML files.
package pipeline

import (
	"time"

	"github.com/ShayCichocki/tierci/pkg/models"
)

// FailPolicy controls what a tier does when one of its jobs fails.
type FailPolicy string

const (
	// StopOnFirst cancels sibling jobs as soon as one job fails.
	StopOnFirst FailPolicy = "stop_on_first"
	// CollectAll waits for every job before aggregating.
	CollectAll FailPolicy = "collect_all"
)

// ChainMode restricts a tier to chained or unchained runs.
type ChainMode string

const (
	ChainAny   ChainMode = "any"
	ChainOnly  ChainMode = "only"
	ChainNever ChainMode = "never"
)

// Default values applied when a definition leaves a field empty.
const (
	DefaultBranch       = "main"
	DefaultTierTimeout  = 30 * time.Minute
	MaxInfraRetries     = 5
	DefaultTimeoutClass = models.JobFailure
)

// Predicate is an eligibility rule evaluated against a trigger context.
// Empty lists place no restriction.
type Predicate struct {
	Events      []models.EventKind
	Branches    []string
	Tags        []string
	Paths       []string
	PathsIgnore []string
	SkipDraft   bool
	Chained     ChainMode
}

// JobDefinition describes one opaque check inside a tier.
type JobDefinition struct {
	Name    string
	Command string
	// Image selects a container image when the runner class uses docker.
	Image string
	// Timeout overrides the tier timeout when non-zero.
	Timeout time.Duration
	Env     map[string]string
	When    Predicate
}

// TierDefinition is one ordered stage of verification.
type TierDefinition struct {
	Ordinal  int
	Name     string
	Runner   models.RunnerClass
	FailFast FailPolicy
	// Timeout is the per-job default timeout.
	Timeout time.Duration
	// TimeoutResult classifies an expired job: failure or infra_error.
	TimeoutResult models.JobResult
	// InfraRetries bounds re-execution of jobs that end in infra_error.
	InfraRetries int
	When         Predicate
	Jobs         []JobDefinition
}

// JobTimeout returns the effective timeout for a job in this tier.
func (t *TierDefinition) JobTimeout(job JobDefinition) time.Duration {
	if job.Timeout > 0 {
		return job.Timeout
	}
	return t.Timeout
}

// PublishSpec describes where the terminal tier's artifacts go and for which refs.
type PublishSpec struct {
	Branches  []string
	Tags      []string
	Targets   []models.ArtifactTarget
	Artifacts []models.Artifact
}

// Enabled returns true if there is anything to publish.
func (p PublishSpec) Enabled() bool {
	return len(p.Targets) > 0 && len(p.Artifacts) > 0
}

// Config is an immutable pipeline snapshot. A run receives the snapshot
// current at its start and never observes later reloads.
type Config struct {
	Name          string
	DefaultBranch string
	// PathsIgnore excludes whole runs when every changed path matches.
	PathsIgnore []string
	// Tiers are sorted by ordinal, 1..N without gaps.
	Tiers   []TierDefinition
	Publish PublishSpec
	// Source is the file the snapshot was loaded from, if any.
	Source string
}

// Tier returns the tier with the given ordinal.
func (c *Config) Tier(ordinal int) (*TierDefinition, bool) {
	if ordinal < 1 || ordinal > len(c.Tiers) {
		return nil, false
	}
	return &c.Tiers[ordinal-1], true
}

// Terminal returns the ordinal of the last tier.
func (c *Config) Terminal() int {
	return len(c.Tiers)
}

// Source supplies the pipeline snapshot for new runs.
type Source interface {
	Current() *Config
}

// Static is a Source that always returns the same snapshot.
type Static struct {
	Config *Config
}

// Current implements Source.
func (s Static) Current() *Config {
	return s.Config
}
