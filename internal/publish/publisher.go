// Package publish forwards terminal-tier artifacts to storage and renders
// run summaries.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/tierci/internal/pipeline"
	"github.com/ShayCichocki/tierci/pkg/models"
)

// ErrAlreadyPublished is returned when a run's artifacts were already handed
// off. The previous outcome is returned with it once that publication has
// completed.
var ErrAlreadyPublished = errors.New("run already published")

// Upload is one artifact bound for one target.
type Upload struct {
	Artifact models.Artifact
	Target   models.ArtifactTarget
	// Draft uploads are staged for manual promotion instead of being made public.
	Draft bool
	// Release names the release the artifact belongs to: the tag for tag
	// runs, otherwise the branch and a short run ID.
	Release string
}

// Storage receives artifacts for one kind of target.
type Storage interface {
	// Put uploads an artifact and returns where it landed.
	Put(ctx context.Context, up Upload) (location string, err error)
}

// ReleaseName derives the release identifier for a run.
func ReleaseName(run *models.PipelineRun) string {
	if run.Trigger.RefKind == models.RefTag {
		return run.Trigger.Ref
	}
	id := run.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ReplaceAll(run.Trigger.Ref, "/", "-") + "-" + id
}

// Publisher hands artifacts to storage at most once per run.
type Publisher struct {
	mu        sync.Mutex
	stores    map[models.ArtifactKind]Storage
	published map[string]*models.PublicationOutcome

	// BaseDir resolves relative artifact paths.
	BaseDir string
}

// New creates a publisher with no storage registered.
func New(baseDir string) *Publisher {
	return &Publisher{
		stores:    make(map[models.ArtifactKind]Storage),
		published: make(map[string]*models.PublicationOutcome),
		BaseDir:   baseDir,
	}
}

// Register sets the storage used for a target kind.
func (p *Publisher) Register(kind models.ArtifactKind, s Storage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stores[kind] = s
}

// ShouldPublish reports whether a finished run qualifies for publication:
// the verdict is succeeded, the terminal tier actually ran to success and
// the ref is listed in the publish spec. Proposed changes never publish.
func ShouldPublish(run *models.PipelineRun, spec pipeline.PublishSpec, terminal int) (bool, string) {
	if !spec.Enabled() {
		return false, "nothing to publish"
	}
	if run.Verdict != models.VerdictSucceeded {
		return false, fmt.Sprintf("verdict is %s", run.Verdict)
	}
	last, ok := run.Tier(terminal)
	if !ok || last.Aggregate != models.TierSuccess {
		return false, "terminal tier did not run"
	}

	tc := run.Trigger
	switch tc.RefKind {
	case models.RefBranch:
		if pipeline.MatchAny(spec.Branches, tc.Ref) {
			return true, ""
		}
		return false, fmt.Sprintf("branch %s is not a publication branch", tc.Ref)
	case models.RefTag:
		if pipeline.MatchAny(spec.Tags, tc.Ref) {
			return true, ""
		}
		return false, fmt.Sprintf("tag %s is not a publication tag", tc.Ref)
	default:
		return false, "proposed changes are never published"
	}
}

// Publish uploads every artifact to every target. Tag runs are staged as
// drafts. Delivery failures are recorded in the outcome and never change
// the run verdict.
func (p *Publisher) Publish(ctx context.Context, run *models.PipelineRun, spec pipeline.PublishSpec) (*models.PublicationOutcome, error) {
	p.mu.Lock()
	if prev, ok := p.published[run.ID]; ok {
		p.mu.Unlock()
		return prev, ErrAlreadyPublished
	}
	outcome := &models.PublicationOutcome{
		Draft:       run.Trigger.RefKind == models.RefTag,
		AttemptedAt: time.Now().UTC(),
	}
	// Reserve the run ID; the outcome is stored once complete.
	p.published[run.ID] = nil
	stores := make(map[models.ArtifactKind]Storage, len(p.stores))
	for k, v := range p.stores {
		stores[k] = v
	}
	p.mu.Unlock()

	release := ReleaseName(run)
	for _, artifact := range spec.Artifacts {
		if p.BaseDir != "" && !filepath.IsAbs(artifact.Path) {
			artifact.Path = filepath.Join(p.BaseDir, artifact.Path)
		}
		for _, target := range spec.Targets {
			d := models.Delivery{Artifact: artifact.Name, Target: target}
			store, ok := stores[target.Kind]
			if !ok {
				d.Error = fmt.Sprintf("no storage configured for %s targets", target.Kind)
			} else if loc, err := store.Put(ctx, Upload{Artifact: artifact, Target: target, Draft: outcome.Draft, Release: release}); err != nil {
				d.Error = err.Error()
			} else {
				d.Location = loc
			}
			if d.Error != "" {
				log.Printf("[publish] run %s: %s -> %s failed: %s", run.ID, artifact.Name, target.Destination, d.Error)
			}
			outcome.Deliveries = append(outcome.Deliveries, d)
		}
	}

	p.mu.Lock()
	p.published[run.ID] = outcome
	p.mu.Unlock()
	return outcome, nil
}
