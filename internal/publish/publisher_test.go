package publish

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ShayCichocki/tierci/internal/pipeline"
	"github.com/ShayCichocki/tierci/pkg/models"
)

// memStorage records uploads in memory.
type memStorage struct {
	mu      sync.Mutex
	uploads []Upload
	err     error
}

func (m *memStorage) Put(_ context.Context, up Upload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.uploads = append(m.uploads, up)
	return "mem://" + up.Release + "/" + up.Artifact.Name, nil
}

func publishSpec() pipeline.PublishSpec {
	return pipeline.PublishSpec{
		Branches:  []string{"main", "release/*"},
		Tags:      []string{"v*"},
		Targets:   []models.ArtifactTarget{{Kind: models.ArtifactObjectStore, Destination: "s3://bucket/ci"}},
		Artifacts: []models.Artifact{{Name: "binary", Path: "/dist/tierci"}},
	}
}

func succeededRun(kind models.EventKind, refKind models.RefKind, ref string) *models.PipelineRun {
	return &models.PipelineRun{
		ID:      "0f8fad5b-d9cb-469f-a165-70867728950e",
		Trigger: models.TriggerContext{Kind: kind, RefKind: refKind, Ref: ref, Pipeline: "ci"},
		Verdict: models.VerdictSucceeded,
		Tiers: []models.TierResult{
			{Tier: 1, Name: "lint", Aggregate: models.TierSuccess},
			{Tier: 2, Name: "release", Aggregate: models.TierSuccess},
		},
	}
}

func TestShouldPublish(t *testing.T) {
	failed := succeededRun(models.EventPush, models.RefBranch, "main")
	failed.Verdict = models.VerdictFailed

	terminalSkipped := succeededRun(models.EventPush, models.RefBranch, "main")
	terminalSkipped.Tiers[1].Aggregate = models.TierSkipped

	tests := []struct {
		name string
		run  *models.PipelineRun
		spec pipeline.PublishSpec
		want bool
	}{
		{"main branch", succeededRun(models.EventPush, models.RefBranch, "main"), publishSpec(), true},
		{"release branch glob", succeededRun(models.EventPush, models.RefBranch, "release/2.x"), publishSpec(), true},
		{"feature branch", succeededRun(models.EventPush, models.RefBranch, "feature/x"), publishSpec(), false},
		{"version tag", succeededRun(models.EventTag, models.RefTag, "v1.2.0"), publishSpec(), true},
		{"other tag", succeededRun(models.EventTag, models.RefTag, "nightly"), publishSpec(), false},
		{"proposed change", succeededRun(models.EventProposedChange, models.RefChange, "12"), publishSpec(), false},
		{"failed verdict", failed, publishSpec(), false},
		{"terminal tier skipped", terminalSkipped, publishSpec(), false},
		{"nothing configured", succeededRun(models.EventPush, models.RefBranch, "main"), pipeline.PublishSpec{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := ShouldPublish(tt.run, tt.spec, 2)
			if got != tt.want {
				t.Errorf("ShouldPublish() = %v (%s), want %v", got, reason, tt.want)
			}
			if !got && reason == "" {
				t.Error("a refusal should carry a reason")
			}
		})
	}
}

func TestPublish_TagRunIsDraft(t *testing.T) {
	store := &memStorage{}
	p := New("")
	p.Register(models.ArtifactObjectStore, store)

	out, err := p.Publish(context.Background(), succeededRun(models.EventTag, models.RefTag, "v1.2.0"), publishSpec())
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !out.Draft {
		t.Error("tag runs should be staged as drafts")
	}
	if len(store.uploads) != 1 || !store.uploads[0].Draft || store.uploads[0].Release != "v1.2.0" {
		t.Errorf("uploads = %+v", store.uploads)
	}
	if out.Failed() {
		t.Errorf("outcome should not fail: %+v", out)
	}
}

func TestPublish_BranchRunIsPublic(t *testing.T) {
	store := &memStorage{}
	p := New("/checkout")
	p.Register(models.ArtifactObjectStore, store)
	spec := publishSpec()
	spec.Artifacts = []models.Artifact{{Name: "binary", Path: "dist/tierci"}}

	out, err := p.Publish(context.Background(), succeededRun(models.EventPush, models.RefBranch, "release/2.x"), spec)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if out.Draft {
		t.Error("branch runs should publish directly")
	}
	up := store.uploads[0]
	if up.Artifact.Path != "/checkout/dist/tierci" {
		t.Errorf("artifact path = %q, want resolved against base dir", up.Artifact.Path)
	}
	if up.Release != "release-2.x-0f8fad5b" {
		t.Errorf("release = %q", up.Release)
	}
}

func TestPublish_AtMostOncePerRun(t *testing.T) {
	store := &memStorage{}
	p := New("")
	p.Register(models.ArtifactObjectStore, store)
	run := succeededRun(models.EventPush, models.RefBranch, "main")

	first, err := p.Publish(context.Background(), run, publishSpec())
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	second, err := p.Publish(context.Background(), run, publishSpec())
	if !errors.Is(err, ErrAlreadyPublished) {
		t.Errorf("second Publish() error = %v, want ErrAlreadyPublished", err)
	}
	if second != first {
		t.Error("second Publish() should return the first outcome")
	}
	if len(store.uploads) != 1 {
		t.Errorf("uploads = %d, want 1", len(store.uploads))
	}
}

func TestPublish_FailuresAreRecorded(t *testing.T) {
	p := New("")
	p.Register(models.ArtifactObjectStore, &memStorage{err: errors.New("access denied")})
	spec := publishSpec()
	spec.Targets = append(spec.Targets, models.ArtifactTarget{Kind: models.ArtifactReleaseChannel, Destination: "stable"})
	run := succeededRun(models.EventPush, models.RefBranch, "main")

	out, err := p.Publish(context.Background(), run, spec)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !out.Failed() || len(out.Deliveries) != 2 {
		t.Fatalf("deliveries = %+v", out.Deliveries)
	}
	if out.Deliveries[0].Error != "access denied" {
		t.Errorf("first delivery error = %q", out.Deliveries[0].Error)
	}
	if out.Deliveries[1].Error == "" {
		t.Error("target without storage should record an error")
	}
	if run.Verdict != models.VerdictSucceeded {
		t.Error("publication failure must not change the verdict")
	}
}
