package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ShayCichocki/tierci/pkg/models"
)

// setEventFlags sets the shared event flag variables and restores them on cleanup.
func setEventFlags(t *testing.T, eventFile, kind, ref string, paths []string, draft bool) {
	t.Helper()
	prev := []any{runEventFile, runKind, runRef, runPaths, runDraft, runUpstream, runSHA}
	t.Cleanup(func() {
		runEventFile = prev[0].(string)
		runKind = prev[1].(string)
		runRef = prev[2].(string)
		runPaths = prev[3].([]string)
		runDraft = prev[4].(bool)
		runUpstream = prev[5].(string)
		runSHA = prev[6].(string)
	})
	runEventFile, runKind, runRef, runPaths, runDraft = eventFile, kind, ref, paths, draft
	runUpstream, runSHA = "", ""
}

func TestEventFromFlags(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		ref      string
		paths    []string
		draft    bool
		wantKind models.EventKind
		wantErr  bool
	}{
		{"push", "push", "main", []string{"a.go"}, false, models.EventPush, false},
		{"pull request alias", "pull_request", "42", nil, true, models.EventProposedChange, false},
		{"tag", "tag", "v1.0.0", nil, false, models.EventTag, false},
		{"cron alias", "cron", "", nil, false, models.EventScheduled, false},
		{"unknown kind", "deploy", "main", nil, false, "", true},
		{"missing kind", "", "main", nil, false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEventFlags(t, "", tt.kind, tt.ref, tt.paths, tt.draft)

			ev, err := eventFromFlags()
			if (err != nil) != tt.wantErr {
				t.Fatalf("eventFromFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if ev.Kind != tt.wantKind || ev.Ref != tt.ref || ev.Draft != tt.draft {
				t.Errorf("event = %+v", ev)
			}
			if len(ev.ChangedPaths) != len(tt.paths) {
				t.Errorf("ChangedPaths = %v, want %v", ev.ChangedPaths, tt.paths)
			}
		})
	}
}

func TestEventFromFlags_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event.yaml")
	data := "kind: tag\nref: v2.0.0\ncommit_sha: abc123\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	setEventFlags(t, path, "", "", nil, false)
	ev, err := eventFromFlags()
	if err != nil {
		t.Fatalf("eventFromFlags() error = %v", err)
	}
	if ev.Kind != models.EventTag || ev.Ref != "v2.0.0" || ev.CommitSHA != "abc123" {
		t.Errorf("event = %+v", ev)
	}

	setEventFlags(t, path, "push", "", nil, false)
	if _, err := eventFromFlags(); err == nil {
		t.Error("expected error combining --event with --kind")
	}
}

func TestVerdictError(t *testing.T) {
	tests := []struct {
		verdict models.Verdict
		want    error
	}{
		{models.VerdictSucceeded, nil},
		{models.VerdictSkipped, nil},
		{models.VerdictFailed, errRunFailed},
		{models.VerdictSuperseded, errRunSuperseded},
	}

	for _, tt := range tests {
		t.Run(string(tt.verdict), func(t *testing.T) {
			err := verdictError(&models.PipelineRun{Verdict: tt.verdict, FailedTier: 2})
			if tt.want == nil {
				if err != nil {
					t.Errorf("verdictError() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("verdictError() = %v, want %v", err, tt.want)
			}
		})
	}

	if err := verdictError(&models.PipelineRun{Verdict: models.VerdictRunning}); err == nil {
		t.Error("a non-terminal verdict must not exit cleanly")
	}
}

type fakeCheckout struct {
	branch string
	tag    string
	paths  []string
	base   string
}

func (f *fakeCheckout) CurrentBranch() (string, error) { return f.branch, nil }
func (f *fakeCheckout) HeadSHA() (string, error)       { return "deadbeef", nil }
func (f *fakeCheckout) ExactTag() (string, error)      { return f.tag, nil }
func (f *fakeCheckout) ChangedFilesRelative(head, base string) ([]string, error) {
	f.base = base
	return f.paths, nil
}

func TestFillFromCheckout(t *testing.T) {
	t.Run("push takes branch, sha and paths", func(t *testing.T) {
		g := &fakeCheckout{branch: "feature-x", paths: []string{"a.go"}}
		ev := models.Event{Kind: models.EventPush}
		if err := fillFromCheckout(&ev, g, "origin/main"); err != nil {
			t.Fatal(err)
		}
		if ev.Ref != "feature-x" || ev.CommitSHA != "deadbeef" || len(ev.ChangedPaths) != 1 {
			t.Errorf("event = %+v", ev)
		}
		if g.base != "origin/main" {
			t.Errorf("diffed against %q, want origin/main", g.base)
		}
	})

	t.Run("explicit fields are kept", func(t *testing.T) {
		g := &fakeCheckout{branch: "feature-x", paths: []string{"a.go"}}
		ev := models.Event{Kind: models.EventPush, Ref: "main", CommitSHA: "abc", ChangedPaths: []string{"b.go"}}
		if err := fillFromCheckout(&ev, g, "origin/main"); err != nil {
			t.Fatal(err)
		}
		if ev.Ref != "main" || ev.CommitSHA != "abc" || ev.ChangedPaths[0] != "b.go" {
			t.Errorf("event = %+v", ev)
		}
	})

	t.Run("tag uses exact tag and no paths", func(t *testing.T) {
		g := &fakeCheckout{tag: "v1.2.0", paths: []string{"a.go"}}
		ev := models.Event{Kind: models.EventTag}
		if err := fillFromCheckout(&ev, g, "origin/main"); err != nil {
			t.Fatal(err)
		}
		if ev.Ref != "v1.2.0" || ev.ChangedPaths != nil {
			t.Errorf("event = %+v", ev)
		}
	})

	t.Run("errors", func(t *testing.T) {
		cases := []struct {
			name string
			g    *fakeCheckout
			kind models.EventKind
		}{
			{"untagged head", &fakeCheckout{}, models.EventTag},
			{"detached head", &fakeCheckout{branch: "HEAD"}, models.EventPush},
			{"proposed change without number", &fakeCheckout{branch: "x"}, models.EventProposedChange},
		}
		for _, c := range cases {
			ev := models.Event{Kind: c.kind}
			if err := fillFromCheckout(&ev, c.g, "main"); err == nil {
				t.Errorf("%s: expected error", c.name)
			}
		}
	})
}
