package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/tierci/pkg/models"
)

const yamlPipeline = `
name: ci
default_branch: trunk
paths_ignore: ["docs/**", "*.md"]
tiers:
  - ordinal: 2
    name: integration
    runner: large
    fail_fast: collect_all
    timeout: 20m
    timeout_result: infra_error
    infra_retries: 1
    when:
      events: [push, tag, manual]
      branches: [trunk, "release/*"]
    jobs:
      - name: db
        command: make it-db
      - name: api
        command: make it-api
        timeout: 5m
  - ordinal: 1
    name: lint
    jobs:
      - name: vet
        command: go vet ./...
        when:
          paths: ["**/*.go"]
publish:
  branches: [trunk]
  tags: ["v*"]
  targets:
    - kind: object_store
      destination: s3://artifacts/ci
  artifacts:
    - name: binary
      path: dist/tierci
`

func TestParse_YAML(t *testing.T) {
	cfg, err := Parse([]byte(yamlPipeline), FormatYAML, "ci.yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Name != "ci" || cfg.DefaultBranch != "trunk" {
		t.Errorf("Name/DefaultBranch = %q/%q", cfg.Name, cfg.DefaultBranch)
	}
	if len(cfg.Tiers) != 2 {
		t.Fatalf("len(Tiers) = %d, want 2", len(cfg.Tiers))
	}

	lint, _ := cfg.Tier(1)
	if lint.Name != "lint" {
		t.Errorf("Tier(1).Name = %q, want lint (tiers must be sorted by ordinal)", lint.Name)
	}
	if lint.Runner != models.RunnerShared || lint.FailFast != StopOnFirst {
		t.Errorf("lint defaults = %q/%q", lint.Runner, lint.FailFast)
	}
	if lint.Timeout != DefaultTierTimeout || lint.TimeoutResult != models.JobFailure {
		t.Errorf("lint timeout defaults = %v/%q", lint.Timeout, lint.TimeoutResult)
	}
	if lint.When.Chained != ChainAny {
		t.Errorf("lint chained default = %q, want any", lint.When.Chained)
	}

	it, _ := cfg.Tier(2)
	if it.Runner != models.RunnerLarge || it.FailFast != CollectAll || it.InfraRetries != 1 {
		t.Errorf("integration = %+v", it)
	}
	if it.TimeoutResult != models.JobInfraError {
		t.Errorf("integration TimeoutResult = %q", it.TimeoutResult)
	}
	if got := it.JobTimeout(it.Jobs[0]); got != 20*time.Minute {
		t.Errorf("JobTimeout(db) = %v, want 20m", got)
	}
	if got := it.JobTimeout(it.Jobs[1]); got != 5*time.Minute {
		t.Errorf("JobTimeout(api) = %v, want 5m", got)
	}
	if len(it.When.Events) != 3 || it.When.Events[2] != models.EventManual {
		t.Errorf("integration events = %v", it.When.Events)
	}

	if cfg.Terminal() != 2 {
		t.Errorf("Terminal() = %d, want 2", cfg.Terminal())
	}
	if !cfg.Publish.Enabled() {
		t.Error("Publish should be enabled")
	}
	if cfg.Publish.Targets[0].Kind != models.ArtifactObjectStore {
		t.Errorf("target kind = %q", cfg.Publish.Targets[0].Kind)
	}
}

const hclPipeline = `
name = "ci"
paths_ignore = ["docs/**"]

tier "lint" {
  job "vet" {
    command = "go vet ./..."
    env = { GOFLAGS = env.TIERCI_TEST_GOFLAGS }
  }
}

tier "e2e" {
  runner    = "small"
  fail_fast = "collect_all"
  when {
    events     = ["push"]
    skip_draft = true
    chained    = "never"
  }
  job "browser" {
    command = "make e2e"
    image   = "node:20"
    timeout = "15m"
  }
}

publish {
  tags = ["v*"]
  target "release_channel" {
    destination = "stable"
  }
  artifact "bundle" {
    path = "dist/bundle.tgz"
  }
}
`

func TestParse_HCL(t *testing.T) {
	t.Setenv("TIERCI_TEST_GOFLAGS", "-mod=vendor")

	cfg, err := Parse([]byte(hclPipeline), FormatHCL, "ci.hcl")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.DefaultBranch != DefaultBranch {
		t.Errorf("DefaultBranch = %q, want %q", cfg.DefaultBranch, DefaultBranch)
	}
	if len(cfg.Tiers) != 2 || cfg.Tiers[0].Ordinal != 1 || cfg.Tiers[1].Ordinal != 2 {
		t.Fatalf("tiers should be numbered by position, got %+v", cfg.Tiers)
	}
	vet := cfg.Tiers[0].Jobs[0]
	if vet.Env["GOFLAGS"] != "-mod=vendor" {
		t.Errorf("env.GOFLAGS = %q, want value from environment", vet.Env["GOFLAGS"])
	}
	e2e := cfg.Tiers[1]
	if !e2e.When.SkipDraft || e2e.When.Chained != ChainNever {
		t.Errorf("e2e predicate = %+v", e2e.When)
	}
	if e2e.Jobs[0].Image != "node:20" || e2e.Jobs[0].Timeout != 15*time.Minute {
		t.Errorf("browser job = %+v", e2e.Jobs[0])
	}
	if len(cfg.Publish.Targets) != 1 || cfg.Publish.Targets[0].Kind != models.ArtifactReleaseChannel {
		t.Errorf("publish targets = %+v", cfg.Publish.Targets)
	}
	if cfg.Publish.Artifacts[0].Name != "bundle" {
		t.Errorf("publish artifacts = %+v", cfg.Publish.Artifacts)
	}
}

const tomlPipeline = `
name = "ci"

[[tiers]]
name = "unit"
runner = "small"

[tiers.when]
events = ["push", "pull_request"]
skip_draft = true

[[tiers.jobs]]
name = "test"
command = "go test ./..."

[publish]
branches = ["main"]
`

func TestParse_TOML(t *testing.T) {
	cfg, err := Parse([]byte(tomlPipeline), FormatTOML, "ci.toml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(cfg.Tiers) != 1 {
		t.Fatalf("len(Tiers) = %d, want 1", len(cfg.Tiers))
	}
	unit := cfg.Tiers[0]
	if unit.Runner != models.RunnerSmall {
		t.Errorf("Runner = %q, want small", unit.Runner)
	}
	if len(unit.When.Events) != 2 || unit.When.Events[1] != models.EventProposedChange {
		t.Errorf("Events = %v", unit.When.Events)
	}
	if cfg.Publish.Enabled() {
		t.Error("Publish without targets should not be enabled")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing name", "tiers: [{name: a, jobs: [{name: j, command: x}]}]"},
		{"no tiers", "name: ci"},
		{"ordinal gap", `
name: ci
tiers:
  - {ordinal: 1, name: a, jobs: [{name: j, command: x}]}
  - {ordinal: 3, name: b, jobs: [{name: j, command: x}]}`},
		{"duplicate ordinal", `
name: ci
tiers:
  - {ordinal: 1, name: a, jobs: [{name: j, command: x}]}
  - {ordinal: 1, name: b, jobs: [{name: j, command: x}]}`},
		{"partial ordinals", `
name: ci
tiers:
  - {ordinal: 1, name: a, jobs: [{name: j, command: x}]}
  - {name: b, jobs: [{name: j, command: x}]}`},
		{"duplicate tier name", `
name: ci
tiers:
  - {name: a, jobs: [{name: j, command: x}]}
  - {name: a, jobs: [{name: j, command: x}]}`},
		{"unknown runner", "name: ci\ntiers: [{name: a, runner: huge, jobs: [{name: j, command: x}]}]"},
		{"unknown fail policy", "name: ci\ntiers: [{name: a, fail_fast: sometimes, jobs: [{name: j, command: x}]}]"},
		{"bad timeout class", "name: ci\ntiers: [{name: a, timeout_result: canceled, jobs: [{name: j, command: x}]}]"},
		{"negative retries", "name: ci\ntiers: [{name: a, infra_retries: -1, jobs: [{name: j, command: x}]}]"},
		{"bad duration", "name: ci\ntiers: [{name: a, timeout: soon, jobs: [{name: j, command: x}]}]"},
		{"no jobs", "name: ci\ntiers: [{name: a}]"},
		{"job without command", "name: ci\ntiers: [{name: a, jobs: [{name: j}]}]"},
		{"unknown event", "name: ci\ntiers: [{name: a, when: {events: [deploy]}, jobs: [{name: j, command: x}]}]"},
		{"bad chained mode", "name: ci\ntiers: [{name: a, when: {chained: maybe}, jobs: [{name: j, command: x}]}]"},
		{"bad target", "name: ci\ntiers: [{name: a, jobs: [{name: j, command: x}]}]\npublish: {targets: [{kind: ftp, destination: x}]}"},
		{"unclosed class in tags", "name: ci\ntiers: [{name: a, when: {tags: ['v[0-9']}, jobs: [{name: j, command: x}]}]"},
		{"unclosed brace in job paths", "name: ci\ntiers: [{name: a, jobs: [{name: j, command: x, when: {paths: ['{cmd,internal/**']}}]}]"},
		{"malformed publish tag", "name: ci\ntiers: [{name: a, jobs: [{name: j, command: x}]}]\npublish: {tags: ['v[']}"},
		{"malformed paths_ignore", "name: ci\npaths_ignore: ['docs/[']\ntiers: [{name: a, jobs: [{name: j, command: x}]}]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatYAML, "ci.yaml")
			if err == nil {
				t.Fatal("Parse() should fail")
			}
			if !errors.Is(err, ErrInvalidPipeline) {
				t.Errorf("Parse() error = %v, want ErrInvalidPipeline", err)
			}
		})
	}
}

func TestLoad_ByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.toml")
	if err := os.WriteFile(path, []byte(tomlPipeline), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source != path {
		t.Errorf("Source = %q, want %q", cfg.Source, path)
	}

	if _, err := Load(filepath.Join(dir, "pipeline.ini")); err == nil {
		t.Error("Load() should reject unknown extensions")
	}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"ci.yaml", FormatYAML},
		{"ci.YML", FormatYAML},
		{"ci.json", FormatYAML},
		{"ci.hcl", FormatHCL},
		{"ci.toml", FormatTOML},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFor(tt.path)
			if err != nil || got != tt.want {
				t.Errorf("FormatFor(%q) = %q, %v, want %q", tt.path, got, err, tt.want)
			}
		})
	}
}
