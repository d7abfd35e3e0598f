package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/tierci/pkg/models"
)

// ErrInvalidPipeline is returned when a definition fails validation.
var ErrInvalidPipeline = errors.New("invalid pipeline")

// Format is a pipeline file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
	FormatTOML Format = "toml"
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".hcl":
		return FormatHCL, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported pipeline file extension %q", filepath.Ext(path))
	}
}

// Load reads, decodes and validates a pipeline file.
func Load(path string) (*Config, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}
	cfg, err := Parse(data, format, path)
	if err != nil {
		return nil, err
	}
	cfg.Source = path
	return cfg, nil
}

// Parse decodes and validates a pipeline definition. The filename is only
// used in diagnostics.
func Parse(data []byte, format Format, filename string) (*Config, error) {
	var doc document
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode pipeline yaml: %w", err)
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, fmt.Errorf("decode pipeline toml: %w", err)
		}
	case FormatHCL:
		d, err := decodeHCL(data, filename)
		if err != nil {
			return nil, err
		}
		doc = *d
	default:
		return nil, fmt.Errorf("unsupported pipeline format %q", format)
	}
	return doc.build()
}

// document is the on-disk shape shared by the YAML and TOML encodings.
type document struct {
	Name          string          `yaml:"name" toml:"name"`
	DefaultBranch string          `yaml:"default_branch" toml:"default_branch"`
	PathsIgnore   []string        `yaml:"paths_ignore" toml:"paths_ignore"`
	Tiers         []tierDocument  `yaml:"tiers" toml:"tiers"`
	Publish       publishDocument `yaml:"publish" toml:"publish"`
}

type tierDocument struct {
	Ordinal       int               `yaml:"ordinal" toml:"ordinal"`
	Name          string            `yaml:"name" toml:"name"`
	Runner        string            `yaml:"runner" toml:"runner"`
	FailFast      string            `yaml:"fail_fast" toml:"fail_fast"`
	Timeout       string            `yaml:"timeout" toml:"timeout"`
	TimeoutResult string            `yaml:"timeout_result" toml:"timeout_result"`
	InfraRetries  int               `yaml:"infra_retries" toml:"infra_retries"`
	When          predicateDocument `yaml:"when" toml:"when"`
	Jobs          []jobDocument     `yaml:"jobs" toml:"jobs"`
}

type predicateDocument struct {
	Events      []string `yaml:"events" toml:"events"`
	Branches    []string `yaml:"branches" toml:"branches"`
	Tags        []string `yaml:"tags" toml:"tags"`
	Paths       []string `yaml:"paths" toml:"paths"`
	PathsIgnore []string `yaml:"paths_ignore" toml:"paths_ignore"`
	SkipDraft   bool     `yaml:"skip_draft" toml:"skip_draft"`
	Chained     string   `yaml:"chained" toml:"chained"`
}

type jobDocument struct {
	Name    string            `yaml:"name" toml:"name"`
	Command string            `yaml:"command" toml:"command"`
	Image   string            `yaml:"image" toml:"image"`
	Timeout string            `yaml:"timeout" toml:"timeout"`
	Env     map[string]string `yaml:"env" toml:"env"`
	When    predicateDocument `yaml:"when" toml:"when"`
}

type publishDocument struct {
	Branches  []string                `yaml:"branches" toml:"branches"`
	Tags      []string                `yaml:"tags" toml:"tags"`
	Targets   []models.ArtifactTarget `yaml:"targets" toml:"targets"`
	Artifacts []models.Artifact       `yaml:"artifacts" toml:"artifacts"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPipeline, fmt.Sprintf(format, args...))
}

// build converts the document into a validated Config.
func (d *document) build() (*Config, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return nil, invalid("name is required")
	}
	if len(d.Tiers) == 0 {
		return nil, invalid("pipeline %q has no tiers", name)
	}

	cfg := &Config{
		Name:          name,
		DefaultBranch: d.DefaultBranch,
		PathsIgnore:   d.PathsIgnore,
		Tiers:         make([]TierDefinition, 0, len(d.Tiers)),
	}
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = DefaultBranch
	}
	if err := validatePatterns(cfg.PathsIgnore); err != nil {
		return nil, invalid("paths_ignore: %v", err)
	}

	seen := make(map[string]bool)
	for i, td := range d.Tiers {
		tier, err := td.build(i + 1)
		if err != nil {
			return nil, err
		}
		if seen[tier.Name] {
			return nil, invalid("duplicate tier name %q", tier.Name)
		}
		seen[tier.Name] = true
		cfg.Tiers = append(cfg.Tiers, tier)
	}

	if err := normalizeOrdinals(cfg.Tiers); err != nil {
		return nil, err
	}

	pub, err := d.Publish.build()
	if err != nil {
		return nil, err
	}
	cfg.Publish = pub

	return cfg, nil
}

// normalizeOrdinals sorts tiers and checks that ordinals form 1..N.
// Definitions that leave every ordinal unset are numbered by position.
func normalizeOrdinals(tiers []TierDefinition) error {
	explicit := 0
	for _, t := range tiers {
		if t.Ordinal != 0 {
			explicit++
		}
	}
	if explicit == 0 {
		for i := range tiers {
			tiers[i].Ordinal = i + 1
		}
		return nil
	}
	if explicit != len(tiers) {
		return invalid("either every tier sets an ordinal or none does")
	}

	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Ordinal < tiers[j].Ordinal })
	for i, t := range tiers {
		if t.Ordinal != i+1 {
			return invalid("tier ordinals must be 1..%d without gaps, found %d at position %d", len(tiers), t.Ordinal, i+1)
		}
	}
	return nil
}

func (td *tierDocument) build(position int) (TierDefinition, error) {
	name := strings.TrimSpace(td.Name)
	if name == "" {
		return TierDefinition{}, invalid("tier at position %d has no name", position)
	}

	tier := TierDefinition{
		Ordinal:       td.Ordinal,
		Name:          name,
		Runner:        models.RunnerClass(td.Runner),
		FailFast:      FailPolicy(td.FailFast),
		Timeout:       DefaultTierTimeout,
		TimeoutResult: models.JobResult(td.TimeoutResult),
		InfraRetries:  td.InfraRetries,
	}
	if td.Ordinal < 0 {
		return TierDefinition{}, invalid("tier %q: ordinal must be positive", name)
	}
	if tier.Runner == "" {
		tier.Runner = models.RunnerShared
	}
	if !tier.Runner.Valid() {
		return TierDefinition{}, invalid("tier %q: unknown runner class %q", name, td.Runner)
	}
	switch tier.FailFast {
	case "":
		tier.FailFast = StopOnFirst
	case StopOnFirst, CollectAll:
	default:
		return TierDefinition{}, invalid("tier %q: unknown fail_fast policy %q", name, td.FailFast)
	}
	switch tier.TimeoutResult {
	case "":
		tier.TimeoutResult = DefaultTimeoutClass
	case models.JobFailure, models.JobInfraError:
	default:
		return TierDefinition{}, invalid("tier %q: timeout_result must be failure or infra_error", name)
	}
	if td.InfraRetries < 0 || td.InfraRetries > MaxInfraRetries {
		return TierDefinition{}, invalid("tier %q: infra_retries must be between 0 and %d", name, MaxInfraRetries)
	}
	if td.Timeout != "" {
		d, err := parseDuration(td.Timeout)
		if err != nil {
			return TierDefinition{}, invalid("tier %q: timeout: %v", name, err)
		}
		tier.Timeout = d
	}

	when, err := td.When.build()
	if err != nil {
		return TierDefinition{}, invalid("tier %q: %v", name, err)
	}
	tier.When = when

	if len(td.Jobs) == 0 {
		return TierDefinition{}, invalid("tier %q has no jobs", name)
	}
	jobNames := make(map[string]bool)
	for _, jd := range td.Jobs {
		job, err := jd.build()
		if err != nil {
			return TierDefinition{}, invalid("tier %q: %v", name, err)
		}
		if jobNames[job.Name] {
			return TierDefinition{}, invalid("tier %q: duplicate job name %q", name, job.Name)
		}
		jobNames[job.Name] = true
		tier.Jobs = append(tier.Jobs, job)
	}

	return tier, nil
}

func (jd *jobDocument) build() (JobDefinition, error) {
	name := strings.TrimSpace(jd.Name)
	if name == "" {
		return JobDefinition{}, errors.New("job without a name")
	}
	if strings.TrimSpace(jd.Command) == "" {
		return JobDefinition{}, fmt.Errorf("job %q has no command", name)
	}
	job := JobDefinition{
		Name:    name,
		Command: jd.Command,
		Image:   jd.Image,
		Env:     jd.Env,
	}
	if jd.Timeout != "" {
		d, err := parseDuration(jd.Timeout)
		if err != nil {
			return JobDefinition{}, fmt.Errorf("job %q: timeout: %w", name, err)
		}
		job.Timeout = d
	}
	when, err := jd.When.build()
	if err != nil {
		return JobDefinition{}, fmt.Errorf("job %q: %w", name, err)
	}
	job.When = when
	return job, nil
}

func (pd *predicateDocument) build() (Predicate, error) {
	p := Predicate{
		Branches:    pd.Branches,
		Tags:        pd.Tags,
		Paths:       pd.Paths,
		PathsIgnore: pd.PathsIgnore,
		SkipDraft:   pd.SkipDraft,
		Chained:     ChainMode(pd.Chained),
	}
	for _, e := range pd.Events {
		kind, err := models.ParseEventKind(e)
		if err != nil {
			return Predicate{}, err
		}
		p.Events = append(p.Events, kind)
	}
	switch p.Chained {
	case "":
		p.Chained = ChainAny
	case ChainAny, ChainOnly, ChainNever:
	default:
		return Predicate{}, fmt.Errorf("chained must be any, only or never, got %q", pd.Chained)
	}
	if err := validatePatterns(p.Branches, p.Tags, p.Paths, p.PathsIgnore); err != nil {
		return Predicate{}, err
	}
	return p, nil
}

func (pd *publishDocument) build() (PublishSpec, error) {
	spec := PublishSpec{
		Branches:  pd.Branches,
		Tags:      pd.Tags,
		Targets:   pd.Targets,
		Artifacts: pd.Artifacts,
	}
	for _, t := range spec.Targets {
		if !t.Kind.Valid() {
			return PublishSpec{}, invalid("publish: unknown target kind %q", t.Kind)
		}
		if strings.TrimSpace(t.Destination) == "" {
			return PublishSpec{}, invalid("publish: %s target without destination", t.Kind)
		}
	}
	for _, a := range spec.Artifacts {
		if a.Name == "" || a.Path == "" {
			return PublishSpec{}, invalid("publish: artifacts need a name and a path")
		}
	}
	if err := validatePatterns(spec.Branches, spec.Tags); err != nil {
		return PublishSpec{}, invalid("publish: %v", err)
	}
	return spec, nil
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}
