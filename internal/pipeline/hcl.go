package pipeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/ShayCichocki/tierci/pkg/models"
)

// hclFile is the top-level structure of an HCL pipeline file:
//
//	name = "ci"
//	tier "lint" {
//	  runner = "shared"
//	  job "vet" { command = "go vet ./..." }
//	}
type hclFile struct {
	Name          string      `hcl:"name"`
	DefaultBranch string      `hcl:"default_branch,optional"`
	PathsIgnore   []string    `hcl:"paths_ignore,optional"`
	Tiers         []*hclTier  `hcl:"tier,block"`
	Publish       *hclPublish `hcl:"publish,block"`
}

type hclTier struct {
	Name          string        `hcl:"name,label"`
	Ordinal       int           `hcl:"ordinal,optional"`
	Runner        string        `hcl:"runner,optional"`
	FailFast      string        `hcl:"fail_fast,optional"`
	Timeout       string        `hcl:"timeout,optional"`
	TimeoutResult string        `hcl:"timeout_result,optional"`
	InfraRetries  int           `hcl:"infra_retries,optional"`
	When          *hclPredicate `hcl:"when,block"`
	Jobs          []*hclJob     `hcl:"job,block"`
}

type hclPredicate struct {
	Events      []string `hcl:"events,optional"`
	Branches    []string `hcl:"branches,optional"`
	Tags        []string `hcl:"tags,optional"`
	Paths       []string `hcl:"paths,optional"`
	PathsIgnore []string `hcl:"paths_ignore,optional"`
	SkipDraft   bool     `hcl:"skip_draft,optional"`
	Chained     string   `hcl:"chained,optional"`
}

type hclJob struct {
	Name    string            `hcl:"name,label"`
	Command string            `hcl:"command"`
	Image   string            `hcl:"image,optional"`
	Timeout string            `hcl:"timeout,optional"`
	Env     map[string]string `hcl:"env,optional"`
	When    *hclPredicate     `hcl:"when,block"`
}

type hclPublish struct {
	Branches  []string       `hcl:"branches,optional"`
	Tags      []string       `hcl:"tags,optional"`
	Targets   []*hclTarget   `hcl:"target,block"`
	Artifacts []*hclArtifact `hcl:"artifact,block"`
}

type hclTarget struct {
	Kind        string `hcl:"kind,label"`
	Destination string `hcl:"destination"`
}

type hclArtifact struct {
	Name string `hcl:"name,label"`
	Path string `hcl:"path"`
}

// decodeHCL parses an HCL pipeline. Expressions may reference the process
// environment as env.NAME.
func decodeHCL(data []byte, filename string) (*document, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var parsed hclFile
	diags = gohcl.DecodeBody(file.Body, evalContext(), &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	doc := &document{
		Name:          parsed.Name,
		DefaultBranch: parsed.DefaultBranch,
		PathsIgnore:   parsed.PathsIgnore,
	}
	for _, t := range parsed.Tiers {
		td := tierDocument{
			Ordinal:       t.Ordinal,
			Name:          t.Name,
			Runner:        t.Runner,
			FailFast:      t.FailFast,
			Timeout:       t.Timeout,
			TimeoutResult: t.TimeoutResult,
			InfraRetries:  t.InfraRetries,
			When:          t.When.document(),
		}
		for _, j := range t.Jobs {
			td.Jobs = append(td.Jobs, jobDocument{
				Name:    j.Name,
				Command: j.Command,
				Image:   j.Image,
				Timeout: j.Timeout,
				Env:     j.Env,
				When:    j.When.document(),
			})
		}
		doc.Tiers = append(doc.Tiers, td)
	}
	if p := parsed.Publish; p != nil {
		doc.Publish.Branches = p.Branches
		doc.Publish.Tags = p.Tags
		for _, t := range p.Targets {
			doc.Publish.Targets = append(doc.Publish.Targets, models.ArtifactTarget{
				Kind:        models.ArtifactKind(t.Kind),
				Destination: t.Destination,
			})
		}
		for _, a := range p.Artifacts {
			doc.Publish.Artifacts = append(doc.Publish.Artifacts, models.Artifact{Name: a.Name, Path: a.Path})
		}
	}
	return doc, nil
}

func (p *hclPredicate) document() predicateDocument {
	if p == nil {
		return predicateDocument{}
	}
	return predicateDocument{
		Events:      p.Events,
		Branches:    p.Branches,
		Tags:        p.Tags,
		Paths:       p.Paths,
		PathsIgnore: p.PathsIgnore,
		SkipDraft:   p.SkipDraft,
		Chained:     p.Chained,
	}
}

func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}
