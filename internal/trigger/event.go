package trigger

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/tierci/pkg/models"
)

// eventFile accepts event kinds by alias ("pull_request", "schedule").
type eventFile struct {
	Kind          string   `yaml:"kind"`
	Ref           string   `yaml:"ref"`
	ChangedPaths  []string `yaml:"changed_paths"`
	Draft         bool     `yaml:"draft"`
	Pipeline      string   `yaml:"pipeline"`
	UpstreamRunID string   `yaml:"upstream_run_id"`
	CommitSHA     string   `yaml:"commit_sha"`
}

// ParseEvent decodes a YAML or JSON event descriptor.
func ParseEvent(data []byte) (models.Event, error) {
	var f eventFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return models.Event{}, fmt.Errorf("decode event: %w", err)
	}
	kind, err := models.ParseEventKind(f.Kind)
	if err != nil {
		return models.Event{}, &InvalidTriggerError{Field: "kind", Reason: err.Error()}
	}
	return models.Event{
		Kind:          kind,
		Ref:           f.Ref,
		ChangedPaths:  f.ChangedPaths,
		Draft:         f.Draft,
		Pipeline:      f.Pipeline,
		UpstreamRunID: f.UpstreamRunID,
		CommitSHA:     f.CommitSHA,
	}, nil
}

// LoadEvent reads an event descriptor from a file.
func LoadEvent(path string) (models.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Event{}, fmt.Errorf("read event: %w", err)
	}
	return ParseEvent(data)
}
