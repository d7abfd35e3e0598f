package models

import "time"

// ArtifactKind is the kind of storage an artifact is sent to.
type ArtifactKind string

const (
	// ArtifactObjectStore is a bucket-style object store.
	ArtifactObjectStore ArtifactKind = "object_store"
	// ArtifactReleaseChannel is a named release channel.
	ArtifactReleaseChannel ArtifactKind = "release_channel"
)

// Valid returns true if the kind is a known value.
func (k ArtifactKind) Valid() bool {
	return k == ArtifactObjectStore || k == ArtifactReleaseChannel
}

// ArtifactTarget is a destination for build products of the terminal tier.
type ArtifactTarget struct {
	Kind        ArtifactKind `json:"kind" yaml:"kind" toml:"kind"`
	Destination string       `json:"destination" yaml:"destination" toml:"destination"`
}

// Artifact is a named build product on the local filesystem.
type Artifact struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	Path string `json:"path" yaml:"path" toml:"path"`
}

// Delivery records one artifact handed to one target.
type Delivery struct {
	Artifact string         `json:"artifact"`
	Target   ArtifactTarget `json:"target"`
	Location string         `json:"location,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// PublicationOutcome is attached to a run once publication was attempted.
// It never changes the run verdict.
type PublicationOutcome struct {
	Draft       bool       `json:"draft"`
	Deliveries  []Delivery `json:"deliveries"`
	AttemptedAt time.Time  `json:"attempted_at"`
}

// Failed returns true if any delivery failed.
func (p *PublicationOutcome) Failed() bool {
	if p == nil {
		return false
	}
	for _, d := range p.Deliveries {
		if d.Error != "" {
			return true
		}
	}
	return false
}
