package state

import (
	"context"
	"io"

	"github.com/ShayCichocki/tierci/pkg/models"
)

// RunStore persists runs as the coordinator advances them.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.PipelineRun) error
	SaveJob(ctx context.Context, job models.Job) error
}

// RunReader answers status queries.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*models.PipelineRun, error)
	ListRuns(ctx context.Context, f RunFilter) ([]models.PipelineRun, error)
	UpstreamRun(ctx context.Context, runID string) (*models.PipelineRun, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore composes everything the coordinator and server need from
// the database.
type StateStore interface {
	io.Closer
	Migrator
	RunStore
	RunReader
}

var (
	_ StateStore = (*DB)(nil)
	_ RunStore   = (*DB)(nil)
	_ RunReader  = (*DB)(nil)
)
