package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/ShayCichocki/tierci/internal/config"
	"github.com/ShayCichocki/tierci/internal/exec"
	"github.com/ShayCichocki/tierci/internal/publish"
	"github.com/ShayCichocki/tierci/internal/runner"
	"github.com/ShayCichocki/tierci/internal/state"
	"github.com/ShayCichocki/tierci/pkg/models"
)

// buildPool registers an executor for every configured runner class.
func buildPool(cfg *config.Config) (*runner.StaticPool, error) {
	pool := runner.NewStaticPool()
	shell := exec.NewRunner()

	for _, class := range cfg.RunnerClasses() {
		rc := cfg.Runners[class]
		var ex runner.Executor
		switch rc.Executor {
		case config.ExecutorDocker:
			d, err := runner.NewDockerExecutor(rc.Image, absDir(cfg.WorkDir), cfg.Logs.Dir)
			if err != nil {
				return nil, fmt.Errorf("runner class %s: %w", class, err)
			}
			d.AlwaysPull = rc.AlwaysPull
			ex = d
		default:
			ex = runner.NewLocalExecutor(shell, cfg.WorkDir, cfg.Logs.Dir)
		}
		pool.Register(runner.Capacity{
			Class:    models.RunnerClass(class),
			Executor: rc.Executor,
			Cost:     rc.Cost,
		}, ex)
	}
	return pool, nil
}

// buildPublisher registers the release channel and, when it can be
// configured, the object store.
func buildPublisher(ctx context.Context, cfg *config.Config) *publish.Publisher {
	pub := publish.New(cfg.WorkDir)
	pub.Register(models.ArtifactReleaseChannel, publish.NewReleaseChannel(cfg.Storage.ReleaseRoot))

	oc := cfg.Storage.ObjectStore
	store, err := publish.NewObjectStore(ctx, publish.ObjectStoreConfig{
		Region:    oc.Region,
		Profile:   oc.Profile,
		Endpoint:  oc.Endpoint,
		PathStyle: oc.PathStyle,
	})
	if err != nil {
		// Deliveries to object store targets will fail and be recorded.
		log.Printf("[publish] object store unavailable: %v", err)
		return pub
	}
	pub.Register(models.ArtifactObjectStore, store)
	return pub
}

// openState opens and migrates the run history database.
func openState(cfg *config.Config) (*state.DB, error) {
	db, err := state.OpenDriver(cfg.State.Driver, cfg.State.DSN)
	if err != nil {
		return nil, fmt.Errorf("open state (%s): %w", config.MaskDSN(cfg.State.DSN), err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state: %w", err)
	}
	return db, nil
}

// absDir resolves dir for bind mounts, which must be absolute.
func absDir(dir string) string {
	if dir == "" {
		return ""
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}
