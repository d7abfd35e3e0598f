package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/tierci/internal/coordinator"
	"github.com/ShayCichocki/tierci/internal/pipeline"
	"github.com/ShayCichocki/tierci/internal/server"
	"github.com/ShayCichocki/tierci/internal/state"
	"github.com/ShayCichocki/tierci/internal/version"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept change events over HTTP",
	Long: `Run the coordinator as a long-lived service.

Forges and schedulers POST events to /v1/events. The pipeline file is
watched and reloaded on change; runs already in progress keep the snapshot
they started with. Runs left unfinished by a previous process are closed
before the first event is accepted.

On SIGINT or SIGTERM the server stops accepting events, supersedes active
runs and waits up to server.shutdown_timeout for them to stop.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := pipeline.NewWatcher(cfg.Pipeline.Path)
	if err != nil {
		return err
	}
	watcher.OnReload = func(p *pipeline.Config) {
		log.Printf("[serve] pipeline %s now has %d tiers", p.Name, len(p.Tiers))
	}
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Printf("[serve] pipeline watcher stopped: %v", err)
		}
	}()

	db, err := openState(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	closed, err := state.NewRecoveryManager(db).CleanAll(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted runs: %w", err)
	}
	if closed > 0 {
		log.Printf("[serve] closed %d interrupted run(s)", closed)
	}

	pool, err := buildPool(cfg)
	if err != nil {
		return err
	}

	coord := coordinator.New(watcher, pool,
		coordinator.WithStore(db),
		coordinator.WithUpstream(db),
		coordinator.WithPublisher(buildPublisher(ctx, cfg)),
	)
	srv := server.New(cfg.Server.Addr, coord, db)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Printf("[serve] %s listening on %s (pipeline %s)", version.UserAgent(), cfg.Server.Addr, watcher.Current().Name)

	select {
	case <-ctx.Done():
		log.Printf("[serve] shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[serve] http shutdown: %v", err)
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("coordinator shutdown: %w", err)
	}
	return nil
}
