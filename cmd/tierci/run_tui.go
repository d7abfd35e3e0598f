package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/ShayCichocki/tierci/internal/coordinator"
	"github.com/ShayCichocki/tierci/internal/tui"
	"github.com/ShayCichocki/tierci/pkg/models"
)

// runWithTUI runs the event with a live terminal UI. Quitting the UI
// before the verdict cancels the run.
func runWithTUI(ctx context.Context, coord *coordinator.Coordinator, emitter *coordinator.EventEmitter, ev models.Event, refresh time.Duration) (run *models.PipelineRun, retErr error) {
	// Suppress log output while TUI is active (it corrupts the display)
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runWithTUI: %v", r)
		}
	}()

	h, err := coord.Start(ctx, ev)
	if err != nil {
		return nil, err
	}

	program, _ := tui.NewProgram(refresh)
	go tui.Forward(program, emitter.Events())

	tuiDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				tuiDone <- fmt.Errorf("PANIC in TUI: %v", r)
			}
		}()
		_, err := program.Run()
		tuiDone <- err
	}()

	select {
	case <-h.Done():
		run = h.Snapshot()
		program.Send(tui.RunDoneMsg{Run: run})
		// Wait for user to quit TUI (press q) so they can see the result
		return run, <-tuiDone

	case err := <-tuiDone:
		_ = coord.Cancel(h.RunID())
		run, _ = h.Wait(context.Background())
		return run, err

	case <-ctx.Done():
		_ = coord.Cancel(h.RunID())
		run, _ = h.Wait(context.Background())
		program.Quit()
		<-tuiDone
		return run, nil
	}
}
