// Package tui provides the live terminal view for `tierci run --tui`.
//
// The view is read-only. It renders the tiers of one run, the state of each
// job in the running tier and a short activity log, driven entirely by
// coordinator events:
//
//	program, app := tui.NewProgram(100 * time.Millisecond)
//	go tui.Forward(program, emitter.Events())
//	go program.Run()
//
//	// Signal completion with the final run
//	program.Send(tui.RunDoneMsg{Run: run})
//
// Users can only quit with 'q' or Ctrl+C.
package tui
