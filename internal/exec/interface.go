// Package exec provides an interface for running job commands.
package exec

import (
	"context"
	"io"
)

// Command is one shell command invocation.
type Command struct {
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env is appended to the process environment as KEY=VALUE pairs.
	Env []string
	// Script is passed to "sh -c".
	Script string
	// Output receives combined stdout and stderr. Nil discards output.
	Output io.Writer
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// RunShell executes a command through "sh -c" and returns its exit code.
	// A non-nil error means the command could not be run at all or ctx
	// ended before it finished; a non-zero exit code alone is not an error.
	RunShell(ctx context.Context, cmd Command) (exitCode int, err error)

	// Available reports whether an executable can be found on PATH.
	Available(name string) bool
}
