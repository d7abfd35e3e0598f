package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ShayCichocki/tierci/internal/exec"
)

// LocalExecutor runs job commands through a shell on this host.
type LocalExecutor struct {
	runner exec.CommandRunner
	// WorkDir is the checkout the commands run in.
	WorkDir string
	// LogDir receives one log file per job attempt. Empty disables logs.
	LogDir string
}

var _ Executor = (*LocalExecutor)(nil)

// NewLocalExecutor creates a local executor.
func NewLocalExecutor(runner exec.CommandRunner, workDir, logDir string) *LocalExecutor {
	return &LocalExecutor{runner: runner, WorkDir: workDir, LogDir: logDir}
}

// Execute implements Executor.
func (e *LocalExecutor) Execute(ctx context.Context, spec JobSpec) Outcome {
	out, logURL, closeLog, err := openLog(e.LogDir, spec)
	if err != nil {
		return Outcome{Result: ResultInfraError, Detail: err.Error()}
	}
	defer closeLog()

	code, err := e.runner.RunShell(ctx, exec.Command{
		Dir:    e.WorkDir,
		Env:    jobEnv(spec),
		Script: spec.Command,
		Output: out,
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Outcome{Result: ResultTimeout, Detail: "job exceeded its timeout", LogURL: logURL}
	case err != nil:
		return Outcome{Result: ResultInfraError, Detail: fmt.Sprintf("run command: %v", err), LogURL: logURL}
	case code != 0:
		return Outcome{Result: ResultFailure, Detail: fmt.Sprintf("exit code %d", code), LogURL: logURL}
	default:
		return Outcome{Result: ResultSuccess, LogURL: logURL}
	}
}

// jobEnv returns the job's environment plus TIERCI_* metadata, sorted.
func jobEnv(spec JobSpec) []string {
	env := make([]string, 0, len(spec.Env)+4)
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return append(env,
		"CI=true",
		"TIERCI_RUN_ID="+spec.RunID,
		"TIERCI_JOB="+spec.Name,
		fmt.Sprintf("TIERCI_TIER=%d", spec.Tier),
	)
}

// openLog creates logs/<run>/<tier>-<job>[.attempt].log. With no log
// directory output is discarded.
func openLog(dir string, spec JobSpec) (io.Writer, string, func(), error) {
	if dir == "" {
		return io.Discard, "", func() {}, nil
	}
	runDir := filepath.Join(dir, spec.RunID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, "", nil, fmt.Errorf("create log dir: %w", err)
	}

	name := fmt.Sprintf("%d-%s", spec.Tier, sanitize(spec.Name))
	if spec.Attempt > 1 {
		name = fmt.Sprintf("%s.%d", name, spec.Attempt)
	}
	path := filepath.Join(runDir, name+".log")
	f, err := os.Create(path)
	if err != nil {
		return nil, "", nil, fmt.Errorf("create log file: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return f, "file://" + filepath.ToSlash(abs), func() { f.Close() }, nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
