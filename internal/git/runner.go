package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// ExecRunner implements Inspector using exec.Command.
type ExecRunner struct {
	repoPath string
}

// NewRunner creates a new git runner for the repository at the given path.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath}
}

// run executes a git command and returns its output.
func (r *ExecRunner) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// HeadSHA returns the commit SHA of HEAD.
func (r *ExecRunner) HeadSHA() (string, error) {
	return r.run("rev-parse", "HEAD")
}

// ExactTag returns the tag at HEAD. Having no tag is not an error.
func (r *ExecRunner) ExactTag() (string, error) {
	if _, err := r.run("rev-parse", "--verify", "HEAD"); err != nil {
		return "", err
	}
	tag, err := r.run("describe", "--tags", "--exact-match", "HEAD")
	if err != nil {
		return "", nil
	}
	return tag, nil
}

// ChangedFilesRelative returns files changed on a branch relative to another.
func (r *ExecRunner) ChangedFilesRelative(head, base string) ([]string, error) {
	out, err := r.run("diff", "--name-only", base+"..."+head)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Verify ExecRunner implements Inspector at compile time.
var _ Inspector = (*ExecRunner)(nil)
