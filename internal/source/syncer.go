package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shinji-kodama/webdeploy/internal/model"
	"github.com/shinji-kodama/webdeploy/internal/runner"
)

// Result describes what a sync changed.
type Result struct {
	// Branch is the branch checked out in the repository after the pull.
	Branch string `json:"branch"`

	// Before and After are the HEAD commits around the pull. They are equal
	// when the checkout was already up to date.
	Before string `json:"before"`
	After  string `json:"after"`
}

// Updated reports whether the pull moved HEAD.
func (r *Result) Updated() bool {
	return r.Before != r.After
}

// Syncer pulls the latest repository state into a known directory.
type Syncer struct {
	run runner.Runner

	// Remote is the remote pulled from when Branch is set. Defaults to "origin".
	Remote string
}

// NewSyncer creates a Syncer that runs git through r.
func NewSyncer(r runner.Runner) *Syncer {
	return &Syncer{run: r, Remote: "origin"}
}

// Sync fast-forwards repoDir to its remote.
//
// A missing repoDir is a fatal setup error (ExitGeneralError), matching the
// old "cd or exit 1" behavior. Anything git itself rejects, such as a
// diverged branch or an unreachable remote, is reported with ExitGitError.
// When branch is empty the checkout's upstream tracking branch is pulled.
func (s *Syncer) Sync(ctx context.Context, repoDir, branch string) (*Result, error) {
	info, err := os.Stat(repoDir)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = errors.New("not a directory")
		}
		return nil, model.WrapCLIError(model.ExitGeneralError,
			fmt.Sprintf("repository directory %q is not accessible", repoDir), err)
	}

	if !s.IsRepo(ctx, repoDir) {
		return nil, model.NewCLIError(model.ExitGitError,
			fmt.Sprintf("%q is not a git work tree", repoDir))
	}

	before, err := s.Head(ctx, repoDir)
	if err != nil {
		return nil, err
	}

	// --ff-only refuses to create merge commits on the deploy host; a
	// diverged checkout needs a human.
	args := []string{"pull", "--ff-only"}
	if branch != "" {
		args = append(args, s.remote(), branch)
	}
	if _, err := s.git(ctx, repoDir, args...); err != nil {
		return nil, err
	}

	after, err := s.Head(ctx, repoDir)
	if err != nil {
		return nil, err
	}
	current, err := s.CurrentBranch(ctx, repoDir)
	if err != nil {
		return nil, err
	}

	return &Result{Branch: current, Before: before, After: after}, nil
}

// IsRepo reports whether dir is inside a git work tree.
func (s *Syncer) IsRepo(ctx context.Context, dir string) bool {
	out, err := s.git(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// Head returns the full commit SHA of HEAD.
func (s *Syncer) Head(ctx context.Context, dir string) (string, error) {
	out, err := s.git(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CurrentBranch returns the short branch name, or "HEAD" when detached.
func (s *Syncer) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := s.git(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (s *Syncer) remote() string {
	if s.Remote == "" {
		return "origin"
	}
	return s.Remote
}

// git runs a git subcommand against dir using -C, so the orchestrator never
// changes its own working directory.
func (s *Syncer) git(ctx context.Context, dir string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", dir}, args...)
	out, err := s.run.Run(ctx, "", "git", fullArgs...)
	if err != nil {
		return "", model.WrapCLIError(model.ExitGitError,
			fmt.Sprintf("git %s failed", strings.Join(args, " ")), err)
	}
	return out, nil
}
