package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shinji-kodama/hidream-installer/internal/model"
	"github.com/shinji-kodama/hidream-installer/internal/runner"
)

// DefaultRemote is the remote a fresh clone creates and updates reset to.
const DefaultRemote = "origin"

// Action names what Sync did to the checkout.
type Action string

const (
	ActionCloned   Action = "cloned"
	ActionUpdated  Action = "updated"
	ActionRecloned Action = "recloned"
)

// Inspect derives the RepositoryState of dir from the filesystem.
//
// A checkout counts as tracked when it contains a .git entry: either a
// directory (regular clone) or a file starting with "gitdir:" (worktree or
// submodule). Anything else that exists is untracked.
func Inspect(dir string) (model.RepositoryState, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return model.RepoAbsent, nil
	}
	if err != nil {
		return "", fmt.Errorf("inspect %s: %w", dir, err)
	}
	if !info.IsDir() {
		// A regular file in place of the checkout is stale content too.
		return model.RepoUntracked, nil
	}

	gitPath := filepath.Join(dir, ".git")

	// Lstat so that a symlinked .git is not followed somewhere else.
	gitInfo, err := os.Lstat(gitPath)
	if err != nil {
		return model.RepoUntracked, nil
	}
	if gitInfo.IsDir() {
		return model.RepoTracked, nil
	}

	content, err := os.ReadFile(gitPath)
	if err != nil {
		return model.RepoUntracked, nil
	}
	if strings.HasPrefix(string(content), "gitdir:") {
		return model.RepoTracked, nil
	}
	return model.RepoUntracked, nil
}

// Syncer clones and updates the application checkout by invoking git
// through a runner.Runner.
type Syncer struct {
	runner runner.Runner
	git    string

	// DryRun makes Sync record commands without touching the filesystem.
	// The directory removal of a reclone is skipped as well.
	DryRun bool
}

// NewSyncer creates a Syncer that runs git through r.
func NewSyncer(r runner.Runner) *Syncer {
	return &Syncer{runner: r, git: "git"}
}

// SyncResult describes what Sync found and did.
type SyncResult struct {
	// Before is the repository state found on disk.
	Before model.RepositoryState

	// Action is the action taken.
	Action Action
}

// Sync brings dir to the tip of <remote>/<branch> of url.
//
//   - absent: shallow clone (depth 1)
//   - tracked: fetch all remotes, then hard reset to origin/<branch>
//   - untracked: delete the directory entirely, then shallow clone
//
// Every failure is returned; none of them is recoverable.
func (s *Syncer) Sync(ctx context.Context, url, dir, branch string) (SyncResult, error) {
	state, err := Inspect(dir)
	if err != nil {
		return SyncResult{}, err
	}
	result := SyncResult{Before: state}

	switch state {
	case model.RepoAbsent:
		result.Action = ActionCloned
		err = s.Clone(ctx, url, dir)
	case model.RepoTracked:
		result.Action = ActionUpdated
		err = s.Update(ctx, dir, branch)
	default:
		result.Action = ActionRecloned
		err = s.Reclone(ctx, url, dir)
	}
	return result, err
}

// Clone creates a shallow clone of url at dir.
func (s *Syncer) Clone(ctx context.Context, url, dir string) error {
	return s.runner.Run(ctx, runner.Command{
		Name: s.git,
		Args: []string{"clone", "--depth", "1", url, dir},
	})
}

// Update fetches every remote and hard-resets the checkout to
// origin/<branch>, discarding local modifications.
func (s *Syncer) Update(ctx context.Context, dir, branch string) error {
	if err := s.runGit(ctx, dir, "fetch", "--all", "--prune"); err != nil {
		return err
	}
	return s.runGit(ctx, dir, "reset", "--hard", DefaultRemote+"/"+branch)
}

// Reclone removes dir and clones url into it again.
func (s *Syncer) Reclone(ctx context.Context, url, dir string) error {
	if !s.DryRun {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove untracked checkout %s: %w", dir, err)
		}
	}
	return s.Clone(ctx, url, dir)
}

// runGit runs git with -C dir so that the process working directory is
// never changed.
func (s *Syncer) runGit(ctx context.Context, dir string, args ...string) error {
	fullArgs := append([]string{"-C", dir}, args...)
	return s.runner.Run(ctx, runner.Command{Name: s.git, Args: fullArgs})
}
