package gitjobdir

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// GitCloner materializes a (repo, commit) checkout by initializing an
// empty repository, shallow-fetching exactly that commit from the remote,
// and checking out FETCH_HEAD. Adapted from
// the teacher's internal/worker/clone.go GitCloner.Clone, generalized
// from its JobRepo{CloneURL,Branch,Commit,CloneToken} shape (which
// always knew a branch/tag to shallow-clone) to dwq's (repo, commit)
// shape, which only ever names a commit.
type GitCloner struct{}

func (GitCloner) Clone(ctx context.Context, repo, commit, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkout dir: %w", err)
	}

	initCmd := exec.CommandContext(ctx, "git", "init", dir)
	if out, err := initCmd.CombinedOutput(); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("git init failed: %w\n%s", err, out)
	}

	remoteCmd := exec.CommandContext(ctx, "git", "remote", "add", "origin", repo)
	remoteCmd.Dir = dir
	if out, err := remoteCmd.CombinedOutput(); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("git remote add failed: %w\n%s", err, out)
	}

	fetchCmd := exec.CommandContext(ctx, "git", "fetch", "--depth=1", "origin", commit)
	fetchCmd.Dir = dir
	fetchCmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if out, err := fetchCmd.CombinedOutput(); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("git fetch commit failed: %w\n%s", err, out)
	}

	checkoutCmd := exec.CommandContext(ctx, "git", "checkout", "FETCH_HEAD")
	checkoutCmd.Dir = dir
	if out, err := checkoutCmd.CombinedOutput(); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("git checkout failed: %w\n%s", err, out)
	}

	return nil
}
