// Package checkpoint provides a git-backed implementation of the engine's
// checkpoint contract. Snapshots are stash-style commits that never touch
// the worktree or the index.
package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/log"
	"github.com/strandlabs/strand/internal/thread"
)

// GitBackend snapshots tracked-file state with `git stash create`. Untracked
// files are not captured; a restore only rewinds files git already knows
// about.
type GitBackend struct {
	dir string
}

// NewGitBackend creates a backend rooted at dir. It returns an error when
// dir is not inside a git worktree.
func NewGitBackend(dir string) (*GitBackend, error) {
	out, err := runGit(context.Background(), dir, "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(out) != "true" {
		return nil, fmt.Errorf("not a git worktree: %s", dir)
	}
	return &GitBackend{dir: dir}, nil
}

// Snapshot captures the current tracked-file state as a commit hash. A
// clean worktree snapshots as HEAD.
func (b *GitBackend) Snapshot(ctx context.Context) (thread.Snapshot, error) {
	out, err := runGit(ctx, b.dir, "stash", "create")
	if err != nil {
		return nil, fmt.Errorf("creating snapshot: %w", err)
	}
	hash := strings.TrimSpace(out)
	if hash == "" {
		out, err = runGit(ctx, b.dir, "rev-parse", "HEAD")
		if err != nil {
			return nil, fmt.Errorf("resolving HEAD: %w", err)
		}
		hash = strings.TrimSpace(out)
	}
	return hash, nil
}

// Compare resolves both snapshots to their trees; equal trees mean equal
// tracked content, regardless of commit metadata.
func (b *GitBackend) Compare(ctx context.Context, a, c thread.Snapshot) (bool, error) {
	treeA, err := b.tree(ctx, a)
	if err != nil {
		return false, err
	}
	treeC, err := b.tree(ctx, c)
	if err != nil {
		return false, err
	}
	return treeA == treeC, nil
}

// Delete is a no-op: dangling stash commits are reclaimed by git gc.
func (b *GitBackend) Delete(ctx context.Context, s thread.Snapshot) {}

// Restore checks the snapshot's tree out over the worktree.
func (b *GitBackend) Restore(ctx context.Context, s thread.Snapshot) error {
	hash, ok := s.(string)
	if !ok {
		return fmt.Errorf("foreign snapshot %T", s)
	}
	if _, err := runGit(ctx, b.dir, "checkout", hash, "--", "."); err != nil {
		return fmt.Errorf("restoring snapshot %s: %w", hash, err)
	}
	log.Logger().Debug("Restored checkpoint", zap.String("hash", hash))
	return nil
}

func (b *GitBackend) tree(ctx context.Context, s thread.Snapshot) (string, error) {
	hash, ok := s.(string)
	if !ok {
		return "", fmt.Errorf("foreign snapshot %T", s)
	}
	out, err := runGit(ctx, b.dir, "rev-parse", hash+"^{tree}")
	if err != nil {
		return "", fmt.Errorf("resolving tree of %s: %w", hash, err)
	}
	return strings.TrimSpace(out), nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
