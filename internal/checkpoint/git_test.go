package checkpoint

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run(t, dir, "init")
	run(t, dir, "config", "user.email", "test@test")
	run(t, dir, "config", "user.name", "test")
	writeFile(t, dir, "a.txt", "one\n")
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-m", "initial")
	return dir
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewGitBackendRejectsPlainDir(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	if _, err := NewGitBackend(t.TempDir()); err == nil {
		t.Fatal("expected error outside a worktree")
	}
}

func TestSnapshotsCompareEqualWhenUnchanged(t *testing.T) {
	dir := initRepo(t)
	b, err := NewGitBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	before, err := b.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	after, err := b.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}

	equal, err := b.Compare(ctx, before, after)
	if err != nil {
		t.Fatal(err)
	}
	if !equal {
		t.Fatal("unchanged worktree compared unequal")
	}
}

func TestRestoreRewindsTrackedFile(t *testing.T) {
	dir := initRepo(t)
	b, err := NewGitBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	before, err := b.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, dir, "a.txt", "two\n")

	after, err := b.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	equal, err := b.Compare(ctx, before, after)
	if err != nil {
		t.Fatal(err)
	}
	if equal {
		t.Fatal("modified worktree compared equal")
	}

	if err := b.Restore(ctx, before); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "one\n" {
		t.Fatalf("a.txt = %q after restore, want original content", content)
	}
}
