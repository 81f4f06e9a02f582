package vcsdiff

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func hasGitBinary(t *testing.T) bool {
	t.Helper()
	_, err := exec.LookPath("git")
	return err == nil
}

func TestGitStatusCountsChangedPaths(t *testing.T) {
	if !hasGitBinary(t) {
		t.Skip("git not on PATH")
	}
	root := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		require.NoError(t, cmd.Run())
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	run("add", ".")
	run("commit", "-q", "-m", "init")

	d := New(root, filepath.Join(root, ".manifest.json"))
	n, err := d.FilesChanged(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n, "clean tree has no changes")

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("new"), 0o644))
	n, err = d.FilesChanged(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestManifestDiffFallbackDetectsNewAndModifiedFiles(t *testing.T) {
	root := t.TempDir()
	manifestPath := filepath.Join(t.TempDir(), "manifest.json")
	d := New(root, manifestPath)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("one"), 0o644))
	n, err := d.ManifestDiff()
	require.NoError(t, err)
	require.Equal(t, 1, n, "first walk sees the one new file")

	n, err = d.ManifestDiff()
	require.NoError(t, err)
	require.Equal(t, 0, n, "no changes since last manifest")

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("one-modified"), 0o644))
	n, err = d.ManifestDiff()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
