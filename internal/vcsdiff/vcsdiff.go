// Package vcsdiff implements step 5 of the orchestrator loop (SPEC_FULL.md
// §4.8 [FULL]): measuring files changed in the working directory, preferring
// `git status --porcelain` and falling back to a persisted manifest
// mtime+size diff when git is unavailable. Grounded on the teacher's
// pkg/coder/driver.go git-status invocation pattern (exec.CommandContext with
// Dir set, CombinedOutput, strings.TrimSpace to detect "no changes").
package vcsdiff

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Detector measures files-changed count for one working directory root.
type Detector struct {
	root         string
	manifestPath string
}

// New returns a Detector rooted at root, persisting its fallback manifest to
// manifestPath.
func New(root, manifestPath string) *Detector {
	return &Detector{root: root, manifestPath: manifestPath}
}

// FilesChanged returns the number of changed files. If a .git directory is
// present and git is on PATH it counts the paths `git status --porcelain`
// reports, i.e. uncommitted changes relative to HEAD rather than changes
// since the previous call; otherwise it falls back to ManifestDiff, which
// counts changes since the previous call.
func (d *Detector) FilesChanged(ctx context.Context) (int, error) {
	if d.hasGit() {
		n, err := d.gitStatusCount(ctx)
		if err == nil {
			return n, nil
		}
	}
	return d.ManifestDiff()
}

func (d *Detector) hasGit() bool {
	if _, err := exec.LookPath("git"); err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(d.root, ".git"))
	return err == nil && info != nil
}

// gitStatusCount runs `git status --porcelain` in d.root and counts
// non-blank output lines, each representing one changed path.
func (d *Detector) gitStatusCount(ctx context.Context) (int, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = d.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, err
	}
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return 0, nil
	}
	return len(strings.Split(trimmed, "\n")), nil
}

// manifestEntry records one file's last observed mtime and size.
type manifestEntry struct {
	ModTime int64 `json:"mod_time"`
	Size    int64 `json:"size"`
}

// ManifestDiff walks d.root, compares every file's mtime+size against the
// previously persisted manifest, counts differing/added/removed paths, and
// persists the fresh manifest for the next call.
func (d *Detector) ManifestDiff() (int, error) {
	prev := make(map[string]manifestEntry)
	if data, err := os.ReadFile(d.manifestPath); err == nil {
		_ = json.Unmarshal(data, &prev)
	}

	current := make(map[string]manifestEntry)
	err := filepath.Walk(d.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, rerr := filepath.Rel(d.root, path)
		if rerr != nil {
			return nil
		}
		current[rel] = manifestEntry{ModTime: info.ModTime().UnixNano(), Size: info.Size()}
		return nil
	})
	if err != nil {
		return 0, err
	}

	changed := 0
	for path, entry := range current {
		if old, ok := prev[path]; !ok || old != entry {
			changed++
		}
	}
	for path := range prev {
		if _, ok := current[path]; !ok {
			changed++
		}
	}

	if err := d.persistManifest(current); err != nil {
		return changed, err
	}
	return changed, nil
}

func (d *Detector) persistManifest(m map[string]manifestEntry) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(d.manifestPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(d.manifestPath, data, 0o644)
}

