package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
)

// GitDestination commits each snapshot to a file in a local clone and
// pushes it. Commit subjects name the record counts and digest, so
// `git log` reads as a history of the registry.
type GitDestination struct {
	repo   string // path to the local clone
	file   string // path within the repo
	branch string
}

func NewGitDestination(repo, file, branch string) *GitDestination {
	return &GitDestination{repo: repo, file: file, branch: branch}
}

func (d *GitDestination) String() string {
	return "git:" + filepath.Join(d.repo, d.file) + "@" + d.branch
}

// CommitMessage is the commit subject written for snap.
func CommitMessage(snap *Snapshot) string {
	return fmt.Sprintf("ctxreg: %s (%s)", snap.Summary(), snap.ShortDigest())
}

// Write commits snap unless the committed file already holds the same
// records.
func (d *GitDestination) Write(ctx context.Context, snap *Snapshot) error {
	if _, err := d.git(ctx, "checkout", d.branch); err != nil {
		return fmt.Errorf("git checkout %s: %w", d.branch, err)
	}
	// The remote branch may not exist yet.
	_, _ = d.git(ctx, "pull", "--ff-only", "origin", d.branch)

	path := filepath.Join(d.repo, d.file)
	current, err := os.ReadFile(path)
	switch {
	case err == nil:
		if snapshotDigest(current) == snap.Digest {
			return nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("read %s: %w", d.file, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(path, snap.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", d.file, err)
	}
	if _, err := d.git(ctx, "add", d.file); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	if _, err := d.git(ctx, "commit", "-m", CommitMessage(snap)); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}
	if _, err := d.git(ctx, "push", "origin", d.branch); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	return nil
}

// git runs a git subcommand in the clone. Output is returned, and folded
// into the error on failure.
func (d *GitDestination) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.repo
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%w: %s", err, bytes.TrimSpace(out))
	}
	return out, nil
}
