// Package rule implements the two external collaborators placed
// outside the build engine's core: the repository adapter (is a path a
// tracked source file?) and dofile rule lookup (redo's ancestor-directory
// .do resolution). Both are deliberately thin.
package rule

import (
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/xerrors"
)

// Repo is a version-controlled-repository adapter backed by git: any VCS
// that can answer "is this path tracked" satisfies the source/rule contract, and
// redux only ever asks git that one question.
type Repo struct {
	Root string
}

// metaDirName is the subdirectory of Root redux uses for its own
// metadata (blobs/ and traces/), rooted at ".git/redux".
const metaDirName = "redux"

// MetaDir returns the root of redux's own metadata area.
func (r *Repo) MetaDir() string {
	return filepath.Join(r.Root, ".git", metaDirName)
}

// Discover locates the enclosing repository starting at dir, walking
// upward to find a .git directory. REDUXROOT overrides discovery.
func Discover(dir string) (*Repo, error) {
	if root := os.Getenv("REDUXROOT"); root != "" {
		return &Repo{Root: root}, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for {
		if fi, err := os.Stat(filepath.Join(abs, ".git")); err == nil && fi.IsDir() {
			return &Repo{Root: abs}, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return nil, xerrors.Errorf("no repository found above %s (redux requires a tracked checkout)", dir)
		}
		abs = parent
	}
}

// IsSource reports whether path (repository-relative) is tracked by the
// underlying VCS, i.e. it is an input the user maintains rather than an
// artifact a rule produces.
func (r *Repo) IsSource(path string) (bool, error) {
	cmd := exec.Command("git", "-C", r.Root, "ls-files", "--error-unmatch", "--", path)
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return false, nil // not tracked: exit status 1 from --error-unmatch
		}
		return false, xerrors.Errorf("git ls-files %s: %w", path, err)
	}
	return true, nil
}

// Rel returns path relative to the repository root, normalised to use "/"
// regardless of host path separator, matching the Path key equality rule
// in the data model.
func (r *Repo) Rel(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(r.Root, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Abs resolves a repository-relative path key back to an absolute path.
func (r *Repo) Abs(path string) string {
	return filepath.Join(r.Root, filepath.FromSlash(path))
}

// normalise collapses "." components and a leading "./" the way redo
// dofile resolution expects a path key to already be in normal form.
func normalise(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}
