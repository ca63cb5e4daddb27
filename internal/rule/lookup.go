package rule

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"
)

// Find implements the standard redo ".do" resolution algorithm: starting
// from target's own directory, try an exact
// dofile, then increasingly generic "default*.do" patterns, then repeat
// one directory up, stopping at repoRoot. Returns ("", false, nil) when no
// dofile exists anywhere along the walk (the target is either a source
// file or doesn't exist).
func Find(repoRoot, target string) (string, bool, error) {
	target = normalise(target)
	dir := filepath.Dir(target)
	name := filepath.Base(target)

	var visited []string
	for {
		// A repository with symlinked package directories can otherwise
		// walk the same ancestor twice and loop forever.
		if slices.Contains(visited, dir) {
			break
		}
		visited = append(visited, dir)

		if p, ok := tryDir(repoRoot, dir, name); ok {
			return p, true, nil
		}
		if dir == "." {
			break
		}
		parent := filepath.Dir(dir)
		// name gains the stripped directory component as a prefix so that
		// e.g. pkgs/foo/bar.c can be matched by pkgs/default.c.do just as
		// readily as pkgs/foo/default.c.do.
		name = filepath.Base(dir) + "/" + name
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// tryDir checks dir (relative to repoRoot) for an exact dofile for name,
// then default.do files for each suffix of name split on ".".
func tryDir(repoRoot, dir, name string) (string, bool) {
	abs := func(rel string) string {
		if dir == "." {
			return filepath.Join(repoRoot, rel)
		}
		return filepath.Join(repoRoot, dir, rel)
	}
	if exists(abs(name + ".do")) {
		return join(dir, name+".do"), true
	}
	// default.do and default.<ext>.do, from the most specific extension
	// chain down to the bare "default.do".
	rest := name
	for {
		idx := strings.Index(rest, ".")
		if idx < 0 {
			break
		}
		ext := rest[idx+1:]
		candidate := "default." + ext + ".do"
		if exists(abs(candidate)) {
			return join(dir, candidate), true
		}
		rest = rest[idx+1:]
	}
	if exists(abs("default.do")) {
		return join(dir, "default.do"), true
	}
	return "", false
}

func join(dir, name string) string {
	if dir == "." {
		return name
	}
	return dir + "/" + name
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
