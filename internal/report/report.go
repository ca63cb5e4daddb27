// Package report implements the introspection commands
// (--whichdo/--sources/--outputs/--howdid/--clean): read-only views over
// internal/rule and internal/store that never invoke the engine's
// scheduler, so they work even mid-build or against a stale cache.
package report

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/xerrors"

	"github.com/reduxbuild/redux/internal/rule"
	"github.com/reduxbuild/redux/internal/store"
	rtrace "github.com/reduxbuild/redux/internal/trace"
)

// WhichDo returns the dofile that would build target, or ok=false if no
// dofile matches target. It does not check whether target is a tracked
// source.
func WhichDo(repo *rule.Repo, target string) (rulePath string, ok bool, err error) {
	return rule.Find(repo.Root, target)
}

// latestTrace returns the most recently committed trace for target, using
// WhichDo to find its rule. It never validates the trace's dependencies;
// callers only want to know what was last recorded.
func latestTrace(repo *rule.Repo, layout *store.Layout, target string) (*rtrace.Trace, error) {
	rulePath, ok, err := rule.Find(repo.Root, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerrors.Errorf("%s: no rule (not a generated target)", target)
	}
	cands, err := layout.Traces.Candidates(rulePath, target)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, xerrors.Errorf("%s: no committed trace (never successfully built)", target)
	}
	return cands[0], nil
}

// classify reports whether dep is a tracked source, without recursing:
// it's used purely to partition an already-recorded dependency list.
func classify(repo *rule.Repo, dep rtrace.Dep) (isSource bool, err error) {
	if dep.Missing {
		return true, nil
	}
	tracked, err := repo.IsSource(dep.Path)
	if err != nil {
		return false, err
	}
	if tracked {
		return true, nil
	}
	_, hasRule, err := rule.Find(repo.Root, dep.Path)
	if err != nil {
		return false, err
	}
	return !hasRule, nil
}

// Sources returns target's transitive source dependencies, walking the
// most recently committed trace of target and of every generated
// dependency it finds, without revalidating any of them.
func Sources(repo *rule.Repo, layout *store.Layout, target string) ([]string, error) {
	return walk(repo, layout, target, true)
}

// Outputs returns target's transitive generated dependencies (the other
// targets redux would also have to build), under the same non-validating
// walk as Sources.
func Outputs(repo *rule.Repo, layout *store.Layout, target string) ([]string, error) {
	return walk(repo, layout, target, false)
}

func walk(repo *rule.Repo, layout *store.Layout, target string, wantSources bool) ([]string, error) {
	reported := map[string]bool{}
	queued := map[string]bool{target: true}
	var out []string
	queue := []string{target}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		t, err := latestTrace(repo, layout, cur)
		if err != nil {
			continue // cur has no rule/trace: it's a leaf, already classified by its parent
		}
		for _, dep := range t.Deps {
			isSource, err := classify(repo, dep)
			if err != nil {
				return nil, err
			}
			if isSource == wantSources && !reported[dep.Path] {
				reported[dep.Path] = true
				out = append(out, dep.Path)
			}
			if !isSource && !queued[dep.Path] {
				queued[dep.Path] = true
				queue = append(queue, dep.Path)
			}
		}
	}
	return out, nil
}

// HowDid writes a human-readable rendering of the most recently committed
// trace for target to w: its rule, its dependencies, and its output
// digest.
func HowDid(repo *rule.Repo, layout *store.Layout, target string, w *os.File) error {
	t, err := latestTrace(repo, layout, target)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "target: %s\n", t.TargetPath)
	fmt.Fprintf(w, "rule:   %s\n", t.RulePath)
	fmt.Fprintf(w, "output: %s\n", t.Output)
	if t.Volatility != nil {
		switch t.Volatility.Kind {
		case rtrace.Always:
			fmt.Fprintln(w, "volatility: always")
		case rtrace.After:
			fmt.Fprintf(w, "volatility: after %s (recorded %s)\n", t.Volatility.Duration, t.Volatility.WallClock)
		}
	}
	fmt.Fprintln(w, "dependencies:")
	for _, dep := range t.Deps {
		if dep.Missing {
			fmt.Fprintf(w, "  %s (missing)\n", dep.Path)
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", dep.Path, dep.Digest)
	}
	return nil
}

// Clean removes the entire metadata area (blob store and trace store)
// under repo, discarding every cached build result. It does not touch any
// target files already materialized in the working tree.
func Clean(repo *rule.Repo) error {
	dir := repo.MetaDir()
	if dir == "" || dir == "/" || !strings.HasSuffix(dir, "redux") {
		return xerrors.Errorf("refusing to clean suspicious metadata directory %q", dir)
	}
	return os.RemoveAll(dir)
}
