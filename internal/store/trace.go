package store

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio"

	rtrace "github.com/reduxbuild/redux/internal/trace"
)

// TraceStore is the mapping (rule_path, target_path) → ordered set of
// Trace, persisted as traces/<escaped rule>/<escaped target>/<fingerprint>
// under its root directory. "Even simpler than SQLite": one directory per
// key, one file per trace, named by its input fingerprint.
type TraceStore struct {
	Root string
}

func (s *TraceStore) dir(rulePath, targetPath string) string {
	return filepath.Join(s.Root, escapePath(rulePath), escapePath(targetPath))
}

// Insert durably commits t, keyed by its fingerprint. The caller must have
// already inserted t.Output into the blob store: a trace referencing a
// digest must only be visible after the blob is durable.
func (s *TraceStore) Insert(t *rtrace.Trace) error {
	dir := s.dir(t.RulePath, t.TargetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	dest := filepath.Join(dir, t.Fingerprint().String())
	f, err := renameio.TempFile(dir, dest)
	if err != nil {
		return err
	}
	defer f.Cleanup()
	if _, err := t.WriteTo(f); err != nil {
		return err
	}
	return f.CloseAtomicallyReplace()
}

// candidate pairs a parsed trace with the mtime of the file it was read
// from, for the newest-first ordering.
type candidate struct {
	trace *rtrace.Trace
	mtime int64
}

// Candidates returns every committed trace for (rulePath, targetPath),
// newest-first by mtime and tie-broken by fingerprint, so that validation
// order is deterministic.
func (s *TraceStore) Candidates(rulePath, targetPath string) ([]*rtrace.Trace, error) {
	dir := s.dir(rulePath, targetPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	cands := make([]candidate, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		t, err := rtrace.Parse(f, rulePath, targetPath)
		f.Close()
		if err != nil {
			return nil, err
		}
		cands = append(cands, candidate{trace: t, mtime: fi.ModTime().UnixNano()})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].mtime != cands[j].mtime {
			return cands[i].mtime > cands[j].mtime // newest first
		}
		return cands[i].trace.Fingerprint().String() < cands[j].trace.Fingerprint().String()
	})
	out := make([]*rtrace.Trace, len(cands))
	for i, c := range cands {
		out[i] = c.trace
	}
	return out, nil
}

// MatchingPrefix returns every committed trace for (rulePath, targetPath)
// whose first len(deps) dependency records exactly equal deps. This is the
// mid-job cutoff's prefix lookup, called after every newly recorded
// dependency. There is no persistent prefix index: each call re-reads and
// parses every committed trace for the key via Candidates, then compares
// each trace's prefix fingerprint against the fingerprint of deps.
func (s *TraceStore) MatchingPrefix(rulePath, targetPath string, deps []rtrace.Dep) ([]*rtrace.Trace, error) {
	cands, err := s.Candidates(rulePath, targetPath)
	if err != nil {
		return nil, err
	}
	want := rtrace.Fingerprint(deps, nil)
	var out []*rtrace.Trace
	for _, t := range cands {
		if len(t.Deps) < len(deps) {
			continue
		}
		got := rtrace.PrefixFingerprint(t.Deps, len(deps))
		if got == want {
			out = append(out, t)
		}
	}
	return out, nil
}
