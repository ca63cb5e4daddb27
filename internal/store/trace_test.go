package store

import (
	"testing"

	"github.com/reduxbuild/redux/internal/digest"
	rtrace "github.com/reduxbuild/redux/internal/trace"
)

func mkTrace(rulePath, targetPath string, deps []rtrace.Dep, output byte) *rtrace.Trace {
	return &rtrace.Trace{
		RulePath:   rulePath,
		TargetPath: targetPath,
		Deps:       deps,
		Output:     digest.HashBytes([]byte{output}),
	}
}

func TestTraceStoreInsertAndCandidates(t *testing.T) {
	ts := &TraceStore{Root: t.TempDir()}
	deps := []rtrace.Dep{{Path: "a.c", Digest: digest.HashBytes([]byte("a"))}}
	tr := mkTrace("pkgs/foo/default.c.do", "pkgs/foo/foo.o", deps, 1)

	if err := ts.Insert(tr); err != nil {
		t.Fatal(err)
	}

	cands, err := ts.Candidates(tr.RulePath, tr.TargetPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("Candidates returned %d traces, want 1", len(cands))
	}
	if cands[0].Output != tr.Output {
		t.Fatalf("Candidates()[0].Output = %s, want %s", cands[0].Output, tr.Output)
	}
}

func TestTraceStoreCandidatesEmptyWhenUnknown(t *testing.T) {
	ts := &TraceStore{Root: t.TempDir()}
	cands, err := ts.Candidates("no/such.do", "no/such/target")
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("Candidates for an unknown key returned %d traces, want 0", len(cands))
	}
}

func TestTraceStoreDistinctFingerprintsCoexist(t *testing.T) {
	ts := &TraceStore{Root: t.TempDir()}
	rule, target := "r.do", "t"
	tr1 := mkTrace(rule, target, []rtrace.Dep{{Path: "a", Digest: digest.HashBytes([]byte("1"))}}, 1)
	tr2 := mkTrace(rule, target, []rtrace.Dep{{Path: "a", Digest: digest.HashBytes([]byte("2"))}}, 2)

	if err := ts.Insert(tr1); err != nil {
		t.Fatal(err)
	}
	if err := ts.Insert(tr2); err != nil {
		t.Fatal(err)
	}
	cands, err := ts.Candidates(rule, target)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 {
		t.Fatalf("Candidates returned %d traces, want 2", len(cands))
	}
}

func TestMatchingPrefix(t *testing.T) {
	ts := &TraceStore{Root: t.TempDir()}
	rule, target := "r.do", "t"
	full := []rtrace.Dep{
		{Path: "a", Digest: digest.HashBytes([]byte("a"))},
		{Path: "b", Digest: digest.HashBytes([]byte("b"))},
		{Path: "c", Digest: digest.HashBytes([]byte("c"))},
	}
	tr := mkTrace(rule, target, full, 1)
	if err := ts.Insert(tr); err != nil {
		t.Fatal(err)
	}

	matches, err := ts.MatchingPrefix(rule, target, full[:2])
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("MatchingPrefix (matching prefix) returned %d, want 1", len(matches))
	}

	divergent := []rtrace.Dep{full[0], {Path: "b", Digest: digest.HashBytes([]byte("different"))}}
	matches, err = ts.MatchingPrefix(rule, target, divergent)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("MatchingPrefix (divergent prefix) returned %d, want 0", len(matches))
	}
}
