package rule_test

import (
	"testing"

	"github.com/reduxbuild/redux/internal/reduxtest"
	"github.com/reduxbuild/redux/internal/rule"
)

func TestRepoIsSource(t *testing.T) {
	dir := reduxtest.NewRepo(t)
	reduxtest.WriteSource(t, dir, "a.txt", "tracked")
	reduxtest.WriteDofile(t, dir, "b.txt.do", "echo untracked-rule")

	repo := &rule.Repo{Root: dir}

	tracked, err := repo.IsSource("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !tracked {
		t.Error("a.txt: IsSource = false, want true (git-added)")
	}

	untracked, err := repo.IsSource("b.txt.do")
	if err != nil {
		t.Fatal(err)
	}
	if untracked {
		t.Error("b.txt.do: IsSource = true, want false (never git-added)")
	}
}

func TestRepoAbsRel(t *testing.T) {
	dir := reduxtest.NewRepo(t)
	repo := &rule.Repo{Root: dir}

	abs := repo.Abs("pkgs/foo/foo.c")
	rel, err := repo.Rel(abs)
	if err != nil {
		t.Fatal(err)
	}
	if rel != "pkgs/foo/foo.c" {
		t.Fatalf("Rel(Abs(p)) = %q, want %q", rel, "pkgs/foo/foo.c")
	}
}
