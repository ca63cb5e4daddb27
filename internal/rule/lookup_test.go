package rule

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFindExactDofile(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "pkgs/foo/foo.o.do"))

	got, ok, err := Find(root, "pkgs/foo/foo.o")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a rule to be found")
	}
	if want := "pkgs/foo/foo.o.do"; got != want {
		t.Fatalf("Find = %q, want %q", got, want)
	}
}

func TestFindDefaultExtensionDofile(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "pkgs/foo/default.o.do"))

	got, ok, err := Find(root, "pkgs/foo/bar.o")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a rule to be found via default.o.do")
	}
	if want := "pkgs/foo/default.o.do"; got != want {
		t.Fatalf("Find = %q, want %q", got, want)
	}
}

func TestFindWalksUpToParentDirectory(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "pkgs/default.o.do"))

	got, ok, err := Find(root, "pkgs/foo/bar.o")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a rule to be found by walking up to pkgs/")
	}
	if want := "pkgs/default.o.do"; got != want {
		t.Fatalf("Find = %q, want %q", got, want)
	}
}

func TestFindPrefersExactOverDefault(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "pkgs/foo/bar.o.do"))
	touch(t, filepath.Join(root, "pkgs/foo/default.o.do"))

	got, _, err := Find(root, "pkgs/foo/bar.o")
	if err != nil {
		t.Fatal(err)
	}
	if want := "pkgs/foo/bar.o.do"; got != want {
		t.Fatalf("Find = %q, want the more specific %q", got, want)
	}
}

func TestFindNoRule(t *testing.T) {
	root := t.TempDir()
	_, ok, err := Find(root, "pkgs/foo/bar.o")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no rule to be found in an empty tree")
	}
}

func TestFindBareDefaultDo(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "default.do"))

	got, ok, err := Find(root, "anything.xyz")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected the bare default.do at the root to match")
	}
	if want := "default.do"; got != want {
		t.Fatalf("Find = %q, want %q", got, want)
	}
}
