// Package reduxtest provides process-spawn-and-capture helpers for
// integration-style tests of the build engine: wrapping exec.Cmd setup
// with t.Fatal-on-error helpers instead of propagated errors.
package reduxtest

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// NewRepo creates an empty git repository in a fresh temp directory and
// returns its absolute path. t.Cleanup removes it.
func NewRepo(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	cmd := exec.Command("git", "init", "-q", dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git init: %v: %s", err, out)
	}
	cmd = exec.Command("git", "-C", dir, "config", "user.email", "redux@example.com")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git config: %v: %s", err, out)
	}
	cmd = exec.Command("git", "-C", dir, "config", "user.name", "redux")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git config: %v: %s", err, out)
	}
	return dir
}

// WriteSource writes contents to path (relative to repo) and git-adds it,
// so rule.Repo.IsSource reports it as a tracked source.
func WriteSource(t testing.TB, repo, path, contents string) {
	t.Helper()
	abs := filepath.Join(repo, path)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command("git", "-C", repo, "add", "--", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git add %s: %v: %s", path, err, out)
	}
}

// WriteDofile writes an executable shell script at path (relative to
// repo), invocable directly as a child process with the rule's standard
// argv: argv[1]=basename, argv[2]=target path, argv[3]=temp output path.
func WriteDofile(t testing.TB, repo, path, script string) {
	t.Helper()
	abs := filepath.Join(repo, path)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatal(err)
	}
	body := "#!/bin/sh\nset -e\n" + script + "\n"
	if err := os.WriteFile(abs, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}
	// Dofiles are not committed: they're rules, not sources, and
	// rule.Repo.IsSource must answer false for them.
}

// ReadFile reads path (relative to repo) and fails the test if it cannot.
func ReadFile(t testing.TB, repo, path string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(repo, path))
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
