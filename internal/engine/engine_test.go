package engine_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/reduxbuild/redux/internal/engine"
	"github.com/reduxbuild/redux/internal/jobserver"
	"github.com/reduxbuild/redux/internal/reduxtest"
	"github.com/reduxbuild/redux/internal/rule"
	"github.com/reduxbuild/redux/internal/store"
)

// reduxBin is built once, by TestMain, so dofiles in these tests can shell
// out to the same "redux want"/"redux stamp" probe client the real CLI
// ships — exercising the dependency-probe protocol end to end rather than
// only the engine's Go-internal surface.
var reduxBin string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "redux-bin")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)
	reduxBin = filepath.Join(dir, "redux")

	modRoot, err := findModuleRoot()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cmd := exec.Command("go", "build", "-o", reduxBin, "./cmd/redux")
	cmd.Dir = modRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "building redux: %v: %s\n", err, out)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func findModuleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found above %s", dir)
		}
		dir = parent
	}
}

func newCoordinator(t *testing.T, repoDir string) *engine.Coordinator {
	t.Helper()
	repo := &rule.Repo{Root: repoDir}
	layout := store.NewLayout(repo.MetaDir())
	js, err := jobserver.New(4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { js.Close() })
	return engine.New(repo, layout, js, "testbuild")
}

func TestBuildSourceOnly(t *testing.T) {
	dir := reduxtest.NewRepo(t)
	reduxtest.WriteSource(t, dir, "a.txt", "hello")

	coord := newCoordinator(t, dir)
	d, err := coord.Want(context.Background(), "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if d.IsMissing() {
		t.Fatal("source file reported Missing")
	}
}

func TestBuildRuleProducesOutput(t *testing.T) {
	dir := reduxtest.NewRepo(t)
	reduxtest.WriteDofile(t, dir, "greeting.do", `echo -n "hello, world" > "$3"`)

	coord := newCoordinator(t, dir)
	_, err := coord.Want(context.Background(), "greeting")
	if err != nil {
		t.Fatal(err)
	}
	got := reduxtest.ReadFile(t, dir, "greeting")
	if got != "hello, world" {
		t.Fatalf("greeting = %q, want %q", got, "hello, world")
	}
}

func TestBuildRuleWithDependencyProbe(t *testing.T) {
	dir := reduxtest.NewRepo(t)
	reduxtest.WriteSource(t, dir, "name.txt", "redux")
	reduxtest.WriteDofile(t, dir, "greeting.do",
		fmt.Sprintf(`%s want name.txt
`+"name=$(cat name.txt)"+`
echo -n "hello, $name" > "$3"`, reduxBin))

	coord := newCoordinator(t, dir)
	_, err := coord.Want(context.Background(), "greeting")
	if err != nil {
		t.Fatal(err)
	}
	got := reduxtest.ReadFile(t, dir, "greeting")
	if got != "hello, redux" {
		t.Fatalf("greeting = %q, want %q", got, "hello, redux")
	}
}

func TestBuildFailurePropagates(t *testing.T) {
	dir := reduxtest.NewRepo(t)
	reduxtest.WriteDofile(t, dir, "broken.do", `exit 7`)

	coord := newCoordinator(t, dir)
	_, err := coord.Want(context.Background(), "broken")
	if err == nil {
		t.Fatal("expected an error from a rule that exits non-zero")
	}
	var ee *engine.Error
	if !asEngineError(err, &ee) {
		t.Fatalf("error %v is not an *engine.Error", err)
	}
	if ee.Kind != engine.RuleFailed {
		t.Fatalf("Kind = %v, want RuleFailed", ee.Kind)
	}
	if ee.ExitCode != 7 {
		t.Fatalf("ExitCode = %d, want 7", ee.ExitCode)
	}
}

func TestBuildNoRuleNoSource(t *testing.T) {
	dir := reduxtest.NewRepo(t)
	coord := newCoordinator(t, dir)
	_, err := coord.Want(context.Background(), "nonexistent")
	if err == nil {
		t.Fatal("expected an error for a nonexistent target with no rule")
	}
	var ee *engine.Error
	if !asEngineError(err, &ee) {
		t.Fatalf("error %v is not an *engine.Error", err)
	}
	if ee.Kind != engine.NoRule {
		t.Fatalf("Kind = %v, want NoRule", ee.Kind)
	}
}

func TestBuildReusesCommittedTraceWithoutRerunningRule(t *testing.T) {
	dir := reduxtest.NewRepo(t)
	marker := filepath.Join(dir, "ran")
	reduxtest.WriteDofile(t, dir, "once.do",
		fmt.Sprintf(`echo >> %q
echo -n "built" > "$3"`, marker))

	coord1 := newCoordinator(t, dir)
	if _, err := coord1.Want(context.Background(), "once"); err != nil {
		t.Fatal(err)
	}
	runsAfterFirst := countLines(t, marker)
	if runsAfterFirst != 1 {
		t.Fatalf("rule ran %d times on first build, want 1", runsAfterFirst)
	}

	coord2 := newCoordinator(t, dir)
	if _, err := coord2.Want(context.Background(), "once"); err != nil {
		t.Fatal(err)
	}
	runsAfterSecond := countLines(t, marker)
	if runsAfterSecond != runsAfterFirst {
		t.Fatalf("rule ran again on second build: %d runs, want %d", runsAfterSecond, runsAfterFirst)
	}
}

func TestBuildForceRebuildsEvenWhenTraceValidates(t *testing.T) {
	dir := reduxtest.NewRepo(t)
	marker := filepath.Join(dir, "ran")
	reduxtest.WriteDofile(t, dir, "once.do",
		fmt.Sprintf(`echo >> %q
echo -n "built" > "$3"`, marker))

	coord1 := newCoordinator(t, dir)
	if _, err := coord1.Want(context.Background(), "once"); err != nil {
		t.Fatal(err)
	}

	coord2 := newCoordinator(t, dir)
	coord2.Force["once"] = true
	if _, err := coord2.Want(context.Background(), "once"); err != nil {
		t.Fatal(err)
	}
	if runs := countLines(t, marker); runs != 2 {
		t.Fatalf("rule ran %d times across force rebuild, want 2", runs)
	}
}

func TestCycleDetected(t *testing.T) {
	dir := reduxtest.NewRepo(t)
	reduxtest.WriteDofile(t, dir, "a.do",
		fmt.Sprintf(`%s want b 2>&1
echo -n a > "$3"`, reduxBin))
	reduxtest.WriteDofile(t, dir, "b.do",
		fmt.Sprintf(`%s want a 2>&1
echo -n b > "$3"`, reduxBin))

	coord := newCoordinator(t, dir)
	_, err := coord.Want(context.Background(), "a")
	if err == nil {
		t.Fatal("expected a cycle error for a -> b -> a")
	}
}

func asEngineError(err error, out **engine.Error) bool {
	for err != nil {
		if ee, ok := err.(*engine.Error); ok {
			*out = ee
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

var _ = time.Second
