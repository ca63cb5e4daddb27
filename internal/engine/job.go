package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/orcaman/writerseeker"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/reduxbuild/redux/internal/diag"
	"github.com/reduxbuild/redux/internal/digest"
	"github.com/reduxbuild/redux/internal/probe"
	"github.com/reduxbuild/redux/internal/probe/reduxpb"
	rtrace "github.com/reduxbuild/redux/internal/trace"
)

// Verdict is the terminal state of a Job.
type Verdict int

const (
	Running Verdict = iota
	CommittedOk
	KilledForCacheHit
	Failed
)

// Job is the transient, per-rule-execution object:
// target/rule paths, an allocated temp path, an open tracefile, the child
// process, a tentative dependency list, and a verdict.
type Job struct {
	coord      *Coordinator
	ancestors  []string
	target     string
	rulePath   string
	tmpPath    string
	tracePath  string
	sockPath   string
	traceFile  *os.File

	mu       sync.Mutex
	deps     []rtrace.Dep
	vol      *rtrace.Volatility
	verdict  Verdict
	hasToken bool
	implicit bool // hasToken was satisfied by the coordinator's implicit slot, not a pipe token

	cmd        *exec.Cmd
	grpcServer interface{ GracefulStop(); Stop() }
	matched    *rtrace.Trace // set when verdict == KilledForCacheHit
}

// newJob allocates the temp/trace paths and opens the tracefile, per
// sibling of target, dotted name, suffix ".tmp"/".trace".
func newJob(coord *Coordinator, ancestors []string, target, rulePath string) (*Job, error) {
	abs := coord.Repo.Abs(target)
	dir := filepath.Dir(abs)
	base := "." + filepath.Base(abs)
	tmp := filepath.Join(dir, base+".tmp")
	tracePath := filepath.Join(dir, base+".trace")
	sock := filepath.Join(os.TempDir(), "redux", coord.BuildID, escapeSock(target)+".sock")

	if err := os.MkdirAll(filepath.Dir(sock), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(tracePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Job{
		coord:     coord,
		ancestors: append(append([]string{}, ancestors...), target),
		target:    target,
		rulePath:  rulePath,
		tmpPath:   tmp,
		tracePath: tracePath,
		sockPath:  sock,
		traceFile: f,
	}, nil
}

func escapeSock(target string) string {
	out := make([]byte, 0, len(target))
	for i := 0; i < len(target); i++ {
		c := target[i]
		if c == '/' {
			c = '_'
		}
		out = append(out, c)
	}
	return string(out)
}

// cleanup removes the job's temp/trace/socket files, used on both Failed
// and KilledForCacheHit, and leaves the filesystem exactly as it was
// before the job started.
func (j *Job) cleanup() {
	j.traceFile.Close()
	os.Remove(j.tracePath)
	os.Remove(j.tmpPath)
	os.Remove(j.sockPath)
}

// run executes the rule to produce target, spawning it with the positional
// arguments and environment the rule invocation contract
// requires, and arbitrating between normal completion, failure, and
// mid-job cutoff.
func (j *Job) run(ctx context.Context) (digest.Digest, *rtrace.Trace, error) {
	ev := diag.Event("job:"+j.target, len(j.ancestors))
	defer ev.Done()

	if j.coord.tryClaimImplicit() {
		j.hasToken = true
		j.implicit = true
	} else if err := j.coord.Jobs.Acquire(ctx); err != nil {
		j.cleanup()
		return digest.Digest{}, nil, &Error{Kind: Interrupted, Target: j.target, Err: err}
	} else {
		j.hasToken = true
	}
	defer func() {
		if j.hasToken {
			if j.implicit {
				j.coord.releaseImplicit()
			} else {
				j.coord.Jobs.Release()
			}
		}
	}()

	grpcSrv, lis, err := probe.Listen(j.sockPath, j)
	if err != nil {
		j.cleanup()
		return digest.Digest{}, nil, wrapIo(j.target, err)
	}
	j.grpcServer = grpcSrv
	go grpcSrv.Serve(lis)
	defer grpcSrv.Stop()

	cmd := exec.CommandContext(ctx, j.coord.Repo.Abs(j.rulePath),
		filepath.Base(j.target), j.target, j.tmpPath)
	cmd.Dir = filepath.Dir(j.coord.Repo.Abs(j.rulePath))
	cmd.Env = append(os.Environ(),
		"REDUX_BUILD_ID="+j.coord.BuildID,
		"REDUX_PROBE_SOCKET="+j.sockPath,
		"REDUX_REPO_ROOT="+j.coord.Repo.Root,
	)
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if j.coord.Jobs != nil {
		j.coord.Jobs.PrepareCmd(cmd)
	}
	j.cmd = cmd

	if err := cmd.Start(); err != nil {
		j.cleanup()
		return digest.Digest{}, nil, &Error{Kind: Io, Target: j.target, Err: err}
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		return j.finish(err)
	case <-ctx.Done():
		j.killProcessGroup()
		<-waitErr
		j.cleanup()
		return digest.Digest{}, nil, &Error{Kind: Interrupted, Target: j.target, Err: ctx.Err()}
	}
}

// finish handles the exit of the child process, whether it ran to
// completion or was killed for a mid-job cutoff. On a
// KilledForCacheHit verdict it materializes the matched trace's output to
// target exactly as a plain cache hit would: the rule's own (killed) write
// to tmpPath is never trusted.
func (j *Job) finish(waitErr error) (digest.Digest, *rtrace.Trace, error) {
	j.mu.Lock()
	if j.verdict == KilledForCacheHit {
		matched := j.matched
		j.mu.Unlock()
		j.cleanup()
		abs := j.coord.Repo.Abs(j.target)
		if err := j.coord.Store.Blobs.Materialize(matched.Output, abs); err != nil {
			return digest.Digest{}, nil, wrapIo(j.target, err)
		}
		return matched.Output, matched, nil
	}
	j.mu.Unlock()

	if waitErr != nil {
		j.cleanup()
		code := -1
		if ee, ok := waitErr.(*exec.ExitError); ok {
			code = ee.ExitCode()
		}
		return digest.Digest{}, nil, &Error{Kind: RuleFailed, Target: j.target, ExitCode: code, Err: waitErr}
	}

	d, err := j.coord.Store.Blobs.InsertFile(j.tmpPath)
	if err != nil {
		j.cleanup()
		return digest.Digest{}, nil, wrapIo(j.target, err)
	}

	j.mu.Lock()
	t := &rtrace.Trace{
		RulePath:   j.rulePath,
		TargetPath: j.target,
		Deps:       append([]rtrace.Dep{}, j.deps...),
		Volatility: j.vol,
		Output:     d,
	}
	j.mu.Unlock()

	if err := j.coord.Store.Traces.Insert(t); err != nil {
		j.cleanup()
		return digest.Digest{}, nil, wrapIo(j.target, err)
	}

	abs := j.coord.Repo.Abs(j.target)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		j.cleanup()
		return digest.Digest{}, nil, wrapIo(j.target, err)
	}
	if err := os.Rename(j.tmpPath, abs); err != nil {
		j.cleanup()
		return digest.Digest{}, nil, wrapIo(j.target, err)
	}
	j.traceFile.Close()
	os.Remove(j.tracePath)
	os.Remove(j.sockPath)
	return d, t, nil
}

// killProcessGroup sends SIGTERM to the whole process group so that
// grandchildren of the rule are also terminated, then SIGKILL after a
// bounded wait if it is still alive.
func (j *Job) killProcessGroup() {
	if j.cmd == nil || j.cmd.Process == nil {
		return
	}
	pgid := j.cmd.Process.Pid
	unix.Kill(-pgid, syscall.SIGTERM)
	time.Sleep(200 * time.Millisecond)
	unix.Kill(-pgid, syscall.SIGKILL)
}

// --- probe.Server implementation: handles RPCs the job's child issues ---

// Want implements probe.Server. Each call appends a dependency record to
// this job's tracefile, may recursively build in the coordinator, and may
// trigger a mid-job cutoff before returning.
func (j *Job) Want(ctx context.Context, req *reduxpb.WantRequest) (*reduxpb.WantResponse, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.releaseTokenLocked()
	d, err := j.coord.want(ctx, j.ancestors, req.Path)
	j.reacquireTokenLocked(ctx)

	if err != nil {
		if e, ok := err.(*Error); ok && e.Kind == NoRule {
			if rerr := j.recordLocked(rtrace.Dep{Path: req.Path, Missing: true}); rerr != nil {
				return nil, rerr
			}
			j.checkCutoffLocked(ctx)
			return &reduxpb.WantResponse{Missing: true}, nil
		}
		return nil, err
	}
	if d.IsMissing() {
		if rerr := j.recordLocked(rtrace.Dep{Path: req.Path, Missing: true}); rerr != nil {
			return nil, rerr
		}
		j.checkCutoffLocked(ctx)
		return &reduxpb.WantResponse{Missing: true}, nil
	}
	if rerr := j.recordLocked(rtrace.Dep{Path: req.Path, Digest: d}); rerr != nil {
		return nil, rerr
	}
	j.checkCutoffLocked(ctx)
	return &reduxpb.WantResponse{Digest: d.String()}, nil
}

// Stamp implements probe.Server for --stamp: record a synthetic "<stdin>"
// dependency and mark the trace volatile.
func (j *Job) Stamp(ctx context.Context, req *reduxpb.StampRequest) (*reduxpb.StampResponse, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	d, err := digest.Parse(req.Digest)
	if err != nil {
		return nil, xerrors.Errorf("stamp: %w", err)
	}
	if err := j.recordLocked(rtrace.Dep{Path: "<stdin>", Digest: d}); err != nil {
		return nil, err
	}
	j.vol = &rtrace.Volatility{Kind: rtrace.Always}
	j.checkCutoffLocked(ctx)
	return &reduxpb.StampResponse{}, nil
}

// Depfile implements probe.Server for --depfile: parse a make-style
// depfile and want() every listed path. The file is staged into an
// in-memory buffer (writerseeker) before parsing, rather than parsing
// directly off the filesystem handle.
func (j *Job) Depfile(ctx context.Context, req *reduxpb.DepfileRequest) (*reduxpb.DepfileResponse, error) {
	abs := j.coord.Repo.Abs(req.Path)
	f, err := os.Open(abs)
	if err != nil {
		return nil, wrapIo(req.Path, err)
	}
	var ws writerseeker.WriterSeeker
	_, copyErr := io.Copy(&ws, f)
	f.Close()
	if copyErr != nil {
		return nil, wrapIo(req.Path, copyErr)
	}
	paths, err := parseDepfile(ws.Reader())
	if err != nil {
		return nil, wrapIo(req.Path, err)
	}
	ruleDir := filepath.Dir(j.coord.Repo.Abs(j.rulePath))
	for _, p := range paths {
		rel, err := j.coord.Repo.Rel(filepath.Join(ruleDir, p))
		if err != nil {
			return nil, wrapIo(p, err)
		}
		if _, err := j.Want(ctx, &reduxpb.WantRequest{Path: rel}); err != nil {
			return nil, err
		}
	}
	return &reduxpb.DepfileResponse{}, nil
}

// Volatile implements probe.Server for --always/--after.
func (j *Job) Volatile(ctx context.Context, req *reduxpb.VolatileRequest) (*reduxpb.VolatileResponse, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if req.Always {
		j.vol = &rtrace.Volatility{Kind: rtrace.Always}
	} else {
		j.vol = &rtrace.Volatility{
			Kind:      rtrace.After,
			Duration:  time.Duration(req.AfterSeconds) * time.Second,
			WallClock: time.Now(),
		}
	}
	return &reduxpb.VolatileResponse{}, nil
}

// recordLocked appends dep to both the in-memory tentative list and the
// on-disk append-only tracefile. Caller must hold j.mu.
func (j *Job) recordLocked(dep rtrace.Dep) error {
	j.deps = append(j.deps, dep)
	var line string
	if dep.Missing {
		line = "dep-missing " + dep.Path
	} else {
		line = "dep " + dep.Path + " " + dep.Digest.String()
	}
	_, err := io.WriteString(j.traceFile, line+"\n")
	return err
}

func (j *Job) releaseTokenLocked() {
	if !j.hasToken {
		return
	}
	if j.implicit {
		j.coord.releaseImplicit()
	} else {
		j.coord.Jobs.Release()
	}
	j.hasToken = false
}

func (j *Job) reacquireTokenLocked(ctx context.Context) {
	if j.coord.tryClaimImplicit() {
		j.hasToken = true
		j.implicit = true
		return
	}
	j.implicit = false
	if err := j.coord.Jobs.Acquire(ctx); err == nil {
		j.hasToken = true
	}
}

// checkCutoffLocked implements the mid-job cutoff: after
// recording a dependency, ask whether any committed trace shares this
// exact prefix and would, if validated to completion, produce the same
// output the running rule would eventually produce. Caller must hold j.mu.
func (j *Job) checkCutoffLocked(ctx context.Context) {
	if j.verdict != Running {
		return
	}
	candidates, err := j.coord.Store.Traces.MatchingPrefix(j.rulePath, j.target, j.deps)
	if err != nil || len(candidates) == 0 {
		return
	}
	for _, t := range candidates {
		ok, err := j.coord.validate(ctx, j.ancestors, t)
		if err != nil || !ok {
			continue
		}
		j.verdict = KilledForCacheHit
		j.matched = t
		log.Printf("redux: cutoff: %s matches committed trace, killing rule", j.target)
		go j.killProcessGroup()
		return
	}
}

func parseDepfile(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text := string(data)
	// make-style depfile: "target: dep1 dep2 \\\n  dep3 ..."
	idx := strings.IndexByte(text, ':')
	if idx < 0 {
		return nil, fmt.Errorf("depfile: no ':' found")
	}
	rest := strings.ReplaceAll(text[idx+1:], "\\\n", " ")
	return strings.Fields(rest), nil
}
