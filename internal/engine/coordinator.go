// Package engine implements the suspending scheduler and trace validator
// at the heart of redux: Coordinator.Want resolves a target to a content
// digest, either by replaying a committed trace, by reusing an in-flight
// build of the same target, or by running the target's rule and recording
// a fresh trace.
package engine

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reduxbuild/redux/internal/diag"
	"github.com/reduxbuild/redux/internal/digest"
	"github.com/reduxbuild/redux/internal/jobserver"
	"github.com/reduxbuild/redux/internal/rule"
	"github.com/reduxbuild/redux/internal/store"
	rtrace "github.com/reduxbuild/redux/internal/trace"
)

// Coordinator owns the shared state of one redux invocation: the content
// store, the jobserver token pipe, and the bookkeeping needed to coalesce
// concurrent want()s for the same target and detect cycles.
type Coordinator struct {
	Repo  *rule.Repo
	Store *store.Layout
	Jobs  *jobserver.Jobserver
	Log   *log.Logger

	// BuildID distinguishes probe sockets of concurrent redux invocations
	// sharing the same repo (e.g. two `redux` processes racing a build).
	BuildID string

	// Force lists targets that must be rebuilt even if a committed trace
	// validates, per --force.
	Force map[string]bool

	mu       sync.Mutex
	resolved map[string]digest.Digest
	inflight map[string]*inflightEntry

	// implicitSlot mirrors the free concurrency slot a top-level make
	// invocation runs its own recipe under without drawing a token from the
	// jobserver pipe (New seeds only n-1 tokens for exactly this reason).
	// Whichever Job claims it first runs without touching Jobs at all; every
	// other concurrently active Job acquires a real pipe token as usual.
	implicitSlot int32
}

// tryClaimImplicit attempts to claim the coordinator's one free slot,
// reporting whether it succeeded.
func (c *Coordinator) tryClaimImplicit() bool {
	return atomic.CompareAndSwapInt32(&c.implicitSlot, 0, 1)
}

// releaseImplicit returns the implicit slot so another Job may claim it.
func (c *Coordinator) releaseImplicit() {
	atomic.StoreInt32(&c.implicitSlot, 0)
}

type inflightEntry struct {
	done   chan struct{}
	digest digest.Digest
	err    error
}

// New constructs a Coordinator. jobs may be nil, in which case a -j1
// jobserver (no pipe tokens, only the implicit slot) is created so builds
// still serialize cleanly.
func New(repo *rule.Repo, layout *store.Layout, jobs *jobserver.Jobserver, buildID string) *Coordinator {
	if jobs == nil {
		jobs, _ = jobserver.New(1)
	}
	return &Coordinator{
		Repo:     repo,
		Store:    layout,
		Jobs:     jobs,
		BuildID:  buildID,
		Force:    map[string]bool{},
		Log:      log.New(os.Stderr, "redux: ", 0),
		resolved: map[string]digest.Digest{},
		inflight: map[string]*inflightEntry{},
	}
}

// Want is the public entry point for a top-level want from the CLI:
// resolve target's content digest, building it (and its transitive
// dependencies) as needed. The resolution is NOT recorded as a dependency
// here — a running Job's Want handler does that itself via
// Job.recordLocked so that the tentative dep list and the in-memory digest
// stay consistent under the job's own mutex.
func (c *Coordinator) Want(ctx context.Context, target string) (digest.Digest, error) {
	return c.want(ctx, nil, target)
}

func (c *Coordinator) want(ctx context.Context, ancestors []string, target string) (digest.Digest, error) {
	target = normalizeTarget(target)
	for _, a := range ancestors {
		if a == target {
			return digest.Digest{}, &Error{Kind: Cycle, Target: target}
		}
	}

	c.mu.Lock()
	if d, ok := c.resolved[target]; ok && !c.Force[target] {
		c.mu.Unlock()
		return d, nil
	}
	if entry, ok := c.inflight[target]; ok {
		c.mu.Unlock()
		select {
		case <-entry.done:
			return entry.digest, entry.err
		case <-ctx.Done():
			return digest.Digest{}, ctx.Err()
		}
	}
	entry := &inflightEntry{done: make(chan struct{})}
	c.inflight[target] = entry
	c.mu.Unlock()

	d, err := c.resolve(ctx, ancestors, target)

	c.mu.Lock()
	entry.digest, entry.err = d, err
	delete(c.inflight, target)
	if err == nil {
		c.resolved[target] = d
	}
	c.mu.Unlock()
	close(entry.done)

	return d, err
}

// resolve classifies target, then either hashes it as a source or builds
// it as a generated target (validating a committed trace first).
func (c *Coordinator) resolve(ctx context.Context, ancestors []string, target string) (digest.Digest, error) {
	ev := diag.Event("want:"+target, len(ancestors))
	defer ev.Done()

	rulePath, isSource, missing, err := c.classify(target)
	if err != nil {
		return digest.Digest{}, err
	}
	if isSource {
		if missing {
			return digest.Missing, nil
		}
		f, err := os.Open(c.Repo.Abs(target))
		if err != nil {
			return digest.Digest{}, wrapIo(target, err)
		}
		defer f.Close()
		d, err := digest.Hash(f)
		if err != nil {
			return digest.Digest{}, wrapIo(target, err)
		}
		return d, nil
	}

	if !c.Force[target] {
		if d, ok, err := c.reuseCommitted(ctx, ancestors, rulePath, target); err != nil {
			return digest.Digest{}, err
		} else if ok {
			return d, nil
		}
	}

	job, err := newJob(c, ancestors, target, rulePath)
	if err != nil {
		return digest.Digest{}, wrapIo(target, err)
	}
	d, _, err := job.run(ctx)
	return d, err
}

// classify determines whether target is a tracked repo source (hash it
// directly), a missing-but-tracked source (digest.Missing), or a
// generated target with a dofile rule. An existing file with neither a
// git-tracked status nor a dofile rule is treated as a source: nothing
// else sensible can be done with it (decided as an Open Question in
// DESIGN.md).
func (c *Coordinator) classify(target string) (rulePath string, isSource, missing bool, err error) {
	tracked, err := c.Repo.IsSource(target)
	if err != nil {
		return "", false, false, wrapIo(target, err)
	}
	if tracked {
		if _, statErr := os.Stat(c.Repo.Abs(target)); statErr != nil {
			if os.IsNotExist(statErr) {
				return "", true, true, nil
			}
			return "", false, false, wrapIo(target, statErr)
		}
		return "", true, false, nil
	}

	rp, ok, err := rule.Find(c.Repo.Root, target)
	if err != nil {
		return "", false, false, wrapIo(target, err)
	}
	if ok {
		return rp, false, false, nil
	}

	if _, statErr := os.Stat(c.Repo.Abs(target)); statErr == nil {
		return "", true, false, nil
	}
	return "", false, false, &Error{Kind: NoRule, Target: target}
}

// reuseCommitted looks for a committed trace for (rulePath, target) whose
// recorded dependencies still validate, and if one is found, returns its
// output digest without running the rule.
func (c *Coordinator) reuseCommitted(ctx context.Context, ancestors []string, rulePath, target string) (digest.Digest, bool, error) {
	ev := diag.Event("cache-probe:"+target, len(ancestors))
	defer ev.Done()

	candidates, err := c.Store.Traces.Candidates(rulePath, target)
	if err != nil {
		return digest.Digest{}, false, wrapTrace(target, err)
	}
	for _, t := range candidates {
		ok, err := c.validate(ctx, ancestors, t)
		if err != nil {
			return digest.Digest{}, false, err
		}
		if ok {
			abs := c.Repo.Abs(target)
			if err := c.Store.Blobs.Materialize(t.Output, abs); err != nil {
				return digest.Digest{}, false, wrapIo(target, err)
			}
			return t.Output, true, nil
		}
	}
	return digest.Digest{}, false, nil
}

// validate recursively wants() every dependency recorded in t and checks
// that each still resolves to the recorded digest (or is still missing),
// and that any volatility window has not expired. This is never a raw
// filesystem comparison: a dependency that is itself a generated target
// may need its own rule re-run (or its own trace replay) before its
// current digest is known.
func (c *Coordinator) validate(ctx context.Context, ancestors []string, t *rtrace.Trace) (bool, error) {
	if t.Volatility != nil && t.Volatility.Expired(time.Now()) {
		return false, nil
	}
	nextAncestors := append(append([]string{}, ancestors...), t.TargetPath)
	for _, dep := range t.Deps {
		d, err := c.want(ctx, nextAncestors, dep.Path)
		if err != nil {
			if e, ok := err.(*Error); ok && e.Kind == NoRule {
				if !dep.Missing {
					return false, nil
				}
				continue
			}
			return false, err
		}
		if dep.Missing {
			if !d.IsMissing() {
				return false, nil
			}
			continue
		}
		if d != dep.Digest {
			return false, nil
		}
	}
	return true, nil
}

func normalizeTarget(target string) string {
	for len(target) > 1 && target[0] == '.' && target[1] == '/' {
		target = target[2:]
	}
	return target
}
