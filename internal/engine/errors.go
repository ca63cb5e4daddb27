package engine

import (
	"golang.org/x/xerrors"

	rtrace "github.com/reduxbuild/redux/internal/trace"
)

// Kind classifies the errors the top-level driver needs to distinguish.
type Kind int

const (
	// Io wraps an unclassified filesystem/OS error.
	Io Kind = iota
	// NoRule means target does not exist as a file and has no dofile.
	NoRule
	// RuleFailed means the rule process exited non-zero.
	RuleFailed
	// Cycle means target was re-requested from within its own transitive
	// build.
	Cycle
	// CorruptTrace means a committed trace file could not be parsed.
	CorruptTrace
	// cacheMiss is internal only: it never escapes the engine package.
	cacheMiss
	// Interrupted means the build was aborted by SIGINT/SIGTERM.
	Interrupted
)

func (k Kind) String() string {
	switch k {
	case Io:
		return "io"
	case NoRule:
		return "no rule"
	case RuleFailed:
		return "rule failed"
	case Cycle:
		return "cycle"
	case CorruptTrace:
		return "corrupt trace"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Error is what Coordinator.Want returns on failure: the failing target's
// path, the kind of failure, and (for RuleFailed) the rule's exit code.
type Error struct {
	Kind     Kind
	Target   string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Target + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Target
}

func (e *Error) Unwrap() error { return e.Err }

func wrapIo(target string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Io, Target: target, Err: err}
}

// wrapTrace distinguishes a malformed trace file from an ordinary
// filesystem error so callers can report CorruptTrace instead of Io.
func wrapTrace(target string, err error) error {
	if err == nil {
		return nil
	}
	if xerrors.Is(err, rtrace.ErrCorrupt) {
		return &Error{Kind: CorruptTrace, Target: target, Err: err}
	}
	return &Error{Kind: Io, Target: target, Err: err}
}
