// Package trace implements redux's constructive traces: the append-only,
// per-job dependency log that becomes an immutable Trace once a job
// commits, and the line-based on-disk format described by the trace store
// layout (traces/<rule>/<target>/<fingerprint>).
package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/reduxbuild/redux/internal/digest"
)

// Dep is a single source dependency record: the file at Path had content
// Digest at the time it was observed, or was absent if Missing is set.
type Dep struct {
	Path    string
	Digest  digest.Digest
	Missing bool
}

func (d Dep) line() string {
	if d.Missing {
		return "dep-missing " + d.Path
	}
	return "dep " + d.Path + " " + d.Digest.String()
}

// VolatilityKind distinguishes the two volatility record variants.
type VolatilityKind int

const (
	// Always marks a trace as never reusable: the rule reruns every build.
	Always VolatilityKind = iota
	// After marks a trace reusable only until Duration has elapsed since
	// WallClock.
	After
)

// Volatility attaches an expiry policy to a trace, set by --always/--after.
type Volatility struct {
	Kind      VolatilityKind
	Duration  time.Duration // only meaningful for After
	WallClock time.Time     // only meaningful for After
}

// Expired reports whether v (if non-nil) invalidates the trace as of now.
func (v *Volatility) Expired(now time.Time) bool {
	if v == nil {
		return false
	}
	switch v.Kind {
	case Always:
		return true
	case After:
		return now.After(v.WallClock.Add(v.Duration))
	default:
		return true
	}
}

// Trace is the ordered, immutable record of one successful job: the
// sequence of dependencies the rule observed, any volatility, and the
// content digest of the output it produced.
type Trace struct {
	RulePath   string
	TargetPath string
	Deps       []Dep
	Volatility *Volatility
	Output     digest.Digest
}

// Fingerprint hashes the ordered dependency sequence and any volatility
// record (never the output), so that two traces with the same inputs
// always compare equal regardless of what they produced. For a
// volatile-after record only the duration is hashed, not the wall clock.
// This is the trace store's lookup/index key.
func Fingerprint(deps []Dep, vol *Volatility) digest.Digest {
	var sb strings.Builder
	for _, d := range deps {
		sb.WriteString(d.line())
		sb.WriteByte('\n')
	}
	if vol != nil {
		switch vol.Kind {
		case Always:
			sb.WriteString("volatile-always\n")
		case After:
			fmt.Fprintf(&sb, "volatile-after %d\n", int64(vol.Duration/time.Second))
		}
	}
	return digest.HashBytes([]byte(sb.String()))
}

// Fingerprint returns the trace's input fingerprint, the third component
// of its trace id (rule_path, target_path, input_fingerprint).
func (t *Trace) Fingerprint() digest.Digest {
	return Fingerprint(t.Deps, t.Volatility)
}

// PrefixFingerprint hashes only the first n dependency records, used by the
// mid-job cutoff to index committed traces by the prefix a running job has
// observed so far.
func PrefixFingerprint(deps []Dep, n int) digest.Digest {
	if n > len(deps) {
		n = len(deps)
	}
	return Fingerprint(deps[:n], nil)
}

// WriteTo serializes t in the on-disk trace file format: one line per dep,
// an optional volatility line, and a single terminating output line.
func (t *Trace) WriteTo(w io.Writer) (int64, error) {
	var n int64
	bw := bufio.NewWriter(w)
	for _, d := range t.Deps {
		m, err := fmt.Fprintln(bw, d.line())
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	if t.Volatility != nil {
		var line string
		switch t.Volatility.Kind {
		case Always:
			line = "volatile-always"
		case After:
			line = fmt.Sprintf("volatile-after %d %d",
				int64(t.Volatility.Duration/time.Second),
				t.Volatility.WallClock.Unix())
		}
		m, err := fmt.Fprintln(bw, line)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	m, err := fmt.Fprintln(bw, "output "+t.Output.String())
	n += int64(m)
	if err != nil {
		return n, err
	}
	return n, bw.Flush()
}

// ErrCorrupt is returned by Parse when a trace file cannot be decoded.
var ErrCorrupt = xerrors.New("corrupt trace file")

// Parse decodes a trace file written by WriteTo. rulePath and targetPath
// are supplied by the caller since the trace store keys on them via the
// directory layout rather than storing them in the file itself.
func Parse(r io.Reader, rulePath, targetPath string) (*Trace, error) {
	t := &Trace{RulePath: rulePath, TargetPath: targetPath}
	sc := bufio.NewScanner(r)
	sawOutput := false
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "dep":
			if len(fields) != 3 {
				return nil, xerrors.Errorf("%w: malformed dep line %q", ErrCorrupt, line)
			}
			d, err := digest.Parse(fields[2])
			if err != nil {
				return nil, xerrors.Errorf("%w: %v", ErrCorrupt, err)
			}
			t.Deps = append(t.Deps, Dep{Path: fields[1], Digest: d})
		case "dep-missing":
			if len(fields) != 2 {
				return nil, xerrors.Errorf("%w: malformed dep-missing line %q", ErrCorrupt, line)
			}
			t.Deps = append(t.Deps, Dep{Path: fields[1], Missing: true})
		case "volatile-always":
			t.Volatility = &Volatility{Kind: Always}
		case "volatile-after":
			if len(fields) != 3 {
				return nil, xerrors.Errorf("%w: malformed volatile-after line %q", ErrCorrupt, line)
			}
			secs, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return nil, xerrors.Errorf("%w: %v", ErrCorrupt, err)
			}
			wc, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				return nil, xerrors.Errorf("%w: %v", ErrCorrupt, err)
			}
			t.Volatility = &Volatility{
				Kind:      After,
				Duration:  time.Duration(secs) * time.Second,
				WallClock: time.Unix(wc, 0),
			}
		case "output":
			if len(fields) != 2 {
				return nil, xerrors.Errorf("%w: malformed output line %q", ErrCorrupt, line)
			}
			d, err := digest.Parse(fields[1])
			if err != nil {
				return nil, xerrors.Errorf("%w: %v", ErrCorrupt, err)
			}
			t.Output = d
			sawOutput = true
		default:
			return nil, xerrors.Errorf("%w: unknown line %q", ErrCorrupt, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !sawOutput {
		return nil, xerrors.Errorf("%w: missing output line", ErrCorrupt)
	}
	return t, nil
}
