package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/xerrors"

	"github.com/reduxbuild/redux/internal/digest"
	"github.com/reduxbuild/redux/internal/probe"
)

// repoRelative resolves path, interpreted relative to the current working
// directory (which a running rule's dofile inherits: the rule's own
// directory), against REDUX_REPO_ROOT, yielding the repo-root-relative
// path the probe protocol's Want/Depfile RPCs expect. A dofile writes
// "redux want ../lib/helper.h" the way it would write "ifchange
// ../lib/helper.h" in any redo implementation; the translation into a
// repo-relative key happens here, once, rather than in every rule.
func repoRelative(path string) (string, error) {
	root := os.Getenv("REDUX_REPO_ROOT")
	if root == "" {
		return "", xerrors.Errorf("REDUX_REPO_ROOT not set; this command only runs from inside a redux rule")
	}
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return "", err
		}
		return filepath.ToSlash(rel), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	abs := filepath.Join(cwd, path)
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

const wantHelp = `redux want [-flags] <path>...

Declare a dependency on each path, building it first if it has a rule.
Must be run from inside a rule (REDUX_PROBE_SOCKET set in the environment).

Example:
  % redux want ../lib/helper.h
`

func dialProbe(ctx context.Context) (*probe.Client, error) {
	sock := os.Getenv("REDUX_PROBE_SOCKET")
	if sock == "" {
		return nil, xerrors.Errorf("REDUX_PROBE_SOCKET not set; this command only runs from inside a redux rule")
	}
	return probe.Dial(ctx, sock)
}

func cmdwant(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("want", flag.ExitOnError)
	fset.Usage = usage(fset, wantHelp)
	fset.Parse(args)
	if fset.NArg() == 0 {
		return xerrors.Errorf("syntax: want <path>...")
	}
	c, err := dialProbe(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	for _, path := range fset.Args() {
		rel, err := repoRelative(path)
		if err != nil {
			return xerrors.Errorf("want %s: %w", path, err)
		}
		resp, err := c.Want(ctx, rel)
		if err != nil {
			return xerrors.Errorf("want %s: %w", path, err)
		}
		if resp.Missing {
			return xerrors.Errorf("want %s: no such file and no rule to build it", path)
		}
	}
	return nil
}

const stampHelp = `redux stamp

Read stdin to completion and record its hash as the calling rule's
dependency, instead of depending on a file's content directly.
`

func cmdstamp(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("stamp", flag.ExitOnError)
	fset.Usage = usage(fset, stampHelp)
	fset.Parse(args)

	c, err := dialProbe(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	d, err := digest.Hash(os.Stdin)
	if err != nil {
		return err
	}
	return c.Stamp(ctx, d.String())
}

const depfileHelp = `redux depfile <path>

Parse a make-style depfile (as emitted by "cc -MMD") and declare every
listed path as a dependency of the calling rule.
`

func cmddepfile(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("depfile", flag.ExitOnError)
	fset.Usage = usage(fset, depfileHelp)
	fset.Parse(args)
	if fset.NArg() != 1 {
		return xerrors.Errorf("syntax: depfile <path>")
	}
	c, err := dialProbe(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	rel, err := repoRelative(fset.Arg(0))
	if err != nil {
		return err
	}
	return c.Depfile(ctx, rel)
}

const alwaysHelp = `redux always

Mark the calling rule's trace as always out of date: it reruns on every
build regardless of whether its recorded dependencies still validate.
`

func cmdalways(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("always", flag.ExitOnError)
	fset.Usage = usage(fset, alwaysHelp)
	fset.Parse(args)
	c, err := dialProbe(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Volatile(ctx, true, 0)
}

const afterHelp = `redux after <duration>

Mark the calling rule's trace as out of date once <duration> (e.g. "1h",
"30m") has elapsed since this build, even if its dependencies still
validate.
`

func cmdafter(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("after", flag.ExitOnError)
	fset.Usage = usage(fset, afterHelp)
	fset.Parse(args)
	if fset.NArg() != 1 {
		return xerrors.Errorf("syntax: after <duration>")
	}
	d, err := time.ParseDuration(fset.Arg(0))
	if err != nil {
		if secs, serr := strconv.Atoi(fset.Arg(0)); serr == nil {
			d = time.Duration(secs) * time.Second
		} else {
			return xerrors.Errorf("after: %w", err)
		}
	}
	c, err := dialProbe(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Volatile(ctx, false, d)
}
