package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/reduxbuild/redux/internal/engine"
	"github.com/reduxbuild/redux/internal/jobserver"
	"github.com/reduxbuild/redux/internal/rule"
	"github.com/reduxbuild/redux/internal/store"
)

const buildHelp = `redux build [-flags] <target>...

Build one or more targets, recursively building whatever they (transitively)
depend on via their .do rules.

Example:
  % redux build all
`

func newBuildID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(b[:])
}

func cmdbuild(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("build", flag.ExitOnError)
	var (
		jobs  = fset.Int("j", runtime.NumCPU(), "number of rules to run concurrently")
		force = fset.Bool("force", false, "rebuild the given targets even if a committed trace validates")
	)
	fset.Usage = usage(fset, buildHelp)
	fset.Parse(args)
	targets := fset.Args()
	if len(targets) == 0 {
		return xerrors.Errorf("syntax: build <target>...")
	}

	repo, err := rule.Discover(".")
	if err != nil {
		return err
	}
	layout := store.NewLayout(repo.MetaDir())

	js, fromEnv := jobserver.FromEnvironment(os.Environ())
	if !fromEnv {
		js, err = jobserver.New(*jobs)
		if err != nil {
			return err
		}
		defer js.Close()
	}

	coord := engine.New(repo, layout, js, newBuildID())
	if *force {
		for _, t := range targets {
			rel, err := repo.Rel(t)
			if err != nil {
				return err
			}
			coord.Force[rel] = true
		}
	}

	st := newStatus()
	eg, egctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		rel, err := repo.Rel(t)
		if err != nil {
			return err
		}
		eg.Go(func() error {
			st.set(rel, "building "+rel)
			defer st.clear(rel)
			if _, err := coord.Want(egctx, rel); err != nil {
				return xerrors.Errorf("%s: %w", rel, err)
			}
			return nil
		})
	}
	return eg.Wait()
}
