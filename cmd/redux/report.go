package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/xerrors"

	"github.com/reduxbuild/redux/internal/report"
	"github.com/reduxbuild/redux/internal/rule"
	"github.com/reduxbuild/redux/internal/store"
)

func oneTarget(fset *flag.FlagSet) (*rule.Repo, *store.Layout, string, error) {
	if fset.NArg() != 1 {
		return nil, nil, "", xerrors.Errorf("syntax: %s <target>", fset.Name())
	}
	repo, err := rule.Discover(".")
	if err != nil {
		return nil, nil, "", err
	}
	rel, err := repo.Rel(fset.Arg(0))
	if err != nil {
		return nil, nil, "", err
	}
	return repo, store.NewLayout(repo.MetaDir()), rel, nil
}

const whichdoHelp = `redux whichdo <target>

Print the dofile that would build target.
`

func cmdwhichdo(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("whichdo", flag.ExitOnError)
	fset.Usage = usage(fset, whichdoHelp)
	fset.Parse(args)
	repo, _, target, err := oneTarget(fset)
	if err != nil {
		return err
	}
	rulePath, ok, err := report.WhichDo(repo, target)
	if err != nil {
		return err
	}
	if !ok {
		return xerrors.Errorf("%s: no rule (source file or nonexistent)", target)
	}
	fmt.Println(rulePath)
	return nil
}

const sourcesHelp = `redux sources <target>

List target's transitive source dependencies, as of the most recently
committed trace (not revalidated against the working tree).
`

func cmdsources(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("sources", flag.ExitOnError)
	fset.Usage = usage(fset, sourcesHelp)
	fset.Parse(args)
	repo, layout, target, err := oneTarget(fset)
	if err != nil {
		return err
	}
	paths, err := report.Sources(repo, layout, target)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}

const outputsHelp = `redux outputs <target>

List target's transitive generated dependencies, as of the most recently
committed trace.
`

func cmdoutputs(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("outputs", flag.ExitOnError)
	fset.Usage = usage(fset, outputsHelp)
	fset.Parse(args)
	repo, layout, target, err := oneTarget(fset)
	if err != nil {
		return err
	}
	paths, err := report.Outputs(repo, layout, target)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}

const howdidHelp = `redux howdid <target>

Print the most recently committed trace for target: its rule, its
dependencies and their digests, and its output digest.
`

func cmdhowdid(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("howdid", flag.ExitOnError)
	fset.Usage = usage(fset, howdidHelp)
	fset.Parse(args)
	repo, layout, target, err := oneTarget(fset)
	if err != nil {
		return err
	}
	return report.HowDid(repo, layout, target, os.Stdout)
}

const cleanHelp = `redux clean

Remove the entire cache and trace store. Targets already materialized in
the working tree are left alone; the next build of anything will rerun
its rule from scratch.
`

func cmdclean(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("clean", flag.ExitOnError)
	fset.Usage = usage(fset, cleanHelp)
	fset.Parse(args)
	repo, err := rule.Discover(".")
	if err != nil {
		return err
	}
	return report.Clean(repo)
}
