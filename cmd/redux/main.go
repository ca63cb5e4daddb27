// Command redux is both the top-level build driver and, when invoked by a
// running rule with REDUX_PROBE_SOCKET set in its environment, the
// dependency-probe client: the same binary plays both roles depending on
// which environment it finds itself in.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/reduxbuild/redux"
	"github.com/reduxbuild/redux/internal/diag"
	"golang.org/x/xerrors"
)

var (
	debugFlag  = flag.Bool("debug", false, "enable debug mode: format error messages with additional detail")
	cpuprofile = flag.String("cpuprofile", "", "path to store a CPU profile at")
	ctracefile = flag.String("ctracefile", "", "path to write a Chrome Trace Event file of want()/job/cache-probe spans")
)

func funcmain() error {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			return err
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if *ctracefile != "" {
		f, err := os.Create(*ctracefile)
		if err != nil {
			return err
		}
		diag.Sink(f)
		defer f.Close()
	}

	type cmd struct {
		fn func(ctx context.Context, args []string) error
	}
	verbs := map[string]cmd{
		"build":    {cmdbuild},
		"want":     {cmdwant},
		"ifchange": {cmdwant}, // alias, matching redo-ifchange naming
		"stamp":    {cmdstamp},
		"depfile":  {cmddepfile},
		"always":   {cmdalways},
		"after":    {cmdafter},
		"whichdo":  {cmdwhichdo},
		"sources":  {cmdsources},
		"outputs":  {cmdoutputs},
		"howdid":   {cmdhowdid},
		"clean":    {cmdclean},
	}

	args := flag.Args()
	verb := "build"
	if len(args) > 0 {
		if _, ok := verbs[args[0]]; ok || args[0] == "help" {
			verb, args = args[0], args[1:]
		}
	}
	if verb == "build" && os.Getenv("REDUX_PROBE_SOCKET") != "" {
		verb = "want"
	}

	if verb == "help" {
		fmt.Fprintf(os.Stderr, "redux [-flags] <command> [-flags] <args>\n")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "Build commands:\n")
		fmt.Fprintf(os.Stderr, "\tbuild    - build one or more targets (default verb)\n")
		fmt.Fprintf(os.Stderr, "\tclean    - remove the cache and trace store\n")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "Probe commands (run from inside a rule):\n")
		fmt.Fprintf(os.Stderr, "\twant     - declare a dependency, building it if needed\n")
		fmt.Fprintf(os.Stderr, "\tstamp    - record stdin's hash as the rule's dependency\n")
		fmt.Fprintf(os.Stderr, "\tdepfile  - declare every path listed in a make-style depfile\n")
		fmt.Fprintf(os.Stderr, "\talways   - mark the current rule as always out of date\n")
		fmt.Fprintf(os.Stderr, "\tafter    - mark the current rule as out of date after a duration\n")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "Introspection commands:\n")
		fmt.Fprintf(os.Stderr, "\twhichdo  - print the dofile that would build a target\n")
		fmt.Fprintf(os.Stderr, "\tsources  - list a target's transitive source dependencies\n")
		fmt.Fprintf(os.Stderr, "\toutputs  - list a target's transitive generated dependencies\n")
		fmt.Fprintf(os.Stderr, "\thowdid   - print the most recent trace recorded for a target\n")
		os.Exit(2)
	}

	ctx, canc := redux.InterruptibleContext()
	defer canc()
	v, ok := verbs[verb]
	if !ok {
		return xerrors.Errorf("unknown command %q; try %q", verb, "redux help")
	}
	if err := v.fn(ctx, args); err != nil {
		if *debugFlag {
			return xerrors.Errorf("%s: %+v", verb, err)
		}
		return xerrors.Errorf("%s: %v", verb, err)
	}
	return redux.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
