// Command chaosplanctl validates chaos plans and debugs replay
// fingerprints from CI or a shell.
//
// Subcommands:
//
//	validate <plan.yaml>     validate a plan file, print every failure
//	fingerprint [flags]      print the fingerprint of a canned request
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/agentchaos/chaosproxy/pkg/chaoserrors"
	"github.com/agentchaos/chaosproxy/pkg/chaosplan"
	"github.com/agentchaos/chaosproxy/pkg/fingerprint"
	"github.com/agentchaos/chaosproxy/pkg/jsonutil"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return 2
	}
	switch args[0] {
	case "validate":
		return runValidate(args[1:])
	case "fingerprint":
		return runFingerprint(args[1:])
	default:
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: chaosplanctl <validate|fingerprint> [args]")
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	strict := fs.Bool("strict", false, "require classifier rule packs")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: chaosplanctl validate [-strict] <plan.yaml>")
		return 2
	}
	path := fs.Arg(0)

	plan, err := chaosplan.LoadPlan(path, chaosplan.LoadOptions{StrictClassifier: *strict})
	if err != nil {
		var ple *chaoserrors.PlanLoadError
		if errors.As(err, &ple) {
			fmt.Fprintf(os.Stderr, "%s: %d problem(s)\n", path, len(ple.Messages))
			for _, m := range ple.Messages {
				fmt.Fprintf(os.Stderr, "  - %s\n", m)
			}
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	fmt.Printf("%s: ok (revision %d, %d targets, %d scenarios)\n",
		path, plan.Revision, len(plan.Targets), len(plan.Scenarios))
	return 0
}

func runFingerprint(args []string) int {
	fs := flag.NewFlagSet("fingerprint", flag.ExitOnError)
	var (
		method       = fs.String("method", "GET", "request method")
		rawURL       = fs.String("url", "", "request URL (required)")
		body         = fs.String("body", "", "request body")
		headerFlags  multiFlag
		ignoreParams = fs.String("ignore-params", "", "comma-separated query params to drop")
	)
	fs.Var(&headerFlags, "H", "request header, Key: Value (repeatable)")
	_ = fs.Parse(args)
	if *rawURL == "" {
		fmt.Fprintln(os.Stderr, "usage: chaosplanctl fingerprint -url URL [-method M] [-body B] [-H 'K: V'] [-ignore-params a,b]")
		return 2
	}

	headers := http.Header{}
	for _, h := range headerFlags {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			fmt.Fprintf(os.Stderr, "bad header %q, want 'Key: Value'\n", h)
			return 2
		}
		headers.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	var ignored []string
	if *ignoreParams != "" {
		ignored = strings.Split(*ignoreParams, ",")
	}

	fp := fingerprint.Compute(*method, *rawURL, headers, []byte(*body),
		fingerprint.Options{IgnoreParams: ignored})
	out, err := jsonutil.MarshalIndent(fp, "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(string(out))
	fmt.Printf("key: %s\n", fp.Key())
	return 0
}

// multiFlag collects repeated -H flags.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ", ") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}
