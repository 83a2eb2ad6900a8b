// Package cli parses the sdlb command line and renders run summaries,
// mirroring the teacher's own ExitError-driven exit-code convention and
// colourised, word-wrapped terminal output.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/gookit/color"
	"github.com/mitchellh/go-wordwrap"

	"github.com/sdlb/smartdatalake/internal/metrics"
)

// Exit codes returned by main: 0 is success, 1 is a usage/configuration
// error, 2 is a run failure.
const (
	ExitSuccess = 0
	ExitFailure = 2
	ExitUsage   = 1
)

// ExitError carries the process exit code a failure should produce,
// adapted from the teacher's cli.ExitError.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// Options is the fully parsed command line (spec §6's flag table).
type Options struct {
	FeedSel             string
	Name                string
	ConfigDir           string
	PartitionValues     string
	MultiPartitionValues string
	Parallelism         int
	StatePath           string
	Test                string // "", "config", or "dry-run"
}

// Parse parses args (excluding the program name) into Options, returning an
// *ExitError with code ExitUsage on a malformed invocation.
func Parse(args []string) (*Options, error) {
	fs := flag.NewFlagSet("sdlb", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	opts := &Options{Parallelism: 1}
	fs.StringVar(&opts.FeedSel, "feed-sel", "", "feed selector expression")
	fs.StringVar(&opts.FeedSel, "f", "", "feed selector expression (shorthand)")
	fs.StringVar(&opts.Name, "name", "", "application name, used to key run-state files")
	fs.StringVar(&opts.Name, "n", "", "application name (shorthand)")
	fs.StringVar(&opts.ConfigDir, "config", "", "directory of .hcl configuration files")
	fs.StringVar(&opts.ConfigDir, "c", "", "configuration directory (shorthand)")
	fs.StringVar(&opts.PartitionValues, "partition-values", "", "single partition selector, e.g. dt=20190101")
	fs.StringVar(&opts.MultiPartitionValues, "multi-partition-values", "", "semicolon-separated partition selectors")
	fs.IntVar(&opts.Parallelism, "parallelism", 1, "maximum concurrent actions per DAG level")
	fs.StringVar(&opts.StatePath, "state-path", ".", "directory holding run-state files")
	fs.StringVar(&opts.Test, "test", "", `"config" validates configuration only and returns before Prepare; "dry-run" runs Prepare, Init and Exec (including writes) but saves no state file`)

	if err := fs.Parse(args); err != nil {
		return nil, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	if opts.FeedSel == "" {
		return nil, &ExitError{Code: ExitUsage, Message: "missing required flag -f/--feed-sel"}
	}
	if opts.Name == "" {
		return nil, &ExitError{Code: ExitUsage, Message: "missing required flag -n/--name"}
	}
	if opts.ConfigDir == "" {
		return nil, &ExitError{Code: ExitUsage, Message: "missing required flag -c/--config"}
	}
	if opts.Test != "" && opts.Test != "config" && opts.Test != "dry-run" {
		return nil, &ExitError{Code: ExitUsage, Message: fmt.Sprintf("invalid --test value %q, want \"config\" or \"dry-run\"", opts.Test)}
	}
	return opts, nil
}

// RenderSummary formats a run's metrics as a human-readable, colourised,
// word-wrapped report, the way the teacher's CLI reports load-test results.
func RenderSummary(w io.Writer, appName string, runID, attemptID int, succeeded bool, entries []metrics.Entry) {
	status := color.Green.Sprint("SUCCEEDED")
	if !succeeded {
		status = color.Red.Sprint("FAILED")
	}
	fmt.Fprintf(w, "%s run %d attempt %d: %s\n", appName, runID, attemptID, status)

	if len(entries) == 0 {
		fmt.Fprintln(w, wordwrap.WrapString("no actions produced output in this run.", 80))
		return
	}
	for _, e := range entries {
		line := fmt.Sprintf("  %s -> %s: %d partition(s) across %d write(s)", e.Action, e.Output, e.PartitionsCount, e.Runs)
		fmt.Fprintln(w, wordwrap.WrapString(line, 100))
	}
}

// ParsePartitionValues parses a single "k1=v1,k2=v2" selector, as used by
// --partition-values.
func ParsePartitionValues(s string) (map[string]string, error) {
	out := map[string]string{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("malformed partition value %q, expected key=value", pair)
		}
		out[k] = v
	}
	return out, nil
}

// ParseMultiPartitionValues parses a ";"-separated list of the same
// "k=v,k=v" selectors used by --multi-partition-values.
func ParseMultiPartitionValues(s string) ([]map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []map[string]string
	for _, group := range strings.Split(s, ";") {
		pv, err := ParsePartitionValues(group)
		if err != nil {
			return nil, err
		}
		out = append(out, pv)
	}
	return out, nil
}
