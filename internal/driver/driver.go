// Package driver ties configuration loading, registry construction,
// scheduling, and run-state persistence into the single entry point
// cmd/sdlb calls, mirroring the teacher's internal/app orchestration layer.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/sdlb/smartdatalake/internal/cli"
	"github.com/sdlb/smartdatalake/internal/config"
	"github.com/sdlb/smartdatalake/internal/corerr"
	"github.com/sdlb/smartdatalake/internal/ctxlog"
	"github.com/sdlb/smartdatalake/internal/metrics"
	"github.com/sdlb/smartdatalake/internal/partition"
	"github.com/sdlb/smartdatalake/internal/registry"
	"github.com/sdlb/smartdatalake/internal/scheduler"
	"github.com/sdlb/smartdatalake/internal/secret"
	"github.com/sdlb/smartdatalake/internal/state"
)

// Result summarises one invocation for the CLI to report and for main to
// translate into a process exit code.
type Result struct {
	RunID      int
	AttemptID  int
	Succeeded  bool
	Entries    []metrics.Entry
	StatePath  string
}

// Run executes one application: load config, build the registry, recover
// the next (runId, attemptId) pair, and drive the full three-phase schedule
// (spec §4.6, §6). --test config returns after feed selection, before the
// DAG is built and before Prepare; --test dry-run runs the full schedule,
// Exec writes included, and only skips saving the state file.
func Run(ctx context.Context, opts *cli.Options, builders map[string]registry.Builder) (*Result, error) {
	log := ctxlog.FromContext(ctx).With("app", opts.Name)

	root, _, err := config.Load(opts.ConfigDir)
	if err != nil {
		return nil, &cli.ExitError{Code: cli.ExitUsage, Message: err.Error()}
	}

	reg, err := registry.Build(root, builders, secretRegistry)
	if err != nil {
		return nil, &cli.ExitError{Code: cli.ExitUsage, Message: err.Error()}
	}

	reg, err = reg.FilterByFeed(opts.FeedSel)
	if err != nil {
		return nil, &cli.ExitError{Code: cli.ExitUsage, Message: err.Error()}
	}

	if opts.Test == "config" {
		log.Info("configuration validated", "actions", len(reg.Actions), "data_objects", len(reg.DataObjects))
		return &Result{Succeeded: true}, nil
	}

	graph, err := scheduler.Build(reg)
	if err != nil {
		return nil, &cli.ExitError{Code: cli.ExitUsage, Message: err.Error()}
	}

	startPV, err := resolveStartPartitionValues(opts)
	if err != nil {
		return nil, &cli.ExitError{Code: cli.ExitUsage, Message: err.Error()}
	}

	runID, attemptID, prior, err := state.RecoverRunState(opts.StatePath, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("recovering run state: %w", err)
	}
	log.Info("starting run", "run_id", runID, "attempt_id", attemptID)

	var recovery *scheduler.Recovery
	if prior != nil && prior.RunID == runID {
		recovery = &scheduler.Recovery{ActionStates: prior.ActionStates, OutputPartitions: prior.OutputPartitions}
	}

	// A dry run still exercises Prepare+Init+Exec ordering through
	// scheduler.Run (there is no cheaper way to validate the mode/DAG
	// wiring without touching data); what it skips is persisting a state
	// file afterwards, below.
	policy := scheduler.Policy{Parallelism: opts.Parallelism, FailFast: true}

	startedAt := time.Now()
	acc, states, outputParts, runErr := scheduler.Run(ctx, graph, policy, runID, attemptID, startPV, recovery)
	finishedAt := time.Now()

	succeeded := runErr == nil
	entries := acc.Snapshot()

	result := &Result{RunID: runID, AttemptID: attemptID, Succeeded: succeeded, Entries: entries}

	if opts.Test == "dry-run" {
		return result, wrapRunError(runErr)
	}

	savePath, saveErr := state.Save(opts.StatePath, state.RunState{
		AppName:          opts.Name,
		RunID:            runID,
		AttemptID:        attemptID,
		StartedAt:        startedAt,
		FinishedAt:       finishedAt,
		Succeeded:        succeeded,
		ActionStates:     states,
		Metrics:          entries,
		OutputPartitions: outputParts,
	})
	if saveErr != nil {
		log.Error("failed to persist run state", "error", saveErr)
	} else {
		result.StatePath = savePath
		if err := state.EnforceRetention(opts.StatePath, opts.Name, 20, 30*24*time.Hour, savePath); err != nil {
			log.Warn("retention enforcement failed", "error", err)
		}
	}

	return result, wrapRunError(runErr)
}

// resolveStartPartitionValues turns --partition-values/--multi-partition-values
// into the partition.Set seeded onto every DAG-start input (spec's GLOSSARY
// entry for DAG start, §4.4 FixedPartitionValues "values supplied by the
// driver"). --multi-partition-values, naming several selectors at once,
// takes precedence when both are given.
func resolveStartPartitionValues(opts *cli.Options) (partition.Set, error) {
	if opts.MultiPartitionValues != "" {
		groups, err := cli.ParseMultiPartitionValues(opts.MultiPartitionValues)
		if err != nil {
			return nil, err
		}
		set := make(partition.Set, 0, len(groups))
		for _, g := range groups {
			set = append(set, partition.New(g))
		}
		return set, nil
	}
	if opts.PartitionValues != "" {
		pv, err := cli.ParsePartitionValues(opts.PartitionValues)
		if err != nil {
			return nil, err
		}
		return partition.Set{partition.New(pv)}, nil
	}
	return nil, nil
}

// secretRegistry resolves PROVIDER#KEY references in connection
// credentials before a builder constructs the backend; kept on Result's
// call path rather than inside config.Load since only connection
// attributes (not arbitrary HCL text) are secret references.
var secretRegistry = secret.NewRegistry()

// ResolveSecret exposes the driver's shared secret registry to builders
// that need to turn a "PROVIDER#KEY" connection attribute into a literal
// credential value.
func ResolveSecret(ref string) (string, error) {
	return secretRegistry.Resolve(ref)
}

func wrapRunError(err error) error {
	if err == nil {
		return nil
	}
	if kindErr, ok := err.(interface{ Kind() corerr.Kind }); ok && kindErr.Kind() == corerr.Configuration {
		return &cli.ExitError{Code: cli.ExitUsage, Message: err.Error()}
	}
	return &cli.ExitError{Code: cli.ExitFailure, Message: err.Error()}
}
