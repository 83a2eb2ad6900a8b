// Package action implements the action kernel: the per-node state machine
// that drives one registry.Action through Prepare, Init, and Exec, folding
// its inputs' SubFeeds through the execution mode and producing the
// SubFeeds its downstream actions will consume (spec §4.2, §4.3).
package action

import (
	"context"
	"fmt"

	"github.com/sdlb/smartdatalake/internal/corerr"
	"github.com/sdlb/smartdatalake/internal/ctxlog"
	"github.com/sdlb/smartdatalake/internal/dataobject"
	"github.com/sdlb/smartdatalake/internal/expr"
	"github.com/sdlb/smartdatalake/internal/metrics"
	"github.com/sdlb/smartdatalake/internal/mode"
	"github.com/sdlb/smartdatalake/internal/partition"
	"github.com/sdlb/smartdatalake/internal/registry"
	"github.com/sdlb/smartdatalake/internal/subfeed"
)

// State is one node in the action state machine (spec §4.3).
type State string

const (
	Pending     State = "PENDING"
	Prepared    State = "PREPARED"
	Initialised State = "INITIALISED"
	Succeeded   State = "SUCCEEDED"
	Failed      State = "FAILED"
	Skipped     State = "SKIPPED"
	Cancelled   State = "CANCELLED"
)

// Runner drives one registry.Action through its lifecycle. A Runner is not
// safe for concurrent use by multiple goroutines; the scheduler creates one
// per action per run.
type Runner struct {
	Def   *registry.Action
	state State
}

// NewRunner wraps def in a fresh Runner in state Pending.
func NewRunner(def *registry.Action) *Runner {
	return &Runner{Def: def, state: Pending}
}

// State returns the runner's current lifecycle state.
func (r *Runner) State() State { return r.state }

// Prepare validates that every connection this action depends on is
// reachable, making one test call per entry of connections (spec §4.3's
// Prepare phase). It never touches data.
func (r *Runner) Prepare(ctx context.Context, connections []dataobject.Connection) error {
	log := ctxlog.FromContext(ctx).With("action", r.Def.ID)
	for _, conn := range connections {
		if err := conn.Test(ctx); err != nil {
			r.state = Failed
			return corerr.New(corerr.Precondition, r.Def.ID, fmt.Errorf("connection %q unreachable: %w", conn.ID(), err))
		}
	}
	log.Debug("prepared")
	r.state = Prepared
	return nil
}

// Init computes this action's outgoing SubFeeds from its incoming ones by
// evaluating executionCondition, folding inputs through the execution
// mode, and applying the action's main-input/output selection (spec §4.2).
// For PartitionDiffMode and SparkIncrementalMode the runner enumerates the
// current partitions of every Partitionable output (listOutputPartitions).
func (r *Runner) Init(ctx context.Context, inputs []subfeed.SubFeed, runID, attemptID int) ([]subfeed.SubFeed, error) {
	if r.state != Prepared {
		return nil, fmt.Errorf("action %s: Init called from state %s, expected %s", r.Def.ID, r.state, Prepared)
	}

	if subfeed.AllSkipped(inputs) {
		r.state = Skipped
		return r.skippedOutputs(), nil
	}

	driving := filterIgnored(inputs, r.Def.InputIDsToIgnoreFilter)

	evalCtx := r.evalContext(inputs, driving, runID, attemptID)
	run, err := expr.EvalBool(r.Def.ExecutionCondition, evalCtx, true)
	if err != nil {
		r.state = Failed
		return nil, corerr.New(corerr.Configuration, r.Def.ID, err)
	}
	if !run {
		r.state = Skipped
		return r.skippedOutputs(), nil
	}

	outputPartitions, err := r.listOutputPartitions(ctx)
	if err != nil {
		r.state = Failed
		return nil, corerr.New(corerr.Precondition, r.Def.ID, err)
	}

	modeIn := mode.Input{
		Eval:                  evalCtx,
		InputPartitionValues:  r.mainInput(driving).PartitionValues,
		OutputPartitionValues: outputPartitions,
	}
	result, err := r.Def.Mode.Evaluate(modeIn)
	if err != nil {
		r.state = Failed
		return nil, err
	}
	if result.NoData {
		if len(r.Def.Outputs) == 0 {
			r.state = Succeeded
			return nil, nil
		}
		r.state = Succeeded
		return r.emptyOutputs(), nil
	}

	outputs := make([]subfeed.SubFeed, 0, len(r.Def.Outputs))
	for _, out := range r.Def.Outputs {
		sf := subfeed.New(out.ID(), result.PartitionValues).Project(out.PartitionColumns())
		sf = sf.ApplyExecutionModeResult(subfeed.ModeResult{
			PartitionValues: sf.PartitionValues,
			Filter:          result.Filter,
			BreakLineage:    result.BreakLineage,
		})
		outputs = append(outputs, sf)
	}

	r.state = Initialised
	return outputs, nil
}

// Exec writes every output SubFeed to its data object, using Mergeable.Merge
// whenever the data object supports it and Writable.Write otherwise, then
// folds per-output partition counts into acc (spec §4.3's Exec phase).
func (r *Runner) Exec(ctx context.Context, outputs []subfeed.SubFeed, acc *metrics.Accumulator) error {
	if r.state != Initialised {
		if r.state == Skipped || r.state == Succeeded {
			return nil
		}
		return fmt.Errorf("action %s: Exec called from state %s, expected %s", r.Def.ID, r.state, Initialised)
	}

	for i, out := range r.Def.Outputs {
		sf := outputs[i]
		if err := writeOne(ctx, out, sf); err != nil {
			r.state = Failed
			return corerr.New(corerr.TaskFailed, r.Def.ID, err)
		}
		acc.Record(r.Def.ID, out.ID(), len(sf.PartitionValues))
	}

	r.state = Succeeded
	return nil
}

func writeOne(ctx context.Context, out dataobject.DataObject, sf subfeed.SubFeed) error {
	if m, ok := out.(dataobject.Mergeable); ok {
		return m.Merge(ctx, sf.Payload)
	}
	w, ok := out.(dataobject.Writable)
	if !ok {
		return fmt.Errorf("output %q is not writable", out.ID())
	}
	return w.Write(ctx, sf.Payload, sf.PartitionValues)
}

// Cancel marks the action as never having run because an ancestor failed
// or the run was aborted (spec §4.3).
func (r *Runner) Cancel() {
	if r.state == Succeeded || r.state == Failed || r.state == Skipped {
		return
	}
	r.state = Cancelled
}

// MarkReplayed transitions the runner directly to Succeeded without running
// Prepare/Init/Exec, used by the scheduler to resurrect an action that
// already succeeded on a prior attempt of the same run (spec §4.6 invariant
// 5: a retry must not re-execute what already succeeded).
func (r *Runner) MarkReplayed() {
	r.state = Succeeded
}

func (r *Runner) evalContext(inputs, driving []subfeed.SubFeed, runID, attemptID int) expr.Context {
	states := make([]expr.InputState, len(inputs))
	for i, in := range inputs {
		states[i] = expr.InputState{DataObjectID: in.DataObjectID, IsDAGStart: in.IsDAGStart, IsSkipped: in.IsSkipped}
	}
	return expr.Context{
		RunID:                runID,
		AttemptID:            attemptID,
		Feed:                 r.Def.Feed,
		Inputs:               states,
		InputPartitionValues: mergedPartitionValues(driving),
	}
}

// mainInput selects the subfeed driving the execution mode: the configured
// main input if present among candidates and not itself skipped, else the
// first non-skipped candidate, else the first candidate at all (spec §4.3
// steps 3-4).
func (r *Runner) mainInput(candidates []subfeed.SubFeed) subfeed.SubFeed {
	for _, in := range candidates {
		if in.DataObjectID == r.Def.MainInputID && !in.IsSkipped {
			return in
		}
	}
	for _, in := range candidates {
		if !in.IsSkipped {
			return in
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return subfeed.SubFeed{}
}

// filterIgnored drops inputs listed in ignore (the action's
// inputIdsToIgnoreFilter) from the set that drives partition selection: such
// an input is read in full and must not constrain which partitions the
// action processes (spec §4.3 step 6).
func filterIgnored(inputs []subfeed.SubFeed, ignore map[string]bool) []subfeed.SubFeed {
	if len(ignore) == 0 {
		return inputs
	}
	out := make([]subfeed.SubFeed, 0, len(inputs))
	for _, in := range inputs {
		if !ignore[in.DataObjectID] {
			out = append(out, in)
		}
	}
	return out
}

func (r *Runner) listOutputPartitions(ctx context.Context) (partition.Set, error) {
	if r.Def.Mode.Kind != mode.PartitionDiffMode && r.Def.Mode.Kind != mode.SparkIncrementalMode {
		return nil, nil
	}
	var merged partition.Set
	for _, out := range r.Def.Outputs {
		p, ok := out.(dataobject.Partitionable)
		if !ok {
			continue
		}
		pv, err := p.ListPartitions(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing partitions of %q: %w", out.ID(), err)
		}
		merged = append(merged, pv...)
	}
	return merged, nil
}

func (r *Runner) skippedOutputs() []subfeed.SubFeed {
	outputs := make([]subfeed.SubFeed, len(r.Def.Outputs))
	for i, out := range r.Def.Outputs {
		outputs[i] = subfeed.New(out.ID(), nil).WithSkipped()
	}
	return outputs
}

func (r *Runner) emptyOutputs() []subfeed.SubFeed {
	outputs := make([]subfeed.SubFeed, len(r.Def.Outputs))
	for i, out := range r.Def.Outputs {
		outputs[i] = subfeed.New(out.ID(), partition.Set{})
	}
	return outputs
}

func mergedPartitionValues(inputs []subfeed.SubFeed) partition.Set {
	var merged partition.Set
	for _, in := range inputs {
		merged = append(merged, in.PartitionValues...)
	}
	return merged
}
