// Package scheduler builds the action DAG from a registry.Registry and
// drives it through the three strictly-ordered phases (Prepare, Init,
// Exec), propagating skips and classifying failures via internal/corerr
// (spec §3, §9). Prepare runs sequentially over every action; Init and Exec
// execute level by level: every action at one DAG depth runs concurrently,
// bounded by Parallelism, before the next depth starts, so that no action's
// Init ever runs before every one of its producers has completed its own Init.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sdlb/smartdatalake/internal/action"
	"github.com/sdlb/smartdatalake/internal/corerr"
	"github.com/sdlb/smartdatalake/internal/ctxlog"
	"github.com/sdlb/smartdatalake/internal/metrics"
	"github.com/sdlb/smartdatalake/internal/partition"
	"github.com/sdlb/smartdatalake/internal/registry"
	"github.com/sdlb/smartdatalake/internal/subfeed"
)

// Recovery carries the prior attempt's per-action lifecycle state and
// per-output partition values, letting Run skip actions that already
// succeeded and replay their outputs for downstream consumers instead of
// re-executing them (spec §4.6 invariant 5).
type Recovery struct {
	ActionStates     map[string]action.State
	OutputPartitions map[string]partition.Set
}

// Policy configures how a run reacts to an action failure.
type Policy struct {
	// Parallelism bounds concurrent actions per DAG level; 0 means 1.
	Parallelism int
	// FailFast cancels every action not yet started as soon as one fails.
	// When false (continue-on-failure), only the failed action's
	// descendants are cancelled; unrelated branches keep running.
	FailFast bool
}

// Graph is the DAG built from a Registry: one node per action, edges
// derived from shared data object IDs between an action's outputs and
// another's inputs. Entries in an action's RecursiveInputIDs are excluded
// from edge construction, since they name a data object the action itself
// produces and are resolved against the action's own prior output, not a
// concurrent producer (spec §3, §9).
type Graph struct {
	reg   *registry.Registry
	edges map[string][]string // producer action ID -> consumer action IDs
	preds map[string][]string // consumer action ID -> producer action IDs
}

// Build constructs the DAG and rejects configurations containing a cycle.
func Build(reg *registry.Registry) (*Graph, error) {
	producerOf := map[string]string{} // data object ID -> producing action ID
	for _, id := range reg.SortedActionIDs() {
		a := reg.Actions[id]
		for _, out := range a.Outputs {
			producerOf[out.ID()] = id
		}
	}

	g := &Graph{reg: reg, edges: map[string][]string{}, preds: map[string][]string{}}
	for _, id := range reg.SortedActionIDs() {
		a := reg.Actions[id]
		ignore := make(map[string]bool, len(a.RecursiveInputIDs))
		for _, r := range a.RecursiveInputIDs {
			ignore[r] = true
		}
		for _, in := range a.Inputs {
			if ignore[in.ID()] {
				continue
			}
			producer, ok := producerOf[in.ID()]
			if !ok || producer == id {
				continue
			}
			g.edges[producer] = append(g.edges[producer], id)
			g.preds[id] = append(g.preds[id], producer)
		}
	}

	if cyc := g.findCycle(); cyc != "" {
		return nil, corerr.New(corerr.Configuration, "", fmt.Errorf("action graph contains a cycle reachable from %q", cyc))
	}
	return g, nil
}

// findCycle returns one action ID on a cycle, or "" if the graph is acyclic.
func (g *Graph) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, next := range g.edges[id] {
			switch color[next] {
			case gray:
				return next
			case white:
				if c := visit(next); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}
	for _, id := range g.reg.SortedActionIDs() {
		if color[id] == white {
			if c := visit(id); c != "" {
				return c
			}
		}
	}
	return ""
}

// levels returns the DAG partitioned into waves: level[0] has no
// predecessors, level[i] depends only on actions in levels < i.
func (g *Graph) levels() [][]string {
	remaining := map[string]int{}
	for _, id := range g.reg.SortedActionIDs() {
		remaining[id] = len(g.preds[id])
	}
	var levels [][]string
	for len(remaining) > 0 {
		var wave []string
		for id, n := range remaining {
			if n == 0 {
				wave = append(wave, id)
			}
		}
		sort.Strings(wave)
		for _, id := range wave {
			delete(remaining, id)
			for _, next := range g.edges[id] {
				remaining[next]--
			}
		}
		levels = append(levels, wave)
	}
	return levels
}

// Run drives every action in g through Prepare, Init, and Exec, in that
// global order, returning per-(action,output) metrics, the final lifecycle
// state of every action, every output's final partition values (for
// persisting into the next attempt's Recovery), and the first fatal error
// encountered. RunID/AttemptID are threaded into every action's
// expression-evaluation context (spec §6). startPV seeds the partition
// filter for every DAG-start input (an action input with no producer in the
// graph), the driver-supplied --partition-values/--multi-partition-values
// selector (spec's GLOSSARY entry for DAG start, §4.4 FixedPartitionValues).
// recovery, when non-nil, replays actions recorded as already succeeded in a
// prior attempt of the same run instead of re-executing them.
func Run(ctx context.Context, g *Graph, p Policy, runID, attemptID int, startPV partition.Set, recovery *Recovery) (*metrics.Accumulator, map[string]action.State, map[string]partition.Set, error) {
	if p.Parallelism <= 0 {
		p.Parallelism = 1
	}
	log := ctxlog.FromContext(ctx)
	acc := metrics.NewAccumulator()

	runners := make(map[string]*action.Runner, len(g.reg.Actions))
	for id, def := range g.reg.Actions {
		runners[id] = action.NewRunner(def)
	}

	levels := g.levels()

	outputs := map[string][]subfeed.SubFeed{} // action ID -> its Init outputs
	replayed := map[string]bool{}

	if recovery != nil {
		for id, st := range recovery.ActionStates {
			if st != action.Succeeded {
				continue
			}
			def, ok := g.reg.Actions[id]
			if !ok {
				continue
			}
			runners[id].MarkReplayed()
			sfs := make([]subfeed.SubFeed, 0, len(def.Outputs))
			for _, out := range def.Outputs {
				sfs = append(sfs, subfeed.New(out.ID(), recovery.OutputPartitions[out.ID()]))
			}
			outputs[id] = sfs
			replayed[id] = true
		}
	}

	if err := runConnectionChecks(ctx, g.reg); err != nil {
		return acc, stateSnapshot(runners), outputPartitions(outputs), err
	}
	for _, id := range g.reg.SortedActionIDs() {
		if replayed[id] {
			continue
		}
		if err := runners[id].Prepare(ctx, nil); err != nil {
			return acc, stateSnapshot(runners), outputPartitions(outputs), err
		}
	}

	cancelled := map[string]bool{}
	var mu sync.Mutex
	var firstErr error

	// cancelUnfinished marks every runner not yet in a terminal state as
	// Cancelled, used when a fail-fast run stops early.
	cancelUnfinished := func() {
		for _, r := range runners {
			r.Cancel()
		}
	}

	for _, wave := range levels {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(p.Parallelism)
		results := make(map[string][]subfeed.SubFeed, len(wave))
		var waveErr error

		for _, id := range wave {
			id := id
			if replayed[id] {
				continue
			}
			mu.Lock()
			skip := cancelled[id]
			mu.Unlock()
			if skip {
				runners[id].Cancel()
				continue
			}
			eg.Go(func() error {
				inputs := inputsFor(g.reg.Actions[id], outputs, startPV)
				out, err := runners[id].Init(egCtx, inputs, runID, attemptID)
				if err != nil {
					log.Error("action init failed", "action", id, "error", err)
					if p.FailFast {
						return err
					}
					mu.Lock()
					waveErr = err
					if firstErr == nil {
						firstErr = err
					}
					propagateCancel(g, id, cancelled)
					mu.Unlock()
					return nil
				}
				mu.Lock()
				results[id] = out
				mu.Unlock()
				return nil
			})
		}

		if err := eg.Wait(); err != nil {
			cancelUnfinished()
			return acc, stateSnapshot(runners), outputPartitions(outputs), err
		}
		for id, out := range results {
			outputs[id] = out
		}
		if waveErr != nil && p.FailFast {
			cancelUnfinished()
			return acc, stateSnapshot(runners), outputPartitions(outputs), waveErr
		}
	}

	for _, wave := range levels {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(p.Parallelism)

		for _, id := range wave {
			id := id
			mu.Lock()
			skip := cancelled[id]
			mu.Unlock()
			if skip || runners[id].State() != action.Initialised {
				continue
			}
			eg.Go(func() error {
				out := outputs[id]
				err := runners[id].Exec(egCtx, out, acc)
				if err != nil && p.FailFast {
					return err
				}
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					propagateCancel(g, id, cancelled)
					mu.Unlock()
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			cancelUnfinished()
			return acc, stateSnapshot(runners), outputPartitions(outputs), err
		}
	}

	for id := range cancelled {
		runners[id].Cancel()
	}

	return acc, stateSnapshot(runners), outputPartitions(outputs), firstErr
}

// outputPartitions flattens the per-action Init/replay outputs into a
// per-data-object-ID partition set, the shape state.RunState persists for
// the next attempt's Recovery.
func outputPartitions(outputs map[string][]subfeed.SubFeed) map[string]partition.Set {
	out := make(map[string]partition.Set, len(outputs))
	for _, sfs := range outputs {
		for _, sf := range sfs {
			out[sf.DataObjectID] = sf.PartitionValues
		}
	}
	return out
}

func runConnectionChecks(ctx context.Context, reg *registry.Registry) error {
	names := make([]string, 0, len(reg.Connections))
	for name := range reg.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := reg.Connections[name].Test(ctx); err != nil {
			return corerr.New(corerr.Precondition, "", fmt.Errorf("connection %q: %w", name, err))
		}
	}
	return nil
}

// inputsFor resolves def's inputs to SubFeeds: one produced by an upstream
// action's Init/replay output where one exists, else a fresh DAG-start
// SubFeed seeded with startPV (the driver's --partition-values/
// --multi-partition-values selector, or nil if none was given).
func inputsFor(def *registry.Action, outputs map[string][]subfeed.SubFeed, startPV partition.Set) []subfeed.SubFeed {
	inputs := make([]subfeed.SubFeed, 0, len(def.Inputs))
	for _, in := range def.Inputs {
		found := false
		for _, sfList := range outputs {
			for _, sf := range sfList {
				if sf.DataObjectID == in.ID() {
					inputs = append(inputs, sf)
					found = true
				}
			}
		}
		if !found {
			inputs = append(inputs, subfeed.New(in.ID(), startPV))
		}
	}
	return inputs
}

func propagateCancel(g *Graph, failedID string, cancelled map[string]bool) {
	var walk func(id string)
	walk = func(id string) {
		for _, next := range g.edges[id] {
			if !cancelled[next] {
				cancelled[next] = true
				walk(next)
			}
		}
	}
	cancelled[failedID] = true
	walk(failedID)
}

func stateSnapshot(runners map[string]*action.Runner) map[string]action.State {
	out := make(map[string]action.State, len(runners))
	for id, r := range runners {
		out[id] = r.State()
	}
	return out
}
