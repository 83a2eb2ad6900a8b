package scheduler

import (
	"context"
	"testing"

	"github.com/sdlb/smartdatalake/internal/action"
	"github.com/sdlb/smartdatalake/internal/dataobject"
	"github.com/sdlb/smartdatalake/internal/mode"
	"github.com/sdlb/smartdatalake/internal/partition"
	"github.com/sdlb/smartdatalake/internal/registry"
	"github.com/sdlb/smartdatalake/internal/subfeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDO struct {
	id       string
	partCols []string
	written  int
}

func (f *fakeDO) ID() string                { return f.id }
func (f *fakeDO) PartitionColumns() []string { return f.partCols }
func (f *fakeDO) Read(ctx context.Context, pv partition.Set, filter string) (subfeed.Payload, error) {
	return nil, nil
}
func (f *fakeDO) Write(ctx context.Context, payload subfeed.Payload, pv partition.Set) error {
	f.written++
	return nil
}

func newReg(actions map[string]*registry.Action) *registry.Registry {
	return &registry.Registry{Actions: actions, Connections: map[string]dataobject.Connection{}}
}

func TestBuildOrdersLinearChain(t *testing.T) {
	src := &fakeDO{id: "src"}
	mid := &fakeDO{id: "mid"}
	tgt := &fakeDO{id: "tgt"}

	reg := newReg(map[string]*registry.Action{
		"a1": {ID: "a1", Outputs: []dataobject.DataObject{mid}, Mode: mode.Mode{Kind: mode.ProcessAllMode}},
		"a2": {ID: "a2", Inputs: []dataobject.DataObject{mid}, Outputs: []dataobject.DataObject{tgt}, Mode: mode.Mode{Kind: mode.ProcessAllMode}},
	})
	_ = src

	g, err := Build(reg)
	require.NoError(t, err)
	levels := g.levels()
	require.Len(t, levels, 2)
	assert.Equal(t, []string{"a1"}, levels[0])
	assert.Equal(t, []string{"a2"}, levels[1])
}

func TestBuildRejectsCycle(t *testing.T) {
	x := &fakeDO{id: "x"}
	y := &fakeDO{id: "y"}
	reg := newReg(map[string]*registry.Action{
		"a1": {ID: "a1", Inputs: []dataobject.DataObject{y}, Outputs: []dataobject.DataObject{x}, Mode: mode.Mode{Kind: mode.ProcessAllMode}},
		"a2": {ID: "a2", Inputs: []dataobject.DataObject{x}, Outputs: []dataobject.DataObject{y}, Mode: mode.Mode{Kind: mode.ProcessAllMode}},
	})
	_, err := Build(reg)
	assert.Error(t, err)
}

func TestBuildIgnoresRecursiveInputEdges(t *testing.T) {
	self := &fakeDO{id: "self"}
	reg := newReg(map[string]*registry.Action{
		"a1": {
			ID: "a1", Inputs: []dataobject.DataObject{self}, Outputs: []dataobject.DataObject{self},
			RecursiveInputIDs: []string{"self"}, Mode: mode.Mode{Kind: mode.ProcessAllMode},
		},
	})
	g, err := Build(reg)
	require.NoError(t, err)
	levels := g.levels()
	require.Len(t, levels, 1)
	assert.Equal(t, []string{"a1"}, levels[0])
}

func TestRunExecutesActionsInDependencyOrder(t *testing.T) {
	mid := &fakeDO{id: "mid"}
	tgt := &fakeDO{id: "tgt"}

	reg := newReg(map[string]*registry.Action{
		"a1": {ID: "a1", Outputs: []dataobject.DataObject{mid}, Mode: mode.Mode{Kind: mode.FixedPartitionValues}},
		"a2": {ID: "a2", Inputs: []dataobject.DataObject{mid}, Outputs: []dataobject.DataObject{tgt}, Mode: mode.Mode{Kind: mode.ProcessAllMode}},
	})
	g, err := Build(reg)
	require.NoError(t, err)

	_, states, _, err := Run(context.Background(), g, Policy{Parallelism: 2, FailFast: true}, 1, 1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tgt.written)
	for id, s := range states {
		assert.Equal(t, "SUCCEEDED", string(s), "action %s", id)
	}
}

func TestRunReplaysSucceededActionsFromRecovery(t *testing.T) {
	mid := &fakeDO{id: "mid"}
	tgt := &fakeDO{id: "tgt"}

	reg := newReg(map[string]*registry.Action{
		"a1": {ID: "a1", Outputs: []dataobject.DataObject{mid}, Mode: mode.Mode{Kind: mode.FixedPartitionValues}},
		"a2": {ID: "a2", Inputs: []dataobject.DataObject{mid}, Outputs: []dataobject.DataObject{tgt}, Mode: mode.Mode{Kind: mode.ProcessAllMode}},
	})
	g, err := Build(reg)
	require.NoError(t, err)

	recovery := &Recovery{
		ActionStates: map[string]action.State{"a1": action.Succeeded},
		OutputPartitions: map[string]partition.Set{
			"mid": {partition.New(map[string]string{"dt": "20190101"})},
		},
	}

	_, states, outParts, err := Run(context.Background(), g, Policy{Parallelism: 2, FailFast: true}, 1, 2, nil, recovery)
	require.NoError(t, err)
	assert.Equal(t, 0, mid.written, "replayed action must not re-execute its write")
	assert.Equal(t, 1, tgt.written)
	assert.Equal(t, "SUCCEEDED", string(states["a1"]))
	assert.Equal(t, "SUCCEEDED", string(states["a2"]))
	require.Contains(t, outParts, "tgt")
}
