package action

import (
	"context"
	"testing"

	"github.com/sdlb/smartdatalake/internal/dataobject"
	"github.com/sdlb/smartdatalake/internal/metrics"
	"github.com/sdlb/smartdatalake/internal/mode"
	"github.com/sdlb/smartdatalake/internal/partition"
	"github.com/sdlb/smartdatalake/internal/registry"
	"github.com/sdlb/smartdatalake/internal/subfeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDO struct {
	id         string
	partCols   []string
	partitions partition.Set
	written    []subfeed.Payload
	merged     []subfeed.Payload
	mergeable  bool
}

func (f *fakeDO) ID() string                { return f.id }
func (f *fakeDO) PartitionColumns() []string { return f.partCols }
func (f *fakeDO) Read(ctx context.Context, pv partition.Set, filter string) (subfeed.Payload, error) {
	return "payload:" + f.id, nil
}
func (f *fakeDO) Write(ctx context.Context, payload subfeed.Payload, pv partition.Set) error {
	f.written = append(f.written, payload)
	return nil
}
func (f *fakeDO) ListPartitions(ctx context.Context) (partition.Set, error) {
	return f.partitions, nil
}
func (f *fakeDO) MergeKeys() []string { return []string{"id"} }
func (f *fakeDO) Merge(ctx context.Context, payload subfeed.Payload) error {
	f.merged = append(f.merged, payload)
	return nil
}

func newFakeDO(id string, partCols []string) *fakeDO {
	return &fakeDO{id: id, partCols: partCols}
}

func TestRunnerFullLifecycleProcessAll(t *testing.T) {
	src := newFakeDO("src", nil)
	tgt := newFakeDO("tgt", nil)
	def := &registry.Action{ID: "a1", Inputs: []dataobject.DataObject{src}, Outputs: []dataobject.DataObject{tgt}, Mode: mode.Mode{Kind: mode.ProcessAllMode}}
	r := NewRunner(def)

	require.NoError(t, r.Prepare(context.Background(), nil))
	assert.Equal(t, Prepared, r.State())

	in := subfeed.New("src", partition.Set{partition.New(map[string]string{"dt": "20190101"})})
	outputs, err := r.Init(context.Background(), []subfeed.SubFeed{in}, 1, 1)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, Initialised, r.State())

	acc := metrics.NewAccumulator()
	require.NoError(t, r.Exec(context.Background(), outputs, acc))
	assert.Equal(t, Succeeded, r.State())
	snap := acc.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "tgt", snap[0].Output)
}

func TestRunnerSkipsWhenAllInputsSkipped(t *testing.T) {
	tgt := newFakeDO("tgt", nil)
	def := &registry.Action{ID: "a1", Outputs: []dataobject.DataObject{tgt}, Mode: mode.Mode{Kind: mode.ProcessAllMode}}
	r := NewRunner(def)
	require.NoError(t, r.Prepare(context.Background(), nil))

	in := subfeed.New("src", nil).WithSkipped()
	outputs, err := r.Init(context.Background(), []subfeed.SubFeed{in}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, Skipped, r.State())
	require.Len(t, outputs, 1)
	assert.True(t, outputs[0].IsSkipped)
}

func TestRunnerExecutionConditionSkips(t *testing.T) {
	tgt := newFakeDO("tgt", nil)
	def := &registry.Action{ID: "a1", Outputs: []dataobject.DataObject{tgt}, Mode: mode.Mode{Kind: mode.ProcessAllMode}, ExecutionCondition: "run.id > 5"}
	r := NewRunner(def)
	require.NoError(t, r.Prepare(context.Background(), nil))

	outputs, err := r.Init(context.Background(), nil, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, Skipped, r.State())
	require.Len(t, outputs, 1)
	assert.True(t, outputs[0].IsSkipped)
}

func TestRunnerPartitionDiffModeListsOutputPartitions(t *testing.T) {
	src := newFakeDO("src", []string{"dt"})
	tgt := newFakeDO("tgt", []string{"dt"})
	tgt.partitions = partition.Set{partition.New(map[string]string{"dt": "20190101"})}
	def := &registry.Action{
		ID: "a1", Inputs: []dataobject.DataObject{src}, Outputs: []dataobject.DataObject{tgt},
		Mode: mode.Mode{Kind: mode.PartitionDiffMode},
	}
	r := NewRunner(def)
	require.NoError(t, r.Prepare(context.Background(), nil))

	in := subfeed.New("src", partition.Set{
		partition.New(map[string]string{"dt": "20190101"}),
		partition.New(map[string]string{"dt": "20190102"}),
	})
	outputs, err := r.Init(context.Background(), []subfeed.SubFeed{in}, 1, 1)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.Len(t, outputs[0].PartitionValues, 1)
	assert.Equal(t, "dt=20190102", outputs[0].PartitionValues[0].String())
}

func TestRunnerProcessAllDrivenByMainInputOnly(t *testing.T) {
	main := newFakeDO("main", nil)
	side := newFakeDO("side", nil)
	tgt := newFakeDO("tgt", []string{"dt"})
	def := &registry.Action{
		ID: "a1", Inputs: []dataobject.DataObject{main, side}, Outputs: []dataobject.DataObject{tgt},
		MainInputID: "main", Mode: mode.Mode{Kind: mode.ProcessAllMode},
	}
	r := NewRunner(def)
	require.NoError(t, r.Prepare(context.Background(), nil))

	mainSF := subfeed.New("main", partition.Set{partition.New(map[string]string{"dt": "20190101"})})
	sideSF := subfeed.New("side", partition.Set{
		partition.New(map[string]string{"dt": "20190101"}),
		partition.New(map[string]string{"dt": "20190102"}),
	})
	outputs, err := r.Init(context.Background(), []subfeed.SubFeed{mainSF, sideSF}, 1, 1)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.Len(t, outputs[0].PartitionValues, 1)
	assert.Equal(t, "dt=20190101", outputs[0].PartitionValues[0].String())
}

func TestRunnerIgnoresInputListedInIgnoreFilter(t *testing.T) {
	main := newFakeDO("main", nil)
	unfiltered := newFakeDO("unfiltered", nil)
	tgt := newFakeDO("tgt", []string{"dt"})
	def := &registry.Action{
		ID: "a1", Inputs: []dataobject.DataObject{main, unfiltered}, Outputs: []dataobject.DataObject{tgt},
		InputIDsToIgnoreFilter: map[string]bool{"unfiltered": true},
		Mode:                   mode.Mode{Kind: mode.ProcessAllMode},
	}
	r := NewRunner(def)
	require.NoError(t, r.Prepare(context.Background(), nil))

	mainSF := subfeed.New("main", partition.Set{partition.New(map[string]string{"dt": "20190101"})})
	unfilteredSF := subfeed.New("unfiltered", partition.Set{
		partition.New(map[string]string{"dt": "20500101"}),
	})
	outputs, err := r.Init(context.Background(), []subfeed.SubFeed{mainSF, unfilteredSF}, 1, 1)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.Len(t, outputs[0].PartitionValues, 1)
	assert.Equal(t, "dt=20190101", outputs[0].PartitionValues[0].String())
}

func TestRunnerMarkReplayedSkipsLifecycle(t *testing.T) {
	tgt := newFakeDO("tgt", nil)
	def := &registry.Action{ID: "a1", Outputs: []dataobject.DataObject{tgt}, Mode: mode.Mode{Kind: mode.ProcessAllMode}}
	r := NewRunner(def)
	r.MarkReplayed()
	assert.Equal(t, Succeeded, r.State())
}

func TestRunnerExecUsesMergeWhenAvailable(t *testing.T) {
	tgt := newFakeDO("tgt", nil)
	def := &registry.Action{ID: "a1", Outputs: []dataobject.DataObject{tgt}, Mode: mode.Mode{Kind: mode.ProcessAllMode}}
	r := NewRunner(def)
	require.NoError(t, r.Prepare(context.Background(), nil))

	outputs, err := r.Init(context.Background(), nil, 1, 1)
	require.NoError(t, err)

	acc := metrics.NewAccumulator()
	require.NoError(t, r.Exec(context.Background(), outputs, acc))
	assert.Len(t, tgt.merged, 1)
	assert.Empty(t, tgt.written)
}
