package subfeed

import (
	"testing"

	"github.com/sdlb/smartdatalake/internal/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectDropsExtraKeys(t *testing.T) {
	s := New("tgt1", partition.Set{partition.New(map[string]string{"dt": "1", "type": "x"})})
	out := s.Project([]string{"dt"})
	require.Len(t, out.PartitionValues, 1)
	assert.Equal(t, []string{"dt"}, out.PartitionValues[0].Keys())
}

func TestWithSkippedClearsPartitions(t *testing.T) {
	s := New("tgt1", partition.Set{partition.New(map[string]string{"dt": "1"})})
	out := s.WithSkipped()
	assert.True(t, out.IsSkipped)
	assert.Empty(t, out.PartitionValues)
}

func TestAllSkipped(t *testing.T) {
	assert.False(t, AllSkipped(nil))
	a := SubFeed{IsSkipped: true}
	b := SubFeed{IsSkipped: true}
	assert.True(t, AllSkipped([]SubFeed{a, b}))
	b.IsSkipped = false
	assert.False(t, AllSkipped([]SubFeed{a, b}))
}

func TestApplyExecutionModeResult(t *testing.T) {
	s := New("tgt1", nil)
	res := ModeResult{
		PartitionValues: partition.Set{partition.New(map[string]string{"dt": "2"})},
		Filter:          "dt > 1",
		BreakLineage:    true,
	}
	out := s.ApplyExecutionModeResult(res)
	assert.Equal(t, "dt > 1", out.Filter)
	assert.True(t, out.BreakLineage)
	require.Len(t, out.PartitionValues, 1)
}
