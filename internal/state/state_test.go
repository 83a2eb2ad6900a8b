package state

import (
	"testing"
	"time"

	"github.com/sdlb/smartdatalake/internal/action"
	"github.com/sdlb/smartdatalake/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := RunState{
		AppName:      "lake",
		RunID:        3,
		AttemptID:    1,
		StartedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		FinishedAt:   time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC),
		Succeeded:    true,
		ActionStates: map[string]action.State{"a1": action.Succeeded},
		Metrics:      []metrics.Entry{{Action: "a1", Output: "tgt", PartitionsCount: 2, Runs: 1}},
	}
	path, err := Save(dir, s)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.AppName, loaded.AppName)
	assert.Equal(t, s.RunID, loaded.RunID)
	assert.Equal(t, s.AttemptID, loaded.AttemptID)
	assert.True(t, loaded.Succeeded)
	assert.Equal(t, action.Succeeded, loaded.ActionStates["a1"])
	require.Len(t, loaded.Metrics, 1)
	assert.Equal(t, 2, loaded.Metrics[0].PartitionsCount)
}

func TestRecoverRunStateStartsFreshWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	runID, attemptID, prior, err := RecoverRunState(dir, "lake")
	require.NoError(t, err)
	assert.Equal(t, 1, runID)
	assert.Equal(t, 1, attemptID)
	assert.Nil(t, prior)
}

func TestRecoverRunStateIncrementsAttemptOnFailure(t *testing.T) {
	dir := t.TempDir()
	_, err := Save(dir, RunState{AppName: "lake", RunID: 5, AttemptID: 1, Succeeded: false})
	require.NoError(t, err)

	runID, attemptID, prior, err := RecoverRunState(dir, "lake")
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, 5, runID)
	assert.Equal(t, 2, attemptID)
}

func TestRecoverRunStateStartsNextRunAfterSuccess(t *testing.T) {
	dir := t.TempDir()
	_, err := Save(dir, RunState{AppName: "lake", RunID: 5, AttemptID: 2, Succeeded: true})
	require.NoError(t, err)

	runID, attemptID, prior, err := RecoverRunState(dir, "lake")
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, 6, runID)
	assert.Equal(t, 1, attemptID)
}

func TestEnforceRetentionKeepsCurrentAndRecent(t *testing.T) {
	dir := t.TempDir()
	var last string
	for i := 1; i <= 5; i++ {
		p, err := Save(dir, RunState{AppName: "lake", RunID: i, AttemptID: 1, Succeeded: true})
		require.NoError(t, err)
		last = p
	}
	require.NoError(t, EnforceRetention(dir, "lake", 2, 0, last))

	paths, err := ListStates(dir, "lake")
	require.NoError(t, err)
	assert.Len(t, paths, 2)
	assert.Contains(t, paths, last)
}
