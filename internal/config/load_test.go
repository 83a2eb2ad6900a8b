package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHCL = `
data_object "csv" "src" {
  path              = "data/src"
  partition_columns = ["dt"]
}

data_object "delta" "tgt" {
  connection = "lake"
  merge_keys = ["id"]
}

connection "hadoop" "lake" {
  url       = "file:///tmp/lake"
  pool_size = 4
}

action "copy" "src-to-tgt" {
  feed    = "copy"
  inputs  = ["src"]
  outputs = ["tgt"]

  execution_mode {
    type             = "PartitionDiffMode"
    partition_col_nb = 1
  }
}
`

func writeSampleConfig(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "app.hcl"), []byte(sampleHCL), 0o644))
}

func TestLoadDiscoversNestedFiles(t *testing.T) {
	dir := t.TempDir()
	writeSampleConfig(t, dir)

	root, diags, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, diags.HasErrors())
	assert.Len(t, root.DataObjects, 2)
	assert.Len(t, root.Connections, 1)
	require.Len(t, root.Actions, 1)

	action := root.Actions[0]
	assert.Equal(t, "copy", action.Feed)
	require.NotNil(t, action.ExecutionMode)
	assert.Equal(t, "PartitionDiffMode", action.ExecutionMode.Type)
	assert.Equal(t, 1, action.ExecutionMode.PartitionColNb)
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	dup := sampleHCL + `

data_object "csv" "src" {
  path = "data/other"
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.hcl"), []byte(dup), 0o644))

	_, _, err := Load(dir)
	assert.ErrorContains(t, err, "duplicate data_object id")
}

func TestLoadErrorsOnEmptyDir(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Load(dir)
	assert.Error(t, err)
}
