// Package config loads the fully-resolved object graph the driver hands to
// the scheduler: data objects, connections, and actions parsed from HCL
// (spec §1 lists HOCON/config loading as an external collaborator; this
// package plays that role using the teacher's HCL+go-cty stack instead).
package config

import (
	"github.com/hashicorp/hcl/v2"
)

// DataObjectBlock is the raw decoded form of a `data_object "<type>" "<name>"` block.
type DataObjectBlock struct {
	Type             string   `hcl:"type,label"`
	Name             string   `hcl:"name,label"`
	Connection       string   `hcl:"connection,optional"`
	PartitionColumns []string `hcl:"partition_columns,optional"`
	Path             string   `hcl:"path,optional"`
	MergeKeys        []string `hcl:"merge_keys,optional"`
	Body             hcl.Body `hcl:",remain"`
}

// ConnectionBlock is the raw decoded form of a `connection "<type>" "<name>"` block.
// Credential holds a "PROVIDER#KEY" secret reference (spec §5); the
// registry resolves it to a literal value before handing the block to a
// Builder, so backends never see the reference form.
type ConnectionBlock struct {
	Type        string   `hcl:"type,label"`
	Name        string   `hcl:"name,label"`
	URL         string   `hcl:"url,optional"`
	Credential  string   `hcl:"credential,optional"`
	PoolSize    int      `hcl:"pool_size,optional"`
	MaxIdleSecs int      `hcl:"max_idle_secs,optional"`
	Body        hcl.Body `hcl:",remain"`
}

// ExecutionModeBlock configures which strategy (spec §4.4) an action uses.
type ExecutionModeBlock struct {
	Type             string   `hcl:"type"` // one of the mode tags, see internal/mode
	PartitionColNb   int      `hcl:"partition_col_nb,optional"`
	SelectExpression string   `hcl:"select_expression,optional"`
	ApplyCondition   string   `hcl:"apply_condition,optional"`
	FailCondition    string   `hcl:"fail_condition,optional"`
	CompareCol       string   `hcl:"compare_col,optional"`
	CheckpointLocation string `hcl:"checkpoint_location,optional"`
	AlternativeOutput string  `hcl:"alternative_output,optional"`
	PartitionValues   map[string]string `hcl:"partition_values,optional"`
}

// ActionBlock is the raw decoded form of an `action "<type>" "<name>"` block.
type ActionBlock struct {
	Type                   string               `hcl:"type,label"`
	Name                   string               `hcl:"name,label"`
	Feed                   string               `hcl:"feed,optional"`
	Inputs                 []string             `hcl:"inputs,optional"`
	Outputs                []string             `hcl:"outputs,optional"`
	RecursiveInputs        []string             `hcl:"recursive_inputs,optional"`
	MainInputID            string               `hcl:"main_input_id,optional"`
	MainOutputID           string               `hcl:"main_output_id,optional"`
	ExecutionMode          *ExecutionModeBlock  `hcl:"execution_mode,block"`
	ExecutionCondition     string               `hcl:"execution_condition,optional"`
	FailCondition          string               `hcl:"fail_condition,optional"`
	InputIdsToIgnoreFilter []string             `hcl:"input_ids_to_ignore_filter,optional"`
	Transformer            string               `hcl:"transformer,optional"`
	Body                   hcl.Body             `hcl:",remain"`
}

// Root is the top-level structure of a grid configuration file.
type Root struct {
	DataObjects []*DataObjectBlock `hcl:"data_object,block"`
	Connections []*ConnectionBlock `hcl:"connection,block"`
	Actions     []*ActionBlock     `hcl:"action,block"`
}
