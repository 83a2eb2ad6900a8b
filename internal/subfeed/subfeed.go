// Package subfeed implements the typed message passed between actions
// (spec §3, §4.1): a reference to a data object, the partition values
// being processed, a lineage-break flag, an optional row filter, and the
// skipped/DAG-start bits. A SubFeed is immutable from the recipient's
// perspective — every transform returns a new value.
package subfeed

import "github.com/sdlb/smartdatalake/internal/partition"

// Payload is the engine-specific handle a SubFeed carries (a dataframe, a
// streaming plan, ...). The core never inspects it; it only threads it
// through.
type Payload any

// SubFeed is the message exchanged along a DAG edge for one data object.
type SubFeed struct {
	DataObjectID    string
	PartitionValues partition.Set
	IsDAGStart      bool
	IsSkipped       bool
	BreakLineage    bool
	Filter          string // empty means "no row filter"
	Payload         Payload
}

// New creates a DAG-start SubFeed for dataObjectID with the given partition
// filter (possibly empty, meaning "no filter").
func New(dataObjectID string, partitionValues partition.Set) SubFeed {
	return SubFeed{
		DataObjectID:    dataObjectID,
		PartitionValues: partitionValues,
		IsDAGStart:      true,
	}
}

// Project drops partition-value keys not present in partitionCols. If the
// resulting partition-value record becomes empty for every member while the
// target data object is partitioned, the contract in spec §4.1 says the
// data object contributes no filter — callers detect that case by checking
// len(result.PartitionValues) == 0 afterwards and clearing Filter themselves
// if that's the desired interpretation for their data object.
func (s SubFeed) Project(partitionCols []string) SubFeed {
	out := s
	projected := make(partition.Set, len(s.PartitionValues))
	for i, v := range s.PartitionValues {
		projected[i] = v.Project(partitionCols)
	}
	out.PartitionValues = projected
	return out
}

// ModeResult is what an execution mode (internal/mode) computes for an
// action: the partition values to process and the filter to apply, plus
// whether the result requires the downstream action to re-materialise.
type ModeResult struct {
	PartitionValues partition.Set
	Filter          string
	BreakLineage    bool
}

// ApplyExecutionModeResult replaces partition values and filter with those
// selected by an execution mode (spec §4.1).
func (s SubFeed) ApplyExecutionModeResult(result ModeResult) SubFeed {
	out := s
	out.PartitionValues = result.PartitionValues
	out.Filter = result.Filter
	out.BreakLineage = out.BreakLineage || result.BreakLineage
	return out
}

// WithBrokenLineage forces the downstream action to re-materialise from the data
// object rather than chaining engine-level plans (spec §4.1).
func (s SubFeed) WithBrokenLineage() SubFeed {
	out := s
	out.BreakLineage = true
	return out
}

// WithSkipped marks the SubFeed as skipped, clearing its partition values as
// required for skip-propagated outputs (spec §4.2).
func (s SubFeed) WithSkipped() SubFeed {
	out := s
	out.IsSkipped = true
	out.PartitionValues = partition.Set{}
	return out
}

// AllSkipped reports whether every SubFeed in feeds is marked skipped. An
// empty slice is considered not-skipped: an action with no inputs (a DAG
// start) is never skip-propagated by this rule.
func AllSkipped(feeds []SubFeed) bool {
	if len(feeds) == 0 {
		return false
	}
	for _, f := range feeds {
		if !f.IsSkipped {
			return false
		}
	}
	return true
}
