// Package dataobject defines the capability interfaces the core requires of
// any backend (spec §3, §9): the engine calls only these; backends such as
// internal/backend/rest and internal/backend/wsstream implement them.
// Capability interfaces replace deep inheritance — an action declares the
// capability set it requires and the registry rejects configurations where
// a referenced data object lacks one.
package dataobject

import (
	"context"

	"github.com/sdlb/smartdatalake/internal/partition"
	"github.com/sdlb/smartdatalake/internal/subfeed"
)

// DataObject is the minimal contract every backend satisfies: an address
// and, if it has partition columns, the list it partitions by.
type DataObject interface {
	ID() string
	// PartitionColumns returns the ordered partition-column names, or nil
	// if this object is not partitioned.
	PartitionColumns() []string
}

// Readable data objects can be read into a transform context during Init.
type Readable interface {
	DataObject
	Read(ctx context.Context, pv partition.Set, filter string) (subfeed.Payload, error)
}

// Writable data objects can be written during Exec.
type Writable interface {
	DataObject
	Write(ctx context.Context, payload subfeed.Payload, pv partition.Set) error
}

// Partitionable data objects can enumerate the partitions they currently
// hold, the basis of PartitionDiffMode.
type Partitionable interface {
	DataObject
	ListPartitions(ctx context.Context) (partition.Set, error)
}

// Mergeable data objects support an upsert-by-key write (spec §4.4
// "Merge save mode" scenario), keyed by the columns in MergeKeys.
type Mergeable interface {
	Writable
	MergeKeys() []string
	Merge(ctx context.Context, payload subfeed.Payload) error
}

// Transactional data objects can wrap a write in a commit/rollback pair.
type Transactional interface {
	Writable
	BeginTransaction(ctx context.Context) (Transaction, error)
}

// Transaction is the handle returned by Transactional.BeginTransaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Streamable data objects can produce one streaming micro-batch at a time,
// the basis of SparkStreamingOnceMode.
type Streamable interface {
	DataObject
	// CreateStreamingDF requests one micro-batch since the offset recorded
	// in checkpoint (empty for "from the beginning"), returning the batch
	// payload and the new checkpoint to persist.
	CreateStreamingDF(ctx context.Context, checkpoint string) (payload subfeed.Payload, newCheckpoint string, err error)
}

// Capability is a tag used by the registry to validate that an action's
// required capability set is satisfied by the data objects it references.
type Capability string

const (
	CapRead        Capability = "can-read"
	CapWrite       Capability = "can-write"
	CapPartitioned Capability = "can-handle-partitions"
	CapMerge       Capability = "can-merge"
	CapTransaction Capability = "transactional"
	CapStreaming   Capability = "can-create-streaming-df"
)

// Capabilities inspects obj's concrete interface set and returns the tags it
// satisfies.
func Capabilities(obj DataObject) map[Capability]bool {
	caps := map[Capability]bool{}
	if _, ok := obj.(Readable); ok {
		caps[CapRead] = true
	}
	if _, ok := obj.(Writable); ok {
		caps[CapWrite] = true
	}
	if _, ok := obj.(Partitionable); ok {
		caps[CapPartitioned] = true
	}
	if _, ok := obj.(Mergeable); ok {
		caps[CapMerge] = true
	}
	if _, ok := obj.(Transactional); ok {
		caps[CapTransaction] = true
	}
	if _, ok := obj.(Streamable); ok {
		caps[CapStreaming] = true
	}
	return caps
}

// HasCapabilities reports whether obj satisfies every capability in required.
func HasCapabilities(obj DataObject, required []Capability) (ok bool, missing []Capability) {
	have := Capabilities(obj)
	for _, c := range required {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	return len(missing) == 0, missing
}
