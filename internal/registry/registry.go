// Package registry wires a parsed config.Root into the validated, strongly
// typed object graph the scheduler runs: every action's inputs, outputs,
// and execution mode resolved to concrete dataobject.DataObject values,
// with every required capability checked up front (spec §3, §9).
package registry

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/sdlb/smartdatalake/internal/config"
	"github.com/sdlb/smartdatalake/internal/corerr"
	"github.com/sdlb/smartdatalake/internal/dataobject"
	"github.com/sdlb/smartdatalake/internal/mode"
	"github.com/sdlb/smartdatalake/internal/partition"
	"github.com/sdlb/smartdatalake/internal/secret"
)

// Action is a fully resolved action node: its config decoded, its inputs
// and outputs resolved to live DataObject values, capabilities checked.
type Action struct {
	ID                     string
	Type                   string
	Feed                   string
	Inputs                 []dataobject.DataObject
	Outputs                []dataobject.DataObject
	RecursiveInputIDs      []string
	MainInputID            string
	MainOutputID           string
	InputIDsToIgnoreFilter map[string]bool
	Mode                   mode.Mode
	ExecutionCondition     string
	FailCondition          string
}

// Registry is the validated object graph: every data object and connection
// the config named, plus every action resolved against them.
type Registry struct {
	DataObjects map[string]dataobject.DataObject
	Connections map[string]dataobject.Connection
	Actions     map[string]*Action
}

// Builder constructs backend DataObject/Connection values from config
// blocks. Concrete backends (internal/backend/rest, internal/backend/wsstream,
// ...) each provide one, keyed by the HCL block's type label (e.g. "rest",
// "websocket").
type Builder interface {
	BuildConnection(block *config.ConnectionBlock) (dataobject.Connection, error)
	BuildDataObject(block *config.DataObjectBlock, conn dataobject.Connection) (dataobject.DataObject, error)
}

// Build resolves root into a Registry, calling builders[block.Type] for
// every connection/data_object block and validating every action's
// references, capability requirements, and execution mode configuration.
// secrets resolves each connection's "PROVIDER#KEY" credential reference
// before its Builder ever sees the block; pass nil if no connection in
// root carries a credential attribute.
func Build(root *config.Root, builders map[string]Builder, secrets *secret.Registry) (*Registry, error) {
	reg := &Registry{
		DataObjects: map[string]dataobject.DataObject{},
		Connections: map[string]dataobject.Connection{},
		Actions:     map[string]*Action{},
	}

	for _, cb := range root.Connections {
		b, ok := builders[cb.Type]
		if !ok {
			return nil, corerr.New(corerr.Configuration, "", fmt.Errorf("connection %q: no builder registered for type %q", cb.Name, cb.Type))
		}
		if secrets != nil && cb.Credential != "" {
			resolved, err := secrets.Resolve(cb.Credential)
			if err != nil {
				return nil, corerr.New(corerr.Configuration, "", fmt.Errorf("connection %q: resolving credential: %w", cb.Name, err))
			}
			cb.Credential = resolved
		}
		conn, err := b.BuildConnection(cb)
		if err != nil {
			return nil, corerr.New(corerr.Configuration, "", fmt.Errorf("connection %q: %w", cb.Name, err))
		}
		reg.Connections[cb.Name] = conn
	}

	for _, db := range root.DataObjects {
		b, ok := builders[db.Type]
		if !ok {
			return nil, corerr.New(corerr.Configuration, "", fmt.Errorf("data_object %q: no builder registered for type %q", db.Name, db.Type))
		}
		var conn dataobject.Connection
		if db.Connection != "" {
			conn, ok = reg.Connections[db.Connection]
			if !ok {
				return nil, corerr.New(corerr.Configuration, "", fmt.Errorf("data_object %q: unknown connection %q", db.Name, db.Connection))
			}
		}
		obj, err := b.BuildDataObject(db, conn)
		if err != nil {
			return nil, corerr.New(corerr.Configuration, "", fmt.Errorf("data_object %q: %w", db.Name, err))
		}
		reg.DataObjects[db.Name] = obj
	}

	for _, ab := range root.Actions {
		action, err := resolveAction(ab, reg.DataObjects)
		if err != nil {
			return nil, err
		}
		reg.Actions[ab.Name] = action
	}

	return reg, nil
}

func resolveAction(ab *config.ActionBlock, objects map[string]dataobject.DataObject) (*Action, error) {
	inputs, err := resolveRefs(ab.Name, "input", ab.Inputs, objects)
	if err != nil {
		return nil, err
	}
	outputs, err := resolveRefs(ab.Name, "output", ab.Outputs, objects)
	if err != nil {
		return nil, err
	}

	for _, in := range inputs {
		if ok, missing := dataobject.HasCapabilities(in, []dataobject.Capability{dataobject.CapRead}); !ok {
			return nil, corerr.New(corerr.Configuration, ab.Name, fmt.Errorf("input %q missing capabilities %v", in.ID(), missing))
		}
	}
	requiredOut := []dataobject.Capability{dataobject.CapWrite}
	for _, out := range outputs {
		if ok, missing := dataobject.HasCapabilities(out, requiredOut); !ok {
			return nil, corerr.New(corerr.Configuration, ab.Name, fmt.Errorf("output %q missing capabilities %v", out.ID(), missing))
		}
	}

	m, err := resolveMode(ab)
	if err != nil {
		return nil, err
	}
	if m.Kind == mode.PartitionDiffMode {
		for _, in := range inputs {
			if ok, missing := dataobject.HasCapabilities(in, []dataobject.Capability{dataobject.CapPartitioned}); !ok {
				return nil, corerr.New(corerr.Configuration, ab.Name, fmt.Errorf("PartitionDiffMode requires input %q to be %v", in.ID(), missing))
			}
		}
	}
	if m.Kind == mode.SparkStreamingOnceMode {
		for _, in := range inputs {
			if ok, missing := dataobject.HasCapabilities(in, []dataobject.Capability{dataobject.CapStreaming}); !ok {
				return nil, corerr.New(corerr.Configuration, ab.Name, fmt.Errorf("SparkStreamingOnceMode requires input %q to be %v", in.ID(), missing))
			}
		}
	}

	ignore := make(map[string]bool, len(ab.InputIdsToIgnoreFilter))
	for _, id := range ab.InputIdsToIgnoreFilter {
		ignore[id] = true
	}

	mainInput := ab.MainInputID
	if mainInput == "" && len(inputs) > 0 {
		mainInput = mostPartitionedID(inputs)
	}
	mainOutput := ab.MainOutputID
	if mainOutput == "" && len(outputs) > 0 {
		mainOutput = outputs[0].ID()
	}

	return &Action{
		ID:                     ab.Name,
		Type:                   ab.Type,
		Feed:                   ab.Feed,
		Inputs:                 inputs,
		Outputs:                outputs,
		RecursiveInputIDs:      append([]string(nil), ab.RecursiveInputs...),
		MainInputID:            mainInput,
		MainOutputID:           mainOutput,
		InputIDsToIgnoreFilter: ignore,
		Mode:                   m,
		ExecutionCondition:     ab.ExecutionCondition,
		FailCondition:          ab.FailCondition,
	}, nil
}

// mostPartitionedID picks the default main input: the candidate declaring
// the most partition columns, ties broken by declaration order. This is the
// default only; an explicit mainInputId attribute always wins.
func mostPartitionedID(candidates []dataobject.DataObject) string {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if len(c.PartitionColumns()) > len(best.PartitionColumns()) {
			best = c
		}
	}
	return best.ID()
}

func resolveRefs(actionID, role string, ids []string, objects map[string]dataobject.DataObject) ([]dataobject.DataObject, error) {
	out := make([]dataobject.DataObject, 0, len(ids))
	for _, id := range ids {
		obj, ok := objects[id]
		if !ok {
			return nil, corerr.New(corerr.Configuration, actionID, fmt.Errorf("unknown %s data_object %q", role, id))
		}
		out = append(out, obj)
	}
	return out, nil
}

func resolveMode(ab *config.ActionBlock) (mode.Mode, error) {
	if ab.ExecutionMode == nil {
		return mode.Mode{Kind: mode.ProcessAllMode}, nil
	}
	b := ab.ExecutionMode
	m := mode.Mode{
		Kind:               mode.Kind(b.Type),
		PartitionColNb:     b.PartitionColNb,
		SelectExpression:   b.SelectExpression,
		ApplyCondition:     b.ApplyCondition,
		FailCondition:      b.FailCondition,
		CompareCol:         b.CompareCol,
		CheckpointLocation: b.CheckpointLocation,
	}
	if len(b.PartitionValues) > 0 {
		m.PartitionValues = partition.Set{partition.New(b.PartitionValues)}
	}
	switch m.Kind {
	case mode.FixedPartitionValues, mode.PartitionDiffMode, mode.SparkIncrementalMode,
		mode.SparkStreamingOnceMode, mode.FailIfNoPartitionValuesMode, mode.ProcessAllMode,
		mode.CustomPartitionMode:
		return m, nil
	default:
		return mode.Mode{}, corerr.New(corerr.Configuration, ab.Name, fmt.Errorf("unknown execution mode type %q", b.Type))
	}
}

// FilterByFeed returns a Registry restricted to the actions whose Feed
// matches pattern, a regular expression (spec §6's --feed-sel). DataObjects
// and Connections are shared with r unchanged; only the Actions set is
// narrowed. An empty pattern matches every action.
func (r *Registry) FilterByFeed(pattern string) (*Registry, error) {
	if pattern == "" {
		return r, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, corerr.New(corerr.Configuration, "", fmt.Errorf("invalid feed selector %q: %w", pattern, err))
	}
	filtered := &Registry{
		DataObjects: r.DataObjects,
		Connections: r.Connections,
		Actions:     map[string]*Action{},
	}
	for id, a := range r.Actions {
		if re.MatchString(a.Feed) {
			filtered.Actions[id] = a
		}
	}
	return filtered, nil
}

// SortedActionIDs returns every action ID in deterministic order, used
// wherever iteration order must not depend on map randomisation.
func (r *Registry) SortedActionIDs() []string {
	ids := make([]string, 0, len(r.Actions))
	for id := range r.Actions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
