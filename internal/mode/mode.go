// Package mode implements the execution-mode framework as a tagged union
// (spec §4.4/§9): one Mode value dispatched on its Kind field, rather than
// a class hierarchy resolved through reflection or type switches over
// interfaces. Each Kind computes the ModeResult that gets folded into the
// outgoing SubFeed.
package mode

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sdlb/smartdatalake/internal/corerr"
	"github.com/sdlb/smartdatalake/internal/expr"
	"github.com/sdlb/smartdatalake/internal/partition"
	"github.com/sdlb/smartdatalake/internal/subfeed"
)

// Kind names one of the seven execution-mode strategies.
type Kind string

const (
	FixedPartitionValues        Kind = "FixedPartitionValues"
	PartitionDiffMode           Kind = "PartitionDiffMode"
	SparkIncrementalMode        Kind = "SparkIncrementalMode"
	SparkStreamingOnceMode      Kind = "SparkStreamingOnceMode"
	FailIfNoPartitionValuesMode Kind = "FailIfNoPartitionValuesMode"
	ProcessAllMode              Kind = "ProcessAllMode"
	CustomPartitionMode         Kind = "CustomPartitionMode"
)

// Mode is the tagged union itself. Fields unused by a given Kind are left
// zero; Evaluate never reads a field outside the case for its own Kind.
type Mode struct {
	Kind Kind

	// FixedPartitionValues
	PartitionValues partition.Set

	// PartitionDiffMode
	PartitionColNb int
	StopIfNoData   bool

	// CustomPartitionMode
	SelectExpression string

	// SparkIncrementalMode
	CompareCol string

	// SparkStreamingOnceMode
	CheckpointLocation string

	ApplyCondition string
	FailCondition  string
}

// Input is everything a Mode needs to compute its result for one action
// execution: the evaluation context for its conditions plus whatever
// partition state the action's inputs/outputs currently carry.
type Input struct {
	Eval                  expr.Context
	InputPartitionValues  partition.Set
	OutputPartitionValues partition.Set
	PreviousCheckpoint    string
}

// Result is the outcome of evaluating a Mode: either a ModeResult to apply
// to the outgoing SubFeed, or a NoData signal telling the action kernel to
// stop (spec's NoDataToProcessStop) or continue with an empty SubFeed
// (NoDataToProcessDontStop).
type Result struct {
	subfeed.ModeResult
	NewCheckpoint string
	NoData        bool
}

// Evaluate applies m's strategy. A non-nil error is always a
// *corerr.Error: Precondition for a failed failCondition or an empty
// required partition set, Configuration for a malformed expression.
func (m Mode) Evaluate(in Input) (Result, error) {
	apply, err := expr.EvalBool(m.ApplyCondition, in.Eval, true)
	if err != nil {
		return Result{}, corerr.New(corerr.Configuration, "", err)
	}
	if !apply {
		return Result{NoData: true}, nil
	}

	result, err := m.evaluateKind(in)
	if err != nil {
		return Result{}, err
	}

	fail, err := expr.EvalBool(m.FailCondition, in.Eval, false)
	if err != nil {
		return Result{}, corerr.New(corerr.Configuration, "", err)
	}
	if fail {
		return Result{}, corerr.New(corerr.Precondition, "", fmt.Errorf("failCondition %q evaluated true", m.FailCondition))
	}
	return result, nil
}

func (m Mode) evaluateKind(in Input) (Result, error) {
	switch m.Kind {
	case FixedPartitionValues:
		return Result{ModeResult: subfeed.ModeResult{PartitionValues: m.PartitionValues}}, nil

	case ProcessAllMode:
		return Result{ModeResult: subfeed.ModeResult{PartitionValues: in.InputPartitionValues}}, nil

	case FailIfNoPartitionValuesMode:
		if len(in.InputPartitionValues) == 0 {
			return Result{}, corerr.New(corerr.Precondition, "", fmt.Errorf("no partition values to process"))
		}
		return Result{ModeResult: subfeed.ModeResult{PartitionValues: in.InputPartitionValues}}, nil

	case PartitionDiffMode:
		colNb := m.PartitionColNb
		input := in.InputPartitionValues
		output := in.OutputPartitionValues
		if colNb > 0 {
			input = partition.ProjectColNb(input, colNb)
			output = partition.ProjectColNb(output, colNb)
		}
		missing := partition.Diff(input, output)
		if len(missing) == 0 {
			return Result{NoData: true}, nil
		}
		return Result{ModeResult: subfeed.ModeResult{PartitionValues: missing}}, nil

	case CustomPartitionMode:
		return m.evaluateCustomPartition(in)

	case SparkIncrementalMode:
		return m.evaluateSparkIncremental(in)

	case SparkStreamingOnceMode:
		return m.evaluateSparkStreamingOnce(in)

	default:
		return Result{}, corerr.New(corerr.Configuration, "", fmt.Errorf("unknown execution mode kind %q", m.Kind))
	}
}

// evaluateCustomPartition evaluates SelectExpression as a comma-separated
// list of `key=value` pairs describing a single partition, e.g.
// `"dt=20190101,run=${run.id}"`. More elaborate selection
// logic belongs in a real expression language extension, not here.
func (m Mode) evaluateCustomPartition(in Input) (Result, error) {
	rendered, err := expr.EvalString(m.SelectExpression, in.Eval)
	if err != nil {
		return Result{}, corerr.New(corerr.Configuration, "", err)
	}
	values, err := parseKeyValueList(rendered)
	if err != nil {
		return Result{}, corerr.New(corerr.Configuration, "", err)
	}
	if len(values) == 0 {
		return Result{NoData: true}, nil
	}
	return Result{ModeResult: subfeed.ModeResult{PartitionValues: partition.Set{partition.New(values)}}}, nil
}

func parseKeyValueList(s string) (map[string]string, error) {
	out := map[string]string{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("malformed partition pair %q, expected key=value", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// evaluateSparkIncremental compares CompareCol across the input and output
// partition sets and selects only the input partitions whose compare
// column is not already present (equal) in some output partition. Without
// a real execution engine backing this, CompareCol is treated as just
// another partition column for comparison purposes.
func (m Mode) evaluateSparkIncremental(in Input) (Result, error) {
	if m.CompareCol == "" {
		return Result{}, corerr.New(corerr.Configuration, "", fmt.Errorf("SparkIncrementalMode requires compareCol"))
	}
	seen := make(map[string]bool, len(in.OutputPartitionValues))
	for _, v := range in.OutputPartitionValues {
		if val, ok := v.Get(m.CompareCol); ok {
			seen[val] = true
		}
	}
	var missing partition.Set
	for _, v := range in.InputPartitionValues {
		val, ok := v.Get(m.CompareCol)
		if !ok || !seen[val] {
			missing = append(missing, v)
		}
	}
	sortSet(missing)
	if len(missing) == 0 {
		return Result{NoData: true}, nil
	}
	return Result{ModeResult: subfeed.ModeResult{PartitionValues: missing}}, nil
}

// evaluateSparkStreamingOnce passes PreviousCheckpoint through unchanged as
// NewCheckpoint; checkpoint advancement belongs to the Streamable data
// object's CreateStreamingDF call. It only marks the SubFeed's lineage as
// broken, since streaming sources never carry partition-level lineage
// downstream.
func (m Mode) evaluateSparkStreamingOnce(in Input) (Result, error) {
	return Result{
		ModeResult: subfeed.ModeResult{
			BreakLineage: true,
		},
		NewCheckpoint: in.PreviousCheckpoint,
	}, nil
}

func sortSet(s partition.Set) {
	sort.Slice(s, func(i, j int) bool { return s[i].String() < s[j].String() })
}
