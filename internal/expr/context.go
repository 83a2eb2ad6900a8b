// Package expr evaluates the HCL boolean/row-filter expressions the spec
// requires (applyCondition, failCondition, executionCondition,
// selectExpression, and runtime options' %{name} substitution), all
// against the typed context record described in spec §6.
package expr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/sdlb/smartdatalake/internal/partition"
)

// stdFunctions is the small standard-library subset exposed to expressions,
// enough to express failCondition/selectExpression predicates over
// partition sets and strings without reaching for a scripting engine.
var stdFunctions = map[string]function.Function{
	"length": stdlib.LengthFunc,
	"upper":  stdlib.UpperFunc,
	"lower":  stdlib.LowerFunc,
	"concat": stdlib.ConcatFunc,
}

// InputState captures one input's isDAGStart/isSkipped flags for exposure
// in the evaluation context, as named in spec §6.
type InputState struct {
	DataObjectID string
	IsDAGStart   bool
	IsSkipped    bool
}

// Context is the typed record exposed to applyCondition, failCondition,
// executionCondition, selectExpression, and runtime options (spec §6).
type Context struct {
	RunID                 int
	AttemptID             int
	Feed                  string
	Inputs                []InputState
	InputPartitionValues  partition.Set
	OutputPartitionValues partition.Set
	SelectedPartitionValues partition.Set
}

// EvalContext renders Context into an *hcl.EvalContext so HCL expressions
// can reference run.id, run.attempt_id, action.feed, input.is_dag_start,
// input.is_skipped, partitions.input, partitions.output, and
// partitions.selected.
func (c Context) EvalContext() *hcl.EvalContext {
	inputDAGStart := make(map[string]cty.Value, len(c.Inputs))
	inputSkipped := make(map[string]cty.Value, len(c.Inputs))
	for _, in := range c.Inputs {
		inputDAGStart[in.DataObjectID] = cty.BoolVal(in.IsDAGStart)
		inputSkipped[in.DataObjectID] = cty.BoolVal(in.IsSkipped)
	}

	vars := map[string]cty.Value{
		"run": cty.ObjectVal(map[string]cty.Value{
			"id":         cty.NumberIntVal(int64(c.RunID)),
			"attempt_id": cty.NumberIntVal(int64(c.AttemptID)),
		}),
		"action": cty.ObjectVal(map[string]cty.Value{
			"feed": cty.StringVal(c.Feed),
		}),
		"input": cty.ObjectVal(map[string]cty.Value{
			"is_dag_start": safeObject(inputDAGStart),
			"is_skipped":   safeObject(inputSkipped),
		}),
		"partitions": cty.ObjectVal(map[string]cty.Value{
			"input":    setToCty(c.InputPartitionValues),
			"output":   setToCty(c.OutputPartitionValues),
			"selected": setToCty(c.SelectedPartitionValues),
		}),
	}
	return &hcl.EvalContext{Variables: vars, Functions: stdFunctions}
}

func safeObject(m map[string]cty.Value) cty.Value {
	if len(m) == 0 {
		return cty.MapValEmpty(cty.Bool)
	}
	return cty.MapVal(m)
}

func setToCty(s partition.Set) cty.Value {
	if len(s) == 0 {
		return cty.ListValEmpty(cty.Map(cty.String))
	}
	vals := make([]cty.Value, len(s))
	for i, v := range s {
		m := make(map[string]cty.Value, len(v.Keys()))
		for _, k := range v.Keys() {
			val, _ := v.Get(k)
			m[k] = cty.StringVal(val)
		}
		if len(m) == 0 {
			vals[i] = cty.MapValEmpty(cty.String)
		} else {
			vals[i] = cty.MapVal(m)
		}
	}
	return cty.ListVal(vals)
}

// ParseExpression parses a single HCL expression from its textual form, as
// used for `applyCondition`, `failCondition`, `executionCondition`, and
// `selectExpression` configuration attributes.
func ParseExpression(src string) (hcl.Expression, hcl.Diagnostics) {
	return hclsyntax.ParseExpression([]byte(src), "<config>", hcl.InitialPos)
}

// EvalBool parses and evaluates src as a boolean expression against ctx.
// An empty src evaluates to def (the caller's default for an unset condition).
func EvalBool(src string, ctx Context, def bool) (bool, error) {
	if strings.TrimSpace(src) == "" {
		return def, nil
	}
	e, diags := ParseExpression(src)
	if diags.HasErrors() {
		return false, fmt.Errorf("parsing expression %q: %w", src, diags)
	}
	val, diags := e.Value(ctx.EvalContext())
	if diags.HasErrors() {
		return false, fmt.Errorf("evaluating expression %q: %w", src, diags)
	}
	if val.Type() != cty.Bool {
		return false, fmt.Errorf("expression %q did not evaluate to a bool, got %s", src, val.Type().FriendlyName())
	}
	return val.True(), nil
}

// EvalString parses and evaluates src (e.g. selectExpression) as a string.
func EvalString(src string, ctx Context) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	e, diags := ParseExpression(src)
	if diags.HasErrors() {
		return "", fmt.Errorf("parsing expression %q: %w", src, diags)
	}
	val, diags := e.Value(ctx.EvalContext())
	if diags.HasErrors() {
		return "", fmt.Errorf("evaluating expression %q: %w", src, diags)
	}
	str, err := stringOf(val)
	if err != nil {
		return "", fmt.Errorf("expression %q: %w", src, err)
	}
	return str, nil
}

func stringOf(val cty.Value) (string, error) {
	if val.Type() != cty.String {
		return "", fmt.Errorf("expected string, got %s", val.Type().FriendlyName())
	}
	return val.AsString(), nil
}

// tokenPattern matches %{name} runtime-option placeholders (spec §4.5).
var tokenPattern = regexp.MustCompile(`%\{([a-zA-Z0-9_.]+)\}`)

// SubstituteRuntimeOptions replaces every %{name} token in template with the
// string form of the evaluated runtime option named `name` in options,
// following spec §4.5's substitution rule for SQL-style transformations.
func SubstituteRuntimeOptions(template string, options map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		if val, ok := options[name]; ok {
			return val
		}
		return match
	})
}
