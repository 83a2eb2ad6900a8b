// Package state implements the run-state store (spec §4.6, §8): durable,
// append-only per-attempt records persisted as gzip-compressed cty/json
// documents, with a retention policy and a recovery algorithm enforcing
// runId/attemptId monotonicity across attempts of the same application.
package state

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/sdlb/smartdatalake/internal/action"
	"github.com/sdlb/smartdatalake/internal/metrics"
	"github.com/sdlb/smartdatalake/internal/partition"
)

// RunState is one attempt's durable record: enough to resume a failed run
// without rereading its full action graph, and enough to enforce that a
// new run's (runId, attemptId) pair is strictly greater than the last
// recorded one for this application (spec §4.6).
type RunState struct {
	AppName      string
	RunID        int
	AttemptID    int
	StartedAt    time.Time
	FinishedAt   time.Time
	Succeeded    bool
	ActionStates map[string]action.State
	Metrics      []metrics.Entry
	// OutputPartitions is the final partition set of every output data
	// object produced this attempt, keyed by data object ID. A retry of a
	// failed attempt replays a succeeded action's outputs from here instead
	// of re-running it (spec §4.6 invariant 5).
	OutputPartitions map[string]partition.Set
}

// fileName returns the canonical, lexically-sortable file name for a
// RunState: zero-padded so that string sort order matches numeric order.
func fileName(appName string, runID, attemptID int) string {
	return fmt.Sprintf("%s_run%08d_attempt%04d.state.json.gz", appName, runID, attemptID)
}

// Save writes state to dir as a gzip-compressed cty/json document and
// returns the path written.
func Save(dir string, s RunState) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating state dir %s: %w", dir, err)
	}
	val := toCty(s)
	raw, err := ctyjson.Marshal(val, cty.DynamicPseudoType)
	if err != nil {
		return "", fmt.Errorf("marshalling run state: %w", err)
	}

	path := filepath.Join(dir, fileName(s.AppName, s.RunID, s.AttemptID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating state file %s: %w", path, err)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	if _, err := gw.Write(raw); err != nil {
		return "", fmt.Errorf("writing state file %s: %w", path, err)
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("closing state file %s: %w", path, err)
	}
	return path, nil
}

// ListStates returns every state file path for appName under dir, newest
// (highest runId/attemptId) first.
func ListStates(dir, appName string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state dir %s: %w", dir, err)
	}
	prefix := appName + "_run"
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".state.json.gz") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths, nil
}

// GetLatestState loads the newest recorded RunState for appName, or nil if
// none exists yet.
func GetLatestState(dir, appName string) (*RunState, error) {
	paths, err := ListStates(dir, appName)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, nil
	}
	return Load(paths[0])
}

// Load reads and decodes a single state file, tolerating fields the
// writer's schema version didn't yet have (forward compatibility):
// decoding against cty.DynamicPseudoType infers the document's shape from
// its own JSON rather than a fixed Go struct tag set.
func Load(path string) (*RunState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening state file %s: %w", path, err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream in %s: %w", path, err)
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("reading state file %s: %w", path, err)
	}

	val, err := ctyjson.Unmarshal(raw, cty.DynamicPseudoType)
	if err != nil {
		return nil, fmt.Errorf("decoding state file %s: %w", path, err)
	}
	return fromCty(val)
}

// RecoverRunState loads the latest RunState for appName and decides the
// (runId, attemptId) pair the new run must use: the same runId with an
// incremented attemptId if the prior attempt did not succeed, otherwise
// the next runId starting a fresh attempt 1 (spec §4.6's monotonicity
// rule).
func RecoverRunState(dir, appName string) (runID, attemptID int, prior *RunState, err error) {
	prior, err = GetLatestState(dir, appName)
	if err != nil {
		return 0, 0, nil, err
	}
	if prior == nil {
		return 1, 1, nil, nil
	}
	if prior.Succeeded {
		return prior.RunID + 1, 1, prior, nil
	}
	return prior.RunID, prior.AttemptID + 1, prior, nil
}

// EnforceRetention deletes state files for appName beyond keepCount most
// recent, or older than maxAge (whichever policy is configured; zero
// disables that half of the check). The file at currentPath, if any, is
// never deleted even if it would otherwise be out of policy.
func EnforceRetention(dir, appName string, keepCount int, maxAge time.Duration, currentPath string) error {
	paths, err := ListStates(dir, appName)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for i, p := range paths {
		if p == currentPath {
			continue
		}
		byCount := keepCount > 0 && i >= keepCount
		byAge := false
		if maxAge > 0 {
			info, statErr := os.Stat(p)
			if statErr == nil && info.ModTime().Before(cutoff) {
				byAge = true
			}
		}
		if byCount || byAge {
			if err := os.Remove(p); err != nil {
				return fmt.Errorf("enforcing retention on %s: %w", p, err)
			}
		}
	}
	return nil
}

func toCty(s RunState) cty.Value {
	actionStates := make(map[string]cty.Value, len(s.ActionStates))
	for id, st := range s.ActionStates {
		actionStates[id] = cty.StringVal(string(st))
	}
	if len(actionStates) == 0 {
		actionStates = nil
	}

	metricEntries := make([]cty.Value, len(s.Metrics))
	for i, e := range s.Metrics {
		metricEntries[i] = cty.ObjectVal(map[string]cty.Value{
			"action":           cty.StringVal(e.Action),
			"output":           cty.StringVal(e.Output),
			"partitions_count": cty.NumberIntVal(int64(e.PartitionsCount)),
			"runs":             cty.NumberIntVal(int64(e.Runs)),
		})
	}

	outputPartitions := make(map[string]cty.Value, len(s.OutputPartitions))
	for outID, set := range s.OutputPartitions {
		vals := make([]cty.Value, len(set))
		for i, v := range set {
			vals[i] = valuesToCty(v)
		}
		if len(vals) > 0 {
			outputPartitions[outID] = cty.TupleVal(vals)
		} else {
			outputPartitions[outID] = cty.EmptyTupleVal
		}
	}

	fields := map[string]cty.Value{
		"app_name":    cty.StringVal(s.AppName),
		"run_id":      cty.NumberIntVal(int64(s.RunID)),
		"attempt_id":  cty.NumberIntVal(int64(s.AttemptID)),
		"started_at":  cty.StringVal(s.StartedAt.Format(time.RFC3339)),
		"finished_at": cty.StringVal(s.FinishedAt.Format(time.RFC3339)),
		"succeeded":   cty.BoolVal(s.Succeeded),
	}
	if actionStates != nil {
		fields["action_states"] = cty.MapVal(actionStates)
	} else {
		fields["action_states"] = cty.MapValEmpty(cty.String)
	}
	if len(metricEntries) > 0 {
		fields["metrics"] = cty.TupleVal(metricEntries)
	} else {
		fields["metrics"] = cty.EmptyTupleVal
	}
	if len(outputPartitions) > 0 {
		fields["output_partitions"] = cty.ObjectVal(outputPartitions)
	} else {
		fields["output_partitions"] = cty.EmptyObjectVal
	}
	return cty.ObjectVal(fields)
}

func valuesToCty(v partition.Values) cty.Value {
	m := v.Map()
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	fields := make(map[string]cty.Value, len(m))
	for k, val := range m {
		fields[k] = cty.StringVal(val)
	}
	return cty.ObjectVal(fields)
}

func fromCty(val cty.Value) (*RunState, error) {
	if val.IsNull() || !val.CanIterateElements() {
		return nil, fmt.Errorf("state document is not an object")
	}
	m := val.AsValueMap()
	s := &RunState{ActionStates: map[string]action.State{}, OutputPartitions: map[string]partition.Set{}}

	if v, ok := m["app_name"]; ok && v.Type() == cty.String {
		s.AppName = v.AsString()
	}
	if v, ok := m["run_id"]; ok {
		s.RunID = asInt(v)
	}
	if v, ok := m["attempt_id"]; ok {
		s.AttemptID = asInt(v)
	}
	if v, ok := m["started_at"]; ok && v.Type() == cty.String {
		s.StartedAt, _ = time.Parse(time.RFC3339, v.AsString())
	}
	if v, ok := m["finished_at"]; ok && v.Type() == cty.String {
		s.FinishedAt, _ = time.Parse(time.RFC3339, v.AsString())
	}
	if v, ok := m["succeeded"]; ok && v.Type() == cty.Bool {
		s.Succeeded = v.True()
	}
	if v, ok := m["action_states"]; ok && v.CanIterateElements() {
		for id, stv := range v.AsValueMap() {
			if stv.Type() == cty.String {
				s.ActionStates[id] = action.State(stv.AsString())
			}
		}
	}
	if v, ok := m["metrics"]; ok && v.CanIterateElements() {
		for _, ev := range v.AsValueSlice() {
			em := ev.AsValueMap()
			entry := metrics.Entry{}
			if a, ok := em["action"]; ok && a.Type() == cty.String {
				entry.Action = a.AsString()
			}
			if o, ok := em["output"]; ok && o.Type() == cty.String {
				entry.Output = o.AsString()
			}
			if pc, ok := em["partitions_count"]; ok {
				entry.PartitionsCount = asInt(pc)
			}
			if r, ok := em["runs"]; ok {
				entry.Runs = asInt(r)
			}
			s.Metrics = append(s.Metrics, entry)
		}
	}
	if v, ok := m["output_partitions"]; ok && v.CanIterateElements() {
		for outID, setv := range v.AsValueMap() {
			if !setv.CanIterateElements() {
				continue
			}
			var set partition.Set
			for _, ev := range setv.AsValueSlice() {
				set = append(set, valuesFromCty(ev))
			}
			s.OutputPartitions[outID] = set
		}
	}
	return s, nil
}

func valuesFromCty(v cty.Value) partition.Values {
	plain := map[string]string{}
	if v.CanIterateElements() {
		for k, fv := range v.AsValueMap() {
			if fv.Type() == cty.String {
				plain[k] = fv.AsString()
			}
		}
	}
	return partition.New(plain)
}

func asInt(v cty.Value) int {
	if v.Type() != cty.Number {
		return 0
	}
	f, _ := v.AsBigFloat().Int64()
	return int(f)
}
