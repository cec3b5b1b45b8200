package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/docseed/internal/canon"
)

// Snapshot captures the trace and final records of a scenario execution.
// It is serialized as canonical JSON for deterministic comparison.
type Snapshot struct {
	ScenarioName string        `json:"scenario_name"`
	Trace        []StepTrace   `json:"trace"`
	Records      []RecordState `json:"records"`
}

// toCanonicalMap converts a Snapshot to the generic form canon.Marshal
// encodes.
func (s *Snapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, step := range s.Trace {
		m := map[string]any{"step": step.Step}
		if step.Error != "" {
			m["error"] = string(step.Error)
		}
		if step.Outcome != "" {
			m["outcome"] = string(step.Outcome)
		}
		if step.Identity != "" {
			m["identity"] = string(step.Identity)
		}
		if step.Version != 0 {
			m["version"] = step.Version
		}
		if step.PreviousVersion != 0 {
			m["previous_version"] = step.PreviousVersion
		}
		if len(step.Changed) > 0 {
			changed := make([]any, len(step.Changed))
			for j, k := range step.Changed {
				changed[j] = string(k)
			}
			m["changed"] = changed
		}
		if step.ConfigRef != "" {
			m["config_ref"] = step.ConfigRef
		}
		if step.Checksums.Len() > 0 {
			sums := make(map[string]any, step.Checksums.Len())
			for k, v := range step.Checksums.Map() {
				sums[string(k)] = v
			}
			m["checksums"] = sums
		}
		trace[i] = m
	}

	records := make([]any, len(s.Records))
	for i, rec := range s.Records {
		actions := make([]any, len(rec.Actions))
		for j, a := range rec.Actions {
			actions[j] = a
		}
		records[i] = map[string]any{
			"identity": string(rec.Identity),
			"version":  rec.Version,
			"active":   rec.Active,
			"actions":  actions,
		}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"records":       records,
	}
}

// SnapshotJSON returns the canonical JSON snapshot of result, the form
// stored in golden files.
func SnapshotJSON(scenarioName string, result *Result) ([]byte, error) {
	snapshot := Snapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Records:      result.Records,
	}
	return canon.Marshal(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := SnapshotJSON(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
