package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioFiles runs the scenarios under testdata/scenarios at the
// project root and compares each snapshot with its golden file.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func TestScenarioFiles(t *testing.T) {
	paths, err := filepath.Glob("../../testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenario files found")

	for _, path := range paths {
		name := filepath.Base(path)
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario %s failed: %v", scenario.Name, result.Errors)
		})
	}
}

func TestSnapshot_CanonicalMap(t *testing.T) {
	s := Snapshot{
		ScenarioName: "x",
		Trace: []StepTrace{
			{Step: "bad", Error: "VALIDATION"},
		},
		Records: []RecordState{},
	}

	m := s.toCanonicalMap()
	assert.Equal(t, "x", m["scenario_name"])
	trace := m["trace"].([]any)
	require.Len(t, trace, 1)
	assert.Equal(t, map[string]any{"step": "bad", "error": "VALIDATION"}, trace[0])
	assert.Equal(t, []any{}, m["records"])
}
