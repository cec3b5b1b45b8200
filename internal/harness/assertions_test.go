package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docseed/internal/bundle"
)

func TestEvaluateAssertions_Failures(t *testing.T) {
	scenario := &Scenario{
		Name:        "failing_assertions",
		Description: "Every assertion type reports a mismatch",
		Steps: []Step{
			{Name: "v1", Bundle: privacyBundle("SELECT 1;")},
			{Name: "v2", Bundle: privacyBundle("SELECT 2;")},
		},
		Assertions: []Assertion{
			{Type: AssertActiveVersion, Identity: privacyID, Version: 1},
			{Type: AssertActiveVersion, Identity: "gdpr_other_other_eu", Version: 1},
			{Type: AssertNoActive, Identity: privacyID},
			{Type: AssertHistory, Identity: privacyID, Version: 1, Actions: []string{bundle.ActionCreated}},
			{Type: AssertHistory, Identity: privacyID, Version: 9, Actions: []string{bundle.ActionCreated}},
			{Type: AssertVersionCount, Identity: privacyID, Count: 1},
			{Type: AssertBlobCount, Count: 5},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 7)

	assert.Contains(t, result.Errors[0], "Actual: active at version 2")
	assert.Contains(t, result.Errors[1], "Actual: no active record")
	assert.Contains(t, result.Errors[2], "Actual: active at version 2")
	assert.Contains(t, result.Errors[3], "Actual: audit [CREATED DEACTIVATED]")
	assert.Contains(t, result.Errors[4], "Actual: version not stored")
	assert.Contains(t, result.Errors[5], "Actual: 2 version(s): [1 2]")
	assert.Contains(t, result.Errors[6], "Actual: 2 blob(s)")

	for i, msg := range result.Errors {
		assert.Contains(t, msg, "Full trace:", "error %d", i)
	}
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertBlobCount,
		Expected: "1 blob(s)",
		Actual:   "2 blob(s)",
		Trace: []StepTrace{
			{Step: "upload", Outcome: bundle.OutcomeCreated, Identity: privacyID, Version: 1},
			{Step: "broken", Error: bundle.CodeFatal},
		},
	}

	assert.Equal(t, `Assertion failed: blob_count
  Expected: 1 blob(s)
  Actual: 2 blob(s)

Full trace:
  [1] upload: CREATED gdpr_privacy_report_privacy_out_eu v1
  [2] broken: STORAGE_FATAL
`, err.Error())
}
