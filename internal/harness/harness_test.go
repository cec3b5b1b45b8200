package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docseed/internal/bundle"
)

const privacyID bundle.Identity = "gdpr_privacy_report_privacy_out_eu"

func privacyBundle(query string) BundleSpec {
	return BundleSpec{
		OwnerID: "acme",
		Scheme:  "gdpr",
		Region:  "EU",
		Config:  `{"name": "Privacy Report", "outFileName": "privacy_out"}`,
		Primary: query,
	}
}

func TestRun_CreateThenSkip(t *testing.T) {
	scenario := &Scenario{
		Name:        "create_then_skip",
		Description: "Second identical write is skipped",
		Steps: []Step{
			{Name: "first", Bundle: privacyBundle("SELECT 1;"), Expect: &Expect{Outcome: bundle.OutcomeCreated, Version: 1}},
			{Name: "second", Bundle: privacyBundle("SELECT 1;"), Expect: &Expect{Outcome: bundle.OutcomeSkipped, Version: 1}},
		},
		Assertions: []Assertion{
			{Type: AssertActiveVersion, Identity: privacyID, Version: 1},
			{Type: AssertVersionCount, Identity: privacyID, Count: 1},
			{Type: AssertBlobCount, Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, "cfg-1", result.Trace[0].ConfigRef)
	assert.Equal(t, "cfg-1", result.Trace[1].ConfigRef)
	assert.Equal(t, result.Trace[0].Checksums, result.Trace[1].Checksums)

	require.Len(t, result.Records, 1)
	assert.Equal(t, RecordState{
		Identity: privacyID,
		Version:  1,
		Active:   true,
		Actions:  []string{bundle.ActionCreated},
	}, result.Records[0])
}

func TestRun_ExpectMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "Expect clauses are checked",
		Steps: []Step{
			{Name: "first", Bundle: privacyBundle("SELECT 1;"), Expect: &Expect{Outcome: bundle.OutcomeModified}},
			{Name: "second", Bundle: privacyBundle("SELECT 2;"), Expect: &Expect{Outcome: bundle.OutcomeModified, Version: 3}},
			{Name: "third", Bundle: privacyBundle("SELECT 3;"), Expect: &Expect{Error: bundle.CodeFatal}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Equal(t, "step 0 (first): expected outcome MODIFIED, got outcome CREATED", result.Errors[0])
	assert.Equal(t, "step 1 (second): expected version 3, got 2", result.Errors[1])
	assert.Equal(t, "step 2 (third): expected error STORAGE_FATAL, got outcome MODIFIED", result.Errors[2])
}

func TestRun_FaultsAreScopedToTheirStep(t *testing.T) {
	scenario := &Scenario{
		Name:        "scoped_faults",
		Description: "A fault installed for one step does not leak into the next",
		Steps: []Step{
			{
				Name:   "blob store down",
				Bundle: privacyBundle("SELECT 1;"),
				Faults: []FaultSpec{{Op: "blob.put", Fail: "always", Error: "transient"}},
				Expect: &Expect{Error: bundle.CodeTransient},
			},
			{
				Name:   "blob store back",
				Bundle: privacyBundle("SELECT 1;"),
				Expect: &Expect{Outcome: bundle.OutcomeCreated, Version: 1},
			},
		},
		Assertions: []Assertion{
			{Type: AssertBlobCount, Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, privacyID, result.Trace[0].Identity)
}

func TestRun_FaultCallsCountFromStepStart(t *testing.T) {
	scenario := &Scenario{
		Name:        "relative_calls",
		Description: "fail: on counts calls made during the step",
		Steps: []Step{
			{Name: "create", Bundle: privacyBundle("SELECT 1;")},
			{
				Name:   "second find fails",
				Bundle: privacyBundle("SELECT 2;"),
				Faults: []FaultSpec{{Op: "record.find_active", Fail: "on", Count: 1, Error: "fatal"}},
				Expect: &Expect{Error: bundle.CodeFatal},
			},
		},
		Assertions: []Assertion{
			{Type: AssertActiveVersion, Identity: privacyID, Version: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ValidationFailureTouchesNothing(t *testing.T) {
	bad := privacyBundle("SELECT 1;")
	bad.Config = `{"name": "Privacy Report"}`

	scenario := &Scenario{
		Name:        "validation",
		Description: "Invalid config is rejected before any write",
		Steps: []Step{
			{Name: "bad config", Bundle: bad, Expect: &Expect{Error: bundle.CodeValidation}},
		},
		Assertions: []Assertion{
			{Type: AssertNoActive, Identity: privacyID},
			{Type: AssertBlobCount, Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Trace[0].Identity)
	assert.Empty(t, result.Records)
}

func TestRun_SQLiteStore(t *testing.T) {
	scenario := &Scenario{
		Name:        "sqlite",
		Description: "Versioning through the atomic executor",
		Store:       StoreSQLite,
		Steps: []Step{
			{Name: "v1", Bundle: privacyBundle("SELECT 1;"), Expect: &Expect{Outcome: bundle.OutcomeCreated, Version: 1}},
			{Name: "v2", Bundle: privacyBundle("SELECT 2;"), Expect: &Expect{Outcome: bundle.OutcomeModified, Version: 2}},
			{Name: "v3", Bundle: privacyBundle("SELECT 3;"), Expect: &Expect{Outcome: bundle.OutcomeModified, Version: 3}},
		},
		Assertions: []Assertion{
			{Type: AssertActiveVersion, Identity: privacyID, Version: 3},
			{Type: AssertVersionCount, Identity: privacyID, Count: 3},
			{Type: AssertHistory, Identity: privacyID, Version: 2, Actions: []string{bundle.ActionModified, bundle.ActionDeactivated}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []bundle.ArtifactKind{bundle.KindPrimary}, result.Trace[2].Changed)
	assert.Equal(t, 2, result.Trace[2].PreviousVersion)
}
