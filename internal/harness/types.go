package harness

import (
	"github.com/roach88/docseed/internal/bundle"
)

// StepTrace records what one step produced.
type StepTrace struct {
	Step            string                `json:"step"`
	Outcome         bundle.Outcome        `json:"outcome,omitempty"`
	Identity        bundle.Identity       `json:"identity,omitempty"`
	Version         int                   `json:"version,omitempty"`
	PreviousVersion int                   `json:"previous_version,omitempty"`
	Changed         []bundle.ArtifactKind `json:"changed,omitempty"`
	ConfigRef       string                `json:"config_ref,omitempty"`
	Checksums       bundle.Checksums      `json:"checksums"`
	Error           bundle.Code           `json:"error,omitempty"`
}

// RecordState is one stored version at the end of a scenario.
type RecordState struct {
	Identity bundle.Identity `json:"identity"`
	Version  int             `json:"version"`
	Active   bool            `json:"active"`
	Actions  []string        `json:"actions"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every step matched its expect clause and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace has one entry per step, in order.
	Trace []StepTrace `json:"trace"`

	// Records holds every stored version of every identity the scenario
	// touched, ordered by first touch then version.
	Records []RecordState `json:"records"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []StepTrace{},
		Records: []RecordState{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
