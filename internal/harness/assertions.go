package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/docseed/internal/blobstore"
	"github.com/roach88/docseed/internal/bundle"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Trace    []StepTrace // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, step := range e.Trace {
		if step.Error != "" {
			fmt.Fprintf(&buf, "  [%d] %s: %s\n", i+1, step.Step, step.Error)
			continue
		}
		fmt.Fprintf(&buf, "  [%d] %s: %s %s v%d\n", i+1, step.Step, step.Outcome, step.Identity, step.Version)
	}

	return buf.String()
}

// AssertionContext gives assertions access to the stores after the run.
type AssertionContext struct {
	Ctx     context.Context
	Records historian
	Blobs   *blobstore.Memory
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %s", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertActiveVersion:
		return assertActiveVersion(result, a, actx)
	case AssertNoActive:
		return assertNoActive(result, a, actx)
	case AssertHistory:
		return assertHistory(result, a, actx)
	case AssertVersionCount:
		return assertVersionCount(result, a, actx)
	case AssertBlobCount:
		return assertBlobCount(result, a, actx)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertActiveVersion checks that the identity's active record is the
// expected version.
func assertActiveVersion(result *Result, a Assertion, actx *AssertionContext) error {
	rec, found, err := actx.Records.FindActive(actx.Ctx, a.Identity)
	if err != nil {
		return fmt.Errorf("find active %s: %w", a.Identity, err)
	}
	if !found {
		return &AssertionError{
			Type:     AssertActiveVersion,
			Expected: fmt.Sprintf("%s active at version %d", a.Identity, a.Version),
			Actual:   "no active record",
			Trace:    result.Trace,
		}
	}
	if rec.Version != a.Version {
		return &AssertionError{
			Type:     AssertActiveVersion,
			Expected: fmt.Sprintf("%s active at version %d", a.Identity, a.Version),
			Actual:   fmt.Sprintf("active at version %d", rec.Version),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertNoActive checks that the identity has no active record.
func assertNoActive(result *Result, a Assertion, actx *AssertionContext) error {
	rec, found, err := actx.Records.FindActive(actx.Ctx, a.Identity)
	if err != nil {
		return fmt.Errorf("find active %s: %w", a.Identity, err)
	}
	if found {
		return &AssertionError{
			Type:     AssertNoActive,
			Expected: fmt.Sprintf("%s has no active record", a.Identity),
			Actual:   fmt.Sprintf("active at version %d", rec.Version),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertHistory checks one version's audit trail, in order.
func assertHistory(result *Result, a Assertion, actx *AssertionContext) error {
	recs, err := actx.Records.History(actx.Ctx, a.Identity)
	if err != nil {
		return fmt.Errorf("history %s: %w", a.Identity, err)
	}
	for _, rec := range recs {
		if rec.Version != a.Version {
			continue
		}
		if got := rec.Audit.Actions(); !slices.Equal(got, a.Actions) {
			return &AssertionError{
				Type:     AssertHistory,
				Expected: fmt.Sprintf("%s v%d audit %v", a.Identity, a.Version, a.Actions),
				Actual:   fmt.Sprintf("audit %v", got),
				Trace:    result.Trace,
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertHistory,
		Expected: fmt.Sprintf("%s v%d audit %v", a.Identity, a.Version, a.Actions),
		Actual:   "version not stored",
		Trace:    result.Trace,
	}
}

// assertVersionCount checks how many versions of the identity are stored.
func assertVersionCount(result *Result, a Assertion, actx *AssertionContext) error {
	recs, err := actx.Records.History(actx.Ctx, a.Identity)
	if err != nil {
		return fmt.Errorf("history %s: %w", a.Identity, err)
	}
	if len(recs) != a.Count {
		return &AssertionError{
			Type:     AssertVersionCount,
			Expected: fmt.Sprintf("%s has %d version(s)", a.Identity, a.Count),
			Actual:   fmt.Sprintf("%d version(s): %v", len(recs), versions(recs)),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertBlobCount checks the number of blobs left in the blob store, which
// catches orphans from failed writes.
func assertBlobCount(result *Result, a Assertion, actx *AssertionContext) error {
	if n := actx.Blobs.Len(); n != a.Count {
		return &AssertionError{
			Type:     AssertBlobCount,
			Expected: fmt.Sprintf("%d blob(s)", a.Count),
			Actual:   fmt.Sprintf("%d blob(s): %v", n, actx.Blobs.Handles()),
			Trace:    result.Trace,
		}
	}
	return nil
}

func versions(recs []bundle.Record) []int {
	out := make([]int, len(recs))
	for i, r := range recs {
		out[i] = r.Version
	}
	return out
}
