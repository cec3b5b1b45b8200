package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/docseed/internal/blobstore"
	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/coordinator"
	"github.com/roach88/docseed/internal/ids"
	"github.com/roach88/docseed/internal/memstore"
	"github.com/roach88/docseed/internal/retry"
	"github.com/roach88/docseed/internal/store"
	"github.com/roach88/docseed/internal/testutil"
)

// historian is a record store that can list every version of an identity.
type historian interface {
	bundle.RecordStore
	History(ctx context.Context, id bundle.Identity) ([]bundle.Record, error)
}

// Harness is the test execution engine.
// It runs scenarios with a deterministic clock and deterministic ids.
type Harness struct {
	records *testutil.FaultyRecordStore
	blobs   *testutil.FaultyBlobStore
	history historian
	memory  *blobstore.Memory
	coord   *coordinator.Coordinator
	closer  func() error
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against fresh stores for isolation. The returned error
// covers harness failures only; step and assertion mismatches are reported
// in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	h, err := newHarness(ctx, scenario.Store)
	if err != nil {
		return nil, err
	}
	defer h.closer()

	result := NewResult()
	var touched []bundle.Identity
	for i, step := range scenario.Steps {
		tr := h.executeStep(ctx, step)
		result.Trace = append(result.Trace, tr)
		if tr.Identity != "" && !slices.Contains(touched, tr.Identity) {
			touched = append(touched, tr.Identity)
		}
		if msg := checkExpect(step.Expect, tr); msg != "" {
			result.AddError(fmt.Sprintf("step %d (%s): %s", i, step.Name, msg))
		}
	}

	for _, id := range touched {
		recs, err := h.history.History(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read history of %s: %w", id, err)
		}
		for _, rec := range recs {
			result.Records = append(result.Records, RecordState{
				Identity: rec.Identity,
				Version:  rec.Version,
				Active:   rec.Active,
				Actions:  rec.Audit.Actions(),
			})
		}
	}

	actx := &AssertionContext{
		Ctx:     ctx,
		Records: h.history,
		Blobs:   h.memory,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

func newHarness(ctx context.Context, kind string) (*Harness, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	h := &Harness{
		memory: blobstore.NewMemoryWithIDs(ids.NewSequence("blob")),
		closer: func() error { return nil },
	}

	switch kind {
	case StoreSQLite:
		st, err := store.Open(ctx, store.Config{
			Dialect: store.SQLite,
			DSN:     ":memory:",
			IDs:     ids.NewSequence("cfg"),
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		h.history = st
		h.closer = st.Close
	default:
		h.history = memstore.NewWithIDs(ids.NewSequence("cfg"))
	}

	h.records = testutil.NewFaultyRecordStore(h.history)
	h.blobs = testutil.NewFaultyBlobStore(h.memory)

	policy := retry.Default()
	policy.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	coord, err := coordinator.New(h.records, h.blobs,
		coordinator.WithClock(testutil.NewDeterministicClock()),
		coordinator.WithLogger(logger),
		coordinator.WithRetryPolicy(policy),
	)
	if err != nil {
		h.closer()
		return nil, err
	}
	h.coord = coord
	return h, nil
}

// executeStep installs the step's faults, writes its bundle and clears the
// faults again.
func (h *Harness) executeStep(ctx context.Context, step Step) StepTrace {
	for _, f := range step.Faults {
		h.install(f)
	}
	defer func() {
		h.records.Clear()
		h.blobs.Clear()
	}()

	tr := StepTrace{Step: step.Name}
	res, err := h.coord.WriteBundle(ctx, step.Bundle.Input())
	if err != nil {
		tr.Error = bundle.CodeOf(err)
		var be *bundle.Error
		if errors.As(err, &be) {
			tr.Identity = be.Identity
		}
		return tr
	}

	s := res.Summary
	tr.Outcome = res.Outcome
	tr.Identity = s.Identity
	tr.Version = s.Version
	tr.PreviousVersion = s.PreviousVersion
	tr.Changed = s.Changed
	tr.ConfigRef, _ = s.References.Get(bundle.KindConfig)
	tr.Checksums = s.Checksums
	return tr
}

// install sets f on the store that owns its operation. Call numbers count
// from the start of the step.
func (h *Harness) install(f FaultSpec) {
	faults := h.records.Faults
	if f.Op == testutil.OpBlobPut || f.Op == testutil.OpBlobDelete {
		faults = h.blobs.Faults
	}

	err := testutil.Transient(f.Op)
	if f.Error == "fatal" {
		err = testutil.Fatal(f.Op)
	}

	var fault testutil.Fault
	switch f.Fail {
	case "always":
		fault = testutil.FailAlways(err)
	case "first":
		fault = testutil.FailFirst(f.Count, err)
	case "on":
		fault = testutil.FailOn(f.Count, err)
	}

	base := faults.Calls(f.Op)
	faults.Set(f.Op, func(ctx context.Context, call int) error {
		return fault(ctx, call-base)
	})
}

func checkExpect(e *Expect, tr StepTrace) string {
	if e == nil {
		return ""
	}
	if e.Error != "" {
		if tr.Error != e.Error {
			return fmt.Sprintf("expected error %s, got %s", e.Error, describe(tr))
		}
		return ""
	}
	if tr.Error != "" || tr.Outcome != e.Outcome {
		return fmt.Sprintf("expected outcome %s, got %s", e.Outcome, describe(tr))
	}
	if e.Version != 0 && tr.Version != e.Version {
		return fmt.Sprintf("expected version %d, got %d", e.Version, tr.Version)
	}
	return ""
}

func describe(tr StepTrace) string {
	if tr.Error != "" {
		return "error " + string(tr.Error)
	}
	return "outcome " + string(tr.Outcome)
}
