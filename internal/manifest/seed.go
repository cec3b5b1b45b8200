package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/coordinator"
)

// Writer writes one bundle. Implemented by *coordinator.Coordinator.
type Writer interface {
	WriteBundle(ctx context.Context, in bundle.Input) (coordinator.Result, error)
}

// BundleResult is the outcome of one manifest entry.
type BundleResult struct {
	Index    int             `json:"index"`
	Label    string          `json:"label"`
	Outcome  string          `json:"outcome"`
	Identity bundle.Identity `json:"identity,omitempty"`
	Version  int             `json:"version,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// OutcomeFailed marks a BundleResult whose write failed.
const OutcomeFailed = "FAILED"

// Report tallies a seed run.
type Report struct {
	Created  int            `json:"created"`
	Skipped  int            `json:"skipped"`
	Modified int            `json:"modified"`
	Failed   int            `json:"failed"`
	Errors   []string       `json:"errors,omitempty"`
	Bundles  []BundleResult `json:"bundles"`
}

// OK reports whether every bundle was written or skipped.
func (r Report) OK() bool { return r.Failed == 0 }

// SeedOptions configures Seed.
type SeedOptions struct {
	// Parallel bounds concurrent writes. Values below 1 mean 1.
	Parallel int

	Logger *slog.Logger
}

// Seed writes every entry and tallies the outcomes. A failed entry is
// recorded and the rest continue. Results are reported in manifest order
// regardless of Parallel.
func Seed(ctx context.Context, w Writer, entries []Entry, opts SeedOptions) Report {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parallel := max(opts.Parallel, 1)

	results := make([]BundleResult, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, e := range entries {
		g.Go(func() error {
			results[i] = seedOne(gctx, w, e, len(entries), logger)
			return nil
		})
	}
	_ = g.Wait()

	var rep Report
	rep.Bundles = results
	for _, r := range results {
		switch r.Outcome {
		case string(bundle.OutcomeCreated):
			rep.Created++
		case string(bundle.OutcomeSkipped):
			rep.Skipped++
		case string(bundle.OutcomeModified):
			rep.Modified++
		default:
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Sprintf("bundle %q: %s", r.Label, r.Error))
		}
	}

	logger.Info("seed complete",
		"created", rep.Created,
		"modified", rep.Modified,
		"skipped", rep.Skipped,
		"failed", rep.Failed,
	)
	return rep
}

func seedOne(ctx context.Context, w Writer, e Entry, total int, logger *slog.Logger) BundleResult {
	res := BundleResult{Index: e.Index, Label: e.Label}

	fail := func(err error) BundleResult {
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		logger.Error("bundle failed",
			"index", fmt.Sprintf("%d/%d", e.Index+1, total),
			"label", e.Label,
			"error", err,
		)
		return res
	}

	if e.Err != nil {
		return fail(e.Err)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	out, err := w.WriteBundle(ctx, e.Input)
	if err != nil {
		var be *bundle.Error
		if errors.As(err, &be) {
			res.Identity = be.Identity
		}
		return fail(err)
	}

	res.Outcome = string(out.Outcome)
	res.Identity = out.Summary.Identity
	res.Version = out.Summary.Version
	logger.Info("bundle processed",
		"index", fmt.Sprintf("%d/%d", e.Index+1, total),
		"label", e.Label,
		"identity", res.Identity,
		"outcome", res.Outcome,
	)
	return res
}
