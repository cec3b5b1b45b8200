// Package tracker records artifacts written during one bundle write so they
// can be removed if the write fails before its record is committed.
package tracker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/retry"
)

// Entry is one tracked write.
type Entry struct {
	Kind   bundle.ArtifactKind
	Handle string
}

// Tracker is scoped to a single write operation. Track may be called from
// concurrent uploads; Commit and Rollback are called once by the owner.
type Tracker struct {
	blobs   bundle.BlobStore
	records bundle.RecordStore
	retry   *retry.Policy
	logger  *slog.Logger

	mu        sync.Mutex
	entries   []Entry
	committed bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRetry retries each cleanup delete under p.
func WithRetry(p retry.Policy) Option {
	return func(t *Tracker) { t.retry = &p }
}

// WithLogger sets the logger for cleanup failures.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates an empty tracker. Config documents are deleted through records,
// every other kind through blobs.
func New(blobs bundle.BlobStore, records bundle.RecordStore, opts ...Option) *Tracker {
	t := &Tracker{
		blobs:   blobs,
		records: records,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track records a successful write.
func (t *Tracker) Track(kind bundle.ArtifactKind, handle string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{Kind: kind, Handle: handle})
}

// Entries returns the tracked writes in the order they were tracked.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Commit forgets every tracked write. After Commit, Rollback is a no-op.
func (t *Tracker) Commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.committed = true
}

// Rollback deletes every tracked write, newest first, and returns how many
// were deleted. Each delete is attempted independently; failures are logged
// and never returned, so the caller's original error is the one reported.
//
// Cleanup ignores cancellation of ctx: a cancelled write still removes what
// it wrote.
func (t *Tracker) Rollback(ctx context.Context) int {
	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return 0
	}
	entries := t.entries
	t.entries = nil
	t.mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	deleted := 0
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := t.delete(ctx, e); err != nil {
			t.logger.Warn("orphan cleanup failed",
				"kind", e.Kind,
				"handle", e.Handle,
				"error", err,
			)
			continue
		}
		deleted++
	}

	if len(entries) > 0 {
		t.logger.Info("orphan cleanup",
			"tracked", len(entries),
			"deleted", deleted,
		)
	}
	return deleted
}

func (t *Tracker) delete(ctx context.Context, e Entry) error {
	del := func(ctx context.Context) error {
		if e.Kind == bundle.KindConfig {
			return t.records.DeleteConfig(ctx, e.Handle)
		}
		return t.blobs.Delete(ctx, e.Handle)
	}
	if t.retry == nil {
		return del(ctx)
	}
	return t.retry.Do(ctx, "rollback delete", del)
}
