package coordinator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/tracker"
)

// executor performs the writes of a CREATE or MODIFY plan. Exactly one
// implementation is selected per coordinator.
type executor interface {
	name() string

	// execute writes every artifact and the record described by p and
	// returns the inserted record. On error nothing written by this call
	// survives.
	execute(ctx context.Context, p *plan) (bundle.Record, error)
}

func (c *Coordinator) newTracker() *tracker.Tracker {
	return tracker.New(c.blobs, c.records,
		tracker.WithRetry(c.retry),
		tracker.WithLogger(c.logger),
	)
}

// rollback undoes everything tr has seen and reports it.
func (c *Coordinator) rollback(ctx context.Context, p *plan, tr *tracker.Tracker, cause error) {
	tracked := len(tr.Entries())
	deleted := tr.Rollback(ctx)
	if tracked == 0 {
		return
	}
	c.metrics.ObserveRollback(deleted)
	c.logger.Warn("bundle write rolled back",
		"identity", p.identity,
		"version", p.record.Version,
		"tracked", tracked,
		"deleted", deleted,
		"cause", cause,
	)
}

// uploadBlobs puts every blob artifact of p concurrently, each under the
// retry policy, and tracks each successful put on tr. The returned
// references include those p keeps from the previous version.
func (c *Coordinator) uploadBlobs(ctx context.Context, p *plan, tr *tracker.Tracker) (map[bundle.ArtifactKind]string, error) {
	kinds := make([]bundle.ArtifactKind, 0, len(p.blobs))
	for kind := range p.blobs {
		kinds = append(kinds, kind)
	}
	bundle.SortKinds(kinds)

	handles := make([]string, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			put := p.blobs[kind]
			return c.retry.Do(gctx, "blob put", func(ctx context.Context) error {
				h, err := c.blobs.Put(ctx, put)
				if err != nil {
					return err
				}
				tr.Track(kind, h)
				handles[i] = h
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	refs := p.keep.Map()
	for i, kind := range kinds {
		refs[kind] = handles[i]
	}
	return refs, nil
}

// atomicExecutor runs config, deactivation and insert as one unit on the
// record store. Blobs live outside the transaction, so they are tracked and
// removed when the unit fails.
type atomicExecutor struct {
	c     *Coordinator
	store bundle.AtomicRecordStore
}

func (e *atomicExecutor) name() string { return "atomic" }

func (e *atomicExecutor) execute(ctx context.Context, p *plan) (bundle.Record, error) {
	c := e.c
	tr := c.newTracker()

	refs, err := c.uploadBlobs(ctx, p, tr)
	if err != nil {
		c.rollback(ctx, p, tr, err)
		return bundle.Record{}, err
	}

	rec := p.record
	err = e.store.RunAtomic(ctx, func(ctx context.Context, tx bundle.RecordStore) error {
		if !p.keep.Has(bundle.KindConfig) {
			ref, err := tx.PutConfig(ctx, p.config)
			if err != nil {
				return err
			}
			refs[bundle.KindConfig] = ref
		}

		if p.previous != nil {
			if err := tx.Deactivate(ctx, p.identity, p.previous.Version, supersededEntry(p)); err != nil {
				return err
			}
		}

		rec.References = bundle.NewArtifactSet(refs)
		id, err := tx.InsertRecord(ctx, rec)
		if err != nil {
			return err
		}
		rec.ID = id
		return nil
	})
	if err != nil {
		c.rollback(ctx, p, tr, err)
		return bundle.Record{}, err
	}

	tr.Commit()
	return rec, nil
}

// trackedExecutor is used when the record store cannot run atomic units.
// Every blob and config write is tracked; a failed insert after a
// deactivation reactivates the previous record before the tracked writes
// are removed.
type trackedExecutor struct {
	c *Coordinator
}

func (e *trackedExecutor) name() string { return "tracked" }

func (e *trackedExecutor) execute(ctx context.Context, p *plan) (bundle.Record, error) {
	c := e.c
	tr := c.newTracker()

	refs, err := c.uploadBlobs(ctx, p, tr)
	if err != nil {
		c.rollback(ctx, p, tr, err)
		return bundle.Record{}, err
	}

	if !p.keep.Has(bundle.KindConfig) {
		err = c.retry.Do(ctx, "put config", func(ctx context.Context) error {
			ref, err := c.records.PutConfig(ctx, p.config)
			if err != nil {
				return err
			}
			tr.Track(bundle.KindConfig, ref)
			refs[bundle.KindConfig] = ref
			return nil
		})
		if err != nil {
			c.rollback(ctx, p, tr, err)
			return bundle.Record{}, err
		}
	}

	// Deactivate and insert are not idempotent and run exactly once.
	deactivated := false
	if p.previous != nil {
		if err := c.records.Deactivate(ctx, p.identity, p.previous.Version, supersededEntry(p)); err != nil {
			c.rollback(ctx, p, tr, err)
			return bundle.Record{}, err
		}
		deactivated = true
	}

	rec := p.record
	rec.References = bundle.NewArtifactSet(refs)
	id, err := c.records.InsertRecord(ctx, rec)
	if err != nil {
		if deactivated {
			e.reactivate(ctx, p, err)
		}
		c.rollback(ctx, p, tr, err)
		return bundle.Record{}, err
	}
	rec.ID = id

	tr.Commit()
	return rec, nil
}

// reactivate restores the previous record after a failed insert. Failures
// are logged; the insert error stays the reported cause.
func (e *trackedExecutor) reactivate(ctx context.Context, p *plan, cause error) {
	c := e.c
	entry := bundle.AuditEntry{
		Action: bundle.ActionReactivated,
		At:     c.clock.Now().UTC(),
		Detail: fmt.Sprintf("restored after failed write of version %d", p.record.Version),
	}
	if err := c.records.Reactivate(context.WithoutCancel(ctx), p.identity, p.previous.Version, entry); err != nil {
		c.logger.Error("reactivation failed",
			"identity", p.identity,
			"version", p.previous.Version,
			"error", err,
			"cause", cause,
		)
		return
	}
	c.logger.Warn("previous version reactivated",
		"identity", p.identity,
		"version", p.previous.Version,
	)
}

func supersededEntry(p *plan) bundle.AuditEntry {
	return bundle.AuditEntry{
		Action: bundle.ActionDeactivated,
		At:     p.now,
		Detail: fmt.Sprintf("superseded by version %d", p.record.Version),
	}
}
