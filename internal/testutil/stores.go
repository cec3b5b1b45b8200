package testutil

import (
	"context"

	"github.com/roach88/docseed/internal/bundle"
)

// Blob store operation names.
const (
	OpBlobPut    = "blob.put"
	OpBlobGet    = "blob.get"
	OpBlobDelete = "blob.delete"
)

// Record store operation names.
const (
	OpFindActive   = "record.find_active"
	OpPutConfig    = "record.put_config"
	OpDeleteConfig = "record.delete_config"
	OpInsert       = "record.insert"
	OpDeactivate   = "record.deactivate"
	OpReactivate   = "record.reactivate"
	OpCommit       = "record.commit"
)

// FaultyBlobStore wraps a BlobStore and injects failures per operation.
type FaultyBlobStore struct {
	*Faults
	Inner bundle.BlobStore
}

// NewFaultyBlobStore wraps inner with no faults installed.
func NewFaultyBlobStore(inner bundle.BlobStore) *FaultyBlobStore {
	return &FaultyBlobStore{Faults: &Faults{}, Inner: inner}
}

func (s *FaultyBlobStore) Put(ctx context.Context, b bundle.BlobPut) (string, error) {
	if err := s.hit(ctx, OpBlobPut); err != nil {
		return "", err
	}
	return s.Inner.Put(ctx, b)
}

func (s *FaultyBlobStore) Get(ctx context.Context, handle string) (bundle.Blob, error) {
	if err := s.hit(ctx, OpBlobGet); err != nil {
		return bundle.Blob{}, err
	}
	return s.Inner.Get(ctx, handle)
}

func (s *FaultyBlobStore) Delete(ctx context.Context, handle string) error {
	if err := s.hit(ctx, OpBlobDelete); err != nil {
		return err
	}
	return s.Inner.Delete(ctx, handle)
}

// FaultyRecordStore wraps a RecordStore and injects failures per operation.
// It always satisfies bundle.AtomicRecordStore; SupportsAtomic reports what
// the wrapped store supports. Faults also apply to the transactional view
// handed to RunAtomic callbacks, and OpCommit faults fail the transaction
// after the callback succeeded.
type FaultyRecordStore struct {
	*Faults
	Inner bundle.RecordStore
}

// NewFaultyRecordStore wraps inner with no faults installed.
func NewFaultyRecordStore(inner bundle.RecordStore) *FaultyRecordStore {
	return &FaultyRecordStore{Faults: &Faults{}, Inner: inner}
}

func (s *FaultyRecordStore) FindActive(ctx context.Context, id bundle.Identity) (bundle.Record, bool, error) {
	if err := s.hit(ctx, OpFindActive); err != nil {
		return bundle.Record{}, false, err
	}
	return s.Inner.FindActive(ctx, id)
}

func (s *FaultyRecordStore) PutConfig(ctx context.Context, doc bundle.ConfigDocument) (string, error) {
	if err := s.hit(ctx, OpPutConfig); err != nil {
		return "", err
	}
	return s.Inner.PutConfig(ctx, doc)
}

func (s *FaultyRecordStore) DeleteConfig(ctx context.Context, ref string) error {
	if err := s.hit(ctx, OpDeleteConfig); err != nil {
		return err
	}
	return s.Inner.DeleteConfig(ctx, ref)
}

func (s *FaultyRecordStore) InsertRecord(ctx context.Context, rec bundle.Record) (int64, error) {
	if err := s.hit(ctx, OpInsert); err != nil {
		return 0, err
	}
	return s.Inner.InsertRecord(ctx, rec)
}

func (s *FaultyRecordStore) Deactivate(ctx context.Context, id bundle.Identity, version int, entry bundle.AuditEntry) error {
	if err := s.hit(ctx, OpDeactivate); err != nil {
		return err
	}
	return s.Inner.Deactivate(ctx, id, version, entry)
}

func (s *FaultyRecordStore) Reactivate(ctx context.Context, id bundle.Identity, version int, entry bundle.AuditEntry) error {
	if err := s.hit(ctx, OpReactivate); err != nil {
		return err
	}
	return s.Inner.Reactivate(ctx, id, version, entry)
}

func (s *FaultyRecordStore) SupportsAtomic() bool {
	a, ok := s.Inner.(bundle.AtomicRecordStore)
	return ok && a.SupportsAtomic()
}

func (s *FaultyRecordStore) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx bundle.RecordStore) error) error {
	a, ok := s.Inner.(bundle.AtomicRecordStore)
	if !ok {
		return bundle.NewFatal("begin transaction", errNotAtomic)
	}
	return a.RunAtomic(ctx, func(ctx context.Context, tx bundle.RecordStore) error {
		view := &FaultyRecordStore{Faults: s.Faults, Inner: tx}
		if err := fn(ctx, view); err != nil {
			return err
		}
		// Returning an error here makes the inner store roll back.
		return s.hit(ctx, OpCommit)
	})
}
