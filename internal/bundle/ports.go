package bundle

import "context"

// RecordStore persists bundle records and config documents.
//
// Implementations enforce at most one active record per identity and
// uniqueness of (identity, version); a write that would break either returns
// a DUPLICATE_ACTIVE_RECORD error. Infrastructure failures are returned as
// STORAGE_TRANSIENT or STORAGE_FATAL errors.
type RecordStore interface {
	// FindActive returns the active record for id. found is false when no
	// record is active.
	FindActive(ctx context.Context, id Identity) (rec Record, found bool, err error)

	// PutConfig stores a config document and returns its reference.
	PutConfig(ctx context.Context, doc ConfigDocument) (ref string, err error)

	// DeleteConfig removes a config document. Deleting a missing reference
	// is not an error.
	DeleteConfig(ctx context.Context, ref string) error

	// InsertRecord inserts rec and returns the store-assigned ID.
	InsertRecord(ctx context.Context, rec Record) (id int64, err error)

	// Deactivate flips the active record (id, version) to inactive and
	// appends entry to its audit log. If that record is not active any more
	// it returns a DUPLICATE_ACTIVE_RECORD error.
	Deactivate(ctx context.Context, id Identity, version int, entry AuditEntry) error

	// Reactivate flips the inactive record (id, version) back to active and
	// appends entry. Used only to compensate a failed modification when
	// atomic execution is unavailable.
	Reactivate(ctx context.Context, id Identity, version int, entry AuditEntry) error
}

// AtomicRecordStore is a RecordStore that can execute several operations as
// one atomic unit.
type AtomicRecordStore interface {
	RecordStore

	// SupportsAtomic reports whether RunAtomic is usable on this backend.
	// The answer is fixed when the store is opened.
	SupportsAtomic() bool

	// RunAtomic runs fn against a transactional view of the store. Either all
	// of fn's writes are committed or none are. A failed commit is returned
	// as a STORAGE_TRANSIENT error.
	RunAtomic(ctx context.Context, fn func(ctx context.Context, tx RecordStore) error) error
}

// BlobStore stores binary artifacts addressed by store-assigned handles.
// A successful Put must be immediately readable by Get.
type BlobStore interface {
	Put(ctx context.Context, blob BlobPut) (handle string, err error)
	Get(ctx context.Context, handle string) (Blob, error)

	// Delete removes a blob. Deleting a missing handle is not an error.
	Delete(ctx context.Context, handle string) error
}
