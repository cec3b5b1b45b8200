// Package bundle defines the data model shared by every part of docseed:
// bundle identities, artifact kinds, versioned bundle records with their
// append-only audit log, the error taxonomy, and the storage ports that the
// write coordinator depends on.
//
// # Records
//
// A Record is one version of a bundle. Records are created with Version=1
// and Active=true. A modification flips the previous record to inactive
// (appending a DEACTIVATED audit entry) and inserts a new record with
// Version+1. Nothing else about a record changes after it is inserted.
//
// Per-artifact maps (checksums, sizes, references, filenames) and the audit
// log are immutable values: constructors copy their inputs and accessors
// return copies, so a Record handed out by a store cannot be edited in place.
//
// # Storage ports
//
//   - RecordStore: structured records and config documents
//   - AtomicRecordStore: RecordStore that can run several steps in one transaction
//   - BlobStore: binary artifacts addressed by a store-assigned handle
//
// Implementations must enforce at most one active record per identity
// structurally (a uniqueness constraint scoped to active records) and must
// give read-after-write consistency for blobs.
package bundle
