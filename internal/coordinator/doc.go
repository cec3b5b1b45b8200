// Package coordinator implements the bundle write path.
//
// A write moves through RESOLVING_IDENTITY, CHECKING_EXISTING, one of
// CREATING / SKIPPING / MODIFYING, and ends in DONE or FAILED:
//
//  1. The input is validated and its identity built. Nothing is written
//     when either fails.
//  2. Every artifact is digested once. The digests are both compared with
//     the active record and stored on the new one.
//  3. No active record means version 1. Equal digests mean SKIPPED with no
//     writes. Any difference, including a template added or removed,
//     deactivates the active version and inserts version+1.
//  4. Blobs are written first, then the config document, then the record.
//
// Two executors perform step 4. When the record store can run atomic units,
// config, deactivation and insert run in one unit and a failed commit is a
// STORAGE_TRANSIENT error for the caller to retry as a whole. Otherwise every
// blob and config write is tracked and removed on failure, and a deactivated
// previous version is reactivated if the insert fails. In both cases blobs
// written by a failed call are deleted before the error is returned, even
// when the failure is a cancelled context.
//
// The coordinator keeps no per-identity state. Two writers racing on one
// identity are serialized by the record store's uniqueness constraints; the
// loser gets DUPLICATE_ACTIVE_RECORD (or a transient commit failure) and is
// never retried internally.
package coordinator
