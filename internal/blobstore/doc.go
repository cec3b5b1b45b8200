// Package blobstore implements bundle.BlobStore on three backends:
//
//   - Badger: an embedded key-value store on local disk (or in memory).
//     Blobs are split into chunks that are digested with BLAKE3 and
//     optionally compressed with zstd.
//   - GCS: Google Cloud Storage objects under a bucket prefix.
//   - Memory: a map, for tests and dry runs.
//
// Every backend assigns the blob handle itself and gives read-after-write
// consistency: a handle returned by Put is immediately readable by Get.
// Deleting a missing handle succeeds, which keeps rollback idempotent.
package blobstore
