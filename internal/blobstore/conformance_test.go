package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/ids"
)

// runBlobStoreSuite checks the bundle.BlobStore contract against a fresh
// store from open.
func runBlobStoreSuite(t *testing.T, open func(t *testing.T) bundle.BlobStore) {
	t.Run("ReadAfterWrite", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		handle, err := s.Put(ctx, bundle.BlobPut{
			Filename:    "report.html",
			ContentType: "text/html; charset=utf-8",
			Metadata:    map[string]string{"identity": "gdpr_x", "kind": "template"},
			Data:        []byte("<h1>Privacy</h1>"),
		})
		require.NoError(t, err)
		require.NotEmpty(t, handle)

		blob, err := s.Get(ctx, handle)
		require.NoError(t, err)
		assert.Equal(t, handle, blob.Handle)
		assert.Equal(t, "report.html", blob.Filename)
		assert.Equal(t, "text/html; charset=utf-8", blob.ContentType)
		assert.Equal(t, map[string]string{"identity": "gdpr_x", "kind": "template"}, blob.Metadata)
		assert.Equal(t, int64(16), blob.Size)
		assert.Equal(t, "<h1>Privacy</h1>", string(blob.Data))
	})

	t.Run("DistinctHandles", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		a, err := s.Put(ctx, bundle.BlobPut{Filename: "a", Data: []byte("a")})
		require.NoError(t, err)
		b, err := s.Put(ctx, bundle.BlobPut{Filename: "b", Data: []byte("b")})
		require.NoError(t, err)
		assert.NotEqual(t, a, b)

		blob, err := s.Get(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, "a", string(blob.Data))
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := open(t).Get(context.Background(), "missing-handle")
		require.Error(t, err)
		assert.True(t, bundle.IsNotFound(err), "got %v", err)
	})

	t.Run("Delete", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		handle, err := s.Put(ctx, bundle.BlobPut{Filename: "q.sql", Data: []byte("SELECT 1;")})
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, handle))
		_, err = s.Get(ctx, handle)
		assert.True(t, bundle.IsNotFound(err), "got %v", err)

		require.NoError(t, s.Delete(ctx, handle), "second delete is a no-op")
		require.NoError(t, s.Delete(ctx, "never-written"))
	})
}

func TestBlobStoreContract(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		runBlobStoreSuite(t, func(t *testing.T) bundle.BlobStore {
			return NewMemoryWithIDs(ids.NewSequence("blob"))
		})
	})
	t.Run("Badger", func(t *testing.T) {
		runBlobStoreSuite(t, func(t *testing.T) bundle.BlobStore {
			return openTestBadger(t, BadgerConfig{ChunkSize: 5, Compression: "zstd"})
		})
	})
	t.Run("GCS", func(t *testing.T) {
		runBlobStoreSuite(t, func(t *testing.T) bundle.BlobStore {
			_, client := newFakeGCS(t, "docseed-test")
			return NewGCS(client, GCSConfig{Bucket: "docseed-test", Prefix: "bundles", IDs: ids.NewSequence("blob")})
		})
	})
}
