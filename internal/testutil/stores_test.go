package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docseed/internal/blobstore"
	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/memstore"
)

func TestFaults_Helpers(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	assert.NoError(t, FailOn(2, boom)(ctx, 1))
	assert.ErrorIs(t, FailOn(2, boom)(ctx, 2), boom)
	assert.NoError(t, FailOn(2, boom)(ctx, 3))

	assert.ErrorIs(t, FailFirst(2, boom)(ctx, 2), boom)
	assert.NoError(t, FailFirst(2, boom)(ctx, 3))

	assert.ErrorIs(t, FailAlways(boom)(ctx, 99), boom)
}

func TestFaultyBlobStore(t *testing.T) {
	ctx := context.Background()
	s := NewFaultyBlobStore(blobstore.NewMemory())
	s.Set(OpBlobPut, FailOn(2, Transient("blob put")))

	_, err := s.Put(ctx, bundle.BlobPut{Data: []byte("a")})
	require.NoError(t, err)

	_, err = s.Put(ctx, bundle.BlobPut{Data: []byte("b")})
	assert.True(t, bundle.IsTransient(err))

	_, err = s.Put(ctx, bundle.BlobPut{Data: []byte("c")})
	require.NoError(t, err)

	assert.Equal(t, 3, s.Calls(OpBlobPut))
	assert.Equal(t, 2, s.Inner.(*blobstore.Memory).Len())

	s.Clear()
	_, err = s.Put(ctx, bundle.BlobPut{Data: []byte("d")})
	assert.NoError(t, err)
}

func TestFaultyRecordStore_NotAtomicOverMemstore(t *testing.T) {
	s := NewFaultyRecordStore(memstore.New())
	assert.False(t, s.SupportsAtomic())

	err := s.RunAtomic(context.Background(), func(context.Context, bundle.RecordStore) error { return nil })
	assert.True(t, bundle.IsFatal(err))
}

func TestFaultyRecordStore_InjectsFailures(t *testing.T) {
	ctx := context.Background()
	s := NewFaultyRecordStore(memstore.New())
	s.Set(OpInsert, FailAlways(Fatal("insert record")))

	_, err := s.InsertRecord(ctx, bundle.Record{Identity: "x", Version: 1, Active: true})
	assert.True(t, bundle.IsFatal(err))
	assert.Equal(t, 1, s.Calls(OpInsert))

	_, found, err := s.FindActive(ctx, "x")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, s.Calls(OpFindActive))
}
