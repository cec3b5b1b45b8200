package blobstore

import (
	"context"
	"maps"
	"sync"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/ids"
)

// Memory is an in-memory BlobStore. Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]bundle.Blob
	ids   ids.Generator
}

// NewMemory returns an empty store that assigns UUIDv7 handles.
func NewMemory() *Memory {
	return NewMemoryWithIDs(ids.UUIDv7{})
}

// NewMemoryWithIDs returns an empty store that draws handles from gen.
func NewMemoryWithIDs(gen ids.Generator) *Memory {
	return &Memory{
		blobs: make(map[string]bundle.Blob),
		ids:   gen,
	}
}

// Put stores a copy of b.Data.
func (m *Memory) Put(ctx context.Context, b bundle.BlobPut) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", bundle.NewTransient("blob put", err)
	}

	handle := m.ids.Generate()
	blob := bundle.Blob{
		Handle:      handle,
		Filename:    b.Filename,
		ContentType: b.ContentType,
		Metadata:    maps.Clone(b.Metadata),
		Size:        int64(len(b.Data)),
		Data:        append([]byte(nil), b.Data...),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[handle] = blob
	return handle, nil
}

// Get returns a copy of the stored blob.
func (m *Memory) Get(ctx context.Context, handle string) (bundle.Blob, error) {
	if err := ctx.Err(); err != nil {
		return bundle.Blob{}, bundle.NewTransient("blob get", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[handle]
	if !ok {
		return bundle.Blob{}, bundle.NewNotFound("blob get", "blob "+handle)
	}
	blob.Metadata = maps.Clone(blob.Metadata)
	blob.Data = append([]byte(nil), blob.Data...)
	return blob, nil
}

// Delete removes handle if present.
func (m *Memory) Delete(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return bundle.NewTransient("blob delete", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, handle)
	return nil
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Handles returns every stored handle.
func (m *Memory) Handles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.blobs))
	for h := range m.blobs {
		out = append(out, h)
	}
	return out
}
