package ids

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7{}.Generate()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Len(t, id, 36)
}

func TestUUIDv7_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := UUIDv7{}.Generate()
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
}

func TestSequence(t *testing.T) {
	s := NewSequence("blob")
	assert.Equal(t, "blob-1", s.Generate())
	assert.Equal(t, "blob-2", s.Generate())
	assert.Equal(t, "blob-3", s.Generate())
}

func TestSequence_Concurrent(t *testing.T) {
	s := NewSequence("cfg")

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := s.Generate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
}
