// Package memstore is an in-memory bundle.RecordStore.
//
// It enforces the same uniqueness rules as the SQL store (one active record
// per identity, unique identity+version) under a mutex, but it cannot run
// several operations atomically, so the write coordinator uses tracked
// rollback with it. It is used by tests, dry runs and the "memory" records
// driver.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/ids"
)

// Store is an in-memory record store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	nextID  int64
	records []bundle.Record
	configs map[string]bundle.ConfigDocument
	ids     ids.Generator
}

// New returns an empty store that assigns UUIDv7 config references.
func New() *Store {
	return NewWithIDs(ids.UUIDv7{})
}

// NewWithIDs returns an empty store drawing config references from gen.
func NewWithIDs(gen ids.Generator) *Store {
	return &Store{
		configs: make(map[string]bundle.ConfigDocument),
		ids:     gen,
	}
}

func (s *Store) FindActive(ctx context.Context, id bundle.Identity) (bundle.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return bundle.Record{}, false, bundle.NewTransient("find active", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.activeIndex(id); i >= 0 {
		return s.records[i], true, nil
	}
	return bundle.Record{}, false, nil
}

func (s *Store) PutConfig(ctx context.Context, doc bundle.ConfigDocument) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", bundle.NewTransient("put config", err)
	}
	doc.Document = slices.Clone(doc.Document)

	s.mu.Lock()
	defer s.mu.Unlock()
	ref := s.ids.Generate()
	s.configs[ref] = doc
	return ref, nil
}

func (s *Store) DeleteConfig(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return bundle.NewTransient("delete config", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, ref)
	return nil
}

func (s *Store) InsertRecord(ctx context.Context, rec bundle.Record) (int64, error) {
	const op = "insert record"
	if err := ctx.Err(); err != nil {
		return 0, bundle.NewTransient(op, err)
	}
	if rec.Version < 1 {
		return 0, bundle.NewFatal(op, errVersion(rec.Version))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Active && s.activeIndex(rec.Identity) >= 0 {
		return 0, bundle.NewDuplicateActive(op, rec.Identity, nil)
	}
	if s.versionIndex(rec.Identity, rec.Version) >= 0 {
		return 0, bundle.NewDuplicateActive(op, rec.Identity, errVersionTaken(rec.Version))
	}

	s.nextID++
	rec.ID = s.nextID
	s.records = append(s.records, rec)
	return rec.ID, nil
}

func (s *Store) Deactivate(ctx context.Context, id bundle.Identity, version int, entry bundle.AuditEntry) error {
	return s.flip(ctx, "deactivate record", id, version, false, entry)
}

func (s *Store) Reactivate(ctx context.Context, id bundle.Identity, version int, entry bundle.AuditEntry) error {
	return s.flip(ctx, "reactivate record", id, version, true, entry)
}

func (s *Store) flip(ctx context.Context, op string, id bundle.Identity, version int, active bool, entry bundle.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return bundle.NewTransient(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.versionIndex(id, version)
	if i < 0 {
		return bundle.NewNotFound(op, "record").WithIdentity(id)
	}
	if s.records[i].Active == active {
		return bundle.NewDuplicateActive(op, id, nil)
	}
	if active && s.activeIndex(id) >= 0 {
		return bundle.NewDuplicateActive(op, id, nil)
	}

	s.records[i].Active = active
	s.records[i].Audit = s.records[i].Audit.Append(entry)
	return nil
}

// History returns every version of id, oldest first.
func (s *Store) History(ctx context.Context, id bundle.Identity) ([]bundle.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, bundle.NewTransient("history", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []bundle.Record
	for _, r := range s.records {
		if r.Identity == id {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b bundle.Record) int { return a.Version - b.Version })
	return out, nil
}

// GetConfig returns a stored config document.
func (s *Store) GetConfig(ctx context.Context, ref string) (bundle.ConfigDocument, error) {
	if err := ctx.Err(); err != nil {
		return bundle.ConfigDocument{}, bundle.NewTransient("get config", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.configs[ref]
	if !ok {
		return bundle.ConfigDocument{}, bundle.NewNotFound("get config", "config "+ref)
	}
	doc.Document = slices.Clone(doc.Document)
	return doc, nil
}

// Records returns the number of stored records.
func (s *Store) Records() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Configs returns the number of stored config documents.
func (s *Store) Configs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.configs)
}

func (s *Store) activeIndex(id bundle.Identity) int {
	return slices.IndexFunc(s.records, func(r bundle.Record) bool {
		return r.Identity == id && r.Active
	})
}

func (s *Store) versionIndex(id bundle.Identity, version int) int {
	return slices.IndexFunc(s.records, func(r bundle.Record) bool {
		return r.Identity == id && r.Version == version
	})
}
