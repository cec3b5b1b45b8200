// Package storetest is a conformance suite for bundle.RecordStore
// implementations. Each backend's tests call Run with a constructor for an
// empty store.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docseed/internal/bundle"
)

// Identity used by the suite.
const Identity bundle.Identity = "gdpr_privacy_report_privacy_out_eu"

// Epoch is the fixed timestamp of suite records.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Historian is implemented by stores that can list every version.
type Historian interface {
	History(ctx context.Context, id bundle.Identity) ([]bundle.Record, error)
}

// ConfigReader is implemented by stores that can read config documents back.
type ConfigReader interface {
	GetConfig(ctx context.Context, ref string) (bundle.ConfigDocument, error)
}

// NewRecord builds an active record for Identity at version.
func NewRecord(version int) bundle.Record {
	return bundle.Record{
		Identity:    Identity,
		OwnerID:     "owner-1",
		Region:      "EU",
		Scheme:      "gdpr",
		Name:        "Privacy Report",
		OutFileName: "privacy_out",
		Filenames: bundle.NewArtifactSet(map[bundle.ArtifactKind]string{
			bundle.KindConfig:  "config.json",
			bundle.KindPrimary: "query.sql",
		}),
		References: bundle.NewArtifactSet(map[bundle.ArtifactKind]string{
			bundle.KindConfig:  "cfg-1",
			bundle.KindPrimary: "blob-1",
		}),
		Checksums: bundle.NewArtifactSet(map[bundle.ArtifactKind]string{
			bundle.KindConfig:  "sha256:aa",
			bundle.KindPrimary: "sha256:bb",
		}),
		Sizes: bundle.NewArtifactSet(map[bundle.ArtifactKind]int64{
			bundle.KindConfig:  60,
			bundle.KindPrimary: 9,
		}),
		CreatedAt: Epoch,
		Active:    true,
		Version:   version,
		Audit: bundle.NewAuditLog(bundle.AuditEntry{
			Action: bundle.ActionCreated,
			At:     Epoch,
			Detail: "initial version",
		}),
	}
}

// Run exercises open's store against the RecordStore contract.
func Run(t *testing.T, open func(t *testing.T) bundle.RecordStore) {
	t.Run("find active on empty store", func(t *testing.T) {
		s := open(t)
		_, found, err := s.FindActive(context.Background(), Identity)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("insert then find", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		want := NewRecord(1)
		id, err := s.InsertRecord(ctx, want)
		require.NoError(t, err)
		assert.Positive(t, id)

		got, found, err := s.FindActive(ctx, Identity)
		require.NoError(t, err)
		require.True(t, found)
		AssertRecord(t, want, got)
		assert.Equal(t, id, got.ID)
	})

	t.Run("second active record is rejected", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, err := s.InsertRecord(ctx, NewRecord(1))
		require.NoError(t, err)

		_, err = s.InsertRecord(ctx, NewRecord(2))
		require.Error(t, err)
		assert.True(t, bundle.IsDuplicateActive(err), "got %v", err)
	})

	t.Run("duplicate version is rejected", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, err := s.InsertRecord(ctx, NewRecord(1))
		require.NoError(t, err)

		dup := NewRecord(1)
		dup.Active = false
		_, err = s.InsertRecord(ctx, dup)
		require.Error(t, err)
		assert.True(t, bundle.IsDuplicateActive(err), "got %v", err)
	})

	t.Run("deactivate then insert next version", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, err := s.InsertRecord(ctx, NewRecord(1))
		require.NoError(t, err)

		entry := bundle.AuditEntry{Action: bundle.ActionDeactivated, At: Epoch.Add(time.Hour), Detail: "superseded by version 2"}
		require.NoError(t, s.Deactivate(ctx, Identity, 1, entry))

		_, found, err := s.FindActive(ctx, Identity)
		require.NoError(t, err)
		assert.False(t, found)

		_, err = s.InsertRecord(ctx, NewRecord(2))
		require.NoError(t, err)

		got, found, err := s.FindActive(ctx, Identity)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 2, got.Version)

		if h, ok := s.(Historian); ok {
			history, err := h.History(ctx, Identity)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, 1, history[0].Version)
			assert.False(t, history[0].Active)
			assert.Equal(t, []string{"CREATED", "DEACTIVATED"}, history[0].Audit.Actions())
			last, _ := history[0].Audit.Last()
			assert.Equal(t, "superseded by version 2", last.Detail)
			assert.True(t, last.At.Equal(Epoch.Add(time.Hour)))
			assert.True(t, history[1].Active)
		}
	})

	t.Run("deactivate inactive record conflicts", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, err := s.InsertRecord(ctx, NewRecord(1))
		require.NoError(t, err)
		entry := bundle.AuditEntry{Action: bundle.ActionDeactivated, At: Epoch}
		require.NoError(t, s.Deactivate(ctx, Identity, 1, entry))

		err = s.Deactivate(ctx, Identity, 1, entry)
		require.Error(t, err)
		assert.True(t, bundle.IsDuplicateActive(err), "got %v", err)
	})

	t.Run("deactivate missing record", func(t *testing.T) {
		err := open(t).Deactivate(context.Background(), Identity, 7, bundle.AuditEntry{Action: bundle.ActionDeactivated, At: Epoch})
		require.Error(t, err)
		assert.True(t, bundle.IsNotFound(err), "got %v", err)
	})

	t.Run("reactivate restores original version", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, err := s.InsertRecord(ctx, NewRecord(1))
		require.NoError(t, err)
		require.NoError(t, s.Deactivate(ctx, Identity, 1, bundle.AuditEntry{Action: bundle.ActionDeactivated, At: Epoch}))
		require.NoError(t, s.Reactivate(ctx, Identity, 1, bundle.AuditEntry{Action: bundle.ActionReactivated, At: Epoch, Detail: "modification to version 2 failed"}))

		got, found, err := s.FindActive(ctx, Identity)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 1, got.Version)
		assert.Equal(t, []string{"CREATED", "DEACTIVATED", "REACTIVATED"}, got.Audit.Actions())
	})

	t.Run("reactivate while another version is active conflicts", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, err := s.InsertRecord(ctx, NewRecord(1))
		require.NoError(t, err)
		require.NoError(t, s.Deactivate(ctx, Identity, 1, bundle.AuditEntry{Action: bundle.ActionDeactivated, At: Epoch}))
		_, err = s.InsertRecord(ctx, NewRecord(2))
		require.NoError(t, err)

		err = s.Reactivate(ctx, Identity, 1, bundle.AuditEntry{Action: bundle.ActionReactivated, At: Epoch})
		require.Error(t, err)
		assert.True(t, bundle.IsDuplicateActive(err), "got %v", err)
	})

	t.Run("config documents", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		doc := bundle.ConfigDocument{
			Identity:   Identity,
			Version:    1,
			Checksum:   "sha256:aa",
			Document:   []byte(`{"name":"Privacy Report","outFileName":"privacy_out"}`),
			UploadedAt: Epoch,
		}
		ref, err := s.PutConfig(ctx, doc)
		require.NoError(t, err)
		assert.NotEmpty(t, ref)

		if r, ok := s.(ConfigReader); ok {
			got, err := r.GetConfig(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, string(doc.Document), string(got.Document))
			assert.Equal(t, doc.Checksum, got.Checksum)
			assert.Equal(t, 1, got.Version)
			assert.True(t, got.UploadedAt.Equal(Epoch))
		}

		require.NoError(t, s.DeleteConfig(ctx, ref))
		require.NoError(t, s.DeleteConfig(ctx, ref), "deleting a missing config is a no-op")

		if r, ok := s.(ConfigReader); ok {
			_, err := r.GetConfig(ctx, ref)
			assert.True(t, bundle.IsNotFound(err), "got %v", err)
		}
	})

	t.Run("concurrent creators leave one active record", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		const writers = 8
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = s.InsertRecord(ctx, NewRecord(1))
			}()
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.True(t, bundle.IsDuplicateActive(err) || bundle.IsTransient(err), "got %v", err)
		}
		assert.Equal(t, 1, ok)
	})
}

// AssertRecord compares every persisted field of two records.
func AssertRecord(t *testing.T, want, got bundle.Record) {
	t.Helper()
	assert.Equal(t, want.Identity, got.Identity)
	assert.Equal(t, want.OwnerID, got.OwnerID)
	assert.Equal(t, want.Region, got.Region)
	assert.Equal(t, want.Scheme, got.Scheme)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.OutFileName, got.OutFileName)
	assert.True(t, want.Filenames.Equal(got.Filenames), "filenames %v != %v", want.Filenames.Map(), got.Filenames.Map())
	assert.True(t, want.References.Equal(got.References), "references %v != %v", want.References.Map(), got.References.Map())
	assert.True(t, want.Checksums.Equal(got.Checksums), "checksums %v != %v", want.Checksums.Map(), got.Checksums.Map())
	assert.True(t, want.Sizes.Equal(got.Sizes), "sizes %v != %v", want.Sizes.Map(), got.Sizes.Map())
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at %s != %s", want.CreatedAt, got.CreatedAt)
	assert.Equal(t, want.Active, got.Active)
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.Audit.Actions(), got.Audit.Actions())
}
