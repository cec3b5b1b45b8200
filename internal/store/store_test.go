package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/ids"
	"github.com/roach88/docseed/internal/storetest"
)

// createTestStore opens a SQLite store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), Config{Dialect: SQLite, DSN: path, IDs: ids.NewSequence("cfg")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) bundle.RecordStore {
		return createTestStore(t)
	})
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	_, err = s.InsertRecord(ctx, storetest.NewRecord(1))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	rec, found, err := s.FindActive(ctx, storetest.Identity)
	require.NoError(t, err)
	require.True(t, found)
	storetest.AssertRecord(t, storetest.NewRecord(1), rec)
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	_, err = s.DB().Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = OpenSQLite(ctx, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestSupportsAtomic(t *testing.T) {
	s := createTestStore(t)
	assert.True(t, s.SupportsAtomic())

	path := filepath.Join(t.TempDir(), "notx.db")
	noTx, err := Open(context.Background(), Config{Dialect: SQLite, DSN: path, DisableTransactions: true})
	require.NoError(t, err)
	defer noTx.Close()
	assert.False(t, noTx.SupportsAtomic())

	err = noTx.RunAtomic(context.Background(), func(context.Context, bundle.RecordStore) error { return nil })
	assert.True(t, bundle.IsFatal(err))
}

func TestRunAtomic_Commits(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.InsertRecord(ctx, storetest.NewRecord(1))
	require.NoError(t, err)

	err = s.RunAtomic(ctx, func(ctx context.Context, tx bundle.RecordStore) error {
		if _, err := tx.PutConfig(ctx, bundle.ConfigDocument{Identity: storetest.Identity, Version: 2, Document: []byte("{}"), Checksum: "sha256:cc", UploadedAt: storetest.Epoch}); err != nil {
			return err
		}
		if err := tx.Deactivate(ctx, storetest.Identity, 1, bundle.AuditEntry{Action: bundle.ActionDeactivated, At: storetest.Epoch}); err != nil {
			return err
		}
		_, err := tx.InsertRecord(ctx, storetest.NewRecord(2))
		return err
	})
	require.NoError(t, err)

	rec, found, err := s.FindActive(ctx, storetest.Identity)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, rec.Version)

	_, err = s.GetConfig(ctx, "cfg-1")
	assert.NoError(t, err)
}

func TestRunAtomic_RollsBackEverything(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.InsertRecord(ctx, storetest.NewRecord(1))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.RunAtomic(ctx, func(ctx context.Context, tx bundle.RecordStore) error {
		if _, err := tx.PutConfig(ctx, bundle.ConfigDocument{Identity: storetest.Identity, Version: 2, Document: []byte("{}"), UploadedAt: storetest.Epoch}); err != nil {
			return err
		}
		if err := tx.Deactivate(ctx, storetest.Identity, 1, bundle.AuditEntry{Action: bundle.ActionDeactivated, At: storetest.Epoch}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, found, err := s.FindActive(ctx, storetest.Identity)
	require.NoError(t, err)
	require.True(t, found, "deactivation must be rolled back")
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, []string{"CREATED"}, rec.Audit.Actions())

	_, err = s.GetConfig(ctx, "cfg-1")
	assert.True(t, bundle.IsNotFound(err), "config insert must be rolled back")
}

func TestRunAtomic_DuplicateInsideTransaction(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.InsertRecord(ctx, storetest.NewRecord(1))
	require.NoError(t, err)

	err = s.RunAtomic(ctx, func(ctx context.Context, tx bundle.RecordStore) error {
		_, err := tx.InsertRecord(ctx, storetest.NewRecord(2))
		return err
	})
	require.Error(t, err)
	assert.True(t, bundle.IsDuplicateActive(err), "got %v", err)
}

func TestHistory_Empty(t *testing.T) {
	history, err := createTestStore(t).History(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "db.sqlite?_txlock=immediate", sqliteDSN("db.sqlite"))
	assert.Equal(t, "file:db.sqlite?cache=shared&_txlock=immediate", sqliteDSN("file:db.sqlite?cache=shared"))
	assert.Equal(t, "db.sqlite?_txlock=deferred", sqliteDSN("db.sqlite?_txlock=deferred"))
	assert.Equal(t, ":memory:", sqliteDSN(":memory:"))
}
