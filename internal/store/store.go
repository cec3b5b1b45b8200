package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/ids"
)

// Schema version tracking (sqlite PRAGMA user_version):
// 1 - bundles, configs, partial unique index on active identity
const currentSchemaVersion = 1

// Store is a SQL record store. It satisfies bundle.AtomicRecordStore.
type Store struct {
	*executor

	db      *sql.DB
	atomic  bool
	logger  *slog.Logger
	dialect Dialect
}

// Config describes how to open a Store.
type Config struct {
	Dialect Dialect

	// DSN is a file path (sqlite) or a connection string (postgres).
	DSN string

	// DisableTransactions forces SupportsAtomic to report false.
	DisableTransactions bool

	// IDs assigns config document references. Nil means UUIDv7.
	IDs ids.Generator

	Logger *slog.Logger
}

// Open connects to cfg.DSN, applies the schema and probes transaction
// support.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Dialect == "" {
		cfg.Dialect = SQLite
	}
	dsn := cfg.DSN
	if cfg.Dialect == SQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(cfg.Dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Dialect == SQLite {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	s, err := New(ctx, db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens a SQLite store at path with default settings.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	return Open(ctx, Config{Dialect: SQLite, DSN: path})
}

// New wraps an open database: it applies the schema and probes
// transactions. Open calls it; tests call it with a mock connection.
func New(ctx context.Context, db *sql.DB, cfg Config) (*Store, error) {
	if cfg.Dialect == "" {
		cfg.Dialect = SQLite
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gen := cfg.IDs
	if gen == nil {
		gen = ids.UUIDv7{}
	}

	if err := applySchema(ctx, db, cfg.Dialect); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	atomic := false
	if cfg.DisableTransactions {
		logger.Info("record store transactions disabled by configuration", "dialect", cfg.Dialect)
	} else if err := probeTransactions(ctx, db); err != nil {
		logger.Warn("record store cannot run transactions", "dialect", cfg.Dialect, "error", err)
	} else {
		atomic = true
	}

	return &Store{
		executor: &executor{q: db, dialect: cfg.Dialect, ids: gen},
		db:       db,
		atomic:   atomic,
		logger:   logger,
		dialect:  cfg.Dialect,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// SupportsAtomic reports whether RunAtomic may be used.
func (s *Store) SupportsAtomic() bool {
	return s.atomic
}

// RunAtomic runs fn inside one database transaction. fn must only use the
// RecordStore it is given. If fn fails the transaction is rolled back and
// fn's error returned; a failed commit is a STORAGE_TRANSIENT error unless
// the database reports a uniqueness violation.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx bundle.RecordStore) error) error {
	if !s.atomic {
		return bundle.NewFatal("begin transaction", errors.New("transactions are not available on this record store"))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", "", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &executor{q: tx, dialect: s.dialect, ids: s.ids}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return classify("commit", "", err)
		}
		return bundle.NewTransient("commit", err)
	}
	return nil
}

// sqliteDSN adds the connection parameters docseed relies on: immediate
// write locks, so a transaction that will write takes the lock at BEGIN
// instead of failing at its first write.
func sqliteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "_txlock=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + url.Values{"_txlock": {"immediate"}}.Encode()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(ctx context.Context, db *sql.DB, d Dialect) error {
	if _, err := db.ExecContext(ctx, d.schema()); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if d != SQLite {
		return nil
	}
	return runMigrations(ctx, db)
}

// runMigrations applies incremental SQLite migrations based on user_version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if version == currentSchemaVersion {
		return nil
	}

	// Version 1 is the base schema; later migrations go here.

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// probeTransactions checks that the connection can begin and roll back.
func probeTransactions(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	return tx.Rollback()
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
