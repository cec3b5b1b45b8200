package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/docseed/internal/bundle"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Dialect names a supported SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// driverName returns the database/sql driver registered for d.
func (d Dialect) driverName() string {
	switch d {
	case Postgres:
		return "postgres"
	default:
		return "sqlite3"
	}
}

func (d Dialect) schema() string {
	if d == Postgres {
		return postgresSchema
	}
	return sqliteSchema
}

// jsonParam is the placeholder for a JSON audit value.
func (d Dialect) jsonParam() string {
	if d == Postgres {
		return "?::jsonb"
	}
	return "json(?)"
}

// appendAudit is the SET expression that appends one JSON entry to
// audit_log.
func (d Dialect) appendAudit() string {
	if d == Postgres {
		return "audit_log = audit_log || ?::jsonb"
	}
	return "audit_log = json_insert(audit_log, '$[#]', json(?))"
}

// rebind rewrites ? placeholders to $1, $2, ... for postgres.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParseDialect accepts "sqlite", "sqlite3", "postgres" or "postgresql".
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported SQL dialect %q", name)
}

// classify maps a driver error onto the bundle taxonomy. Errors that already
// carry a bundle code pass through unchanged.
func classify(op string, id bundle.Identity, err error) error {
	if err == nil {
		return nil
	}
	var be *bundle.Error
	if errors.As(err, &be) {
		return err
	}

	switch {
	case isUniqueViolation(err):
		return bundle.NewDuplicateActive(op, id, err)
	case isTransient(err):
		return bundle.NewTransient(op, err).WithIdentity(id)
	}
	return bundle.NewFatal(op, err).WithIdentity(id)
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint &&
			(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

func isTransient(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}

	var pe *pq.Error
	if errors.As(err, &pe) {
		switch pe.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"57P01", // admin_shutdown
			"53300": // too_many_connections
			return true
		}
		return pe.Code.Class() == "08"
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
