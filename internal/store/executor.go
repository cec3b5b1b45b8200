package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/ids"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// executor implements bundle.RecordStore on a database handle or a
// transaction.
type executor struct {
	q       querier
	dialect Dialect
	ids     ids.Generator
}

const recordColumns = `id, identity, owner_id, region, scheme, name, out_file_name,
	filenames, refs, checksums, sizes, created_at, active, version, audit_log`

func (e *executor) FindActive(ctx context.Context, id bundle.Identity) (bundle.Record, bool, error) {
	const op = "find active"
	row := e.q.QueryRowContext(ctx, e.dialect.rebind(`
		SELECT `+recordColumns+`
		FROM bundles
		WHERE identity = ? AND active = 1
	`), string(id))

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return bundle.Record{}, false, nil
	}
	if err != nil {
		return bundle.Record{}, false, classify(op, id, err)
	}
	return rec, true, nil
}

func (e *executor) InsertRecord(ctx context.Context, rec bundle.Record) (int64, error) {
	const op = "insert record"
	cols, err := marshalRecord(rec)
	if err != nil {
		return 0, bundle.NewFatal(op, err).WithIdentity(rec.Identity)
	}

	var newID int64
	err = e.q.QueryRowContext(ctx, e.dialect.rebind(`
		INSERT INTO bundles
		(identity, owner_id, region, scheme, name, out_file_name,
		 filenames, refs, checksums, sizes, created_at, active, version, audit_log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, `+e.dialect.jsonParam()+`)
		RETURNING id
	`),
		string(rec.Identity),
		rec.OwnerID,
		rec.Region,
		rec.Scheme,
		rec.Name,
		rec.OutFileName,
		cols.filenames,
		cols.refs,
		cols.checksums,
		cols.sizes,
		formatTime(rec.CreatedAt),
		boolInt(rec.Active),
		rec.Version,
		cols.audit,
	).Scan(&newID)
	if err != nil {
		return 0, classify(op, rec.Identity, err)
	}
	return newID, nil
}

func (e *executor) Deactivate(ctx context.Context, id bundle.Identity, version int, entry bundle.AuditEntry) error {
	return e.flip(ctx, "deactivate record", id, version, false, entry)
}

func (e *executor) Reactivate(ctx context.Context, id bundle.Identity, version int, entry bundle.AuditEntry) error {
	return e.flip(ctx, "reactivate record", id, version, true, entry)
}

// flip sets active on (id, version) if it currently has the opposite value,
// appending entry to the audit log in the same statement.
func (e *executor) flip(ctx context.Context, op string, id bundle.Identity, version int, active bool, entry bundle.AuditEntry) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return bundle.NewFatal(op, err).WithIdentity(id)
	}

	res, err := e.q.ExecContext(ctx, e.dialect.rebind(`
		UPDATE bundles
		SET active = ?, `+e.dialect.appendAudit()+`
		WHERE identity = ? AND version = ? AND active = ?
	`), boolInt(active), string(entryJSON), string(id), version, boolInt(!active))
	if err != nil {
		return classify(op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, id, err)
	}
	if n == 1 {
		return nil
	}

	// Nothing changed: either the record does not exist or another writer
	// already flipped it.
	var exists int
	err = e.q.QueryRowContext(ctx, e.dialect.rebind(`
		SELECT COUNT(*) FROM bundles WHERE identity = ? AND version = ?
	`), string(id), version).Scan(&exists)
	if err != nil {
		return classify(op, id, err)
	}
	if exists == 0 {
		return bundle.NewNotFound(op, fmt.Sprintf("record version %d", version)).WithIdentity(id)
	}
	return bundle.NewDuplicateActive(op, id, fmt.Errorf("version %d active state already changed", version))
}

// History returns every version of id, oldest first.
func (e *executor) History(ctx context.Context, id bundle.Identity) ([]bundle.Record, error) {
	const op = "history"
	rows, err := e.q.QueryContext(ctx, e.dialect.rebind(`
		SELECT `+recordColumns+`
		FROM bundles
		WHERE identity = ?
		ORDER BY version ASC
	`), string(id))
	if err != nil {
		return nil, classify(op, id, err)
	}
	defer rows.Close()

	var out []bundle.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, classify(op, id, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, id, err)
	}
	return out, nil
}

func (e *executor) PutConfig(ctx context.Context, doc bundle.ConfigDocument) (string, error) {
	const op = "put config"
	ref := e.ids.Generate()
	_, err := e.q.ExecContext(ctx, e.dialect.rebind(`
		INSERT INTO configs (id, identity, version, document, checksum, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), ref, string(doc.Identity), doc.Version, string(doc.Document), doc.Checksum, formatTime(doc.UploadedAt))
	if err != nil {
		return "", classify(op, doc.Identity, err)
	}
	return ref, nil
}

func (e *executor) DeleteConfig(ctx context.Context, ref string) error {
	_, err := e.q.ExecContext(ctx, e.dialect.rebind(`DELETE FROM configs WHERE id = ?`), ref)
	return classify("delete config", "", err)
}

// GetConfig reads a config document by reference.
func (e *executor) GetConfig(ctx context.Context, ref string) (bundle.ConfigDocument, error) {
	const op = "get config"
	var (
		doc        bundle.ConfigDocument
		identity   string
		document   string
		uploadedAt string
	)
	err := e.q.QueryRowContext(ctx, e.dialect.rebind(`
		SELECT identity, version, document, checksum, uploaded_at
		FROM configs
		WHERE id = ?
	`), ref).Scan(&identity, &doc.Version, &document, &doc.Checksum, &uploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return bundle.ConfigDocument{}, bundle.NewNotFound(op, "config "+ref)
	}
	if err != nil {
		return bundle.ConfigDocument{}, classify(op, "", err)
	}

	doc.Identity = bundle.Identity(identity)
	doc.Document = []byte(document)
	if doc.UploadedAt, err = parseTime(uploadedAt); err != nil {
		return bundle.ConfigDocument{}, bundle.NewFatal(op, err)
	}
	return doc, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (bundle.Record, error) {
	var (
		rec       bundle.Record
		identity  string
		cols      recordJSON
		createdAt string
		active    int
	)
	err := s.Scan(
		&rec.ID,
		&identity,
		&rec.OwnerID,
		&rec.Region,
		&rec.Scheme,
		&rec.Name,
		&rec.OutFileName,
		&cols.filenames,
		&cols.refs,
		&cols.checksums,
		&cols.sizes,
		&createdAt,
		&active,
		&rec.Version,
		&cols.audit,
	)
	if err != nil {
		return bundle.Record{}, err
	}

	rec.Identity = bundle.Identity(identity)
	rec.Active = active == 1
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return bundle.Record{}, err
	}
	if err := cols.unmarshalInto(&rec); err != nil {
		return bundle.Record{}, err
	}
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
