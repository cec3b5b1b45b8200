package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/docseed/internal/bundle"
)

// recordJSON holds the JSON TEXT columns of a bundles row.
type recordJSON struct {
	filenames string
	refs      string
	checksums string
	sizes     string
	audit     string
}

// marshalRecord serializes a record's per-artifact maps and audit log.
// encoding/json sorts map keys, so equal records produce equal column text.
func marshalRecord(rec bundle.Record) (recordJSON, error) {
	var (
		cols recordJSON
		err  error
	)
	if cols.filenames, err = marshalColumn("filenames", rec.Filenames); err != nil {
		return cols, err
	}
	if cols.refs, err = marshalColumn("refs", rec.References); err != nil {
		return cols, err
	}
	if cols.checksums, err = marshalColumn("checksums", rec.Checksums); err != nil {
		return cols, err
	}
	if cols.sizes, err = marshalColumn("sizes", rec.Sizes); err != nil {
		return cols, err
	}
	if cols.audit, err = marshalColumn("audit_log", rec.Audit); err != nil {
		return cols, err
	}
	return cols, nil
}

func marshalColumn(name string, v json.Marshaler) (string, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	return string(data), nil
}

func (c recordJSON) unmarshalInto(rec *bundle.Record) error {
	targets := []struct {
		name string
		data string
		into json.Unmarshaler
	}{
		{"filenames", c.filenames, &rec.Filenames},
		{"refs", c.refs, &rec.References},
		{"checksums", c.checksums, &rec.Checksums},
		{"sizes", c.sizes, &rec.Sizes},
		{"audit_log", c.audit, &rec.Audit},
	}
	for _, t := range targets {
		if err := t.into.UnmarshalJSON([]byte(t.data)); err != nil {
			return fmt.Errorf("unmarshal %s: %w", t.name, err)
		}
	}
	return nil
}
