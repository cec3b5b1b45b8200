// Package manifest loads seed manifests and writes every bundle they list.
//
// A manifest is a YAML document:
//
//	bundles:
//	  - owner_id: acme
//	    scheme: gdpr
//	    region: EU
//	    config: privacy/config.json
//	    primary: privacy/report.sql
//	    template: privacy/report.html   # optional
//
// File paths are relative to the manifest's directory unless absolute.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"gopkg.in/yaml.v3"

	"github.com/roach88/docseed/internal/bundle"
)

// File is the parsed manifest document.
type File struct {
	Bundles []Bundle `yaml:"bundles"`
}

// Bundle is one manifest entry.
type Bundle struct {
	OwnerID  string `yaml:"owner_id"`
	Scheme   string `yaml:"scheme"`
	Region   string `yaml:"region"`
	Config   string `yaml:"config"`
	Primary  string `yaml:"primary"`
	Template string `yaml:"template,omitempty"`
}

// Entry is a manifest bundle resolved against the file system. Err is set
// when the entry's files could not be read; such entries are reported as
// failed by Seed without stopping the others.
type Entry struct {
	Index int
	Label string
	Input bundle.Input
	Err   error
}

// Load reads the manifest at path and resolves every entry. Errors that
// make the whole manifest unusable (missing file, bad YAML, no bundles) are
// returned as VALIDATION errors.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, bundle.Validationf("manifest file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	entries := make([]Entry, len(f.Bundles))
	for i, b := range f.Bundles {
		in, err := b.Resolve(dir)
		entries[i] = Entry{
			Index: i,
			Label: b.label(i),
			Input: in,
			Err:   err,
		}
	}
	return entries, nil
}

// Parse decodes a manifest document. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, bundle.Validationf("invalid manifest: %v", err)
	}
	if len(f.Bundles) == 0 {
		return nil, bundle.Validationf("invalid manifest: 'bundles' must be a non-empty list")
	}
	return &f, nil
}

func (b Bundle) label(i int) string {
	if strings.TrimSpace(b.OwnerID) != "" {
		return b.OwnerID
	}
	return fmt.Sprintf("bundle-%d", i)
}

// Resolve reads the entry's files relative to dir and builds the write
// input. Logical fields are checked later by the coordinator.
func (b Bundle) Resolve(dir string) (bundle.Input, error) {
	if b.Config == "" {
		return bundle.Input{}, bundle.Validationf("config path is required")
	}
	if b.Primary == "" {
		return bundle.Input{}, bundle.Validationf("primary path is required")
	}

	arts := make(map[bundle.ArtifactKind]bundle.Artifact, 3)
	for kind, rel := range map[bundle.ArtifactKind]string{
		bundle.KindConfig:   b.Config,
		bundle.KindPrimary:  b.Primary,
		bundle.KindTemplate: b.Template,
	} {
		if rel == "" {
			continue
		}
		art, err := ReadArtifact(resolvePath(dir, rel))
		if err != nil {
			return bundle.Input{}, err
		}
		arts[kind] = art
	}

	return bundle.Input{
		OwnerID:   b.OwnerID,
		Scheme:    b.Scheme,
		Region:    b.Region,
		Artifacts: arts,
	}, nil
}

// ReadArtifact reads path and detects its content type.
func ReadArtifact(path string) (bundle.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return bundle.Artifact{}, bundle.Validationf("file not found: %s", path)
		}
		return bundle.Artifact{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return bundle.Artifact{
		Filename:    filepath.Base(path),
		ContentType: mimetype.Detect(data).String(),
		Data:        data,
	}, nil
}

func resolvePath(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
