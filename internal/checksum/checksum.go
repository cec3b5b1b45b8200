// Package checksum computes the content digests stored with every bundle
// artifact.
//
// Digests are SHA-256 over the raw artifact bytes, rendered as
// "sha256:<lowercase hex>". The same format is used by the export side when
// verifying artifacts read back from storage.
package checksum

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/docseed/internal/bundle"
)

// Algorithm is the digest algorithm prefix.
const Algorithm = "sha256"

const prefix = Algorithm + ":"

// Digest is the result of hashing one artifact.
type Digest struct {
	Value string // "sha256:<hex>"
	Size  int64
}

// Sum returns the digest string of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return prefix + hex.EncodeToString(sum[:])
}

// Compute streams r through the hash exactly once.
func Compute(r io.Reader) (Digest, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, fmt.Errorf("compute checksum: %w", err)
	}
	return Digest{Value: format(h), Size: n}, nil
}

func format(h hash.Hash) string {
	return prefix + hex.EncodeToString(h.Sum(nil))
}

// Parse splits a digest string into algorithm and hex parts.
func Parse(digest string) (algorithm, hexDigest string, err error) {
	algorithm, hexDigest, ok := strings.Cut(digest, ":")
	if !ok || algorithm == "" || hexDigest == "" {
		return "", "", fmt.Errorf("malformed checksum %q", digest)
	}
	if algorithm != Algorithm {
		return "", "", fmt.Errorf("unsupported checksum algorithm %q", algorithm)
	}
	if _, err := hex.DecodeString(hexDigest); err != nil || len(hexDigest) != sha256.Size*2 {
		return "", "", fmt.Errorf("malformed checksum %q", digest)
	}
	return algorithm, hexDigest, nil
}

// Verify returns a CHECKSUM_MISMATCH error if data does not hash to expected.
func Verify(data []byte, expected string) error {
	if _, _, err := Parse(expected); err != nil {
		return bundle.Validationf("verify checksum: %v", err)
	}
	if actual := Sum(data); actual != expected {
		return bundle.NewChecksumMismatch(expected, actual)
	}
	return nil
}

// ComputeAll digests every artifact once, concurrently, and returns the
// per-kind checksums and sizes. The results are meant to be reused for both
// the create-vs-modify comparison and the stored record.
func ComputeAll(ctx context.Context, artifacts map[bundle.ArtifactKind]bundle.Artifact) (bundle.Checksums, bundle.Sizes, error) {
	kinds := make([]bundle.ArtifactKind, 0, len(artifacts))
	for k := range artifacts {
		kinds = append(kinds, k)
	}
	bundle.SortKinds(kinds)

	digests := make([]Digest, len(kinds))
	g, ctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d, err := Compute(bytes.NewReader(artifacts[kind].Data))
			if err != nil {
				return fmt.Errorf("%s: %w", kind, err)
			}
			digests[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return bundle.Checksums{}, bundle.Sizes{}, err
	}

	sums := make(map[bundle.ArtifactKind]string, len(kinds))
	sizes := make(map[bundle.ArtifactKind]int64, len(kinds))
	for i, kind := range kinds {
		sums[kind] = digests[i].Value
		sizes[kind] = digests[i].Size
	}
	return bundle.NewArtifactSet(sums), bundle.NewArtifactSet(sizes), nil
}
