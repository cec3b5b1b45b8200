package blobstore

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compression identifies how a stored chunk is encoded.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// ParseCompression parses a configured codec name. Empty means none.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	}
	return "", fmt.Errorf("unknown compression %q", name)
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blobstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blobstore: zstd decoder initialization failed: " + err.Error())
	}
}

var errIncompressible = errors.New("chunk is incompressible")

// encodeChunk compresses data with want. Chunks that do not shrink are
// stored raw and tagged none.
func encodeChunk(data []byte, want Compression) ([]byte, Compression, error) {
	switch want {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionZstd:
		compressed, err := compressZstd(data)
		if errors.Is(err, errIncompressible) {
			return data, CompressionNone, nil
		}
		if err != nil {
			return nil, "", err
		}
		return compressed, CompressionZstd, nil
	}
	return nil, "", fmt.Errorf("unsupported compression %q", want)
}

// decodeChunk reverses encodeChunk and checks the decoded size.
func decodeChunk(stored []byte, tag Compression, size int) ([]byte, error) {
	switch tag {
	case CompressionNone, "":
		if len(stored) != size {
			return nil, fmt.Errorf("raw chunk: size %d does not match expected %d", len(stored), size)
		}
		return stored, nil
	case CompressionZstd:
		return decompressZstd(stored, size)
	}
	return nil, fmt.Errorf("unsupported compression %q", tag)
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
	}
	return out, nil
}
