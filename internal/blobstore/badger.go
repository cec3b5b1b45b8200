package blobstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/zeebo/blake3"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/ids"
)

// DefaultChunkSize is the largest chunk written under one key.
const DefaultChunkSize = 255 * 1024

// BadgerConfig configures a Badger blob store.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps everything in memory. For tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// ChunkSize overrides DefaultChunkSize.
	ChunkSize int

	// Compression selects the chunk codec: "none" or "zstd".
	Compression string

	// Logger receives badger's internal logs. Nil silences them.
	Logger *slog.Logger

	// IDs assigns blob handles. Nil means UUIDv7.
	IDs ids.Generator
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

// Infof is demoted to debug: badger reports table and compaction
// housekeeping at info level.
func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Badger is a chunked BlobStore on a badger database.
//
// Layout per handle:
//
//	blob/<handle>/chunk/<index>  chunk bytes, possibly compressed
//	blob/<handle>/manifest       JSON manifest listing the chunks
//
// Chunks are flushed before the manifest is written, so a blob whose
// manifest is visible is complete. Every chunk is verified against its
// BLAKE3 digest on read.
type Badger struct {
	db          *badger.DB
	chunkSize   int
	compression Compression
	ids         ids.Generator
}

// OpenBadger opens (or creates) a badger blob store.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger blob store: path is required for persistent database")
	}

	compression, err := ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create blob directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger blob store: %w", err)
	}

	gen := cfg.IDs
	if gen == nil {
		gen = ids.UUIDv7{}
	}

	return &Badger{
		db:          db,
		chunkSize:   chunkSize,
		compression: compression,
		ids:         gen,
	}, nil
}

// Close closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}

type chunkRef struct {
	Digest      string      `json:"blake3"`
	Size        int         `json:"size"`
	Compression Compression `json:"compression"`
}

type manifest struct {
	Filename    string            `json:"filename"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Size        int64             `json:"size"`
	Chunks      []chunkRef        `json:"chunks"`
}

func manifestKey(handle string) []byte {
	return []byte("blob/" + handle + "/manifest")
}

func chunkKey(handle string, i int) []byte {
	return []byte(fmt.Sprintf("blob/%s/chunk/%06d", handle, i))
}

// Put stores p under a new handle.
func (b *Badger) Put(ctx context.Context, p bundle.BlobPut) (string, error) {
	const op = "blob put"
	if err := ctx.Err(); err != nil {
		return "", bundle.NewTransient(op, err)
	}

	handle := b.ids.Generate()
	m := manifest{
		Filename:    p.Filename,
		ContentType: p.ContentType,
		Metadata:    p.Metadata,
		Size:        int64(len(p.Data)),
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	n := max(1, (len(p.Data)+b.chunkSize-1)/b.chunkSize)
	for i := 0; i < n; i++ {
		off := i * b.chunkSize
		raw := p.Data[off:min(off+b.chunkSize, len(p.Data))]

		digest := blake3.Sum256(raw)
		stored, tag, err := encodeChunk(raw, b.compression)
		if err != nil {
			return "", bundle.NewFatal(op, err)
		}
		if err := wb.Set(chunkKey(handle, i), stored); err != nil {
			return "", classifyBadger(op, err)
		}
		m.Chunks = append(m.Chunks, chunkRef{
			Digest:      hex.EncodeToString(digest[:]),
			Size:        len(raw),
			Compression: tag,
		})
	}
	if err := wb.Flush(); err != nil {
		return "", classifyBadger(op, err)
	}

	if err := ctx.Err(); err != nil {
		b.deleteChunks(handle, len(m.Chunks))
		return "", bundle.NewTransient(op, err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		b.deleteChunks(handle, len(m.Chunks))
		return "", bundle.NewFatal(op, err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(manifestKey(handle), data)
	})
	if err != nil {
		b.deleteChunks(handle, len(m.Chunks))
		return "", classifyBadger(op, err)
	}
	return handle, nil
}

// Get reads and verifies a blob.
func (b *Badger) Get(ctx context.Context, handle string) (bundle.Blob, error) {
	const op = "blob get"
	if err := ctx.Err(); err != nil {
		return bundle.Blob{}, bundle.NewTransient(op, err)
	}

	var blob bundle.Blob
	err := b.db.View(func(txn *badger.Txn) error {
		m, err := readManifest(txn, handle)
		if err != nil {
			return err
		}

		data := make([]byte, 0, m.Size)
		for i, ref := range m.Chunks {
			item, err := txn.Get(chunkKey(handle, i))
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			stored, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			raw, err := decodeChunk(stored, ref.Compression, ref.Size)
			if err != nil {
				return bundle.NewFatal(op, fmt.Errorf("chunk %d: %w", i, err))
			}
			digest := blake3.Sum256(raw)
			if actual := hex.EncodeToString(digest[:]); actual != ref.Digest {
				mismatch := bundle.NewChecksumMismatch("blake3:"+ref.Digest, "blake3:"+actual)
				mismatch.Op = op
				return mismatch
			}
			data = append(data, raw...)
		}

		blob = bundle.Blob{
			Handle:      handle,
			Filename:    m.Filename,
			ContentType: m.ContentType,
			Metadata:    m.Metadata,
			Size:        m.Size,
			Data:        data,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return bundle.Blob{}, bundle.NewNotFound(op, "blob "+handle)
		}
		return bundle.Blob{}, classifyBadger(op, err)
	}
	return blob, nil
}

// Delete removes the chunks and then the manifest in one batch. The
// manifest goes last, so a delete that fails part way leaves it in place and
// a retry finds every remaining chunk.
func (b *Badger) Delete(ctx context.Context, handle string) error {
	const op = "blob delete"
	if err := ctx.Err(); err != nil {
		return bundle.NewTransient(op, err)
	}

	var chunks int
	err := b.db.View(func(txn *badger.Txn) error {
		m, err := readManifest(txn, handle)
		if err != nil {
			return err
		}
		chunks = len(m.Chunks)
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return classifyBadger(op, err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for i := 0; i < chunks; i++ {
		if err := wb.Delete(chunkKey(handle, i)); err != nil {
			return classifyBadger(op, err)
		}
	}
	if err := wb.Delete(manifestKey(handle)); err != nil {
		return classifyBadger(op, err)
	}
	if err := wb.Flush(); err != nil {
		return classifyBadger(op, err)
	}
	return nil
}

func (b *Badger) deleteChunks(handle string, n int) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for i := 0; i < n; i++ {
		if err := wb.Delete(chunkKey(handle, i)); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func readManifest(txn *badger.Txn, handle string) (manifest, error) {
	var m manifest
	item, err := txn.Get(manifestKey(handle))
	if err != nil {
		return m, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &m)
	})
	if err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// classifyBadger maps badger errors onto the bundle taxonomy. Errors that
// already carry a code pass through.
func classifyBadger(op string, err error) error {
	var be *bundle.Error
	if errors.As(err, &be) {
		return err
	}
	switch {
	case errors.Is(err, badger.ErrConflict),
		errors.Is(err, badger.ErrBlockedWrites),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return bundle.NewTransient(op, err)
	}
	return bundle.NewFatal(op, err)
}
