package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/ids"
)

// filenameKey holds the original filename in object metadata.
const filenameKey = "docseed-filename"

// GCSConfig configures a Google Cloud Storage blob store.
type GCSConfig struct {
	Bucket string

	// Prefix is prepended to every object name.
	Prefix string

	// CredentialsFile is a service account key. Empty means application
	// default credentials.
	CredentialsFile string

	// IDs assigns blob handles. Nil means UUIDv7.
	IDs ids.Generator
}

// GCS stores each blob as one object named <prefix>/<handle>.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	ids    ids.Generator
	owned  bool
}

// OpenGCS creates a storage client and returns a store on cfg.Bucket.
func OpenGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs blob store: bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	g := NewGCS(client, cfg)
	g.owned = true
	return g, nil
}

// NewGCS wraps an existing client. The caller keeps ownership of client.
func NewGCS(client *storage.Client, cfg GCSConfig) *GCS {
	gen := cfg.IDs
	if gen == nil {
		gen = ids.UUIDv7{}
	}
	return &GCS{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		prefix: cfg.Prefix,
		ids:    gen,
	}
}

// Close closes the client if OpenGCS created it.
func (g *GCS) Close() error {
	if g.owned {
		return g.client.Close()
	}
	return nil
}

func (g *GCS) objectName(handle string) string {
	if g.prefix == "" {
		return handle
	}
	return path.Join(g.prefix, handle)
}

// Put uploads p as a new object. The object must not exist yet.
func (g *GCS) Put(ctx context.Context, p bundle.BlobPut) (string, error) {
	const op = "blob put"
	handle := g.ids.Generate()

	obj := g.bucket.Object(g.objectName(handle)).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = p.ContentType
	w.Metadata = objectMetadata(p)

	if _, err := w.Write(p.Data); err != nil {
		_ = w.Close()
		return "", classifyGCS(op, err)
	}
	if err := w.Close(); err != nil {
		return "", classifyGCS(op, err)
	}
	return handle, nil
}

// Get downloads a blob.
func (g *GCS) Get(ctx context.Context, handle string) (bundle.Blob, error) {
	const op = "blob get"
	obj := g.bucket.Object(g.objectName(handle))

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return bundle.Blob{}, classifyGCS(op, err)
	}

	r, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		return bundle.Blob{}, classifyGCS(op, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return bundle.Blob{}, classifyGCS(op, err)
	}

	blob := blobFromAttrs(handle, attrs)
	blob.Data = data
	return blob, nil
}

// Delete removes the object. A missing object is not an error.
func (g *GCS) Delete(ctx context.Context, handle string) error {
	err := g.bucket.Object(g.objectName(handle)).Delete(ctx)
	if err == nil || errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return classifyGCS("blob delete", err)
}

func objectMetadata(p bundle.BlobPut) map[string]string {
	md := maps.Clone(p.Metadata)
	if md == nil {
		md = make(map[string]string, 1)
	}
	md[filenameKey] = p.Filename
	return md
}

func blobFromAttrs(handle string, attrs *storage.ObjectAttrs) bundle.Blob {
	md := maps.Clone(attrs.Metadata)
	filename := md[filenameKey]
	delete(md, filenameKey)
	return bundle.Blob{
		Handle:      handle,
		Filename:    filename,
		ContentType: attrs.ContentType,
		Metadata:    md,
		Size:        attrs.Size,
	}
}

// classifyGCS maps storage errors onto the bundle taxonomy.
func classifyGCS(op string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return &bundle.Error{Code: bundle.CodeNotFound, Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return bundle.NewTransient(op, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests,
			apiErr.Code == http.StatusRequestTimeout,
			apiErr.Code >= 500:
			return bundle.NewTransient(op, err)
		case apiErr.Code == http.StatusPreconditionFailed:
			// Handle collision; a retry draws a new handle.
			return bundle.NewTransient(op, err)
		case apiErr.Code == http.StatusNotFound:
			return &bundle.Error{Code: bundle.CodeNotFound, Op: op, Err: err}
		}
		return bundle.NewFatal(op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return bundle.NewTransient(op, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return bundle.NewTransient(op, err)
	}
	return bundle.NewFatal(op, err)
}
