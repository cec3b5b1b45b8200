package blobstore

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakeObject is one object held by fakeGCS.
type fakeObject struct {
	ContentType string
	Metadata    map[string]string
	Data        []byte
	Generation  int64
}

// fakeGCS serves the subset of the Cloud Storage JSON and XML APIs the
// storage client uses for multipart uploads, attrs, reads and deletes.
type fakeGCS struct {
	bucket string

	mu      sync.Mutex
	objects map[string]fakeObject
	gen     int64

	// preconditions records the ifGenerationMatch value of every upload.
	preconditions []string
}

func newFakeGCS(t *testing.T, bucket string) (*fakeGCS, *storage.Client) {
	t.Helper()
	f := &fakeGCS{bucket: bucket, objects: make(map[string]fakeObject)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return f, client
}

func (f *fakeGCS) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for name := range f.objects {
		out = append(out, name)
	}
	return out
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jsonPrefix := "/b/" + f.bucket + "/o"
	if i := strings.Index(r.URL.Path, jsonPrefix); i >= 0 {
		name := strings.TrimPrefix(r.URL.Path[i+len(jsonPrefix):], "/")
		switch {
		case r.Method == http.MethodPost && name == "":
			f.upload(w, r)
		case r.Method == http.MethodGet && r.URL.Query().Get("alt") == "media":
			f.read(w, name)
		case r.Method == http.MethodGet:
			f.attrs(w, name)
		case r.Method == http.MethodDelete:
			f.delete(w, name)
		default:
			apiError(w, http.StatusMethodNotAllowed)
		}
		return
	}

	// XML API reads: GET /<bucket>/<object>
	if name, ok := strings.CutPrefix(r.URL.Path, "/"+f.bucket+"/"); ok && r.Method == http.MethodGet {
		f.read(w, name)
		return
	}
	apiError(w, http.StatusNotFound)
}

func (f *fakeGCS) upload(w http.ResponseWriter, r *http.Request) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		apiError(w, http.StatusBadRequest)
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])

	var meta struct {
		Name        string            `json:"name"`
		ContentType string            `json:"contentType"`
		Metadata    map[string]string `json:"metadata"`
	}
	part, err := mr.NextPart()
	if err != nil || json.NewDecoder(part).Decode(&meta) != nil {
		apiError(w, http.StatusBadRequest)
		return
	}
	part, err = mr.NextPart()
	if err != nil {
		apiError(w, http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(part)
	if err != nil {
		apiError(w, http.StatusBadRequest)
		return
	}
	if meta.Name == "" {
		meta.Name = r.URL.Query().Get("name")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	match := r.URL.Query().Get("ifGenerationMatch")
	f.preconditions = append(f.preconditions, match)
	if _, exists := f.objects[meta.Name]; exists && match == "0" {
		apiError(w, http.StatusPreconditionFailed)
		return
	}
	f.gen++
	obj := fakeObject{
		ContentType: meta.ContentType,
		Metadata:    meta.Metadata,
		Data:        data,
		Generation:  f.gen,
	}
	f.objects[meta.Name] = obj
	writeObject(w, f.bucket, meta.Name, obj)
}

func (f *fakeGCS) lookup(name string) (fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[name]
	return obj, ok
}

func (f *fakeGCS) attrs(w http.ResponseWriter, name string) {
	obj, ok := f.lookup(name)
	if !ok {
		apiError(w, http.StatusNotFound)
		return
	}
	writeObject(w, f.bucket, name, obj)
}

func (f *fakeGCS) read(w http.ResponseWriter, name string) {
	obj, ok := f.lookup(name)
	if !ok {
		apiError(w, http.StatusNotFound)
		return
	}
	h := w.Header()
	h.Set("Content-Type", obj.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(obj.Data)))
	h.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	h.Set("X-Goog-Generation", strconv.FormatInt(obj.Generation, 10))
	h.Set("X-Goog-Metageneration", "1")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

func (f *fakeGCS) delete(w http.ResponseWriter, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[name]; !ok {
		apiError(w, http.StatusNotFound)
		return
	}
	delete(f.objects, name)
	w.WriteHeader(http.StatusNoContent)
}

func writeObject(w http.ResponseWriter, bucket, name string, obj fakeObject) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"kind":           "storage#object",
		"bucket":         bucket,
		"name":           name,
		"contentType":    obj.ContentType,
		"metadata":       obj.Metadata,
		"size":           strconv.Itoa(len(obj.Data)),
		"generation":     strconv.FormatInt(obj.Generation, 10),
		"metageneration": "1",
	})
}

func apiError(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": http.StatusText(code)},
	})
}
