package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/objectkey"
	"github.com/tendant/simple-asset/pkg/simpleasset/urlstrategy"
)

// DefaultBaseURL prefixes the public references of in-memory objects.
const DefaultBaseURL = "memory://assets"

type object struct {
	data        []byte
	contentType string
}

// Backend is an in-memory implementation of the simpleasset.ObjectStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
	urls    urlstrategy.URLStrategy
}

// New creates a new in-memory storage backend. A nil strategy serves
// references under DefaultBaseURL.
func New(urls urlstrategy.URLStrategy) *Backend {
	if urls == nil {
		urls = urlstrategy.NewCDNStrategy(DefaultBaseURL)
	}
	return &Backend{
		objects: make(map[string]object),
		urls:    urls,
	}
}

// List returns the sorted names directly under folder
func (b *Backend) List(ctx context.Context, folder string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := strings.Trim(folder, "/")
	if prefix != "" {
		prefix += "/"
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var names []string
	for key := range b.objects {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, rest)
	}
	sort.Strings(names)
	return names, nil
}

// Upload stores a new object. Existing keys are never overwritten.
func (b *Backend) Upload(ctx context.Context, reader io.Reader, params simpleasset.UploadParams) error {
	key := strings.Trim(params.ObjectKey, "/")
	if key == "" {
		return &simpleasset.StorageError{Backend: "memory", Op: "upload", Err: fmt.Errorf("object key is required")}
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return &simpleasset.StorageError{Backend: "memory", Key: key, Op: "upload", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	contentType := params.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[key]; exists {
		return &simpleasset.StorageError{Backend: "memory", Key: key, Op: "upload", Err: simpleasset.ErrUploadConflict}
	}
	b.objects[key] = object{data: data, contentType: contentType}
	return nil
}

// Download returns a reader for an object
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	key := strings.Trim(objectKey, "/")

	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[key]
	if !exists {
		return nil, &simpleasset.StorageError{Backend: "memory", Key: key, Op: "download", Err: simpleasset.ErrObjectNotFound}
	}
	// Return a copy of the data to prevent modification
	return io.NopCloser(bytes.NewReader(bytes.Clone(obj.data))), nil
}

// PublicURL returns the public reference for an object key
func (b *Backend) PublicURL(objectKey string) (string, error) {
	return b.urls.PublicURL(objectKey)
}

// ObjectKey reverses a reference issued by PublicURL.
func (b *Backend) ObjectKey(publicRef string) (string, bool) {
	return b.urls.ObjectKey(publicRef)
}

// ContentType returns the content type recorded for an object.
func (b *Backend) ContentType(objectKey string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[strings.Trim(objectKey, "/")]
	return obj.contentType, ok
}

// Keys returns every stored key in order, optionally limited to a folder and
// everything below it.
func (b *Backend) Keys(folder string) []string {
	prefix := objectkey.Join(strings.Trim(folder, "/"), "")

	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
