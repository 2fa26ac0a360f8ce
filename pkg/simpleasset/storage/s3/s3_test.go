package s3

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// fakeS3 answers the path-style subset of the S3 API the backend uses.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	puts    []http.Header
}

type listResult struct {
	XMLName     xml.Name `xml:"ListBucketResult"`
	Name        string   `xml:"Name"`
	Prefix      string   `xml:"Prefix"`
	KeyCount    int      `xml:"KeyCount"`
	IsTruncated bool     `xml:"IsTruncated"`
	Contents    []struct {
		Key  string `xml:"Key"`
		Size int    `xml:"Size"`
	} `xml:"Contents"`
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<Error><Code>%s</Code><Message>%s</Message></Error>", code, code)
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/"+f.bucket)
	key := strings.TrimPrefix(path, "/")

	switch {
	case r.Method == http.MethodGet && key == "" && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		res := listResult{Name: f.bucket, Prefix: prefix}
		var keys []string
		for k := range f.objects {
			rest, ok := strings.CutPrefix(k, prefix)
			if ok && !strings.Contains(rest, "/") {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			res.Contents = append(res.Contents, struct {
				Key  string `xml:"Key"`
				Size int    `xml:"Size"`
			}{Key: k, Size: len(f.objects[k])})
		}
		res.KeyCount = len(res.Contents)
		w.Header().Set("Content-Type", "application/xml")
		_ = xml.NewEncoder(w).Encode(res)

	case r.Method == http.MethodPut && key != "":
		if _, exists := f.objects[key]; exists && r.Header.Get("If-None-Match") == "*" {
			writeError(w, http.StatusPreconditionFailed, "PreconditionFailed")
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.puts = append(f.puts, r.Header.Clone())
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet && key != "":
		data, ok := f.objects[key]
		if !ok {
			writeError(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		_, _ = w.Write(data)

	default:
		writeError(w, http.StatusNotImplemented, "NotImplemented")
	}
}

func newFakeBackend(t *testing.T) (*Backend, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "assets", objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	b, err := New(Config{
		Bucket:          "assets",
		Region:          "us-east-1",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        srv.URL,
		UsePathStyle:    true,
		PublicBaseURL:   "https://cdn.example.com",
		CacheControl:    "public, max-age=31536000",
	})
	require.NoError(t, err)
	return b, fake
}

func TestS3Backend_BasicConfiguration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("DefaultPublicBaseURL", func(t *testing.T) {
		b, err := New(Config{Bucket: "assets", Region: "ap-northeast-2", AccessKeyID: "k", SecretAccessKey: "s"})
		require.NoError(t, err)
		ref, err := b.PublicURL("originals/blog/2025-01/3/a.jpg")
		require.NoError(t, err)
		assert.Equal(t, "https://assets.s3.ap-northeast-2.amazonaws.com/originals/blog/2025-01/3/a.jpg", ref)
	})

	t.Run("MinIOPublicBaseURL", func(t *testing.T) {
		b, err := New(Config{Bucket: "assets", AccessKeyID: "k", SecretAccessKey: "s", Endpoint: "http://localhost:9000", UsePathStyle: true})
		require.NoError(t, err)
		ref, err := b.PublicURL("a.jpg")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:9000/assets/a.jpg", ref)
		assert.Equal(t, "us-east-1", b.config.Region)
	})
}

func TestS3Backend_ListIsFlat(t *testing.T) {
	b, fake := newFakeBackend(t)
	fake.objects["originals/goods/mug/gallery/b.jpg"] = []byte("b")
	fake.objects["originals/goods/mug/gallery/a.jpg"] = []byte("a")
	fake.objects["originals/goods/mug/gallery/sub/c.jpg"] = []byte("c")

	names, err := b.List(context.Background(), "originals/goods/mug/gallery/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, names)

	names, err = b.List(context.Background(), "originals/none")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestS3Backend_UploadIsConditional(t *testing.T) {
	b, fake := newFakeBackend(t)
	params := simpleasset.UploadParams{ObjectKey: "originals/blog/2025-01/3/a.jpg", ContentType: "image/jpeg", Size: 5}

	require.NoError(t, b.Upload(context.Background(), bytes.NewReader([]byte("first")), params))
	require.Len(t, fake.puts, 1)
	assert.Equal(t, "*", fake.puts[0].Get("If-None-Match"))
	assert.Equal(t, "image/jpeg", fake.puts[0].Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000", fake.puts[0].Get("Cache-Control"))

	err := b.Upload(context.Background(), bytes.NewReader([]byte("again")), params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, simpleasset.ErrUploadConflict))

	var se *simpleasset.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "s3", se.Backend)
	assert.Equal(t, "upload", se.Op)
}

func TestS3Backend_Download(t *testing.T) {
	b, fake := newFakeBackend(t)
	fake.objects["x/a.png"] = []byte("png-bytes")

	rc, err := b.Download(context.Background(), "x/a.png")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	_, err = b.Download(context.Background(), "x/missing.png")
	assert.True(t, errors.Is(err, simpleasset.ErrObjectNotFound))
}

func TestS3Backend_ReferenceRoundTrip(t *testing.T) {
	b, _ := newFakeBackend(t)
	ref, err := b.PublicURL("originals/customers/kim/2025-01-15/a.jpg")
	require.NoError(t, err)
	key, ok := b.ObjectKey(ref)
	require.True(t, ok)
	assert.Equal(t, "originals/customers/kim/2025-01-15/a.jpg", key)
}

// TestS3Backend_Integration requires a running MinIO instance or S3 credentials
func TestS3Backend_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	endpoint := os.Getenv("AWS_S3_ENDPOINT")
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	bucket := os.Getenv("AWS_S3_BUCKET")
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		t.Skip("Skipping integration test: S3/MinIO environment variables not set")
	}

	backend, err := New(Config{
		Bucket:                 bucket,
		Region:                 "us-east-1",
		AccessKeyID:            accessKey,
		SecretAccessKey:        secretKey,
		Endpoint:               endpoint,
		UsePathStyle:           true,
		CreateBucketIfNotExist: true,
	})
	require.NoError(t, err)

	ctx := context.Background()
	folder := fmt.Sprintf("test/integration/%d", time.Now().UnixNano())
	key := folder + "/file.txt"
	data := []byte("Hello from S3 integration test!")

	require.NoError(t, backend.Upload(ctx, bytes.NewReader(data), simpleasset.UploadParams{ObjectKey: key, ContentType: "text/plain", Size: int64(len(data))}))

	err = backend.Upload(ctx, bytes.NewReader(data), simpleasset.UploadParams{ObjectKey: key, Size: int64(len(data))})
	assert.True(t, errors.Is(err, simpleasset.ErrUploadConflict))

	names, err := backend.List(ctx, folder)
	require.NoError(t, err)
	assert.Equal(t, []string{"file.txt"}, names)

	rc, err := backend.Download(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
