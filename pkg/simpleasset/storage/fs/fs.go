package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/urlstrategy"
)

// Backend is a filesystem implementation of the simpleasset.ObjectStore interface
type Backend struct {
	baseDir string
	urls    urlstrategy.URLStrategy
}

// Config options for the filesystem backend
type Config struct {
	BaseDir       string // Base directory for storing files
	PublicBaseURL string // Optional; defaults to a file:// URL of BaseDir
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	// Validate and create base directory if it doesn't exist
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	base := config.PublicBaseURL
	if base == "" {
		abs, err := filepath.Abs(config.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve base directory: %w", err)
		}
		base = "file://" + filepath.ToSlash(abs)
	}

	return &Backend{
		baseDir: config.BaseDir,
		urls:    urlstrategy.NewCDNStrategy(base),
	}, nil
}

// path maps an object key into baseDir, refusing keys that escape it.
func (b *Backend) path(objectKey string) (string, error) {
	key := strings.Trim(objectKey, "/")
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return "", fmt.Errorf("invalid object key %q", objectKey)
		}
	}
	return filepath.Join(b.baseDir, filepath.FromSlash(key)), nil
}

// List returns the sorted file names directly under folder
func (b *Backend) List(ctx context.Context, folder string) ([]string, error) {
	dir, err := b.path(folder)
	if err != nil {
		return nil, &simpleasset.StorageError{Backend: "fs", Key: folder, Op: "list", Err: err}
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &simpleasset.StorageError{Backend: "fs", Key: folder, Op: "list", Err: err}
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, ctx.Err()
}

// Upload creates a new file. It fails with simpleasset.ErrUploadConflict if the
// file already exists.
func (b *Backend) Upload(ctx context.Context, reader io.Reader, params simpleasset.UploadParams) error {
	filePath, err := b.path(params.ObjectKey)
	if err != nil {
		return &simpleasset.StorageError{Backend: "fs", Key: params.ObjectKey, Op: "upload", Err: err}
	}

	// Create directory structure if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return &simpleasset.StorageError{Backend: "fs", Key: params.ObjectKey, Op: "upload", Err: fmt.Errorf("failed to create directory: %w", err)}
	}

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, iofs.ErrExist) {
		return &simpleasset.StorageError{Backend: "fs", Key: params.ObjectKey, Op: "upload", Err: simpleasset.ErrUploadConflict}
	}
	if err != nil {
		return &simpleasset.StorageError{Backend: "fs", Key: params.ObjectKey, Op: "upload", Err: fmt.Errorf("failed to create file: %w", err)}
	}

	_, err = io.Copy(file, reader)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		// Leave no partial object behind for the next sequence scan.
		os.Remove(filePath)
		return &simpleasset.StorageError{Backend: "fs", Key: params.ObjectKey, Op: "upload", Err: fmt.Errorf("failed to write file: %w", err)}
	}
	return nil
}

// Download opens a file for reading
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	filePath, err := b.path(objectKey)
	if err != nil {
		return nil, &simpleasset.StorageError{Backend: "fs", Key: objectKey, Op: "download", Err: err}
	}

	file, err := os.Open(filePath)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, &simpleasset.StorageError{Backend: "fs", Key: objectKey, Op: "download", Err: simpleasset.ErrObjectNotFound}
	}
	if err != nil {
		return nil, &simpleasset.StorageError{Backend: "fs", Key: objectKey, Op: "download", Err: err}
	}
	return file, nil
}

// PublicURL returns the public reference for an object key
func (b *Backend) PublicURL(objectKey string) (string, error) {
	return b.urls.PublicURL(objectKey)
}

// ObjectKey reverses a reference issued by PublicURL.
func (b *Backend) ObjectKey(publicRef string) (string, bool) {
	return b.urls.ObjectKey(publicRef)
}
