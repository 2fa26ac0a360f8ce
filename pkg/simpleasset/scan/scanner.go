// Package scan walks a storage folder and hands each source image to a processor,
// typically to backfill derivatives for assets stored before a transform existed.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/objectkey"
)

// ObjectProcessor processes one stored object.
// Return an error to mark the object as failed; the scan continues.
type ObjectProcessor interface {
	Process(ctx context.Context, objectKey, publicRef string) error
}

// ProcessorFunc adapts a function to ObjectProcessor.
type ProcessorFunc func(ctx context.Context, objectKey, publicRef string) error

func (f ProcessorFunc) Process(ctx context.Context, objectKey, publicRef string) error {
	return f(ctx, objectKey, publicRef)
}

// Scanner lists folders in an ObjectStore.
type Scanner struct {
	store  simpleasset.ObjectStore
	logger *slog.Logger
}

// New creates a scanner. A nil logger uses slog.Default.
func New(store simpleasset.ObjectStore, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{store: store, logger: logger}
}

// ScanOptions configures the scan operation.
type ScanOptions struct {
	// Folder is listed non-recursively.
	Folder string

	// Processor is required unless DryRun is true.
	Processor ObjectProcessor

	// Extensions limits which names are processed. Empty means jpg, jpeg, png and webp.
	Extensions []string

	// Skip, when set, excludes names it returns true for (e.g. existing derivatives).
	Skip func(name string) bool

	// DryRun reports what would be processed without calling the processor.
	DryRun bool

	// OnProgress is called after each object (optional).
	OnProgress func(done, total int)
}

// ScanResult contains statistics about the scan operation.
type ScanResult struct {
	TotalFound     int
	TotalProcessed int
	TotalFailed    int
	TotalSkipped   int

	// Failed holds the object keys that failed processing.
	Failed []string
}

var defaultExtensions = []string{"jpg", "jpeg", "png", "webp"}

// Scan lists the folder once and processes each matching object. Objects written
// by the processor during the scan are not revisited.
func (s *Scanner) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	result := &ScanResult{}
	if !opts.DryRun && opts.Processor == nil {
		return result, fmt.Errorf("processor is required when DryRun is false")
	}
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}

	names, err := s.store.List(ctx, opts.Folder)
	if err != nil {
		return result, fmt.Errorf("failed to list %s: %w", opts.Folder, err)
	}
	result.TotalFound = len(names)

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !hasExtension(name, extensions) || (opts.Skip != nil && opts.Skip(name)) {
			result.TotalSkipped++
			continue
		}

		key := objectkey.Join(opts.Folder, name)
		if opts.DryRun {
			s.logger.Info("dry run", "key", key)
			result.TotalProcessed++
			continue
		}

		ref, err := s.store.PublicURL(key)
		if err == nil {
			err = opts.Processor.Process(ctx, key, ref)
		}
		if err != nil {
			result.TotalFailed++
			result.Failed = append(result.Failed, key)
			s.logger.Warn("scan item failed", "key", key, "err", err)
		} else {
			result.TotalProcessed++
		}

		if opts.OnProgress != nil {
			opts.OnProgress(i+1, len(names))
		}
	}
	return result, nil
}

func hasExtension(name string, extensions []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	for _, e := range extensions {
		if strings.EqualFold(strings.TrimPrefix(e, "."), ext) {
			return true
		}
	}
	return false
}
