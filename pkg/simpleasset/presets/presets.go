// Package presets builds ready-to-use pipelines for common setups.
package presets

import (
	"fmt"
	"os"
	"testing"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	memoryrepo "github.com/tendant/simple-asset/pkg/simpleasset/repo/memory"
	fsstorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/fs"
	memorystorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
	"github.com/tendant/simple-asset/pkg/simpleasset/urlstrategy"
)

// NewDevelopment creates a pipeline for local development: an in-memory
// metadata store and filesystem storage under ./dev-data/.
//
// The returned cleanup function removes the storage directory.
//
//	p, cleanup, err := presets.NewDevelopment()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
func NewDevelopment(opts ...DevelopmentOption) (*simpleasset.Pipeline, func(), error) {
	cfg := &devConfig{
		storageDir: "./dev-data",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	fsBackend, err := fsstorage.New(fsstorage.Config{
		BaseDir:       cfg.storageDir,
		PublicBaseURL: cfg.publicBaseURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create filesystem storage: %w", err)
	}

	options := append([]simpleasset.Option{
		simpleasset.WithObjectStore(fsBackend),
		simpleasset.WithMetadataStore(memoryrepo.New()),
	}, cfg.pipelineOptions...)

	p, err := simpleasset.New(options...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	cleanup := func() {
		os.RemoveAll(cfg.storageDir)
	}
	return p, cleanup, nil
}

// Testbed is an in-memory pipeline with its stores exposed for assertions.
type Testbed struct {
	Pipeline *simpleasset.Pipeline
	Store    *memorystorage.Backend
	Repo     *memoryrepo.Repository
}

// NewTesting creates an in-memory pipeline for tests. Public references use
// https://cdn.test unless overridden.
func NewTesting(t testing.TB, opts ...simpleasset.Option) *Testbed {
	t.Helper()

	store := memorystorage.New(urlstrategy.NewCDNStrategy("https://cdn.test"))
	repo := memoryrepo.New()

	options := append([]simpleasset.Option{
		simpleasset.WithObjectStore(store),
		simpleasset.WithMetadataStore(repo),
	}, opts...)

	p, err := simpleasset.New(options...)
	if err != nil {
		t.Fatalf("failed to create test pipeline: %v", err)
	}
	return &Testbed{Pipeline: p, Store: store, Repo: repo}
}

type devConfig struct {
	storageDir      string
	publicBaseURL   string
	pipelineOptions []simpleasset.Option
}

// DevelopmentOption customizes NewDevelopment.
type DevelopmentOption func(*devConfig)

// WithDevStorage sets the storage directory.
func WithDevStorage(dir string) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.storageDir = dir
	}
}

// WithDevPublicBaseURL serves references from baseURL instead of file://.
func WithDevPublicBaseURL(baseURL string) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.publicBaseURL = baseURL
	}
}

// WithDevPipelineOptions passes extra options to the pipeline.
func WithDevPipelineOptions(opts ...simpleasset.Option) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.pipelineOptions = append(cfg.pipelineOptions, opts...)
	}
}
