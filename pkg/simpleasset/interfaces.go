package simpleasset

import (
	"context"
	"io"
	"time"
)

// ObjectStore is a flat-namespace object store organised by folder prefixes.
type ObjectStore interface {
	// List returns the names of objects directly under folder. It is not
	// recursive. A missing folder yields an empty list.
	List(ctx context.Context, folder string) ([]string, error)

	// Upload writes a new object. It must fail with ErrUploadConflict if the
	// key already exists and never overwrite.
	Upload(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download opens an object for reading.
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// PublicURL returns the public reference for an object key.
	PublicURL(objectKey string) (string, error)
}

// ReferenceResolver maps a public reference back to the object key it was built
// from. Stores implement it when their URL scheme is reversible.
type ReferenceResolver interface {
	ObjectKey(publicRef string) (string, bool)
}

// UploadParams describes one object written to an ObjectStore.
type UploadParams struct {
	ObjectKey    string
	ContentType  string
	Size         int64
	CacheControl string
}

// MetadataStore persists AssetRecords keyed by public reference.
type MetadataStore interface {
	// GetAssetByPublicRef returns ErrRecordNotFound when no row exists.
	GetAssetByPublicRef(ctx context.Context, publicRef string) (*AssetRecord, error)

	// UpsertAsset inserts or overwrites the row for record.PublicRef. The row's
	// ID and CreatedAt survive an overwrite.
	UpsertAsset(ctx context.Context, record *AssetRecord) error
}

// SourceFetcher downloads source bytes for a public reference.
type SourceFetcher interface {
	Fetch(ctx context.Context, publicRef string) (*FetchedSource, error)
}

// FetchedSource is a downloaded source asset.
type FetchedSource struct {
	Data        []byte
	ContentType string
}

// Upscaler is an external super-resolution provider.
type Upscaler interface {
	// Name is the provider tag used in file names and usage events.
	Name() string

	// Upscale blocks until the provider finishes, fails or its own ceiling passes.
	// A ceiling breach wraps ErrProviderTimeout.
	Upscale(ctx context.Context, req UpscaleRequest) (*UpscaleResult, error)
}

// UpscaleRequest asks a provider to enlarge the image at ImageURL.
type UpscaleRequest struct {
	ImageURL string
	Scale    int
}

// UpscaleResult points at the provider's output.
type UpscaleResult struct {
	OutputURL string
	Model     string
	JobID     string
	// PredictTime is the provider-reported compute time, if any.
	PredictTime time.Duration
	// Cost is an estimate in the provider's billing unit.
	Cost float64
}

// UsageRecorder receives accounting events for external provider calls. It is
// called fire-and-forget and its errors never affect a pipeline run.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, event UsageEvent) error
}

// UsageEvent describes one external provider invocation.
type UsageEvent struct {
	Provider   string            `json:"provider"`
	Operation  TransformKind     `json:"operation"`
	Model      string            `json:"model,omitempty"`
	JobID      string            `json:"job_id,omitempty"`
	Duration   time.Duration     `json:"duration"`
	Cost       float64           `json:"cost"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
