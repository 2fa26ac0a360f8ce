package simpleasset

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DerivativeFacts are the values measured on a freshly stored asset. They always
// win over anything on the source record.
type DerivativeFacts struct {
	PublicRef    string
	StoredPath   string
	Width        int
	Height       int
	SizeBytes    int64
	Format       string
	UploadSource string
}

// Propagator writes a derivative's AssetRecord, copying descriptive fields from
// its source's record when one exists.
type Propagator struct {
	store  MetadataStore
	logger *slog.Logger
	now    func() time.Time
}

// NewPropagator creates a propagator over store.
func NewPropagator(store MetadataStore, logger *slog.Logger) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{store: store, logger: logger, now: time.Now}
}

// Propagate upserts the record for facts.PublicRef. An empty sourceRef skips the
// lookup. A failed lookup is not an error: the record is written from facts alone
// and the outcome says so. The returned error is the upsert failure, if any.
func (p *Propagator) Propagate(ctx context.Context, sourceRef string, facts DerivativeFacts) (*AssetRecord, PropagationOutcome, error) {
	var source *AssetRecord
	outcome := FellBackToDefault
	if sourceRef != "" {
		rec, err := p.store.GetAssetByPublicRef(ctx, sourceRef)
		switch {
		case err == nil && rec != nil:
			source = rec
			outcome = ResolvedFromSource
		case err == nil || errors.Is(err, ErrRecordNotFound):
			p.logger.Debug("source record not found, using defaults", "source", sourceRef)
		default:
			p.logger.Warn("source record lookup failed, using defaults", "source", sourceRef, "err", err)
		}
	}

	record := DeriveRecord(source, facts, p.now().UTC())
	if err := p.store.UpsertAsset(ctx, record); err != nil {
		return record, PropagationFailed, err
	}
	return record, outcome, nil
}

// DeriveRecord builds a derivative record. Descriptive fields come from source
// (which may be nil); structural fields come from facts.
func DeriveRecord(source *AssetRecord, facts DerivativeFacts, now time.Time) *AssetRecord {
	width, height := facts.Width, facts.Height
	record := &AssetRecord{
		ID:           uuid.New(),
		PublicRef:    facts.PublicRef,
		StoredPath:   facts.StoredPath,
		SizeBytes:    facts.SizeBytes,
		Format:       facts.Format,
		UploadSource: facts.UploadSource,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if width > 0 {
		record.Width = &width
	}
	if height > 0 {
		record.Height = &height
	}
	if source == nil {
		return record
	}

	record.AltText = source.AltText
	record.Title = source.Title
	record.Description = source.Description
	record.Tags = slices.Clone(source.Tags)
	if source.Status != "" {
		record.Status = source.Status
	}
	if source.GPSLat != nil {
		lat := *source.GPSLat
		record.GPSLat = &lat
	}
	if source.GPSLng != nil {
		lng := *source.GPSLng
		record.GPSLng = &lng
	}
	if source.TakenAt != nil {
		takenAt := *source.TakenAt
		record.TakenAt = &takenAt
	}
	if len(source.Metadata) > 0 {
		record.Metadata = maps.Clone(source.Metadata)
		maps.DeleteFunc(record.Metadata, func(key string, _ interface{}) bool {
			_, structural := structuralMetadataKeys[strings.ToLower(key)]
			return structural
		})
		if len(record.Metadata) == 0 {
			record.Metadata = nil
		}
	}
	return record
}

// structuralMetadataKeys describe one stored object and never carry over to a derivative.
var structuralMetadataKeys = map[string]struct{}{
	"public_ref":    {},
	"stored_path":   {},
	"file_name":     {},
	"width":         {},
	"height":        {},
	"size_bytes":    {},
	"format":        {},
	"content_type":  {},
	"upload_source": {},
	"sequence":      {},
}
