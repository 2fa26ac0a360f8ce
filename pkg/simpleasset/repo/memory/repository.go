package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// Repository is an in-memory implementation of simpleasset.MetadataStore
type Repository struct {
	mu      sync.RWMutex
	records map[string]*simpleasset.AssetRecord
	now     func() time.Time
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		records: make(map[string]*simpleasset.AssetRecord),
		now:     time.Now,
	}
}

// GetAssetByPublicRef returns a copy of the record stored under publicRef
func (r *Repository) GetAssetByPublicRef(ctx context.Context, publicRef string) (*simpleasset.AssetRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[publicRef]
	if !ok {
		return nil, simpleasset.ErrRecordNotFound
	}
	return clone(rec), nil
}

// UpsertAsset inserts or overwrites the record for record.PublicRef
func (r *Repository) UpsertAsset(ctx context.Context, record *simpleasset.AssetRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record == nil || record.PublicRef == "" {
		return errors.New("public ref is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	stored := clone(record)
	if existing, ok := r.records[record.PublicRef]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		if stored.ID == uuid.Nil {
			stored.ID = uuid.New()
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
	}
	stored.UpdatedAt = now
	r.records[record.PublicRef] = stored

	record.ID = stored.ID
	record.CreatedAt = stored.CreatedAt
	record.UpdatedAt = stored.UpdatedAt
	return nil
}

// Len returns the number of stored records.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func clone(rec *simpleasset.AssetRecord) *simpleasset.AssetRecord {
	c := *rec
	c.Tags = slices.Clone(rec.Tags)
	c.Metadata = maps.Clone(rec.Metadata)
	return &c
}
