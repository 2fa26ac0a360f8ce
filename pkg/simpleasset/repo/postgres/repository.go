package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

//go:embed schema.sql
var schema string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements simpleasset.MetadataStore using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// EnsureSchema creates the asset_records table if it is missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return r.handlePostgresError("ensure schema", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: duplicate entry on %s", operation, pgErr.ConstraintName)
		case "23502": // not_null_violation
			return fmt.Errorf("%s: required field %s is missing", operation, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - database migration required", operation)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return simpleasset.ErrRecordNotFound
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) GetAssetByPublicRef(ctx context.Context, publicRef string) (*simpleasset.AssetRecord, error) {
	query := `
		SELECT id, public_ref, stored_path, COALESCE(alt_text, ''), COALESCE(title, ''),
		       COALESCE(description, ''), tags, width, height, size_bytes,
		       COALESCE(format, ''), COALESCE(upload_source, ''), status,
		       gps_lat, gps_lng, taken_at, metadata, created_at, updated_at
		FROM asset_records WHERE public_ref = $1`

	var rec simpleasset.AssetRecord
	err := r.db.QueryRow(ctx, query, publicRef).Scan(
		&rec.ID, &rec.PublicRef, &rec.StoredPath, &rec.AltText, &rec.Title,
		&rec.Description, &rec.Tags, &rec.Width, &rec.Height, &rec.SizeBytes,
		&rec.Format, &rec.UploadSource, &rec.Status,
		&rec.GPSLat, &rec.GPSLng, &rec.TakenAt, &rec.Metadata, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, r.handlePostgresError("get asset", err)
	}
	return &rec, nil
}

// UpsertAsset writes record keyed by public_ref. An existing row keeps its id
// and created_at; the stored values are copied back into record.
func (r *Repository) UpsertAsset(ctx context.Context, record *simpleasset.AssetRecord) error {
	if record == nil || record.PublicRef == "" {
		return errors.New("public ref is required")
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.Status == "" {
		record.Status = simpleasset.StatusActive
	}
	tags := record.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO asset_records (
			id, public_ref, stored_path, alt_text, title, description, tags,
			width, height, size_bytes, format, upload_source, status,
			gps_lat, gps_lng, taken_at, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (public_ref) DO UPDATE SET
			stored_path = EXCLUDED.stored_path,
			alt_text = EXCLUDED.alt_text,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			tags = EXCLUDED.tags,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			size_bytes = EXCLUDED.size_bytes,
			format = EXCLUDED.format,
			upload_source = EXCLUDED.upload_source,
			status = EXCLUDED.status,
			gps_lat = EXCLUDED.gps_lat,
			gps_lng = EXCLUDED.gps_lng,
			taken_at = EXCLUDED.taken_at,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		record.ID, record.PublicRef, record.StoredPath, record.AltText, record.Title,
		record.Description, tags, record.Width, record.Height, record.SizeBytes,
		record.Format, record.UploadSource, record.Status,
		record.GPSLat, record.GPSLng, record.TakenAt, record.Metadata, record.CreatedAt, now,
	).Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("upsert asset", err)
	}
	return nil
}
