package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/repo/memory"
	repopg "github.com/tendant/simple-asset/pkg/simpleasset/repo/postgres"
	fsstorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/fs"
	memorystorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
	s3storage "github.com/tendant/simple-asset/pkg/simpleasset/storage/s3"
	"github.com/tendant/simple-asset/pkg/simpleasset/upscale"
	"github.com/tendant/simple-asset/pkg/simpleasset/urlstrategy"
	"github.com/tendant/simple-asset/pkg/simpleasset/usage"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		DatabaseType: "memory",
		DBSchema:     "asset",
		Storage: StorageBackendConfig{
			Type:   "memory",
			Config: map[string]interface{}{},
		},
		Upscaler: UpscalerConfig{
			Provider:     "none",
			PollInterval: upscale.DefaultPollInterval,
			Ceiling:      upscale.DefaultCeiling,
		},
		Timeouts:         simpleasset.DefaultTimeouts(),
		ConvertEngineTag: simpleasset.DefaultConvertEngine,
	}
}

// ServerConfig represents configuration for the asset pipeline service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL   string
	DatabaseType  string // "memory", "postgres"
	DBSchema      string // Postgres schema to use (default: asset)
	DBAutoMigrate bool   // Create asset_records on startup

	// Storage configuration
	Storage StorageBackendConfig

	// PublicBaseURL overrides the base of public references (e.g. a CDN).
	PublicBaseURL string

	Upscaler UpscalerConfig

	// UsageEventsURL receives usage CloudEvents. Empty logs usage instead.
	UsageEventsURL string

	Timeouts         simpleasset.Timeouts
	ConflictRetries  int
	ConvertEngineTag string
}

// StorageBackendConfig represents configuration for the object store
type StorageBackendConfig struct {
	Type   string // "memory", "fs", "s3"
	Config map[string]interface{}
}

// UpscalerConfig selects and configures the external upscale provider.
type UpscalerConfig struct {
	Provider     string // "none", "replicate"
	APIToken     string
	BaseURL      string
	ModelVersion string
	PollInterval time.Duration
	Ceiling      time.Duration
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.Storage.Type {
	case "memory":
	case "fs":
		if getString(c.Storage.Config, "base_dir", "") == "" {
			return errors.New("base_dir is required for fs storage")
		}
	case "s3":
		if getString(c.Storage.Config, "bucket", "") == "" {
			return errors.New("bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("unsupported storage backend type: %s", c.Storage.Type)
	}

	switch c.Upscaler.Provider {
	case "", "none":
	case "replicate":
		if c.Upscaler.APIToken == "" {
			return errors.New("replicate api token is required when the replicate upscaler is enabled")
		}
	default:
		return fmt.Errorf("unsupported upscale provider: %s", c.Upscaler.Provider)
	}

	if c.ConflictRetries < 0 {
		return errors.New("conflict retries cannot be negative")
	}

	// The run ceiling must leave room for the provider's own ceiling
	if c.Upscaler.Provider == "replicate" && c.Timeouts.Pipeline > 0 && c.Timeouts.Pipeline <= c.Upscaler.Ceiling {
		return fmt.Errorf("pipeline timeout %s must exceed the upscale ceiling %s", c.Timeouts.Pipeline, c.Upscaler.Ceiling)
	}

	return nil
}

// BuildPipeline creates a Pipeline from the server configuration. Extra options
// are applied after the configured ones.
func (c *ServerConfig) BuildPipeline(extra ...simpleasset.Option) (*simpleasset.Pipeline, error) {
	logger := slog.Default()

	repo, err := c.buildRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}

	store, err := c.buildStorageBackend()
	if err != nil {
		return nil, fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Type, err)
	}

	options := []simpleasset.Option{
		simpleasset.WithObjectStore(store),
		simpleasset.WithMetadataStore(repo),
		simpleasset.WithTimeouts(c.Timeouts),
		simpleasset.WithConflictRetries(c.ConflictRetries),
		simpleasset.WithConvertEngine(c.ConvertEngineTag),
	}

	if c.Upscaler.Provider == "replicate" {
		up, err := upscale.NewReplicate(upscale.ReplicateConfig{
			APIToken:     c.Upscaler.APIToken,
			BaseURL:      c.Upscaler.BaseURL,
			Version:      c.Upscaler.ModelVersion,
			PollInterval: c.Upscaler.PollInterval,
			Ceiling:      c.Upscaler.Ceiling,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build upscaler: %w", err)
		}
		options = append(options, simpleasset.WithUpscaler(up))
	}

	if c.UsageEventsURL != "" {
		rec, err := usage.NewCloudEventsRecorder(c.UsageEventsURL, "")
		if err != nil {
			return nil, fmt.Errorf("failed to build usage recorder: %w", err)
		}
		options = append(options, simpleasset.WithUsageRecorder(usage.Multi{usage.NewLogRecorder(logger), rec}))
	} else {
		options = append(options, simpleasset.WithUsageRecorder(usage.NewLogRecorder(logger)))
	}

	return simpleasset.New(append(options, extra...)...)
}

// buildRepository creates a MetadataStore based on the configuration
func (c *ServerConfig) buildRepository() (simpleasset.MetadataStore, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		pool, err := newPool(c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, err
		}
		repo := repopg.NewWithPool(pool)
		if c.DBAutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := repo.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// newPool creates a pgx pool whose sessions use schema as their search_path.
func newPool(databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required for postgres")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres with the configured search_path.
// It fails if the schema (when provided) does not exist.
func PingPostgres(databaseURL, schema string) error {
	pool, err := newPool(databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorageBackend creates the ObjectStore based on the storage configuration
func (c *ServerConfig) buildStorageBackend() (simpleasset.ObjectStore, error) {
	config := c.Storage.Config
	switch c.Storage.Type {
	case "memory":
		var urls urlstrategy.URLStrategy
		if c.PublicBaseURL != "" {
			urls = urlstrategy.NewCDNStrategy(c.PublicBaseURL)
		}
		return memorystorage.New(urls), nil

	case "fs":
		store, err := fsstorage.New(fsstorage.Config{
			BaseDir:       getString(config, "base_dir", "./data/assets"),
			PublicBaseURL: c.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return store, nil

	case "s3":
		store, err := s3storage.New(s3storage.Config{
			Region:                 getString(config, "region", "us-east-1"),
			Bucket:                 getString(config, "bucket", ""),
			AccessKeyID:            getString(config, "access_key_id", ""),
			SecretAccessKey:        getString(config, "secret_access_key", ""),
			Endpoint:               getString(config, "endpoint", ""),
			UsePathStyle:           getBool(config, "use_path_style", false),
			PublicBaseURL:          c.PublicBaseURL,
			CacheControl:           getString(config, "cache_control", ""),
			EnableSSE:              getBool(config, "enable_sse", false),
			SSEAlgorithm:           getString(config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config, "create_bucket_if_not_exist", false),
		})
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", c.Storage.Type)
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}
