package config

import (
	"fmt"
	"time"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithMemoryStorage selects the in-memory object store
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.Storage = StorageBackendConfig{Type: "memory", Config: map[string]interface{}{}}
		return nil
	}
}

// WithFilesystemStorage selects the filesystem object store rooted at baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage = StorageBackendConfig{
			Type:   "fs",
			Config: map[string]interface{}{"base_dir": baseDir},
		}
		return nil
	}
}

// WithS3Storage selects the S3 object store
func WithS3Storage(bucket, region string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if region == "" {
			region = "us-east-1"
		}
		c.Storage = StorageBackendConfig{
			Type: "s3",
			Config: map[string]interface{}{
				"bucket": bucket,
				"region": region,
			},
		}
		return nil
	}
}

// WithS3Credentials sets static credentials on the S3 store
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		if err := requireS3(c); err != nil {
			return err
		}
		if accessKeyID == "" || secretAccessKey == "" {
			return fmt.Errorf("both access key ID and secret access key are required")
		}
		c.Storage.Config["access_key_id"] = accessKeyID
		c.Storage.Config["secret_access_key"] = secretAccessKey
		return nil
	}
}

// WithS3Endpoint points the S3 store at an S3-compatible service such as MinIO
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		if err := requireS3(c); err != nil {
			return err
		}
		if endpoint == "" {
			return fmt.Errorf("S3 endpoint cannot be empty")
		}
		c.Storage.Config["endpoint"] = endpoint
		c.Storage.Config["use_path_style"] = usePathStyle
		return nil
	}
}

// WithS3Encryption enables server-side encryption on the S3 store
func WithS3Encryption(algorithm, kmsKeyID string) Option {
	return func(c *ServerConfig) error {
		if err := requireS3(c); err != nil {
			return err
		}
		if algorithm != "AES256" && algorithm != "aws:kms" {
			return fmt.Errorf("SSE algorithm must be 'AES256' or 'aws:kms', got: %s", algorithm)
		}
		c.Storage.Config["enable_sse"] = true
		c.Storage.Config["sse_algorithm"] = algorithm
		if kmsKeyID != "" {
			c.Storage.Config["sse_kms_key_id"] = kmsKeyID
		}
		return nil
	}
}

func requireS3(c *ServerConfig) error {
	if c.Storage.Type != "s3" {
		return fmt.Errorf("S3 storage must be selected first (current: %s)", c.Storage.Type)
	}
	if c.Storage.Config == nil {
		c.Storage.Config = map[string]interface{}{}
	}
	return nil
}

// WithPublicBaseURL sets the base of public references, e.g. a CDN
func WithPublicBaseURL(baseURL string) Option {
	return func(c *ServerConfig) error {
		c.PublicBaseURL = baseURL
		return nil
	}
}

// WithUpscaler enables an external upscale provider
func WithUpscaler(provider, apiToken string) Option {
	return func(c *ServerConfig) error {
		if provider != "none" && provider != "replicate" {
			return fmt.Errorf("upscale provider must be 'none' or 'replicate', got: %s", provider)
		}
		c.Upscaler.Provider = provider
		c.Upscaler.APIToken = apiToken
		return nil
	}
}

// WithUpscalePolling sets how often the provider is polled and when to give up
func WithUpscalePolling(interval, ceiling time.Duration) Option {
	return func(c *ServerConfig) error {
		if interval <= 0 || ceiling <= 0 {
			return fmt.Errorf("poll interval and ceiling must be positive")
		}
		c.Upscaler.PollInterval = interval
		c.Upscaler.Ceiling = ceiling
		return nil
	}
}

// WithUsageEvents sends provider usage events to a CloudEvents endpoint
func WithUsageEvents(targetURL string) Option {
	return func(c *ServerConfig) error {
		c.UsageEventsURL = targetURL
		return nil
	}
}

// WithTimeouts overrides pipeline timeouts. Zero fields keep their current value.
func WithTimeouts(t simpleasset.Timeouts) Option {
	return func(c *ServerConfig) error {
		if t.Pipeline > 0 {
			c.Timeouts.Pipeline = t.Pipeline
		}
		if t.Fetch > 0 {
			c.Timeouts.Fetch = t.Fetch
		}
		if t.Upload > 0 {
			c.Timeouts.Upload = t.Upload
		}
		if t.Metadata > 0 {
			c.Timeouts.Metadata = t.Metadata
		}
		if t.Usage > 0 {
			c.Timeouts.Usage = t.Usage
		}
		return nil
	}
}

// WithConflictRetries sets how often an upload conflict re-resolves the sequence
func WithConflictRetries(n int) Option {
	return func(c *ServerConfig) error {
		if n < 0 {
			return fmt.Errorf("conflict retries cannot be negative, got: %d", n)
		}
		c.ConflictRetries = n
		return nil
	}
}

// WithConvertEngineTag sets the engine tag used in convert file names
func WithConvertEngineTag(tag string) Option {
	return func(c *ServerConfig) error {
		if tag == "" {
			return fmt.Errorf("convert engine tag cannot be empty")
		}
		c.ConvertEngineTag = tag
		return nil
	}
}
