package config

import (
	"fmt"
	"time"
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

// WithDatabase configures the space repository backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		switch dbType {
		case "memory", "resource":
		case "postgres":
			if url == "" {
				return fmt.Errorf("database URL is required for postgres")
			}
		default:
			return fmt.Errorf("database type must be 'memory', 'resource' or 'postgres', got: %s", dbType)
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithMigrateOnStart applies the Postgres schema during Build
func WithMigrateOnStart(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.MigrateOnStart = enabled
		return nil
	}
}

// WithMemoryStorage keeps resources in process memory
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.Storage = StorageBackendConfig{Type: "memory", Config: map[string]interface{}{}}
		return nil
	}
}

// WithFilesystemStorage stores resources under baseDir
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

// WithS3Storage stores resources in an S3 bucket
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

// WithS3Credentials sets AWS credentials for S3 storage
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		if c.Storage.Type != "s3" {
			return fmt.Errorf("S3 credentials require S3 storage, got: %s", c.Storage.Type)
		}
		c.Storage.Config["access_key_id"] = accessKeyID
		c.Storage.Config["secret_access_key"] = secretAccessKey
		return nil
	}
}

// WithS3Endpoint sets a custom S3 endpoint (for MinIO, LocalStack, etc.)
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		if c.Storage.Type != "s3" {
			return fmt.Errorf("S3 endpoint requires S3 storage, got: %s", c.Storage.Type)
		}
		c.Storage.Config["endpoint"] = endpoint
		c.Storage.Config["use_path_style"] = usePathStyle
		return nil
	}
}

// WithAuditContainer sets the audit log container
func WithAuditContainer(container string) Option {
	return func(c *ServerConfig) error {
		if container == "" {
			return fmt.Errorf("audit container cannot be empty")
		}
		c.AuditContainer = container
		return nil
	}
}

// WithAuditAdmins adds principals allowed to read the audit log
func WithAuditAdmins(admins ...string) Option {
	return func(c *ServerConfig) error {
		for _, admin := range admins {
			if admin == "" {
				return fmt.Errorf("audit admin cannot be empty")
			}
			c.AuditAdmins = appendUnique(c.AuditAdmins, admin)
		}
		return nil
	}
}

// WithOperator sets the principal that bootstraps the audit container
func WithOperator(principal string) Option {
	return func(c *ServerConfig) error {
		if principal == "" {
			return fmt.Errorf("operator cannot be empty")
		}
		c.Operator = principal
		return nil
	}
}

// WithPersonalRoot sets the root of per-principal storage. Empty disables it.
func WithPersonalRoot(root string) Option {
	return func(c *ServerConfig) error {
		c.PersonalRoot = root
		return nil
	}
}

// WithRedis enables the Redis activity index
func WithRedis(addr, password string, db int) Option {
	return func(c *ServerConfig) error {
		if addr == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
		c.RedisAddr = addr
		c.RedisPassword = password
		c.RedisDB = db
		return nil
	}
}

// WithPollInterval sets how often invitations are polled
func WithPollInterval(d time.Duration) Option {
	return func(c *ServerConfig) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive, got: %s", d)
		}
		c.PollInterval = d
		return nil
	}
}

// WithJWTSecret sets the HS256 secret used to verify bearer tokens
func WithJWTSecret(secret string) Option {
	return func(c *ServerConfig) error {
		c.JWTSecret = secret
		return nil
	}
}
