package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// environment lists every variable WithEnv reads. Empty values leave the
// current setting alone.
type environment struct {
	Port        string `env:"PORT"`
	Environment string `env:"ENVIRONMENT"`

	DatabaseURL    string `env:"DATABASE_URL"`
	MigrateOnStart bool   `env:"DATABASE_MIGRATE"`

	StorageURL         string `env:"STORAGE_URL"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	AWSRegion          string `env:"AWS_REGION"`

	AuditContainer    string   `env:"DATASPACE_AUDIT_CONTAINER"`
	AuditAdmins       []string `env:"DATASPACE_AUDIT_ADMINS" env-separator:","`
	RegistryContainer string   `env:"DATASPACE_REGISTRY_CONTAINER"`
	Operator          string   `env:"DATASPACE_OPERATOR"`
	PersonalRoot      string   `env:"DATASPACE_PERSONAL_ROOT"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`
	RedisPrefix   string `env:"REDIS_PREFIX"`

	PollInterval time.Duration `env:"DATASPACE_POLL_INTERVAL"`
	JWTSecret    string        `env:"JWT_SECRET"`
}

// LoadServerConfig builds a ServerConfig from defaults and the process
// environment.
func LoadServerConfig() (*ServerConfig, error) {
	return Load(WithEnv())
}

// WithEnv applies environment variable overrides.
//
// Server:
//
//	PORT, ENVIRONMENT
//
// Database:
//
//	DATABASE_URL - "memory" (default), "resource" (records stored as resources
//	               in the resource store) or "postgres://..."
//	DATABASE_MIGRATE - apply the Postgres schema on start
//
// Storage:
//
//	STORAGE_URL - one of:
//	              - "memory://" (default)
//	              - "file:///path/to/data"
//	              - "s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true&prefix=ds"
//	AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_REGION
//
// Data spaces:
//
//	DATASPACE_AUDIT_CONTAINER, DATASPACE_AUDIT_ADMINS (comma separated),
//	DATASPACE_REGISTRY_CONTAINER, DATASPACE_OPERATOR, DATASPACE_PERSONAL_ROOT,
//	DATASPACE_POLL_INTERVAL, JWT_SECRET
//
// Activity index:
//
//	REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_PREFIX
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env environment
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return env.apply(c)
	}
}

func (env environment) apply(c *ServerConfig) error {
	setString(&c.Port, env.Port)
	setString(&c.Environment, env.Environment)

	if err := applyDatabaseURL(c, env.DatabaseURL); err != nil {
		return err
	}
	if env.MigrateOnStart {
		c.MigrateOnStart = true
	}
	if err := applyStorageURL(c, env); err != nil {
		return err
	}

	setString(&c.AuditContainer, env.AuditContainer)
	setString(&c.RegistryContainer, env.RegistryContainer)
	setString(&c.Operator, env.Operator)
	setString(&c.PersonalRoot, env.PersonalRoot)
	for _, admin := range env.AuditAdmins {
		if admin = strings.TrimSpace(admin); admin != "" {
			c.AuditAdmins = appendUnique(c.AuditAdmins, admin)
		}
	}

	setString(&c.RedisAddr, env.RedisAddr)
	setString(&c.RedisPassword, env.RedisPassword)
	setString(&c.RedisPrefix, env.RedisPrefix)
	if env.RedisDB != 0 {
		c.RedisDB = env.RedisDB
	}

	if env.PollInterval > 0 {
		c.PollInterval = env.PollInterval
	}
	setString(&c.JWTSecret, env.JWTSecret)
	return nil
}

func applyDatabaseURL(c *ServerConfig, dbURL string) error {
	switch {
	case dbURL == "":
		return nil
	case dbURL == "memory" || dbURL == "resource":
		c.DatabaseType = dbURL
		c.DatabaseURL = ""
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
	default:
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory', 'resource' or 'postgres://...')", dbURL)
	}
	return nil
}

func applyStorageURL(c *ServerConfig, env environment) error {
	storageURL := env.StorageURL
	switch {
	case storageURL == "":
		return nil
	case storageURL == "memory" || storageURL == "memory://":
		c.Storage = StorageBackendConfig{Type: "memory", Config: map[string]interface{}{}}
		return nil
	case strings.HasPrefix(storageURL, "file://"):
		path := strings.TrimPrefix(storageURL, "file://")
		if path == "" {
			return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		c.Storage = StorageBackendConfig{Type: "fs", Config: map[string]interface{}{"base_dir": path}}
		return nil
	case strings.HasPrefix(storageURL, "s3://"):
		return applyS3Storage(c, env)
	}
	return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", storageURL)
}

// applyS3Storage configures S3 storage from URL
// Format: s3://bucket?region=us-east-1&endpoint=http://localhost:9000
func applyS3Storage(c *ServerConfig, env environment) error {
	u, err := url.Parse(env.StorageURL)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
	}

	q := u.Query()
	backend := StorageBackendConfig{
		Type: "s3",
		Config: map[string]interface{}{
			"bucket": u.Host,
			"region": "us-east-1",
		},
	}
	if v := q.Get("region"); v != "" {
		backend.Config["region"] = v
	}
	if env.AWSRegion != "" {
		backend.Config["region"] = env.AWSRegion
	}
	if v := q.Get("endpoint"); v != "" {
		backend.Config["endpoint"] = v
	}
	if v := q.Get("prefix"); v != "" {
		backend.Config["prefix"] = v
	}
	if v := q.Get("path_style"); v != "" {
		backend.Config["use_path_style"] = v
	}
	if v := q.Get("create_bucket"); v != "" {
		backend.Config["create_bucket_if_not_exist"] = v
	}
	if env.AWSAccessKeyID != "" {
		backend.Config["access_key_id"] = env.AWSAccessKeyID
	}
	if env.AWSSecretAccessKey != "" {
		backend.Config["secret_access_key"] = env.AWSSecretAccessKey
	}

	c.Storage = backend
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
