package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-dataspace/pkg/dataspace"
	"github.com/tendant/simple-dataspace/pkg/dataspace/acl"
	redisindex "github.com/tendant/simple-dataspace/pkg/dataspace/activity/redis"
	"github.com/tendant/simple-dataspace/pkg/dataspace/repo/memory"
	repopg "github.com/tendant/simple-dataspace/pkg/dataspace/repo/postgres"
	"github.com/tendant/simple-dataspace/pkg/dataspace/repo/resource"
	fsstorage "github.com/tendant/simple-dataspace/pkg/dataspace/storage/fs"
	memorystorage "github.com/tendant/simple-dataspace/pkg/dataspace/storage/memory"
	s3storage "github.com/tendant/simple-dataspace/pkg/dataspace/storage/s3"
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
		Port:              "8080",
		Environment:       "development",
		DatabaseType:      "memory",
		Storage:           StorageBackendConfig{Type: "memory", Config: map[string]interface{}{}},
		AuditContainer:    dataspace.DefaultAuditContainer,
		RegistryContainer: resource.DefaultContainer,
		Operator:          "operator",
		PersonalRoot:      "pods",
		RedisPrefix:       "dataspace:activity",
		PollInterval:      30 * time.Second,
	}
}

// ServerConfig represents configuration for a data space deployment
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL    string
	DatabaseType   string // "memory", "resource", "postgres"
	MigrateOnStart bool   // apply the Postgres schema during Build

	// Storage configuration
	Storage StorageBackendConfig

	// Audit log and access control
	AuditContainer    string
	RegistryContainer string   // container for space records when DatabaseType is "resource"
	AuditAdmins       []string // principals allowed to read the audit log
	Operator          string   // principal that bootstraps and protects the audit container
	PersonalRoot      string   // every principal fully controls <PersonalRoot>/<principal>

	// Activity index (optional)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	PollInterval time.Duration
	JWTSecret    string
}

// StorageBackendConfig represents configuration for the resource store backend
type StorageBackendConfig struct {
	Type   string // "memory", "fs", "s3"
	Config map[string]interface{}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.DatabaseType {
	case "memory", "resource":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("database_url is required when using postgres")
		}
	default:
		return errors.New("database_type must be 'memory', 'resource' or 'postgres'")
	}

	switch c.Storage.Type {
	case "memory", "fs", "s3":
	default:
		return fmt.Errorf("unsupported storage backend type: %s", c.Storage.Type)
	}

	if c.AuditContainer == "" {
		return errors.New("audit container is required")
	}
	if c.DatabaseType == "resource" && c.RegistryContainer == "" {
		return errors.New("registry container is required when database_type is 'resource'")
	}
	if c.Operator == "" {
		return errors.New("operator principal is required")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}

// Runtime holds everything Build wires together.
type Runtime struct {
	Core       *dataspace.Core
	Guard      *acl.Guard
	Repository dataspace.SpaceRepository

	// ActivityIndex is nil when no Redis address is configured
	ActivityIndex *redisindex.Index

	closers []func() error
}

// Close releases connections opened by Build.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OperatorContext returns ctx carrying the operator's session.
func (c *ServerConfig) OperatorContext(ctx context.Context) context.Context {
	return dataspace.WithSession(ctx, dataspace.AuthenticatedAs(c.Operator))
}

// AuditorContext returns ctx carrying the session of the first audit admin.
// It reports false when no admin is configured.
func (c *ServerConfig) AuditorContext(ctx context.Context) (context.Context, bool) {
	for _, admin := range c.AuditAdmins {
		if admin != "" {
			return dataspace.WithSession(ctx, dataspace.AuthenticatedAs(admin)), true
		}
	}
	return ctx, false
}

// Build creates the store, access-control guard, repository and core from
// the configuration, then bootstraps and protects the audit container.
func (c *ServerConfig) Build(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	store, err := c.buildStorageBackend()
	if err != nil {
		return fail(fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Type, err))
	}

	var guardOpts []acl.Option
	guardOpts = append(guardOpts, acl.WithLogger(logger.With("component", "acl")))
	if c.PersonalRoot != "" {
		guardOpts = append(guardOpts, acl.WithPersonalRoot(c.PersonalRoot))
	}
	guard, err := acl.New(store, guardOpts...)
	if err != nil {
		return fail(err)
	}
	rt.Guard = guard

	repo, err := c.buildRepository(ctx, rt)
	if err != nil {
		return fail(fmt.Errorf("failed to build repository: %w", err))
	}
	rt.Repository = repo

	options := []dataspace.Option{
		dataspace.WithResourceStore(guard),
		dataspace.WithACLClient(guard),
		dataspace.WithSpaceRepository(repo),
		dataspace.WithAuditContainer(c.AuditContainer),
		dataspace.WithAdmins(c.AuditAdmins...),
		dataspace.WithLogger(logger),
		dataspace.WithPollInterval(c.PollInterval),
	}

	if c.RedisAddr != "" {
		index, err := redisindex.New(c.RedisAddr,
			redisindex.WithPassword(c.RedisPassword),
			redisindex.WithDB(c.RedisDB),
			redisindex.WithPrefix(c.RedisPrefix),
		)
		if err != nil {
			return fail(fmt.Errorf("failed to connect activity index: %w", err))
		}
		rt.ActivityIndex = index
		rt.closers = append(rt.closers, index.Close)
		options = append(options, dataspace.WithHooks(&dataspace.Hooks{
			AfterAppend: []dataspace.AfterAppendHook{index.Hook()},
		}))
	}

	core, err := dataspace.New(options...)
	if err != nil {
		return fail(err)
	}
	rt.Core = core

	if err := c.bootstrap(ctx, rt); err != nil {
		return fail(err)
	}

	if rt.ActivityIndex != nil {
		if auditCtx, ok := c.AuditorContext(ctx); !ok {
			logger.Warn("no audit admin configured, activity index not caught up")
		} else if applied, err := rt.ActivityIndex.Sync(auditCtx, core.AuditLog); err != nil {
			logger.Warn("activity index catch-up failed", "error", err)
		} else if applied > 0 {
			logger.Info("activity index caught up", "events", applied)
		}
	}
	return rt, nil
}

// bootstrap gives the operator control of the audit container (and the
// registry container, for the resource repository) and reconciles the audit
// log's access control.
func (c *ServerConfig) bootstrap(ctx context.Context, rt *Runtime) error {
	if err := rt.Guard.Bootstrap(ctx, c.AuditContainer,
		dataspace.ACLEntry{Agent: c.Operator, Modes: acl.AllModes}); err != nil {
		return fmt.Errorf("failed to bootstrap audit container: %w", err)
	}
	if c.DatabaseType == "resource" {
		if err := rt.Guard.Bootstrap(ctx, c.RegistryContainer,
			dataspace.ACLEntry{Agent: c.Operator, Modes: acl.AllModes},
			dataspace.ACLEntry{Agent: dataspace.AuthenticatedAgent, Modes: dataspace.ModeRead | dataspace.ModeWrite},
		); err != nil {
			return fmt.Errorf("failed to bootstrap registry container: %w", err)
		}
	}
	if err := rt.Core.AuditLog.Protect(c.OperatorContext(ctx)); err != nil {
		return fmt.Errorf("failed to protect audit container: %w", err)
	}
	return nil
}

// buildRepository creates a SpaceRepository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, rt *Runtime) (dataspace.SpaceRepository, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "resource":
		return resource.New(rt.Guard, c.RegistryContainer), nil
	case "postgres":
		if c.DatabaseURL == "" {
			return nil, errors.New("database_url is required for postgres")
		}
		cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		repo := repopg.NewWithPool(pool)
		if c.MigrateOnStart {
			if err := repo.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// PingPostgres verifies connectivity to Postgres.
func PingPostgres(databaseURL string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorageBackend creates a ResourceStore based on the backend configuration
func (c *ServerConfig) buildStorageBackend() (dataspace.ResourceStore, error) {
	config := c.Storage
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir: getString(config.Config, "base_dir", "./data/dataspace"),
		})

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			Prefix:                 getString(config.Config, "prefix", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok && str != "" {
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
			if b, err := strconv.ParseBool(strings.TrimSpace(str)); err == nil {
				return b
			}
		}
	}
	return defaultValue
}
