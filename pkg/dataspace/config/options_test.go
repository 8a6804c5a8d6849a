package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-dataspace/pkg/dataspace/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "memory", cfg.DatabaseType)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "audit", cfg.AuditContainer)
	assert.Equal(t, "operator", cfg.Operator)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Empty(t, cfg.RedisAddr)
}

func TestOptions(t *testing.T) {
	cfg, err := config.Load(
		config.WithPort("9000"),
		config.WithEnvironment("production"),
		config.WithDatabase("postgres", "postgres://localhost/ds"),
		config.WithMigrateOnStart(true),
		config.WithS3Storage("bucket", ""),
		config.WithS3Credentials("key", "secret"),
		config.WithS3Endpoint("http://localhost:9000", true),
		config.WithAuditContainer("logs"),
		config.WithAuditAdmins("alice", "bob", "alice"),
		config.WithOperator("svc"),
		config.WithPersonalRoot("homes"),
		config.WithRedis("localhost:6379", "pw", 1),
		config.WithPollInterval(time.Minute),
		config.WithJWTSecret("secret"),
	)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseType)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, map[string]interface{}{
		"bucket":            "bucket",
		"region":            "us-east-1",
		"access_key_id":     "key",
		"secret_access_key": "secret",
		"endpoint":          "http://localhost:9000",
		"use_path_style":    true,
	}, cfg.Storage.Config)
	assert.Equal(t, "logs", cfg.AuditContainer)
	assert.Equal(t, []string{"alice", "bob"}, cfg.AuditAdmins)
	assert.Equal(t, "svc", cfg.Operator)
	assert.Equal(t, "homes", cfg.PersonalRoot)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, time.Minute, cfg.PollInterval)
}

func TestOptionErrors(t *testing.T) {
	tests := []struct {
		name string
		opts []config.Option
	}{
		{"empty port", []config.Option{config.WithPort("")}},
		{"unknown database", []config.Option{config.WithDatabase("mysql", "")}},
		{"postgres without url", []config.Option{config.WithDatabase("postgres", "")}},
		{"empty fs dir", []config.Option{config.WithFilesystemStorage("")}},
		{"credentials without s3", []config.Option{config.WithS3Credentials("k", "s")}},
		{"empty operator", []config.Option{config.WithOperator("")}},
		{"empty admin", []config.Option{config.WithAuditAdmins("")}},
		{"zero poll interval", []config.Option{config.WithPollInterval(0)}},
		{"empty redis address", []config.Option{config.WithRedis("", "", 0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(tt.opts...)
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Storage.Type = "ftp"
	assert.Error(t, cfg.Validate())

	cfg.Storage.Type = "memory"
	cfg.Operator = ""
	assert.Error(t, cfg.Validate())
}
