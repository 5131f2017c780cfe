package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "data.json", cfg.DataFile)
	assert.Equal(t, LockerMemory, cfg.Locker)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.OTelEnabled)
	assert.Empty(t, cfg.OTelEndpoint)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BANK_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("BANK_STORE", " SQLite ")
	t.Setenv("BANK_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("BANK_LOCKER", "redis")
	t.Setenv("BANK_REDIS_ADDR", "redis:6379")
	t.Setenv("BANK_LOG_LEVEL", "debug")
	t.Setenv("BANK_OTEL_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTPAddr)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	assert.Equal(t, LockerRedis, cfg.Locker)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.OTelEnabled)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("BANK_SHUTDOWN_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			HTTPAddr:        ":8080",
			ShutdownTimeout: time.Second,
			Store:           StoreMemory,
			DataFile:        "data.json",
			Locker:          LockerMemory,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown store", mutate: func(c *Config) { c.Store = "mongo" }, wantErr: ErrUnknownStore},
		{name: "unknown locker", mutate: func(c *Config) { c.Locker = "etcd" }, wantErr: ErrUnknownLocker},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store = StorePostgres }, wantErr: ErrMissingSetting},
		{name: "sqlite without path", mutate: func(c *Config) { c.Store = StoreSQLite }, wantErr: ErrMissingSetting},
		{name: "redis without addr", mutate: func(c *Config) { c.Locker = LockerRedis }, wantErr: ErrMissingSetting},
		{name: "empty addr", mutate: func(c *Config) { c.HTTPAddr = " " }, wantErr: ErrMissingSetting},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.ShutdownTimeout = 0 }, wantErr: ErrMissingSetting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
