package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every config variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for k := range defaults {
		key := strings.ToUpper(k)
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "rtl.db", cfg.DBPath)
	assert.Equal(t, "rtl", cfg.KeyPrefix)
	assert.Equal(t, int64(100), cfg.Limit)
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.False(t, cfg.FailOpen)
	assert.Equal(t, time.Second, cfg.CacheTTL)
}

func TestLoadEnvironment(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("REDIS_URL", "redis://cache:6379/2")
	t.Setenv("BACKEND", "Redis")
	t.Setenv("LIMIT", "3")
	t.Setenv("INTERVAL", "5s")
	t.Setenv("FAIL_OPEN", "true")
	t.Setenv("CACHE_TTL", "0s")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
	assert.Equal(t, int64(3), cfg.Limit)
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.True(t, cfg.FailOpen)
	assert.Zero(t, cfg.CacheTTL)
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("DB_PATH=/var/lib/rtl/limits.db\nLIMIT=42\n"), 0o600))

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/rtl/limits.db", cfg.DBPath)
	assert.Equal(t, int64(42), cfg.Limit)

	// Environment wins over the file.
	t.Setenv("LIMIT", "7")
	cfg, err = Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Limit)
}

func TestLoadExplicitEnvFileMissing(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.env"), nil)
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("", map[string]any{"backend": BackendMemory, "interval": "250ms"})
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
}

func TestValidate(t *testing.T) {
	valid := Config{Backend: BackendSQLite, DBPath: "rtl.db", RedisURL: "redis://x", Limit: 1, Interval: time.Second}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero limit", func(c *Config) { c.Limit = 0 }},
		{"negative interval", func(c *Config) { c.Interval = -time.Second }},
		{"unknown backend", func(c *Config) { c.Backend = "memcached" }},
		{"sqlite without path", func(c *Config) { c.DBPath = "" }},
		{"redis without url", func(c *Config) { c.Backend = BackendRedis; c.RedisURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateMessages(t *testing.T) {
	cfg := Config{Backend: BackendTiered, Limit: 1, Interval: time.Second}
	assert.EqualError(t, cfg.Validate(), "config: db_path is required for the tiered backend")

	cfg = Config{Backend: "memcached", Limit: 1, Interval: time.Second}
	assert.EqualError(t, cfg.Validate(), `config: unsupported backend "memcached"`)

	cfg = Config{Backend: BackendMemory, Limit: -2, Interval: time.Second}
	assert.EqualError(t, cfg.Validate(), "config: limit must be gt 0, got -2")
}
