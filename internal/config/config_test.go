package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a config that passes Validate.
func validConfig() Config {
	return Config{
		Atlassian: AtlassianConfig{
			BaseURL:           "https://acme.atlassian.net",
			Email:             "bot@acme.com",
			APIToken:          "token",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 10,
			MaxRetries:        3,
		},
		Cache:   CacheConfig{MaxSize: 100, SweepInterval: time.Minute, DefaultTTL: time.Minute, Eviction: "insertion"},
		Context: ContextConfig{TTL: time.Hour, MaxIdle: time.Hour, CleanupInterval: time.Hour},
		Server:  ServerConfig{Transport: "stdio", StatsInterval: time.Minute},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Atlassian.Timeout)
	assert.Equal(t, 10.0, cfg.Atlassian.RequestsPerSecond)
	assert.Equal(t, 3, cfg.Atlassian.MaxRetries)
	assert.Equal(t, 50000, cfg.Cache.MaxSize)
	assert.Equal(t, 30*time.Second, cfg.Cache.SweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, "insertion", cfg.Cache.Eviction)
	assert.Equal(t, 24*time.Hour, cfg.Context.TTL)
	assert.Equal(t, time.Hour, cfg.Context.CleanupInterval)
	assert.Equal(t, "cache", cfg.Context.Backend)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "localhost:3001", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Server.StatsInterval)
	assert.True(t, cfg.Server.WarmCache)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.Error(t, cfg.Validate(), "credentials are required")
}

func TestLoad_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ATLASSIAN_BASE_URL", "https://acme.atlassian.net")
	t.Setenv("ATLASSIAN_EMAIL", "bot@acme.com")
	t.Setenv("ATLASSIAN_API_TOKEN", "token")
	t.Setenv("CACHE_MAX_SIZE", "12")
	t.Setenv("CONTEXT_MAX_IDLE", "2h")
	t.Setenv("MCP_TRANSPORT", "sse")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://acme.atlassian.net", cfg.Atlassian.BaseURL)
	assert.Equal(t, 12, cfg.Cache.MaxSize)
	assert.Equal(t, 2*time.Hour, cfg.Context.MaxIdle)
	assert.Equal(t, "sse", cfg.Server.Transport)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CONTEXT_DEFAULT_USER=alice\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CONTEXT_DEFAULT_USER") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Context.DefaultUser)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.yaml")
	yaml := "atlassian:\n  base_url: https://file.atlassian.net\ncache:\n  max_size: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CACHE_MAX_SIZE", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://file.atlassian.net", cfg.Atlassian.BaseURL)
	assert.Equal(t, 9, cfg.Cache.MaxSize, "environment beats the file")
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad url", func(c *Config) { c.Atlassian.BaseURL = "not a url" }, true},
		{"bad email", func(c *Config) { c.Atlassian.Email = "nope" }, true},
		{"email on domain without mail exchanger", func(c *Config) { c.Atlassian.Email = "bot@acme.invalid" }, false},
		{"missing token", func(c *Config) { c.Atlassian.APIToken = "" }, true},
		{"negative retries", func(c *Config) { c.Atlassian.MaxRetries = -1 }, true},
		{"zero cache size", func(c *Config) { c.Cache.MaxSize = 0 }, true},
		{"unknown eviction", func(c *Config) { c.Cache.Eviction = "random" }, true},
		{"sqlite backend", func(c *Config) { c.Context.Backend = "sqlite" }, false},
		{"unknown backend", func(c *Config) { c.Context.Backend = "redis" }, true},
		{"unknown transport", func(c *Config) { c.Server.Transport = "grpc" }, true},
		{"sse needs addr", func(c *Config) { c.Server.Transport = "sse" }, true},
		{"sse with addr", func(c *Config) { c.Server.Transport = "sse"; c.Server.Addr = ":3001" }, false},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "debug", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("component", "test").Debug("hello")
	assert.Contains(t, buf.String(), `"component":"test"`)

	_, err = LogConfig{Level: "loud"}.NewLogger(&buf)
	assert.Error(t, err)
}
