// Package config loads server settings from an optional config file, a
// .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all server configuration.
type Config struct {
	Atlassian AtlassianConfig
	Cache     CacheConfig
	Context   ContextConfig
	Server    ServerConfig
	Log       LogConfig
}

type AtlassianConfig struct {
	BaseURL           string
	Email             string
	APIToken          string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
}

type CacheConfig struct {
	MaxSize       int
	SweepInterval time.Duration
	DefaultTTL    time.Duration
	// Eviction is "insertion" or "access".
	Eviction string
}

type ContextConfig struct {
	TTL             time.Duration
	MaxIdle         time.Duration
	CleanupInterval time.Duration
	// DefaultUser is used when a tool call carries no user_id. Empty means
	// anonymous calls are not tracked.
	DefaultUser string
	// Backend is "cache" (snapshots share the response cache) or "sqlite"
	// (snapshots live in a separate in-memory database).
	Backend string
}

type ServerConfig struct {
	// Transport is "stdio" or "sse".
	Transport     string
	Addr          string
	BaseURL       string
	MetricsAddr   string
	StatsInterval time.Duration
	WarmCache     bool
}

type LogConfig struct {
	Level  string
	Format string
}

// binding ties a config key to its environment variable and default.
type binding struct {
	key string
	env string
	def any
}

var bindings = []binding{
	{"atlassian.base_url", "ATLASSIAN_BASE_URL", ""},
	{"atlassian.email", "ATLASSIAN_EMAIL", ""},
	{"atlassian.api_token", "ATLASSIAN_API_TOKEN", ""},
	{"atlassian.timeout", "ATLASSIAN_TIMEOUT", 30 * time.Second},
	{"atlassian.requests_per_second", "ATLASSIAN_REQUESTS_PER_SECOND", 10.0},
	{"atlassian.max_retries", "ATLASSIAN_MAX_RETRIES", 3},

	{"cache.max_size", "CACHE_MAX_SIZE", 50000},
	{"cache.sweep_interval", "CACHE_SWEEP_INTERVAL", 30 * time.Second},
	{"cache.default_ttl", "CACHE_DEFAULT_TTL", 5 * time.Minute},
	{"cache.eviction", "CACHE_EVICTION", "insertion"},

	{"context.ttl", "CONTEXT_TTL", 24 * time.Hour},
	{"context.max_idle", "CONTEXT_MAX_IDLE", 24 * time.Hour},
	{"context.cleanup_interval", "CONTEXT_CLEANUP_INTERVAL", time.Hour},
	{"context.default_user", "CONTEXT_DEFAULT_USER", ""},
	{"context.backend", "CONTEXT_BACKEND", "cache"},

	{"server.transport", "MCP_TRANSPORT", "stdio"},
	{"server.addr", "MCP_ADDR", "localhost:3001"},
	{"server.base_url", "MCP_BASE_URL", ""},
	{"server.metrics_addr", "MCP_METRICS_ADDR", ""},
	{"server.stats_interval", "MCP_STATS_INTERVAL", 5 * time.Minute},
	{"server.warm_cache", "MCP_WARM_CACHE", true},

	{"log.level", "LOG_LEVEL", "info"},
	{"log.format", "LOG_FORMAT", "text"},
}

// Load reads configuration. path is an optional YAML, JSON or TOML file;
// a .env file in the working directory is loaded when present. Load does
// not validate: call Validate once command-line overrides are applied.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
		if err := v.BindEnv(b.key, b.env); err != nil {
			return Config{}, fmt.Errorf("binding %s: %w", b.env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	return Config{
		Atlassian: AtlassianConfig{
			BaseURL:           v.GetString("atlassian.base_url"),
			Email:             v.GetString("atlassian.email"),
			APIToken:          v.GetString("atlassian.api_token"),
			Timeout:           v.GetDuration("atlassian.timeout"),
			RequestsPerSecond: v.GetFloat64("atlassian.requests_per_second"),
			MaxRetries:        v.GetInt("atlassian.max_retries"),
		},
		Cache: CacheConfig{
			MaxSize:       v.GetInt("cache.max_size"),
			SweepInterval: v.GetDuration("cache.sweep_interval"),
			DefaultTTL:    v.GetDuration("cache.default_ttl"),
			Eviction:      v.GetString("cache.eviction"),
		},
		Context: ContextConfig{
			TTL:             v.GetDuration("context.ttl"),
			MaxIdle:         v.GetDuration("context.max_idle"),
			CleanupInterval: v.GetDuration("context.cleanup_interval"),
			DefaultUser:     v.GetString("context.default_user"),
			Backend:         v.GetString("context.backend"),
		},
		Server: ServerConfig{
			Transport:     v.GetString("server.transport"),
			Addr:          v.GetString("server.addr"),
			BaseURL:       v.GetString("server.base_url"),
			MetricsAddr:   v.GetString("server.metrics_addr"),
			StatsInterval: v.GetDuration("server.stats_interval"),
			WarmCache:     v.GetBool("server.warm_cache"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}, nil
}

// ─── Validation ─────────────────────────────────────────────────────────────

// Validate checks the whole configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Atlassian),
		validation.Field(&c.Cache),
		validation.Field(&c.Context),
		validation.Field(&c.Server),
		validation.Field(&c.Log),
	)
}

func (a AtlassianConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.BaseURL, validation.Required, is.URL),
		validation.Field(&a.Email, validation.Required, is.EmailFormat),
		validation.Field(&a.APIToken, validation.Required),
		validation.Field(&a.Timeout, validation.Min(time.Second)),
		validation.Field(&a.RequestsPerSecond, validation.Min(0.0)),
		validation.Field(&a.MaxRetries, validation.Min(0), validation.Max(10)),
	)
}

func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MaxSize, validation.Required, validation.Min(1)),
		validation.Field(&c.SweepInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.DefaultTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Eviction, validation.In("insertion", "access")),
	)
}

func (c ContextConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.MaxIdle, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.CleanupInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.Backend, validation.In("cache", "sqlite")),
	)
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Transport, validation.Required, validation.In("stdio", "sse")),
		validation.Field(&s.Addr, validation.When(s.Transport == "sse", validation.Required)),
		validation.Field(&s.BaseURL, is.URL),
		validation.Field(&s.StatsInterval, validation.Min(time.Duration(0))),
	)
}

func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("trace", "debug", "info", "warn", "warning", "error")),
		validation.Field(&l.Format, validation.In("text", "json")),
	)
}
