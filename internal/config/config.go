package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

const (
	// AuthModeToken authenticates with a personal access token.
	AuthModeToken = "token"
	// AuthModeApp authenticates as a GitHub App installation.
	AuthModeApp = "app"

	// CacheBackendMemory keeps cached reports in-process.
	CacheBackendMemory = "memory"
	// CacheBackendRedis shares cached reports through Redis.
	CacheBackendRedis = "redis"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig
	GitHub    GitHubConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
	Aggregate AggregateConfig
	Cache     CacheConfig
	Telemetry TelemetryConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// GitHubConfig configures GitHub API access.
type GitHubConfig struct {
	APIBaseURL     string
	AuthMode       string
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	DefaultOwner   string
	DefaultRepo    string
	RequestTimeout time.Duration
	PerPage        int
}

// RateLimitConfig configures rate-limit controls for outbound calls.
type RateLimitConfig struct {
	MinRemainingThreshold int
	MinResetBuffer        time.Duration
	SecondaryLimitBackoff time.Duration
	PaceRequestsPerSecond float64
	PaceBurst             int
}

// RetryConfig configures retries.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// AggregateConfig configures the activity aggregation pipeline.
type AggregateConfig struct {
	SubFetchConcurrency int
	MaxTimelinePRs      int
}

// CacheConfig configures the report cache.
type CacheConfig struct {
	Backend       string
	TTL           time.Duration
	MaxEntries    int
	Namespace     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// TelemetryConfig configures OpenTelemetry behavior.
type TelemetryConfig struct {
	OTELEnabled          bool
	OTELTraceMode        string
	OTELTraceSampleRatio float64
	OTLPEndpoint         string
}

// Load reads configuration from YAML, applies environment overrides,
// and validates the result.
func Load(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("config reader is nil")
	}

	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	var raw rawConfig
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg := raw.toConfig()
	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates configuration values.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validLogLevels, c.Server.LogLevel) {
		errs = append(errs, "server.log_level must be one of debug|info|warn|error")
	}

	switch c.GitHub.AuthMode {
	case AuthModeToken:
		if strings.TrimSpace(c.GitHub.Token) == "" {
			errs = append(errs, "github.token is required when github.auth_mode=token (set it or export GITHUB_TOKEN)")
		}
	case AuthModeApp:
		if c.GitHub.AppID <= 0 {
			errs = append(errs, "github.app_id must be > 0 when github.auth_mode=app")
		}
		if c.GitHub.InstallationID <= 0 {
			errs = append(errs, "github.installation_id must be > 0 when github.auth_mode=app")
		}
		if c.GitHub.PrivateKeyPath == "" {
			errs = append(errs, "github.private_key_path is required when github.auth_mode=app")
		}
	default:
		errs = append(errs, "github.auth_mode must be token or app")
	}

	if c.GitHub.PerPage <= 0 || c.GitHub.PerPage > 100 {
		errs = append(errs, "github.per_page must be in 1..100")
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, "retry.max_attempts must be > 0")
	}
	if c.Aggregate.SubFetchConcurrency <= 0 {
		errs = append(errs, "aggregate.sub_fetch_concurrency must be > 0")
	}
	if c.RateLimit.PaceRequestsPerSecond < 0 {
		errs = append(errs, "rate_limit.pace_requests_per_second must be >= 0")
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, "cache.redis_addr is required when cache.backend=redis")
		}
	default:
		errs = append(errs, "cache.backend must be memory or redis")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8003"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.GitHub.AuthMode == "" {
		cfg.GitHub.AuthMode = AuthModeToken
	}
	if cfg.GitHub.RequestTimeout <= 0 {
		cfg.GitHub.RequestTimeout = 20 * time.Second
	}
	if cfg.GitHub.PerPage <= 0 {
		cfg.GitHub.PerPage = 100
	}
	if cfg.RateLimit.MinResetBuffer <= 0 {
		cfg.RateLimit.MinResetBuffer = 5 * time.Second
	}
	if cfg.RateLimit.SecondaryLimitBackoff <= 0 {
		cfg.RateLimit.SecondaryLimitBackoff = time.Minute
	}
	if cfg.RateLimit.PaceBurst <= 0 {
		cfg.RateLimit.PaceBurst = 1
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = 5 * time.Second
	}
	if cfg.Aggregate.SubFetchConcurrency <= 0 {
		cfg.Aggregate.SubFetchConcurrency = 10
	}
	if cfg.Aggregate.MaxTimelinePRs <= 0 {
		cfg.Aggregate.MaxTimelinePRs = 200
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheBackendMemory
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 12 * time.Hour
	}
	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = 1024
	}
	if cfg.Cache.Namespace == "" {
		cfg.Cache.Namespace = "gitboss-agent"
	}
}

func applyEnvOverrides(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); token != "" {
		cfg.GitHub.Token = token
	}
	if owner := strings.TrimSpace(os.Getenv("REPO_OWNER")); owner != "" {
		cfg.GitHub.DefaultOwner = owner
	}
	if repo := strings.TrimSpace(os.Getenv("REPO_NAME")); repo != "" {
		cfg.GitHub.DefaultRepo = repo
	}
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 || strings.TrimSpace(value.Value) == "" {
		d.Duration = 0
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}

	parsed, err := parseFlexibleDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func parseFlexibleDuration(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	if standard, err := time.ParseDuration(trimmed); err == nil {
		return standard, nil
	}

	if strings.HasSuffix(trimmed, "d") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "d"), 24)
	}
	if strings.HasSuffix(trimmed, "w") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "w"), 24*7)
	}

	return 0, fmt.Errorf("parse duration %q: invalid unit", raw)
}

func parseDurationWithMultiplier(numeric string, multiplierHours float64) (time.Duration, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(numeric), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration value %q: %w", numeric, err)
	}

	nanos := value * multiplierHours * float64(time.Hour)
	if nanos > math.MaxInt64 || nanos < math.MinInt64 {
		return 0, fmt.Errorf("parse duration value %q: out of range", numeric)
	}
	return time.Duration(nanos), nil
}

type rawConfig struct {
	Server    ServerConfig `yaml:"server"`
	GitHub    rawGitHub    `yaml:"github"`
	RateLimit rawRateLimit `yaml:"rate_limit"`
	Retry     rawRetry     `yaml:"retry"`
	Aggregate rawAggregate `yaml:"aggregate"`
	Cache     rawCache     `yaml:"cache"`
	Telemetry rawTelemetry `yaml:"telemetry"`
}

type rawGitHub struct {
	APIBaseURL     string   `yaml:"api_base_url"`
	AuthMode       string   `yaml:"auth_mode"`
	Token          string   `yaml:"token"`
	AppID          int64    `yaml:"app_id"`
	InstallationID int64    `yaml:"installation_id"`
	PrivateKeyPath string   `yaml:"private_key_path"`
	DefaultOwner   string   `yaml:"default_owner"`
	DefaultRepo    string   `yaml:"default_repo"`
	RequestTimeout duration `yaml:"request_timeout"`
	PerPage        int      `yaml:"per_page"`
}

type rawRateLimit struct {
	MinRemainingThreshold int      `yaml:"min_remaining_threshold"`
	MinResetBuffer        duration `yaml:"min_reset_buffer"`
	SecondaryLimitBackoff duration `yaml:"secondary_limit_backoff"`
	PaceRequestsPerSecond float64  `yaml:"pace_requests_per_second"`
	PaceBurst             int      `yaml:"pace_burst"`
}

type rawRetry struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   duration `yaml:"base_delay"`
	MaxDelay    duration `yaml:"max_delay"`
}

type rawAggregate struct {
	SubFetchConcurrency int `yaml:"sub_fetch_concurrency"`
	MaxTimelinePRs      int `yaml:"max_timeline_prs"`
}

type rawCache struct {
	Backend       string   `yaml:"backend"`
	TTL           duration `yaml:"ttl"`
	MaxEntries    int      `yaml:"max_entries"`
	Namespace     string   `yaml:"namespace"`
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
}

type rawTelemetry struct {
	OTELEnabled          bool    `yaml:"otel_enabled"`
	OTELTraceMode        string  `yaml:"otel_trace_mode"`
	OTELTraceSampleRatio float64 `yaml:"otel_trace_sample_ratio"`
	OTLPEndpoint         string  `yaml:"otlp_endpoint"`
}

func (r rawConfig) toConfig() *Config {
	return &Config{
		Server: r.Server,
		GitHub: GitHubConfig{
			APIBaseURL:     r.GitHub.APIBaseURL,
			AuthMode:       r.GitHub.AuthMode,
			Token:          r.GitHub.Token,
			AppID:          r.GitHub.AppID,
			InstallationID: r.GitHub.InstallationID,
			PrivateKeyPath: r.GitHub.PrivateKeyPath,
			DefaultOwner:   r.GitHub.DefaultOwner,
			DefaultRepo:    r.GitHub.DefaultRepo,
			RequestTimeout: r.GitHub.RequestTimeout.Duration,
			PerPage:        r.GitHub.PerPage,
		},
		RateLimit: RateLimitConfig{
			MinRemainingThreshold: r.RateLimit.MinRemainingThreshold,
			MinResetBuffer:        r.RateLimit.MinResetBuffer.Duration,
			SecondaryLimitBackoff: r.RateLimit.SecondaryLimitBackoff.Duration,
			PaceRequestsPerSecond: r.RateLimit.PaceRequestsPerSecond,
			PaceBurst:             r.RateLimit.PaceBurst,
		},
		Retry: RetryConfig{
			MaxAttempts: r.Retry.MaxAttempts,
			BaseDelay:   r.Retry.BaseDelay.Duration,
			MaxDelay:    r.Retry.MaxDelay.Duration,
		},
		Aggregate: AggregateConfig{
			SubFetchConcurrency: r.Aggregate.SubFetchConcurrency,
			MaxTimelinePRs:      r.Aggregate.MaxTimelinePRs,
		},
		Cache: CacheConfig{
			Backend:       r.Cache.Backend,
			TTL:           r.Cache.TTL.Duration,
			MaxEntries:    r.Cache.MaxEntries,
			Namespace:     r.Cache.Namespace,
			RedisAddr:     r.Cache.RedisAddr,
			RedisPassword: r.Cache.RedisPassword,
			RedisDB:       r.Cache.RedisDB,
		},
		Telemetry: TelemetryConfig{
			OTELEnabled:          r.Telemetry.OTELEnabled,
			OTELTraceMode:        r.Telemetry.OTELTraceMode,
			OTELTraceSampleRatio: r.Telemetry.OTELTraceSampleRatio,
			OTLPEndpoint:         strings.TrimSpace(r.Telemetry.OTLPEndpoint),
		},
	}
}
