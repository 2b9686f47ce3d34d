package config

import (
	"io"
	"strings"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	testCases := []struct {
		name       string
		yaml       string
		env        map[string]string
		wantErr    bool
		errSubstrs []string
	}{
		{
			name: "valid_minimal_configuration",
			yaml: `
server:
  listen_addr: ":8003"
  log_level: "info"
github:
  api_base_url: "https://api.github.com"
  auth_mode: "token"
  token: "ghp_test"
  default_owner: "acme"
  default_repo: "widgets"
  request_timeout: "20s"
  per_page: 100
rate_limit:
  min_remaining_threshold: 10
  min_reset_buffer: "5s"
  secondary_limit_backoff: "60s"
  pace_requests_per_second: 3.0
  pace_burst: 1
retry:
  max_attempts: 3
  base_delay: "5s"
  max_delay: "2m"
aggregate:
  sub_fetch_concurrency: 10
cache:
  backend: "memory"
  ttl: "12h"
telemetry:
  otel_enabled: false
  otel_trace_mode: "off"
  otel_trace_sample_ratio: 0.05
`,
		},
		{
			name: "invalid_log_level",
			yaml: `
server:
  log_level: "verbose"
github:
  token: "ghp_test"
`,
			wantErr:    true,
			errSubstrs: []string{"server.log_level", "debug|info|warn|error"},
		},
		{
			name: "token_mode_requires_token",
			yaml: `
server:
  log_level: "info"
github:
  auth_mode: "token"
`,
			env:        map[string]string{"GITHUB_TOKEN": ""},
			wantErr:    true,
			errSubstrs: []string{"github.token", "GITHUB_TOKEN"},
		},
		{
			name: "env_token_satisfies_token_mode",
			yaml: `
server:
  log_level: "info"
github:
  auth_mode: "token"
`,
			env: map[string]string{"GITHUB_TOKEN": "ghp_from_env"},
		},
		{
			name: "app_mode_requires_credentials",
			yaml: `
server:
  log_level: "info"
github:
  auth_mode: "app"
`,
			wantErr: true,
			errSubstrs: []string{
				"github.app_id",
				"github.installation_id",
				"github.private_key_path",
			},
		},
		{
			name: "unknown_auth_mode_rejected",
			yaml: `
github:
  auth_mode: "basic"
  token: "ghp_test"
`,
			wantErr:    true,
			errSubstrs: []string{"github.auth_mode", "token or app"},
		},
		{
			name: "per_page_out_of_range",
			yaml: `
github:
  token: "ghp_test"
  per_page: 250
`,
			wantErr:    true,
			errSubstrs: []string{"github.per_page", "1..100"},
		},
		{
			name: "redis_backend_requires_addr",
			yaml: `
github:
  token: "ghp_test"
cache:
  backend: "redis"
`,
			wantErr:    true,
			errSubstrs: []string{"cache.redis_addr", "required"},
		},
		{
			name: "unknown_cache_backend_rejected",
			yaml: `
github:
  token: "ghp_test"
cache:
  backend: "memcached"
`,
			wantErr:    true,
			errSubstrs: []string{"cache.backend", "memory or redis"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			if _, ok := tc.env["GITHUB_TOKEN"]; !ok {
				t.Setenv("GITHUB_TOKEN", "")
			}

			cfg, err := Load(strings.NewReader(tc.yaml))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Load() expected error, got nil")
				}
				for _, substr := range tc.errSubstrs {
					if !strings.Contains(err.Error(), substr) {
						t.Fatalf("Load() error = %q, missing substring %q", err.Error(), substr)
					}
				}
				return
			}

			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			if cfg == nil {
				t.Fatalf("Load() returned nil config")
			}
		})
	}
}

func TestLoadAdditionalBehaviors(t *testing.T) {
	testCases := []struct {
		name        string
		reader      io.Reader
		env         map[string]string
		wantErr     bool
		errContains string
		assert      func(t *testing.T, cfg *Config)
	}{
		{
			name:        "nil_reader_returns_error",
			reader:      nil,
			wantErr:     true,
			errContains: "config reader is nil",
		},
		{
			name:        "invalid_yaml_returns_parse_error",
			reader:      strings.NewReader("server: [oops"),
			wantErr:     true,
			errContains: "unmarshal yaml",
		},
		{
			name: "applies_defaults_and_parses_day_duration",
			reader: strings.NewReader(`
github:
  token: "ghp_test"
cache:
  ttl: "1d"
`),
			assert: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Server.ListenAddr != ":8003" {
					t.Fatalf("Server.ListenAddr = %q, want :8003", cfg.Server.ListenAddr)
				}
				if cfg.Server.LogLevel != "info" {
					t.Fatalf("Server.LogLevel = %q, want info", cfg.Server.LogLevel)
				}
				if cfg.GitHub.AuthMode != AuthModeToken {
					t.Fatalf("GitHub.AuthMode = %q, want token", cfg.GitHub.AuthMode)
				}
				if cfg.GitHub.PerPage != 100 {
					t.Fatalf("GitHub.PerPage = %d, want 100", cfg.GitHub.PerPage)
				}
				if cfg.Retry.MaxAttempts != 3 {
					t.Fatalf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
				}
				if cfg.Aggregate.SubFetchConcurrency != 10 {
					t.Fatalf("Aggregate.SubFetchConcurrency = %d, want 10", cfg.Aggregate.SubFetchConcurrency)
				}
				if cfg.Cache.Backend != CacheBackendMemory {
					t.Fatalf("Cache.Backend = %q, want memory", cfg.Cache.Backend)
				}
				if cfg.Cache.TTL != 24*time.Hour {
					t.Fatalf("Cache.TTL = %s, want %s", cfg.Cache.TTL, 24*time.Hour)
				}
			},
		},
		{
			name: "env_overrides_token_and_repo_defaults",
			reader: strings.NewReader(`
github:
  token: "ghp_from_file"
  default_owner: "file-owner"
  default_repo: "file-repo"
`),
			env: map[string]string{
				"GITHUB_TOKEN": "ghp_from_env",
				"REPO_OWNER":   "env-owner",
				"REPO_NAME":    "env-repo",
			},
			assert: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.GitHub.Token != "ghp_from_env" {
					t.Fatalf("GitHub.Token = %q, want ghp_from_env", cfg.GitHub.Token)
				}
				if cfg.GitHub.DefaultOwner != "env-owner" {
					t.Fatalf("GitHub.DefaultOwner = %q, want env-owner", cfg.GitHub.DefaultOwner)
				}
				if cfg.GitHub.DefaultRepo != "env-repo" {
					t.Fatalf("GitHub.DefaultRepo = %q, want env-repo", cfg.GitHub.DefaultRepo)
				}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("GITHUB_TOKEN", "")
			for key, value := range tc.env {
				t.Setenv(key, value)
			}

			cfg, err := Load(tc.reader)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Load() expected error, got nil")
				}
				if tc.errContains != "" && !strings.Contains(err.Error(), tc.errContains) {
					t.Fatalf("Load() error = %q, missing %q", err.Error(), tc.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			if tc.assert != nil {
				tc.assert(t, cfg)
			}
		})
	}
}

func TestParseFlexibleDuration(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "standard_seconds", input: "30s", want: 30 * time.Second},
		{name: "standard_minutes", input: "5m", want: 5 * time.Minute},
		{name: "days", input: "2d", want: 48 * time.Hour},
		{name: "weeks", input: "1w", want: 7 * 24 * time.Hour},
		{name: "fractional_days", input: "0.5d", want: 12 * time.Hour},
		{name: "empty_is_zero", input: "", want: 0},
		{name: "invalid_unit", input: "10y", wantErr: true},
		{name: "not_a_number", input: "xd", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseFlexibleDuration(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseFlexibleDuration(%q) expected error, got nil", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlexibleDuration(%q) unexpected error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("parseFlexibleDuration(%q) = %s, want %s", tc.input, got, tc.want)
			}
		})
	}
}
