// Package app wires configuration, the GitHub client stack, the report
// assembler, and the HTTP surface into one runnable service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gitboss/agent-api/internal/activity"
	"github.com/gitboss/agent-api/internal/cache"
	"github.com/gitboss/agent-api/internal/config"
	"github.com/gitboss/agent-api/internal/githubapi"
	"github.com/gitboss/agent-api/internal/health"
	"github.com/gitboss/agent-api/internal/metrics"
	"github.com/gitboss/agent-api/internal/report"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Consecutive upstream failures before GitHub is reported degraded.
const githubFailureThreshold = 3

// Runtime is the application runtime orchestrator.
type Runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	cache     cache.Cache
	assembler *report.Assembler
	evaluator *health.StatusEvaluator

	mu                  sync.RWMutex
	cacheHealthy        bool
	githubClientUsable  bool
	githubHealthy       bool
	githubFailureStreak int
}

// NewRuntime creates a runtime instance with the full client stack
// wired from configuration.
func NewRuntime(cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient, err := newAuthenticatedHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("github auth: %w", err)
	}

	instruments := metrics.New()

	var pacer *rate.Limiter
	if cfg.RateLimit.PaceRequestsPerSecond > 0 {
		burst := cfg.RateLimit.PaceBurst
		if burst <= 0 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(cfg.RateLimit.PaceRequestsPerSecond), burst)
	}

	requestClient := githubapi.NewClient(
		httpClient,
		githubapi.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		githubapi.RateLimitPolicy{
			MinRemainingThreshold: cfg.RateLimit.MinRemainingThreshold,
			MinResetBuffer:        cfg.RateLimit.MinResetBuffer,
			SecondaryLimitBackoff: cfg.RateLimit.SecondaryLimitBackoff,
		},
		pacer,
	)
	requestClient.Instrument = instruments

	dataClient, err := githubapi.NewDataClient(cfg.GitHub.APIBaseURL, requestClient, cfg.GitHub.PerPage)
	if err != nil {
		return nil, fmt.Errorf("github data client: %w", err)
	}

	aggregator := activity.NewAggregator(dataClient, logger, cfg.Aggregate.SubFetchConcurrency)
	aggregator.MaxTimelinePRs = cfg.Aggregate.MaxTimelinePRs
	assembler := report.NewAssembler(dataClient, aggregator, logger, cfg.Aggregate.SubFetchConcurrency)

	cacheBackend, err := newCacheBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("report cache: %w", err)
	}

	return &Runtime{
		cfg:                cfg,
		logger:             logger,
		metrics:            instruments,
		cache:              cacheBackend,
		assembler:          assembler,
		evaluator:          health.NewStatusEvaluator(),
		cacheHealthy:       true,
		githubClientUsable: true,
		githubHealthy:      true,
	}, nil
}

func newAuthenticatedHTTPClient(cfg *config.Config) (*http.Client, error) {
	switch cfg.GitHub.AuthMode {
	case config.AuthModeApp:
		return githubapi.NewInstallationHTTPClient(githubapi.InstallationAuthConfig{
			AppID:          cfg.GitHub.AppID,
			InstallationID: cfg.GitHub.InstallationID,
			PrivateKeyPath: cfg.GitHub.PrivateKeyPath,
			Timeout:        cfg.GitHub.RequestTimeout,
		})
	default:
		return githubapi.NewTokenHTTPClient(githubapi.TokenAuthConfig{
			Token:   cfg.GitHub.Token,
			Timeout: cfg.GitHub.RequestTimeout,
		})
	}
}

// Handler returns the combined HTTP handler.
func (r *Runtime) Handler() http.Handler {
	return r.newRouter(r.metrics.Handler(), health.NewHandler(r))
}

// Close releases the runtime's backends.
func (r *Runtime) Close() error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Close()
}

// CurrentStatus returns current health status.
func (r *Runtime) CurrentStatus(_ context.Context) health.Status {
	r.mu.RLock()
	input := health.Input{
		CacheHealthy:       r.cacheHealthy,
		GitHubClientUsable: r.githubClientUsable,
		GitHubHealthy:      r.githubHealthy,
	}
	r.mu.RUnlock()
	return r.evaluator.Evaluate(input)
}

// noteGitHubOutcome tracks upstream health. One success recovers; it
// takes a streak of failures to report GitHub as degraded so a single
// flaky request does not flap the health endpoint.
func (r *Runtime) noteGitHubOutcome(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if success {
		r.githubFailureStreak = 0
		r.githubHealthy = true
		return
	}
	r.githubFailureStreak++
	if r.githubFailureStreak >= githubFailureThreshold {
		r.githubHealthy = false
	}
}

func (r *Runtime) noteCacheOutcome(success bool) {
	r.mu.Lock()
	r.cacheHealthy = success
	r.mu.Unlock()
}
