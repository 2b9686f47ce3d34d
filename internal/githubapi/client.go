package githubapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gitboss/agent-api/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// RetryPolicy configures GitHub client retry behavior. Delay grows
// linearly with the attempt number, capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DelayForAttempt returns the pause before retrying after the given
// (1-based) failed attempt.
func (p RetryPolicy) DelayForAttempt(attempt int) time.Duration {
	delay := p.BaseDelay * time.Duration(attempt)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// HTTPDoer is implemented by http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CallStats reports execution metadata for a client call.
type CallStats struct {
	Attempts        int
	LastRateHeaders RateLimitHeaders
	LastDecision    Decision
}

// Instrumentation receives client events. Implementations must be safe
// for concurrent use; a nil Instrument disables reporting.
type Instrumentation interface {
	ObserveGitHubRequest(outcome string)
	ObserveRateLimitWait()
	ObserveRetry()
}

// Client wraps GitHub HTTP requests with retry, rate-limit, and pacing
// controls.
type Client struct {
	doer       HTTPDoer
	retry      RetryPolicy
	ratePolicy RateLimitPolicy
	pacer      *rate.Limiter
	// Sleep is injected for testability.
	Sleep func(duration time.Duration)
	// Instrument, when set, receives request outcomes.
	Instrument Instrumentation
}

// NewClient creates a GitHub API client wrapper. A nil pacer disables
// client-side request pacing.
func NewClient(doer HTTPDoer, retry RetryPolicy, ratePolicy RateLimitPolicy, pacer *rate.Limiter) *Client {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &Client{
		doer:       doer,
		retry:      retry,
		ratePolicy: ratePolicy,
		pacer:      pacer,
		Sleep:      time.Sleep,
	}
}

// Do executes a request with retry and rate-limit awareness. Requests
// that remain rate-limited after all attempts return a *RateLimitError;
// other non-success statuses are returned to the caller for mapping.
func (c *Client) Do(req *http.Request) (*http.Response, CallStats, error) {
	if req == nil {
		return nil, CallStats{}, fmt.Errorf("request is nil")
	}

	ctx := req.Context()
	var span trace.Span
	if telemetry.ShouldTraceDependencies() {
		ctx, span = otel.Tracer("gitboss-agent/internal/githubapi").Start(
			ctx,
			"githubapi.client.do",
			trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.path", req.URL.EscapedPath()),
				attribute.Int("github.max_attempts", c.retry.MaxAttempts),
			),
		)
		defer span.End()
	}

	stats := CallStats{}
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		stats.Attempts = attempt

		if c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				if span != nil {
					span.SetStatus(codes.Error, err.Error())
				}
				return nil, stats, err
			}
		}

		nextReq := req.Clone(ctx)
		resp, err := c.doer.Do(nextReq)
		if err != nil {
			if span != nil {
				span.RecordError(err)
				span.AddEvent("attempt_failed", trace.WithAttributes(
					attribute.Int("github.attempt", attempt),
				))
			}
			if attempt == c.retry.MaxAttempts {
				if span != nil {
					span.SetStatus(codes.Error, err.Error())
				}
				c.observeOutcome("error")
				return nil, stats, fmt.Errorf("request failed after %d attempts: %w", attempt, err)
			}
			c.observeRetry()
			c.Sleep(c.retry.DelayForAttempt(attempt))
			continue
		}

		headers := ParseRateLimitHeaders(resp.Header, resp.StatusCode)
		stats.LastRateHeaders = headers
		decision := c.ratePolicy.Evaluate(headers)
		stats.LastDecision = decision

		if span != nil {
			span.AddEvent("attempt_completed", trace.WithAttributes(
				attribute.Int("github.attempt", attempt),
				attribute.Int("http.status_code", resp.StatusCode),
				attribute.Int("github.rate_limit_remaining", headers.Remaining),
				attribute.Int64("github.rate_limit_reset_unix", headers.ResetUnix),
				attribute.Bool("github.rate_limit_allow", decision.Allow),
				attribute.String("github.rate_limit_reason", decision.Reason),
			))
		}

		limited := headers.PrimaryLimited || headers.SecondaryLimited
		if limited {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			if attempt == c.retry.MaxAttempts {
				if span != nil {
					span.SetStatus(codes.Error, "rate-limited")
				}
				c.observeOutcome("rate_limited")
				return nil, stats, &RateLimitError{ResetAt: headers.ResetAt()}
			}
			c.observeRateLimitWait()
			c.Sleep(decision.WaitFor)
			continue
		}

		if !decision.Allow {
			// Budget is low but this response succeeded; pause before
			// letting the caller continue.
			c.observeRateLimitWait()
			c.Sleep(decision.WaitFor)
			if span != nil {
				span.SetStatus(codes.Ok, "request completed after budget pause")
			}
			c.observeOutcome("ok")
			return resp, stats, nil
		}

		if isTransientStatus(resp.StatusCode) {
			if attempt == c.retry.MaxAttempts {
				if span != nil {
					span.SetStatus(codes.Error, fmt.Sprintf("transient status %d", resp.StatusCode))
				}
				c.observeOutcome("error")
				return resp, stats, nil
			}
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			c.observeRetry()
			c.Sleep(c.retry.DelayForAttempt(attempt))
			continue
		}

		if span != nil {
			span.SetStatus(codes.Ok, "request completed")
		}
		c.observeOutcome("ok")
		return resp, stats, nil
	}

	if span != nil {
		span.SetStatus(codes.Error, "request attempts exhausted")
	}
	return nil, stats, fmt.Errorf("request attempts exhausted")
}

func (c *Client) observeOutcome(outcome string) {
	if c.Instrument != nil {
		c.Instrument.ObserveGitHubRequest(outcome)
	}
}

func (c *Client) observeRetry() {
	if c.Instrument != nil {
		c.Instrument.ObserveRetry()
	}
}

func (c *Client) observeRateLimitWait() {
	if c.Instrument != nil {
		c.Instrument.ObserveRateLimitWait()
	}
}

func isTransientStatus(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode <= 599
}
