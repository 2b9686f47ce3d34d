package githubapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// UpstreamError reports a non-success GitHub API response that survived
// retry handling. Body carries a truncated response body for diagnostics.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("github api status %d", e.Status)
	}
	return fmt.Sprintf("github api status %d: %s", e.Status, e.Body)
}

// RateLimitError reports a rate limit that was still exhausted after all
// retry attempts. ResetAt is the upstream reset instant, if known.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return "github rate limit exhausted"
	}
	return fmt.Sprintf("github rate limit exhausted, resets at %s", e.ResetAt.UTC().Format(time.RFC3339))
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream) && upstream.Status == http.StatusNotFound
}

// IsRateLimited reports whether err is a rate-limit exhaustion error.
func IsRateLimited(err error) bool {
	var limited *RateLimitError
	return errors.As(err, &limited)
}
