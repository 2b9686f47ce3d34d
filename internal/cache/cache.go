// Package cache stores rendered reports so repeated requests for the
// same repo and window do not refetch the GitHub API.
package cache

import (
	"context"
	"strings"
)

// Cache is a byte-value cache with a fixed TTL chosen at construction.
// A miss is not an error; backends degrade to recompute on failure.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Key joins key parts with ":" after trimming blanks, e.g.
// "activity:acme/widgets:alice:2026-08-01..2026-08-07".
func Key(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		cleaned = append(cleaned, trimmed)
	}
	return strings.Join(cleaned, ":")
}
