// Package ratelimit implements sliding-window request limits backed by Redis with an
// in-memory fallback.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// keyPrefix namespaces limiter keys in the shared Redis database.
const keyPrefix = "billing:ratelimit:"

// ErrLimitExceeded indicates the rate limit has been reached for the key.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Limiter counts requests per key inside a sliding window.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Result captures the outcome of a rate-limit evaluation.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait before the window frees a slot, never less than one second.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	if r == nil || r.ResetAt.IsZero() {
		return time.Second
	}
	wait := r.ResetAt.Sub(now).Truncate(time.Second)
	if wait < time.Second {
		return time.Second
	}
	return wait
}

// Key scopes a client address to one group of routes, so webhook traffic and API
// traffic from the same address are counted separately.
func Key(scope, client string) string {
	return scope + ":" + client
}
