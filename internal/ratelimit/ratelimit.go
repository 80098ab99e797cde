// Package ratelimit caps how many access requests one requester can open in a
// sliding window, so a requester cannot flood subjects with consent prompts.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one AllowN call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, only set when not allowed
}

// Store keeps sliding-window counters. Implementations must be safe for
// concurrent use and must not consume capacity on a denied call.
type Store interface {
	AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*Result, error)
}

// Policy is a limit per window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

// retryAfterSeconds rounds up so a client retrying exactly then succeeds.
func retryAfterSeconds(now, resetAt time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
