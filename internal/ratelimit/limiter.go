// Package ratelimit caps how often verification e-mails go out per
// (subject, purpose). It is a cost control, not the security boundary.
package ratelimit

import (
	"context"
	"time"
)

type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

type Limiter interface {
	// Allow consumes one unit for key in a fixed window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}
