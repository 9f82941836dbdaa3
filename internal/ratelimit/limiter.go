// Package ratelimit throttles unauthenticated endpoints per client. A redis
// token bucket is shared across replicas; without redis each process keeps
// its own sliding window.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrEmptyKey = errors.New("rate limiter key is empty")

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiters holds one limiter per throttled endpoint group.
type Limiters struct {
	Login         Limiter
	PasswordReset Limiter
}
