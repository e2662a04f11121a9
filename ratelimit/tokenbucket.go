package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// TokenBucket throttles at ratePerSec tokens/second with burst capacity,
// wrapping golang.org/x/time/rate.Limiter rather than hand-rolling refill
// arithmetic (the pack already pulls this dependency; see DESIGN.md).
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket constructs a throttle refilling at ratePerSec tokens/second
// up to burst tokens.
func NewTokenBucket(ratePerSec float64, burst int) *TokenBucket {
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// TryAcquire succeeds immediately when at least one token is available,
// deducting it. It never blocks.
func (t *TokenBucket) TryAcquire() bool {
	return t.limiter.Allow()
}

// Acquire waits up to the context's deadline for a token to become
// available, deducting it on success.
func (t *TokenBucket) Acquire(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// Tokens reports the current token count, for diagnostics.
func (t *TokenBucket) Tokens() float64 {
	return t.limiter.Tokens()
}
