package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Wait blocks until a request may proceed or ctx is done
	Wait(ctx context.Context) error
}

// TokenBucket is a Limiter refilling at a steady rate up to a burst size
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket allows one request per interval with bursts of up to burst
func NewTokenBucket(interval time.Duration, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

// NewPerMinute builds a limiter from a requests-per-minute setting. A
// non-positive rate yields an unlimited limiter.
func NewPerMinute(requestsPerMinute, burst int) Limiter {
	if requestsPerMinute <= 0 {
		return Unlimited()
	}
	return NewTokenBucket(time.Minute/time.Duration(requestsPerMinute), burst)
}

// Wait blocks until a token is available or ctx is done
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.limiter.Wait(ctx)
}

type unlimited struct{}

// Unlimited returns a limiter that never blocks
func Unlimited() Limiter {
	return unlimited{}
}

func (unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}
