// Package ratelimit throttles outgoing requests to the upstream API.
//
// The Limiter interface is backed by golang.org/x/time/rate. A client
// shares one limiter across every batch of a session so that concurrent
// tasks cannot exceed the configured request rate together.
//
// Usage:
//
//	limiter := ratelimit.NewPerMinute(60, 5)
//	if err := limiter.Wait(ctx); err != nil {
//		return err
//	}
//
// Unlimited returns a limiter that never blocks, for tests and for a
// configured rate of zero.
package ratelimit
