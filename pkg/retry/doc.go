// Package retry re-runs upstream calls that failed for transient reasons.
//
// Backoff timing comes from github.com/cenkalti/backoff/v4. Only network
// failures and 5xx responses are retried: throttling and expired sessions
// are returned immediately so the batch that hit them can stop.
//
// Usage:
//
//	user, err := retry.DoWithResult(ctx, func() (*User, error) {
//		return client.lookup(ctx, name)
//	}, retry.FromSettings(cfg.Retry, log))
package retry
