package server

import (
	"context"
	"sync"

	"instaclean/internal/executor"
	"instaclean/pkg/config"
	"instaclean/pkg/instagram"
	"instaclean/pkg/logger"
	"instaclean/pkg/ratelimit"
	"instaclean/pkg/retry"
)

// Upstream is everything the handlers and executors need from the API
type Upstream interface {
	executor.Client
	ValidateSession(ctx context.Context) (*instagram.User, error)
	PendingRequests(ctx context.Context) ([]instagram.User, error)
	NotFollowingBack(ctx context.Context) ([]instagram.User, error)
	FetchImage(ctx context.Context, url string) ([]byte, string, error)
}

// ClientFactory builds an upstream client bound to one account's cookies
type ClientFactory func(creds instagram.Credentials) Upstream

// limiterPool hands out one rate limiter per account
type limiterPool struct {
	mu     sync.Mutex
	rpm    int
	burst  int
	byUser map[string]ratelimit.Limiter
}

func newLimiterPool(cfg config.RateLimitConfig) *limiterPool {
	return &limiterPool{
		rpm:    cfg.RequestsPerMinute,
		burst:  cfg.BurstSize,
		byUser: make(map[string]ratelimit.Limiter),
	}
}

func (p *limiterPool) get(userID string) ratelimit.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	lim, ok := p.byUser[userID]
	if !ok {
		lim = ratelimit.NewPerMinute(p.rpm, p.burst)
		p.byUser[userID] = lim
	}
	return lim
}

// retain drops the limiters of accounts keep rejects and returns how many
// were dropped. Clients already built keep their limiter.
func (p *limiterPool) retain(keep func(userID string) bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for userID := range p.byUser {
		if !keep(userID) {
			delete(p.byUser, userID)
			n++
		}
	}
	return n
}

func (p *limiterPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byUser)
}

// newClientFactory returns a factory for real clients configured from cfg.
// Clients for the same account share the pool's limiter.
func newClientFactory(cfg *config.Config, log logger.Logger, limiters *limiterPool) ClientFactory {
	retryCfg := retry.FromSettings(cfg.Retry, log)

	return func(creds instagram.Credentials) Upstream {
		return instagram.NewClient(creds, instagram.Options{
			Timeout:    cfg.Instagram.RequestTimeout,
			APIBaseURL: cfg.Instagram.APIBaseURL,
			WebBaseURL: cfg.Instagram.WebBaseURL,
			UserAgent:  cfg.Instagram.UserAgent,
			AppID:      cfg.Instagram.AppID,
			PageDelay:  cfg.Batch.FetchDelay,
			Limiter:    limiters.get(creds.DSUserID),
			Retry:      retryCfg,
			Logger:     log,
		})
	}
}
