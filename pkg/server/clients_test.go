package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"instaclean/pkg/config"
)

func TestLimiterPoolSharesPerAccount(t *testing.T) {
	pool := newLimiterPool(config.RateLimitConfig{RequestsPerMinute: 60, BurstSize: 2})

	a := pool.get("1000")
	assert.Same(t, a, pool.get("1000"))
	pool.get("2000")
	assert.Equal(t, 2, pool.len())

	dropped := pool.retain(func(userID string) bool { return userID == "2000" })
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, pool.len())
	assert.NotSame(t, a, pool.get("1000"), "a dropped account gets a fresh limiter")
}
