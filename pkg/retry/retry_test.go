package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"instaclean/pkg/config"
	errs "instaclean/pkg/errors"
	"instaclean/pkg/logger"
)

func fastConfig(attempts int) *Config {
	cfg := DefaultConfig()
	cfg.MaxAttempts = attempts
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	cfg.JitterFactor = 0
	return cfg
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errs.New(errs.ErrorTypeServerError, 502, "bad gateway")
		}
		return nil
	}, fastConfig(3))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	tl := logger.NewTestLogger()
	cfg := fastConfig(3)
	cfg.Logger = tl

	var retried []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	}

	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return errs.New(errs.ErrorTypeNetwork, 0, "connection reset")
	}, cfg)

	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeNetwork, errs.TypeOf(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
	assert.Len(t, tl.GetMessagesByLevel("WARN"), 2)
	assert.True(t, tl.HasMessage("max retry attempts exceeded"))
}

func TestDoDoesNotRetryAbortErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"rate limit", errs.RateLimited("slow down")},
		{"auth", errs.AuthExpired("login_required")},
		{"not found", errs.NotFound("no such user")},
		{"untyped", errors.New("parse failure")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), func() error {
				calls++
				return tt.err
			}, fastConfig(5))

			assert.Equal(t, 1, calls)
			assert.Equal(t, errs.TypeOf(tt.err), errs.TypeOf(err))
		})
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(0)
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, func() error {
			calls++
			return errs.New(errs.ErrorTypeNetwork, 0, "dial")
		}, cfg)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancel")
	}
	assert.Equal(t, 1, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errs.New(errs.ErrorTypeNetwork, 0, "timeout")
		}
		return "12345", nil
	}, fastConfig(2))

	require.NoError(t, err)
	assert.Equal(t, "12345", got)
}

func TestDefaultRetryIf(t *testing.T) {
	assert.False(t, DefaultRetryIf(nil))
	assert.False(t, DefaultRetryIf(context.Canceled))
	assert.True(t, DefaultRetryIf(errs.New(errs.ErrorTypeServerError, 500, "x")))
	assert.False(t, DefaultRetryIf(errs.RateLimited("x")))
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.RetryConfig{Enabled: false, MaxAttempts: 9}, nil)
	assert.Equal(t, 1, cfg.MaxAttempts)

	cfg = FromSettings(config.RetryConfig{
		Enabled:      true,
		MaxAttempts:  4,
		InitialDelay: time.Second,
		MaxDelay:     3 * time.Second,
	}, nil)
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Equal(t, 3*time.Second, cfg.MaxDelay)
}

func TestWait(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), time.Millisecond))
	assert.NoError(t, Wait(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
}
