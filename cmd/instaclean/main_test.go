package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"instaclean/pkg/config"
	"instaclean/pkg/logger"
	"instaclean/pkg/ui"
)

func TestConfigWarnings(t *testing.T) {
	assert.Empty(t, configWarnings(config.DefaultConfig()))

	cfg := config.DefaultConfig()
	cfg.Batch.CancelDelayMin = time.Second
	cfg.RateLimit.RequestsPerMinute = 0
	cfg.Server.AllowedOrigins = []string{"https://app.example.com"}
	assert.Len(t, configWarnings(cfg), 3)
}

func TestConfigInitRefusesToOverwrite(t *testing.T) {
	ui.Output = &discard{}
	t.Cleanup(func() { ui.Output = os.Stdout })

	path := filepath.Join(t.TempDir(), "instaclean.yaml")
	configFile = path
	t.Cleanup(func() { configFile = "" })

	require.NoError(t, runConfigInit(configInitCmd, nil))

	cfg := config.DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))
	assert.Equal(t, config.DefaultConfig().Batch, cfg.Batch)

	assert.Error(t, runConfigInit(configInitCmd, nil))
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, logger.NewTestLogger())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
