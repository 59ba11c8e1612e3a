package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://i.instagram.com/api/v1", cfg.Instagram.APIBaseURL)
	assert.Equal(t, "936619743392459", cfg.Instagram.AppID)
	assert.NotEmpty(t, cfg.Instagram.UserAgent)

	assert.Equal(t, 5*time.Second, cfg.Batch.CancelDelayMin)
	assert.Equal(t, 10*time.Second, cfg.Batch.CancelDelayMax)
	assert.Equal(t, time.Second, cfg.Batch.FetchDelay)
	assert.Equal(t, 200, cfg.Batch.MaxItems)
	assert.Equal(t, 10*time.Minute, cfg.Batch.TaskTTL)
	assert.Equal(t, 60*time.Second, cfg.Batch.HeartbeatInterval)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:5000", cfg.Server.Address())
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("INSTACLEAN_REQUESTS_PER_MINUTE", "30")
	t.Setenv("INSTACLEAN_TASK_TTL", "2m")
	t.Setenv("INSTACLEAN_CANCEL_DELAY_MIN", "1s")
	t.Setenv("INSTACLEAN_LOG_LEVEL", "debug")
	t.Setenv("INSTACLEAN_ALLOWED_ORIGINS", "http://localhost:3000,https://app.example.com")
	t.Setenv("INSTACLEAN_RETRY_ENABLED", "false")
	t.Setenv("PORT", "8081")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 2*time.Minute, cfg.Batch.TaskTTL)
	assert.Equal(t, time.Second, cfg.Batch.CancelDelayMin)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000", "https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Retry.Enabled)

	// Unset variables leave existing values alone.
	assert.Equal(t, 10*time.Second, cfg.Batch.CancelDelayMax)
	assert.Equal(t, "936619743392459", cfg.Instagram.AppID)
}

func TestLoadFromEnvInvalidValue(t *testing.T) {
	t.Setenv("INSTACLEAN_MAX_ITEMS", "lots")

	cfg := DefaultConfig()
	assert.Error(t, cfg.LoadFromEnv())
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "instaclean.yaml")

	content := `
batch:
  cancel_delay_min: 2s
  cancel_delay_max: 4s
  max_items: 50
server:
  port: 9000
  allowed_origins:
    - http://localhost:5173
logging:
  level: warn
  format: json
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(configPath))

	assert.Equal(t, 2*time.Second, cfg.Batch.CancelDelayMin)
	assert.Equal(t, 4*time.Second, cfg.Batch.CancelDelayMax)
	assert.Equal(t, 50, cfg.Batch.MaxItems)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, 10*time.Minute, cfg.Batch.TaskTTL)
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	badPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("server: [unclosed"), 0644))
	err = cfg.LoadFromFile(badPath)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		setupConfig   func(*Config)
		errorContains []string
	}{
		{
			name:        "valid config",
			setupConfig: func(cfg *Config) {},
		},
		{
			name: "inverted cancel delays",
			setupConfig: func(cfg *Config) {
				cfg.Batch.CancelDelayMin = 10 * time.Second
				cfg.Batch.CancelDelayMax = 5 * time.Second
			},
			errorContains: []string{"cancel delay min cannot exceed cancel delay max"},
		},
		{
			name: "invalid batch limits",
			setupConfig: func(cfg *Config) {
				cfg.Batch.MaxItems = 0
				cfg.Batch.TaskTTL = 0
				cfg.Batch.HeartbeatInterval = 0
			},
			errorContains: []string{
				"max items must be positive",
				"task ttl must be positive",
				"heartbeat interval must be positive",
			},
		},
		{
			name: "invalid rate limit",
			setupConfig: func(cfg *Config) {
				cfg.RateLimit.RequestsPerMinute = -1
				cfg.Retry.MaxAttempts = -1
			},
			errorContains: []string{
				"requests per minute cannot be negative",
				"max retry attempts cannot be negative",
			},
		},
		{
			name: "zero rate limit disables throttling",
			setupConfig: func(cfg *Config) {
				cfg.RateLimit.RequestsPerMinute = 0
				cfg.RateLimit.BurstSize = 0
			},
		},
		{
			name: "invalid server and logging",
			setupConfig: func(cfg *Config) {
				cfg.Server.Port = 70000
				cfg.Logging.Level = "verbose"
				cfg.Logging.Format = "xml"
			},
			errorContains: []string{
				"server port must be between 1 and 65535",
				"invalid log level",
				"invalid log format",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.setupConfig(cfg)

			err := cfg.Validate()
			if len(tt.errorContains) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, msg := range tt.errorContains {
				assert.Contains(t, err.Error(), msg)
			}
		})
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Server.Port = 7070
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded Config
	require.NoError(t, yaml.Unmarshal(data, &loaded))
	assert.Equal(t, 7070, loaded.Server.Port)
	assert.Equal(t, cfg.Batch.TaskTTL, loaded.Batch.TaskTTL)
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"host":      "127.0.0.1",
		"port":      8080,
		"log-level": "debug",
		"max-items": 25,
		"ignored":   true,
	})

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 25, cfg.Batch.MaxItems)

	// Zero values do not override.
	cfg.MergeCommandLineFlags(map[string]interface{}{"port": 0, "host": ""})
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestLoadPrecedence(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 6000\nlogging:\n  level: warn\n"), 0644))

	t.Setenv("INSTACLEAN_LOG_LEVEL", "error")

	cfg, err := Load(configPath, map[string]interface{}{"port": 6500})
	require.NoError(t, err)

	assert.Equal(t, 6500, cfg.Server.Port)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("INSTACLEAN_LOG_LEVEL", "chatty")

	_, err := Load(filepath.Join(t.TempDir(), "none.yaml"), nil)
	assert.Error(t, err)
}
