package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the follow request manager
type Config struct {
	// Upstream API settings
	Instagram InstagramConfig `yaml:"instagram" json:"instagram"`

	// Batch pacing and task lifetime
	Batch BatchConfig `yaml:"batch" json:"batch"`

	// Client-side throttle for upstream requests
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Transport retry policy
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// HTTP server settings
	Server ServerConfig `yaml:"server" json:"server"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// InstagramConfig holds upstream endpoint and client identity settings
type InstagramConfig struct {
	APIBaseURL     string        `yaml:"api_base_url" json:"api_base_url" env:"INSTACLEAN_API_BASE_URL, overwrite"`
	WebBaseURL     string        `yaml:"web_base_url" json:"web_base_url" env:"INSTACLEAN_WEB_BASE_URL, overwrite"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent" env:"INSTACLEAN_USER_AGENT, overwrite"`
	AppID          string        `yaml:"app_id" json:"app_id" env:"INSTACLEAN_APP_ID, overwrite"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" env:"INSTACLEAN_REQUEST_TIMEOUT, overwrite"`
}

// BatchConfig holds pacing for batch tasks
type BatchConfig struct {
	CancelDelayMin    time.Duration `yaml:"cancel_delay_min" json:"cancel_delay_min" env:"INSTACLEAN_CANCEL_DELAY_MIN, overwrite"`
	CancelDelayMax    time.Duration `yaml:"cancel_delay_max" json:"cancel_delay_max" env:"INSTACLEAN_CANCEL_DELAY_MAX, overwrite"`
	FetchDelay        time.Duration `yaml:"fetch_delay" json:"fetch_delay" env:"INSTACLEAN_FETCH_DELAY, overwrite"`
	MaxItems          int           `yaml:"max_items" json:"max_items" env:"INSTACLEAN_MAX_ITEMS, overwrite"`
	MaxLookupItems    int           `yaml:"max_lookup_items" json:"max_lookup_items" env:"INSTACLEAN_MAX_LOOKUP_ITEMS, overwrite"`
	TaskTTL           time.Duration `yaml:"task_ttl" json:"task_ttl" env:"INSTACLEAN_TASK_TTL, overwrite"`
	SweepInterval     time.Duration `yaml:"sweep_interval" json:"sweep_interval" env:"INSTACLEAN_SWEEP_INTERVAL, overwrite"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval" env:"INSTACLEAN_HEARTBEAT_INTERVAL, overwrite"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute" env:"INSTACLEAN_REQUESTS_PER_MINUTE, overwrite"`
	BurstSize         int `yaml:"burst_size" json:"burst_size" env:"INSTACLEAN_BURST_SIZE, overwrite"`
}

// RetryConfig holds retry configuration for transient upstream failures
type RetryConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts" env:"INSTACLEAN_RETRY_MAX_ATTEMPTS, overwrite"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay" env:"INSTACLEAN_RETRY_INITIAL_DELAY, overwrite"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay" env:"INSTACLEAN_RETRY_MAX_DELAY, overwrite"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host           string        `yaml:"host" json:"host" env:"INSTACLEAN_HOST, overwrite"`
	Port           int           `yaml:"port" json:"port" env:"PORT, overwrite"`
	AllowedOrigins []string      `yaml:"allowed_origins" json:"allowed_origins" env:"INSTACLEAN_ALLOWED_ORIGINS, overwrite"`
	SessionTTL     time.Duration `yaml:"session_ttl" json:"session_ttl" env:"INSTACLEAN_SESSION_TTL, overwrite"`
	SecureCookies  bool          `yaml:"secure_cookies" json:"secure_cookies"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" json:"max_upload_bytes" env:"INSTACLEAN_MAX_UPLOAD_BYTES, overwrite"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"INSTACLEAN_LOG_LEVEL, overwrite"`
	File   string `yaml:"file" json:"file" env:"INSTACLEAN_LOG_FILE, overwrite"`
	Format string `yaml:"format" json:"format" env:"INSTACLEAN_LOG_FORMAT, overwrite"`
}

// Address returns the listen address for the HTTP server
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Instagram: InstagramConfig{
			APIBaseURL: "https://i.instagram.com/api/v1",
			WebBaseURL: "https://www.instagram.com",
			UserAgent: "Instagram 317.0.0.34.109 Android (30/11; 420dpi; 1080x2220; " +
				"samsung; SM-A515F; a51; exynos9611; en_US; 562800748)",
			AppID:          "936619743392459",
			RequestTimeout: 15 * time.Second,
		},
		Batch: BatchConfig{
			CancelDelayMin:    5 * time.Second,
			CancelDelayMax:    10 * time.Second,
			FetchDelay:        time.Second,
			MaxItems:          200,
			MaxLookupItems:    1000,
			TaskTTL:           10 * time.Minute,
			SweepInterval:     5 * time.Minute,
			HeartbeatInterval: 60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         5,
		},
		Retry: RetryConfig{
			Enabled:      true,
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           5000,
			SessionTTL:     time.Hour,
			MaxUploadBytes: 500 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if err := envconfig.Process(context.Background(), c); err != nil {
		return fmt.Errorf("failed to process environment: %w", err)
	}

	// Booleans cannot use overwrite semantics without clobbering file values.
	if v := os.Getenv("INSTACLEAN_RETRY_ENABLED"); v != "" {
		c.Retry.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("INSTACLEAN_SECURE_COOKIES"); v != "" {
		c.Server.SecureCookies = strings.EqualFold(v, "true")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		"instaclean.yaml",
		"instaclean.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "instaclean", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".instaclean.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Instagram.APIBaseURL == "" {
		errs = append(errs, errors.New("instagram api base url is required"))
	}
	if c.Instagram.WebBaseURL == "" {
		errs = append(errs, errors.New("instagram web base url is required"))
	}
	if c.Instagram.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}

	if c.Batch.CancelDelayMin < 0 || c.Batch.CancelDelayMax < 0 || c.Batch.FetchDelay < 0 {
		errs = append(errs, errors.New("batch delays cannot be negative"))
	}
	if c.Batch.CancelDelayMin > c.Batch.CancelDelayMax {
		errs = append(errs, errors.New("cancel delay min cannot exceed cancel delay max"))
	}
	if c.Batch.MaxItems <= 0 {
		errs = append(errs, errors.New("max items must be positive"))
	}
	if c.Batch.MaxLookupItems <= 0 {
		errs = append(errs, errors.New("max lookup items must be positive"))
	}
	if c.Batch.TaskTTL <= 0 {
		errs = append(errs, errors.New("task ttl must be positive"))
	}
	if c.Batch.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep interval must be positive"))
	}
	if c.Batch.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat interval must be positive"))
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}

	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("max retry attempts cannot be negative"))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server port must be between 1 and 65535"))
	}
	if c.Server.SessionTTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, errors.New("invalid log format"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if host, ok := flags["host"].(string); ok && host != "" {
		c.Server.Host = host
	}
	if port, ok := flags["port"].(int); ok && port > 0 {
		c.Server.Port = port
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat, ok := flags["log-format"].(string); ok && logFormat != "" {
		c.Logging.Format = logFormat
	}
	if maxItems, ok := flags["max-items"].(int); ok && maxItems > 0 {
		c.Batch.MaxItems = maxItems
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".instaclean.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
