// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPort is returned when PORT is outside 1-65535.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrInvalidUploadLimit is returned when MAX_UPLOAD_MB is not positive.
	ErrInvalidUploadLimit = errors.New("config: MAX_UPLOAD_MB must be positive")
	// ErrInvalidConcurrency is returned when MAX_CONCURRENT_TASKS is not positive.
	ErrInvalidConcurrency = errors.New("config: MAX_CONCURRENT_TASKS must be positive")
	// ErrInvalidDefaults is returned when the default window parameters cannot produce windows.
	ErrInvalidDefaults = errors.New("config: DEFAULT_OVERLAP_SECONDS must be non-negative and shorter than DEFAULT_MAX_DURATION_MINUTES")
	// ErrInvalidTimeout is returned when TASK_TIMEOUT is negative.
	ErrInvalidTimeout = errors.New("config: TASK_TIMEOUT must not be negative")
	// ErrInvalidRetention is returned when garbage collection is enabled with a non-positive RETENTION.
	ErrInvalidRetention = errors.New("config: RETENTION must be positive when GC_SCHEDULE is set")
)

// gcDisabled turns the janitor off when used as GC_SCHEDULE.
const gcDisabled = "off"

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port        int `env:"PORT, default=8080" json:"port"`
	MaxUploadMB int `env:"MAX_UPLOAD_MB, default=512" json:"max_upload_mb"`

	// Storage settings
	ScratchDir string `env:"SCRATCH_DIR, default=/tmp/audiosplit" json:"scratch_dir"`

	// Splitting defaults applied when a request omits them
	DefaultMaxDurationMinutes int `env:"DEFAULT_MAX_DURATION_MINUTES, default=10" json:"default_max_duration_minutes"`
	DefaultOverlapSeconds     int `env:"DEFAULT_OVERLAP_SECONDS, default=60" json:"default_overlap_seconds"`

	// Processing settings
	MaxConcurrentTasks int           `env:"MAX_CONCURRENT_TASKS, default=2" json:"max_concurrent_tasks"`
	TaskTimeout        time.Duration `env:"TASK_TIMEOUT, default=30m" json:"task_timeout"`
	FFmpegPath         string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath        string        `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Garbage collection settings
	Retention  time.Duration `env:"RETENTION, default=1h" json:"retention"`
	GCSchedule string        `env:"GC_SCHEDULE, default=@every 5m" json:"gc_schedule"` // cron spec or "off"

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// GCEnabled returns true if the janitor should run.
func (c *Config) GCEnabled() bool {
	schedule := strings.TrimSpace(c.GCSchedule)
	return schedule != "" && !strings.EqualFold(schedule, gcDisabled)
}

// MaxUploadBytes returns the request body limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configured limits are usable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.MaxUploadMB <= 0 {
		return ErrInvalidUploadLimit
	}
	if c.MaxConcurrentTasks <= 0 {
		return ErrInvalidConcurrency
	}
	if c.DefaultMaxDurationMinutes <= 0 ||
		c.DefaultOverlapSeconds < 0 ||
		c.DefaultOverlapSeconds >= c.DefaultMaxDurationMinutes*60 {
		return ErrInvalidDefaults
	}
	if c.TaskTimeout < 0 {
		return ErrInvalidTimeout
	}
	if c.GCEnabled() && c.Retention <= 0 {
		return ErrInvalidRetention
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, ScratchDir: %s, MaxUploadMB: %d, DefaultMaxDurationMinutes: %d, DefaultOverlapSeconds: %d, MaxConcurrentTasks: %d, TaskTimeout: %s, Retention: %s, GCSchedule: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.ScratchDir,
		c.MaxUploadMB,
		c.DefaultMaxDurationMinutes,
		c.DefaultOverlapSeconds,
		c.MaxConcurrentTasks,
		c.TaskTimeout,
		c.Retention,
		c.GCSchedule,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
