// Package config provides configuration management for vodarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort         = 8264
	defaultServerTimeout      = 30 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultParallelTasks      = 3
	defaultSegmentConcurrency = 5
	defaultTrackConcurrency   = 16
	defaultRetryMaxAttempts   = 10000
	defaultRetryBaseDelay     = 500 * time.Millisecond
	defaultRetryMaxDelay      = 30 * time.Second
	defaultTaskTimeout        = 2 * time.Hour
	defaultProcessTimeout     = 2 * time.Hour
	defaultResolverTimeout    = 30 * time.Second
	defaultCatalogTimeout     = 15 * time.Second
	defaultMaxPlaylistSize    = 10 * 1024 * 1024 // 10MB
	defaultTaskRetention      = 24 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Download    DownloadConfig    `mapstructure:"download"`
	Resolver    ResolverConfig    `mapstructure:"resolver"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	FFmpeg      FFmpegConfig      `mapstructure:"ffmpeg"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	// DownloadDir is the root for completed artifacts.
	DownloadDir string `mapstructure:"download_dir"`
	// TempDir is the root for per-task scratch directories.
	TempDir string `mapstructure:"temp_dir"`
	// MinFreeSpace rejects new tasks when the download volume has less
	// free space. Supports human-readable values like "2GB". Zero disables.
	MinFreeSpace ByteSize `mapstructure:"min_free_space"`
}

// DownloadConfig holds the download engine configuration.
type DownloadConfig struct {
	// ParallelTasks bounds the number of tasks in active orchestration.
	ParallelTasks int `mapstructure:"parallel_tasks"`
	// SegmentConcurrency bounds parallel segment fetches per track.
	SegmentConcurrency int `mapstructure:"segment_concurrency"`
	// TrackConcurrency bounds track pipelines across all tasks, keeping
	// batch admits from fanning out without limit.
	TrackConcurrency int `mapstructure:"track_concurrency"`
	// DefaultQuality is "best", "worst" or a height hint like "1080".
	DefaultQuality string `mapstructure:"default_quality"`
	// DefaultLanguages is the language preference order for new tasks.
	DefaultLanguages []string `mapstructure:"default_languages"`
	// RetryMaxAttempts is the per-segment retry ceiling. Must be finite.
	RetryMaxAttempts int `mapstructure:"retry_max_attempts"`
	// RetryBaseDelay is the exponential backoff base.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	// RetryMaxDelay is the exponential backoff ceiling.
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay"`
	// TaskTimeout is the hard wall clock on a task's track downloads.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// MaxPlaylistSize limits playlist documents read into memory.
	MaxPlaylistSize ByteSize `mapstructure:"max_playlist_size"`
}

// ResolverConfig holds embed provider configuration.
type ResolverConfig struct {
	// BaseURL is the referer base for the embed provider.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the network timeout for playlist resolution.
	Timeout time.Duration `mapstructure:"timeout"`
}

// CatalogConfig holds the external metadata catalog configuration.
type CatalogConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	// BinaryPath is the ffmpeg binary path (empty = auto-detect).
	BinaryPath string `mapstructure:"binary_path"`
	// ProcessTimeout is the per-invocation wall clock.
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// MaintenanceConfig holds background maintenance configuration.
type MaintenanceConfig struct {
	// Enabled turns on the periodic sweep.
	Enabled bool `mapstructure:"enabled"`
	// Cron is a 6-field cron expression for the sweep schedule.
	Cron string `mapstructure:"cron"`
	// TaskRetention evicts terminal tasks older than this.
	TaskRetention time.Duration `mapstructure:"task_retention"`
	// OrphanAge is the minimum age before a scratch dir counts as orphaned.
	OrphanAge time.Duration `mapstructure:"orphan_age"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with VODARR_, using underscores for nesting.
// Example: VODARR_DOWNLOAD_PARALLEL_TASKS=5.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vodarr")
		v.AddConfigPath("$HOME/.vodarr")
	}

	v.SetEnvPrefix("VODARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Storage defaults
	v.SetDefault("storage.download_dir", "./downloads")
	v.SetDefault("storage.temp_dir", "./tmp")
	v.SetDefault("storage.min_free_space", 0)

	// Download defaults
	v.SetDefault("download.parallel_tasks", defaultParallelTasks)
	v.SetDefault("download.segment_concurrency", defaultSegmentConcurrency)
	v.SetDefault("download.track_concurrency", defaultTrackConcurrency)
	v.SetDefault("download.default_quality", "best")
	v.SetDefault("download.default_languages", []string{"en"})
	v.SetDefault("download.retry_max_attempts", defaultRetryMaxAttempts)
	v.SetDefault("download.retry_base_delay", defaultRetryBaseDelay)
	v.SetDefault("download.retry_max_delay", defaultRetryMaxDelay)
	v.SetDefault("download.task_timeout", defaultTaskTimeout)
	v.SetDefault("download.max_playlist_size", defaultMaxPlaylistSize)

	// Resolver defaults
	v.SetDefault("resolver.base_url", "")
	v.SetDefault("resolver.timeout", defaultResolverTimeout)

	// Catalog defaults
	v.SetDefault("catalog.base_url", "")
	v.SetDefault("catalog.api_key", "")
	v.SetDefault("catalog.timeout", defaultCatalogTimeout)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.process_timeout", defaultProcessTimeout)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.cron", "0 */15 * * * *") // every 15 minutes
	v.SetDefault("maintenance.task_retention", defaultTaskRetention)
	v.SetDefault("maintenance.orphan_age", time.Hour)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Storage.DownloadDir == "" {
		return fmt.Errorf("storage.download_dir is required")
	}
	if c.Storage.TempDir == "" {
		return fmt.Errorf("storage.temp_dir is required")
	}

	if c.Download.ParallelTasks < 1 {
		return fmt.Errorf("download.parallel_tasks must be at least 1")
	}
	if c.Download.SegmentConcurrency < 1 {
		return fmt.Errorf("download.segment_concurrency must be at least 1")
	}
	if c.Download.TrackConcurrency < 1 {
		return fmt.Errorf("download.track_concurrency must be at least 1")
	}
	// The retry budget is deliberately generous, but it must be finite.
	if c.Download.RetryMaxAttempts < 1 {
		return fmt.Errorf("download.retry_max_attempts must be at least 1")
	}
	if c.Download.RetryBaseDelay <= 0 {
		return fmt.Errorf("download.retry_base_delay must be positive")
	}
	if c.Download.RetryMaxDelay < c.Download.RetryBaseDelay {
		return fmt.Errorf("download.retry_max_delay must be >= retry_base_delay")
	}
	if len(c.Download.DefaultLanguages) == 0 {
		return fmt.Errorf("download.default_languages must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
