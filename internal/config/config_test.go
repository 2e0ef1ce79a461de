package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	// Explicit missing file is an error; discovery mode is not.
	assert.Error(t, err)

	cfg, err = Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Download.ParallelTasks)
	assert.Equal(t, 5, cfg.Download.SegmentConcurrency)
	assert.Equal(t, "best", cfg.Download.DefaultQuality)
	assert.Equal(t, []string{"en"}, cfg.Download.DefaultLanguages)
	assert.Equal(t, 500*time.Millisecond, cfg.Download.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Download.RetryMaxDelay)
	assert.Equal(t, 2*time.Hour, cfg.Download.TaskTimeout)
	assert.Equal(t, 2*time.Hour, cfg.FFmpeg.ProcessTimeout)
	assert.Positive(t, cfg.Download.RetryMaxAttempts)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  download_dir: /media/library
  temp_dir: /media/tmp
  min_free_space: 2GB
download:
  parallel_tasks: 5
  default_languages: [en, it]
logging:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/media/library", cfg.Storage.DownloadDir)
	assert.Equal(t, int64(2*1024*1024*1024), cfg.Storage.MinFreeSpace.Bytes())
	assert.Equal(t, 5, cfg.Download.ParallelTasks)
	assert.Equal(t, []string{"en", "it"}, cfg.Download.DefaultLanguages)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		var cfg Config
		require.NoError(t, v.Unmarshal(&cfg))
		return &cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero parallel tasks", func(c *Config) { c.Download.ParallelTasks = 0 }},
		{"zero segment concurrency", func(c *Config) { c.Download.SegmentConcurrency = 0 }},
		{"unbounded retries", func(c *Config) { c.Download.RetryMaxAttempts = 0 }},
		{"max delay below base", func(c *Config) { c.Download.RetryMaxDelay = time.Millisecond }},
		{"empty languages", func(c *Config) { c.Download.DefaultLanguages = nil }},
		{"empty download dir", func(c *Config) { c.Storage.DownloadDir = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestByteSizeUnmarshal(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("5MB")))
	assert.Equal(t, int64(5*1024*1024), b.Bytes())

	require.NoError(t, b.UnmarshalJSON([]byte(`"1.5 GB"`)))
	assert.Equal(t, int64(1.5*1024*1024*1024), b.Bytes())

	require.NoError(t, b.UnmarshalJSON([]byte(`1024`)))
	assert.Equal(t, int64(1024), b.Bytes())
}
