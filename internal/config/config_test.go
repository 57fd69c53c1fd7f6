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

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)

	assert.Equal(t, "karaforge.db", cfg.Database.DSN)
	assert.Equal(t, "./data", cfg.Storage.BaseDir)
	assert.Equal(t, int64(500*1024*1024), cfg.Storage.MaxUploadSize.Bytes())

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, "yt-dlp", cfg.Fetcher.BinaryPath)
	assert.Equal(t, 60*time.Second, cfg.Fetcher.SocketTimeout)
	assert.Equal(t, 3, cfg.Fetcher.Retries)

	assert.Equal(t, "mdx_extra_q", cfg.Separator.Model)
	assert.Equal(t, "cpu", cfg.Separator.Device)
	assert.Equal(t, 40*time.Minute, cfg.Separator.RunTimeout)
	assert.Equal(t, 15*time.Second, cfg.Separator.WaitTimeout)

	assert.Equal(t, "large-v2", cfg.Recognizer.ModelTag)
	assert.Equal(t, "auto", cfg.Recognizer.DefaultLanguage)

	assert.False(t, cfg.Lyrics.Enabled())
	assert.Equal(t, "https://api.genius.com", cfg.Lyrics.APIURL)

	assert.Equal(t, 50, cfg.Alignment.MatchThreshold)
	assert.Equal(t, 50, cfg.Alignment.BaseWindow)
	assert.Equal(t, 5*time.Second, cfg.Alignment.TimeTolerance)

	assert.Equal(t, 2, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, time.Hour, cfg.Jobs.ProgressTTL)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9000
separator:
  model: htdemucs
  device: cuda
jobs:
  max_concurrent: 4
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "htdemucs", cfg.Separator.Model)
	assert.Equal(t, "cuda", cfg.Separator.Device)
	assert.Equal(t, 4, cfg.Jobs.MaxConcurrent)
	// Unset values keep defaults
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("KARAFORGE_SERVER_PORT", "8123")
	t.Setenv("KARAFORGE_LYRICS_API_TOKEN", "token-xyz")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.Server.Port)
	assert.True(t, cfg.Lyrics.Enabled())
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [not a map"), 0o644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		var cfg Config
		require.NoError(t, v.Unmarshal(&cfg))
		return &cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad rate limit", func(c *Config) { c.Server.RateLimitRequests = 0 }, "rate_limit_requests"},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, "database.dsn"},
		{"empty base dir", func(c *Config) { c.Storage.BaseDir = "" }, "storage.base_dir"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"negative retries", func(c *Config) { c.Fetcher.Retries = -1 }, "fetcher.retries"},
		{"empty separator model", func(c *Config) { c.Separator.Model = "" }, "separator.model"},
		{"bad device", func(c *Config) { c.Separator.Device = "tpu" }, "separator.device"},
		{"bad threshold", func(c *Config) { c.Alignment.MatchThreshold = 150 }, "match_threshold"},
		{"zero concurrency", func(c *Config) { c.Jobs.MaxConcurrent = 0 }, "max_concurrent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 8000}
	assert.Equal(t, "127.0.0.1:8000", cfg.Address())
}

func TestStorageConfig_Paths(t *testing.T) {
	cfg := StorageConfig{BaseDir: "/var/lib/karaforge", DownloadsDir: "downloads", ProcessedDir: "processed"}
	assert.Equal(t, "/var/lib/karaforge/downloads", cfg.DownloadsPath())
	assert.Equal(t, "/var/lib/karaforge/processed", cfg.ProcessedPath())
}

func TestLyricsConfig_Enabled(t *testing.T) {
	assert.False(t, (&LyricsConfig{}).Enabled())
	assert.True(t, (&LyricsConfig{APIToken: "abc"}).Enabled())
}
