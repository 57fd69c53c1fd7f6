// Package config provides configuration management for karaforge using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8000
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultRateLimit       = 60
	defaultRateWindow      = time.Minute

	defaultMaxUploadBytes = 500 * 1024 * 1024 // 500MiB

	defaultFetchSocketTimeout = 60 * time.Second
	defaultFetchRetries       = 3
	defaultSuggestionCount    = 5

	defaultSeparatorModel    = "mdx_extra_q"
	defaultSeparatorVersion  = "4.0.1"
	defaultSeparatorTimeout  = 40 * time.Minute
	defaultStemWaitTimeout   = 15 * time.Second
	defaultStemCheckInterval = 500 * time.Millisecond

	defaultRecognizerModelTag = "large-v2"

	defaultLyricsMaxHits = 15

	defaultMatchThreshold = 50
	defaultBaseWindow     = 50
	defaultShrunkWindow   = 35
	defaultExtendedWindow = 100
	defaultTimeTolerance  = 5 * time.Second
	defaultWideTolerance  = 15 * time.Second

	defaultSubtitleFont = "Poppins Bold"
	defaultSubtitleSize = 30

	defaultMaxConcurrentJobs = 2
	defaultProgressTTL       = time.Hour
	defaultCleanupInterval   = 5 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Separator  SeparatorConfig  `mapstructure:"separator"`
	Recognizer RecognizerConfig `mapstructure:"recognizer"`
	Lyrics     LyricsConfig     `mapstructure:"lyrics"`
	Alignment  AlignmentConfig  `mapstructure:"alignment"`
	Subtitles  SubtitlesConfig  `mapstructure:"subtitles"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	FFmpeg     FFmpegConfig     `mapstructure:"ffmpeg"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

// DatabaseConfig holds the job-history database configuration.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration. Cached separation and
// transcription artifacts live inside the processed directory so the
// static mount can serve them.
type StorageConfig struct {
	BaseDir       string   `mapstructure:"base_dir"`
	DownloadsDir  string   `mapstructure:"downloads_dir"`
	ProcessedDir  string   `mapstructure:"processed_dir"`
	MaxUploadSize ByteSize `mapstructure:"max_upload_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FetcherConfig holds media fetcher configuration.
type FetcherConfig struct {
	BinaryPath      string        `mapstructure:"binary_path"` // Path to yt-dlp binary (empty = $PATH lookup)
	SocketTimeout   time.Duration `mapstructure:"socket_timeout"`
	Retries         int           `mapstructure:"retries"`
	SuggestionCount int           `mapstructure:"suggestion_count"`
}

// SeparatorConfig holds source separator configuration.
type SeparatorConfig struct {
	PythonPath    string        `mapstructure:"python_path"` // Python interpreter used to run the separator module
	Model         string        `mapstructure:"model"`
	Device        string        `mapstructure:"device"`         // cuda, cpu
	EngineVersion string        `mapstructure:"engine_version"` // Installed separator package version, part of the stem cache identity
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
	WaitTimeout   time.Duration `mapstructure:"wait_timeout"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// RecognizerConfig holds speech recognizer configuration.
type RecognizerConfig struct {
	ModelPath       string `mapstructure:"model_path"` // Path to the ggml model file
	ModelTag        string `mapstructure:"model_tag"`  // Logical model name used in cache identity
	DefaultLanguage string `mapstructure:"default_language"`
	UseGPU          bool   `mapstructure:"use_gpu"`
}

// LyricsConfig holds lyric provider configuration.
type LyricsConfig struct {
	APIToken string `mapstructure:"api_token"`
	APIURL   string `mapstructure:"api_url"`
	WebURL   string `mapstructure:"web_url"`
	MaxHits  int    `mapstructure:"max_hits"`
}

// Enabled reports whether the lyric provider can be used.
func (c *LyricsConfig) Enabled() bool {
	return c.APIToken != ""
}

// AlignmentConfig holds lyric alignment tuning parameters.
type AlignmentConfig struct {
	MatchThreshold int           `mapstructure:"match_threshold"`
	BaseWindow     int           `mapstructure:"base_window"`
	ShrunkWindow   int           `mapstructure:"shrunk_window"`
	ExtendedWindow int           `mapstructure:"extended_window"`
	TimeTolerance  time.Duration `mapstructure:"time_tolerance"`
	WideTolerance  time.Duration `mapstructure:"wide_tolerance"`
}

// SubtitlesConfig holds subtitle style defaults.
type SubtitlesConfig struct {
	Font        string `mapstructure:"font"`
	DefaultSize int    `mapstructure:"default_size"`
}

// JobsConfig holds orchestrator concurrency and retention configuration.
type JobsConfig struct {
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	ProgressTTL     time.Duration `mapstructure:"progress_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = $PATH lookup)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = $PATH lookup)
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with KARAFORGE_ and use underscores for nesting.
// Example: KARAFORGE_SERVER_PORT=8000.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/karaforge")
		v.AddConfigPath("$HOME/.karaforge")
	}

	// Environment variable settings
	v.SetEnvPrefix("KARAFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
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
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_requests", defaultRateLimit)
	v.SetDefault("server.rate_limit_window", defaultRateWindow)

	// Database defaults
	v.SetDefault("database.dsn", "karaforge.db")
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.downloads_dir", "downloads")
	v.SetDefault("storage.processed_dir", "processed")
	v.SetDefault("storage.max_upload_size", defaultMaxUploadBytes)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Fetcher defaults
	v.SetDefault("fetcher.binary_path", "yt-dlp")
	v.SetDefault("fetcher.socket_timeout", defaultFetchSocketTimeout)
	v.SetDefault("fetcher.retries", defaultFetchRetries)
	v.SetDefault("fetcher.suggestion_count", defaultSuggestionCount)

	// Separator defaults
	v.SetDefault("separator.python_path", "python3")
	v.SetDefault("separator.model", defaultSeparatorModel)
	v.SetDefault("separator.device", "cpu")
	v.SetDefault("separator.engine_version", defaultSeparatorVersion)
	v.SetDefault("separator.run_timeout", defaultSeparatorTimeout)
	v.SetDefault("separator.wait_timeout", defaultStemWaitTimeout)
	v.SetDefault("separator.check_interval", defaultStemCheckInterval)

	// Recognizer defaults
	v.SetDefault("recognizer.model_path", "")
	v.SetDefault("recognizer.model_tag", defaultRecognizerModelTag)
	v.SetDefault("recognizer.default_language", "auto")
	v.SetDefault("recognizer.use_gpu", false)

	// Lyrics defaults
	v.SetDefault("lyrics.api_token", "")
	v.SetDefault("lyrics.api_url", "https://api.genius.com")
	v.SetDefault("lyrics.web_url", "https://genius.com")
	v.SetDefault("lyrics.max_hits", defaultLyricsMaxHits)

	// Alignment defaults
	v.SetDefault("alignment.match_threshold", defaultMatchThreshold)
	v.SetDefault("alignment.base_window", defaultBaseWindow)
	v.SetDefault("alignment.shrunk_window", defaultShrunkWindow)
	v.SetDefault("alignment.extended_window", defaultExtendedWindow)
	v.SetDefault("alignment.time_tolerance", defaultTimeTolerance)
	v.SetDefault("alignment.wide_tolerance", defaultWideTolerance)

	// Subtitle defaults
	v.SetDefault("subtitles.font", defaultSubtitleFont)
	v.SetDefault("subtitles.default_size", defaultSubtitleSize)

	// Job defaults
	v.SetDefault("jobs.max_concurrent", defaultMaxConcurrentJobs)
	v.SetDefault("jobs.progress_ttl", defaultProgressTTL)
	v.SetDefault("jobs.cleanup_interval", defaultCleanupInterval)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.RateLimitRequests < 1 {
		return fmt.Errorf("server.rate_limit_requests must be at least 1")
	}

	// Database validation
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.MaxUploadSize < 1 {
		return fmt.Errorf("storage.max_upload_size must be positive")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Fetcher validation
	if c.Fetcher.Retries < 0 {
		return fmt.Errorf("fetcher.retries must not be negative")
	}

	// Separator validation
	if c.Separator.Model == "" {
		return fmt.Errorf("separator.model is required")
	}
	validDevices := map[string]bool{"cpu": true, "cuda": true}
	if !validDevices[c.Separator.Device] {
		return fmt.Errorf("separator.device must be one of: cpu, cuda")
	}

	// Alignment validation
	if c.Alignment.MatchThreshold < 0 || c.Alignment.MatchThreshold > 100 {
		return fmt.Errorf("alignment.match_threshold must be between 0 and 100")
	}

	// Job validation
	if c.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("jobs.max_concurrent must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DownloadsPath returns the full path to the downloads directory.
func (c *StorageConfig) DownloadsPath() string {
	return filepath.Join(c.BaseDir, c.DownloadsDir)
}

// ProcessedPath returns the full path to the processed directory.
func (c *StorageConfig) ProcessedPath() string {
	return filepath.Join(c.BaseDir, c.ProcessedDir)
}
