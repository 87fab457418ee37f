package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "PIXIVSYNC_"

// Config holds all configuration options for pixivsync
type Config struct {
	// pixiv credentials and client identity
	Pixiv PixivConfig `yaml:"pixiv" json:"pixiv" toml:"pixiv"`

	// Accepted for compatibility with the flat config.json layout; merged into Pixiv.RefreshToken.
	LegacyRefreshToken string `yaml:"refresh_token,omitempty" json:"refresh_token,omitempty" toml:"refresh_token,omitempty"`

	// Content categories
	Follow   CategoryConfig `yaml:"follow" json:"follow" toml:"follow"`
	Favorite CategoryConfig `yaml:"favorite" json:"favorite" toml:"favorite"`
	Ranking  CategoryConfig `yaml:"ranking" json:"ranking" toml:"ranking"`

	Ledger     LedgerConfig     `yaml:"ledger" json:"ledger" toml:"ledger"`
	Pagination PaginationConfig `yaml:"pagination" json:"pagination" toml:"pagination"`
	Download   DownloadConfig   `yaml:"download" json:"download" toml:"download"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" json:"rate_limit" toml:"rate_limit"`
	Retry      RetryConfig      `yaml:"retry" json:"retry" toml:"retry"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging" toml:"logging"`
}

// PixivConfig holds pixiv-specific configuration
type PixivConfig struct {
	RefreshToken string `yaml:"refresh_token" json:"refresh_token" toml:"refresh_token"`
	// UserID overrides the id returned by the token exchange.
	UserID    int64  `yaml:"user_id" json:"user_id" toml:"user_id"`
	UserAgent string `yaml:"user_agent" json:"user_agent" toml:"user_agent"`
	// Account names the stored credential to use when RefreshToken is empty.
	Account string `yaml:"account" json:"account" toml:"account"`
}

// CategoryConfig enables one content category and selects its work types.
type CategoryConfig struct {
	Enabled  bool      `yaml:"enabled" json:"enabled" toml:"enabled"`
	SavePath string    `yaml:"save_path" json:"save_path" toml:"save_path"`
	Type     TypeFlags `yaml:"type" json:"type" toml:"type"`
}

// TypeFlags toggles the work types synced for a category.
type TypeFlags struct {
	Illust bool `yaml:"illust" json:"illust" toml:"illust"`
	Manga  bool `yaml:"manga" json:"manga" toml:"manga"`
	Novel  bool `yaml:"novel" json:"novel" toml:"novel"`
}

// LedgerConfig locates the dedup database
type LedgerConfig struct {
	Path string `yaml:"path" json:"path" toml:"path"`
}

// PaginationConfig holds the courtesy delay between page requests
type PaginationConfig struct {
	Delay time.Duration `yaml:"delay" json:"delay" toml:"delay"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads" toml:"concurrent_downloads"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" json:"download_timeout" toml:"download_timeout"`
	ChunkSize           int           `yaml:"chunk_size" json:"chunk_size" toml:"chunk_size"`
}

// RateLimitConfig holds rate limiting configuration for binary downloads
type RateLimitConfig struct {
	RequestsPerMinute int    `yaml:"requests_per_minute" json:"requests_per_minute" toml:"requests_per_minute"`
	Strategy          string `yaml:"strategy" json:"strategy" toml:"strategy"`
}

// RetryConfig controls in-place retries of pixiv API calls answered with 429
// or 5xx. Off by default; connection failures are never retried.
type RetryConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled" toml:"enabled"`
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay" toml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay" toml:"max_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level" toml:"level"`
	File       string `yaml:"file" json:"file" toml:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size" toml:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups" toml:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age" toml:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress" toml:"compress"`
	NoColor    bool   `yaml:"no_color" json:"no_color" toml:"no_color"`
}

// DefaultUserAgent is the pixiv iOS app identity the app API expects.
const DefaultUserAgent = "PixivIOSApp/7.13.3 (iOS 14.6; iPhone13,2)"

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Pixiv: PixivConfig{
			UserAgent: DefaultUserAgent,
			Account:   "default",
		},
		Follow: CategoryConfig{
			Enabled:  true,
			SavePath: "./pixiv/follow",
			Type:     TypeFlags{Illust: true, Novel: true},
		},
		Favorite: CategoryConfig{
			SavePath: "./pixiv/favorite",
		},
		Ranking: CategoryConfig{
			SavePath: "./pixiv/ranking",
		},
		Ledger: LedgerConfig{
			Path: "./pixiv/pixiv.db",
		},
		Pagination: PaginationConfig{
			Delay: time.Second,
		},
		Download: DownloadConfig{
			ConcurrentDownloads: 1,
			DownloadTimeout:     60 * time.Second,
			ChunkSize:           8192,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			Strategy:          "token_bucket",
		},
		Retry: RetryConfig{
			Enabled:     false,
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		},
	}
}

func envInt(name string, set func(int)) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			set(n)
		}
	}
}

func envDuration(name string, set func(time.Duration)) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			set(d)
		}
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if token := os.Getenv(EnvPrefix + "REFRESH_TOKEN"); token != "" {
		c.Pixiv.RefreshToken = token
	}
	if userAgent := os.Getenv(EnvPrefix + "USER_AGENT"); userAgent != "" {
		c.Pixiv.UserAgent = userAgent
	}
	if uid := os.Getenv(EnvPrefix + "USER_ID"); uid != "" {
		id, err := strconv.ParseInt(uid, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sUSER_ID %q: %w", EnvPrefix, uid, err)
		}
		c.Pixiv.UserID = id
	}
	if savePath := os.Getenv(EnvPrefix + "SAVE_PATH"); savePath != "" {
		c.Follow.SavePath = savePath
	}
	if ledgerPath := os.Getenv(EnvPrefix + "LEDGER_PATH"); ledgerPath != "" {
		c.Ledger.Path = ledgerPath
	}

	envInt("CONCURRENT_DOWNLOADS", func(n int) { c.Download.ConcurrentDownloads = n })
	envInt("REQUESTS_PER_MINUTE", func(n int) { c.RateLimit.RequestsPerMinute = n })
	envDuration("PAGE_DELAY", func(d time.Duration) { c.Pagination.Delay = d })

	if logLevel := os.Getenv(EnvPrefix + "LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile := os.Getenv(EnvPrefix + "LOG_FILE"); logFile != "" {
		c.Logging.File = logFile
	}

	return nil
}

// LoadFromFile loads configuration from a YAML, JSON or TOML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		// JSON is a subset of YAML, so config.json files load here too
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if c.LegacyRefreshToken != "" && c.Pixiv.RefreshToken == "" {
		c.Pixiv.RefreshToken = c.LegacyRefreshToken
	}
	c.LegacyRefreshToken = ""

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".pixivsync.yaml",
		".pixivsync.yml",
		".pixivsync.toml",
		"config.json",
		filepath.Join(home, ".config", "pixivsync", "config.yaml"),
		filepath.Join(home, ".config", "pixivsync", "config.yml"),
		filepath.Join(home, ".config", "pixivsync", "config.toml"),
		filepath.Join(home, ".pixivsync.yaml"),
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

	for name, cat := range map[string]CategoryConfig{
		"follow":   c.Follow,
		"favorite": c.Favorite,
		"ranking":  c.Ranking,
	} {
		if cat.Enabled && cat.SavePath == "" {
			errs = append(errs, fmt.Errorf("%s.save_path is required when %s is enabled", name, name))
		}
	}

	if c.Ledger.Path == "" {
		errs = append(errs, errors.New("ledger path is required"))
	}
	if c.Pagination.Delay < 0 {
		errs = append(errs, errors.New("pagination delay cannot be negative"))
	}

	// Validate download settings
	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.ConcurrentDownloads > 10 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 10"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunk size must be positive"))
	}

	// Validate rate limiting
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	switch c.RateLimit.Strategy {
	case "token_bucket", "sliding_window":
	default:
		errs = append(errs, fmt.Errorf("invalid rate limit strategy %q", c.RateLimit.Strategy))
	}

	if c.Retry.Enabled && c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("retry max attempts must be positive"))
	}

	// Validate logging
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file. The format follows the extension.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.ToLower(filepath.Ext(path)) == ".toml" {
		var sb strings.Builder
		err = toml.NewEncoder(&sb).Encode(c)
		data = []byte(sb.String())
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
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
	if token, ok := flags["refresh-token"].(string); ok && token != "" {
		c.Pixiv.RefreshToken = token
	}
	if account, ok := flags["account"].(string); ok && account != "" {
		c.Pixiv.Account = account
	}
	if uid, ok := flags["user-id"].(int64); ok && uid > 0 {
		c.Pixiv.UserID = uid
	}
	if output, ok := flags["output"].(string); ok && output != "" {
		c.Follow.SavePath = output
	}
	if ledgerPath, ok := flags["ledger"].(string); ok && ledgerPath != "" {
		c.Ledger.Path = ledgerPath
	}
	if concurrent, ok := flags["concurrent"].(int); ok && concurrent > 0 {
		c.Download.ConcurrentDownloads = concurrent
	}
	if delay, ok := flags["page-delay"].(time.Duration); ok && delay > 0 {
		c.Pagination.Delay = delay
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile, ok := flags["log-file"].(string); ok && logFile != "" {
		c.Logging.File = logFile
	}
	if types, ok := flags["types"].([]string); ok && len(types) > 0 {
		c.Follow.Type = TypeFlags{}
		for _, t := range types {
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "illust":
				c.Follow.Type.Illust = true
			case "manga":
				c.Follow.Type.Manga = true
			case "novel":
				c.Follow.Type.Novel = true
			}
		}
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".pixivsync.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
