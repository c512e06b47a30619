package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	TelegramToken    string `yaml:"telegram_token"`
	Proxy            string `yaml:"proxy"`
	ReaderViewHost   string `yaml:"reader_view_host"`
	Store            string `yaml:"store"`
	DBPath           string `yaml:"db_path"`
	DataDir          string `yaml:"data_dir"`
	RedisURL         string `yaml:"redis_url"`
	PostgresDSN      string `yaml:"postgres_dsn"`
	BackupTime       string `yaml:"backup_time"`
	BackupPath       string `yaml:"backup_path"`
	Timezone         string `yaml:"timezone"`
	AdminAddr        string `yaml:"admin_addr"`
	FetchTitles      bool   `yaml:"fetch_titles"`
	FetchTimeoutSecs int    `yaml:"fetch_timeout_secs"`
	PollTimeoutSecs  int    `yaml:"poll_timeout_secs"`
	LogLevel         string `yaml:"log_level"`
}

// backupTimeRegex validates HH:MM format with proper ranges.
var backupTimeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

var validStores = map[string]bool{
	"sqlite":   true,
	"yaml":     true,
	"redis":    true,
	"postgres": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from a YAML file, applies defaults and
// environment overrides, and validates the result. A missing file is not
// an error; the environment may supply everything required.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path from environment or default.
func GetConfigPath() string {
	if path := os.Getenv("IV_BOT_CONFIG"); path != "" {
		return path
	}
	return "./config.yaml"
}

// FetchTimeout returns the title lookup timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

func applyDefaults(cfg *Config) {
	if cfg.ReaderViewHost == "" {
		cfg.ReaderViewHost = "t.me"
	}
	if cfg.Store == "" {
		cfg.Store = "sqlite"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./data/iv-bot.db"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.BackupPath == "" {
		cfg.BackupPath = "./data/backup"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.FetchTimeoutSecs == 0 {
		cfg.FetchTimeoutSecs = 3
	}
	if cfg.PollTimeoutSecs == 0 {
		cfg.PollTimeoutSecs = 60
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	if token := os.Getenv("BOT_TOKEN"); token != "" {
		cfg.TelegramToken = token
	}
	if proxy := os.Getenv("BOT_PROXY"); proxy != "" {
		cfg.Proxy = proxy
	}
	if store := os.Getenv("IV_BOT_STORE"); store != "" {
		cfg.Store = store
	}
	if dbPath := os.Getenv("IV_BOT_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if redisURL := os.Getenv("IV_BOT_REDIS_URL"); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if dsn := os.Getenv("IV_BOT_POSTGRES_DSN"); dsn != "" {
		cfg.PostgresDSN = dsn
	}
}

func validate(cfg *Config) error {
	if cfg.TelegramToken == "" {
		return fmt.Errorf("telegram_token is required (or set BOT_TOKEN)")
	}
	if !validStores[cfg.Store] {
		return fmt.Errorf("store must be one of sqlite, yaml, redis, postgres, got %q", cfg.Store)
	}
	if cfg.Store == "redis" && cfg.RedisURL == "" {
		return fmt.Errorf("redis_url is required when store is redis")
	}
	if cfg.Store == "postgres" && cfg.PostgresDSN == "" {
		return fmt.Errorf("postgres_dsn is required when store is postgres")
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("proxy must be an absolute URL, got %q", cfg.Proxy)
		}
	}
	if cfg.BackupTime != "" && !backupTimeRegex.MatchString(cfg.BackupTime) {
		return fmt.Errorf("backup_time must be in HH:MM format (00:00-23:59), got %q", cfg.BackupTime)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.FetchTimeoutSecs < 0 || cfg.PollTimeoutSecs < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}
	return nil
}
