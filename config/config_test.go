package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv blanks every variable Load consults so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"BOT_TOKEN", "BOT_PROXY", "IV_BOT_STORE", "IV_BOT_DB", "IV_BOT_REDIS_URL", "IV_BOT_POSTGRES_DSN",
	} {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return configPath
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, `
telegram_token: "test-token"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ReaderViewHost != "t.me" {
		t.Errorf("ReaderViewHost = %q, want %q", cfg.ReaderViewHost, "t.me")
	}
	if cfg.Store != "sqlite" {
		t.Errorf("Store = %q, want %q", cfg.Store, "sqlite")
	}
	if cfg.DBPath != "./data/iv-bot.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "./data/iv-bot.db")
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "./data")
	}
	if cfg.BackupTime != "" {
		t.Errorf("BackupTime = %q, want empty", cfg.BackupTime)
	}
	if cfg.BackupPath != "./data/backup" {
		t.Errorf("BackupPath = %q, want %q", cfg.BackupPath, "./data/backup")
	}
	if cfg.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want %q", cfg.Timezone, "UTC")
	}
	if cfg.FetchTitles {
		t.Error("FetchTitles should default to false")
	}
	if cfg.FetchTimeout() != 3*time.Second {
		t.Errorf("FetchTimeout = %v, want 3s", cfg.FetchTimeout())
	}
	if cfg.PollTimeoutSecs != 60 {
		t.Errorf("PollTimeoutSecs = %d, want 60", cfg.PollTimeoutSecs)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoadOverrideDefaults(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, `
telegram_token: "test-token"
proxy: "http://127.0.0.1:8118"
reader_view_host: "reader.example"
store: "redis"
redis_url: "redis://localhost:6379/2"
backup_time: "04:30"
backup_path: "/backups/iv"
timezone: "Asia/Shanghai"
admin_addr: ":8081"
fetch_titles: true
fetch_timeout_secs: 5
poll_timeout_secs: 30
log_level: "debug"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Proxy != "http://127.0.0.1:8118" {
		t.Errorf("Proxy = %q", cfg.Proxy)
	}
	if cfg.ReaderViewHost != "reader.example" {
		t.Errorf("ReaderViewHost = %q", cfg.ReaderViewHost)
	}
	if cfg.Store != "redis" || cfg.RedisURL != "redis://localhost:6379/2" {
		t.Errorf("Store = %q, RedisURL = %q", cfg.Store, cfg.RedisURL)
	}
	if cfg.BackupTime != "04:30" || cfg.BackupPath != "/backups/iv" {
		t.Errorf("BackupTime = %q, BackupPath = %q", cfg.BackupTime, cfg.BackupPath)
	}
	if cfg.Timezone != "Asia/Shanghai" {
		t.Errorf("Timezone = %q", cfg.Timezone)
	}
	if cfg.AdminAddr != ":8081" {
		t.Errorf("AdminAddr = %q", cfg.AdminAddr)
	}
	if !cfg.FetchTitles || cfg.FetchTimeoutSecs != 5 {
		t.Errorf("FetchTitles = %v, FetchTimeoutSecs = %d", cfg.FetchTitles, cfg.FetchTimeoutSecs)
	}
	if cfg.PollTimeoutSecs != 30 {
		t.Errorf("PollTimeoutSecs = %d", cfg.PollTimeoutSecs)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadMissingTelegramToken(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, `
store: "yaml"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected error for missing telegram_token")
	}
}

func TestLoadMissingFileUsesEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("BOT_PROXY", "socks5://127.0.0.1:1080")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.TelegramToken != "env-token" {
		t.Errorf("TelegramToken = %q, want env-token", cfg.TelegramToken)
	}
	if cfg.Proxy != "socks5://127.0.0.1:1080" {
		t.Errorf("Proxy = %q", cfg.Proxy)
	}
}

func TestLoadMissingFileWithoutToken(t *testing.T) {
	clearEnv(t)
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error when neither file nor environment provides a token")
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown store", `store: "etcd"`},
		{"redis without url", `store: "redis"`},
		{"postgres without dsn", `store: "postgres"`},
		{"relative proxy", `proxy: "localhost"`},
		{"backup time format", `backup_time: "4:00"`},
		{"backup time hours", `backup_time: "24:00"`},
		{"timezone", `timezone: "Invalid/Zone"`},
		{"log level", `log_level: "verbose"`},
		{"negative timeout", `fetch_timeout_secs: -1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			configPath := writeConfig(t, "telegram_token: \"test-token\"\n"+tt.content+"\n")
			if _, err := Load(configPath); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, `invalid: yaml: content:`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestEnvironmentVariableOverride(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, `
telegram_token: "file-token"
db_path: "/original/path.db"
`)

	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("IV_BOT_DB", "/override/path.db")
	t.Setenv("IV_BOT_STORE", "postgres")
	t.Setenv("IV_BOT_POSTGRES_DSN", "postgres://bot@localhost/iv")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.TelegramToken != "env-token" {
		t.Errorf("TelegramToken = %q, want env-token", cfg.TelegramToken)
	}
	if cfg.DBPath != "/override/path.db" {
		t.Errorf("DBPath = %q, want %q (from env)", cfg.DBPath, "/override/path.db")
	}
	if cfg.Store != "postgres" || cfg.PostgresDSN != "postgres://bot@localhost/iv" {
		t.Errorf("Store = %q, PostgresDSN = %q", cfg.Store, cfg.PostgresDSN)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("IV_BOT_CONFIG", "")
	if path := GetConfigPath(); path != "./config.yaml" {
		t.Errorf("GetConfigPath() = %q, want %q", path, "./config.yaml")
	}

	t.Setenv("IV_BOT_CONFIG", "/custom/config.yaml")
	if path := GetConfigPath(); path != "/custom/config.yaml" {
		t.Errorf("GetConfigPath() = %q, want %q", path, "/custom/config.yaml")
	}
}
