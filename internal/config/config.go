package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// Config represents the global ~/.paychat/config.toml.
type Config struct {
	DefaultProfile string       `toml:"default_profile"`
	Server         ServerConfig `toml:"server"`
	Sync           SyncConfig   `toml:"sync"`
}

// ServerConfig holds the server-of-record and live-channel endpoints.
type ServerConfig struct {
	BaseURL string `toml:"base_url"`
	PushURL string `toml:"push_url"`
	Token   string `toml:"token"`
}

// SyncConfig holds tunables for the sync and confirmation pipelines.
type SyncConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	DebounceMillis  int `toml:"debounce_millis"`
	MaxRetries      int `toml:"max_retries"`
	WindowSize      int `toml:"window_size"`
	PageLimit       int `toml:"page_limit"`
}

// envOverrides are applied on top of the file config (PAYCHAT_* variables).
type envOverrides struct {
	ServerURL       string `envconfig:"SERVER_URL"`
	PushURL         string `envconfig:"PUSH_URL"`
	Token           string `envconfig:"TOKEN"`
	SyncIntervalSec int    `envconfig:"SYNC_INTERVAL_SECONDS"`
}

// Default returns a config with production defaults filled in.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Server: ServerConfig{
			BaseURL: "https://api.paychat.app",
			PushURL: "wss://push.paychat.app/v1/events",
		},
		Sync: SyncConfig{
			IntervalSeconds: 30,
			DebounceMillis:  750,
			MaxRetries:      3,
			WindowSize:      100,
			PageLimit:       200,
		},
	}
}

// Load reads config from the given path, fills unset fields with defaults,
// and applies PAYCHAT_* environment overrides. A missing file is not an
// error: defaults plus environment are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	var env envOverrides
	if err := envconfig.Process("paychat", &env); err != nil {
		return nil, err
	}
	if env.ServerURL != "" {
		cfg.Server.BaseURL = env.ServerURL
	}
	if env.PushURL != "" {
		cfg.Server.PushURL = env.PushURL
	}
	if env.Token != "" {
		cfg.Server.Token = env.Token
	}
	if env.SyncIntervalSec > 0 {
		cfg.Sync.IntervalSeconds = env.SyncIntervalSec
	}

	if cfg.Sync.MaxRetries <= 0 {
		cfg.Sync.MaxRetries = 3
	}
	if cfg.Sync.WindowSize <= 0 {
		cfg.Sync.WindowSize = 100
	}
	if cfg.Sync.PageLimit <= 0 {
		cfg.Sync.PageLimit = 200
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Interval returns the sync interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// Debounce returns the delivery-confirmation debounce window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Sync.DebounceMillis) * time.Millisecond
}
