// Package config loads taskport configuration: defaults in code, overridden
// by a global file (~/.taskport/config.yaml) then a project file
// (./.taskport/config.yaml).
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the full taskport configuration.
type Config struct {
	// Providers maps provider id to endpoint settings. Jira requires a
	// base_url; the SaaS providers default to their public endpoints.
	Providers map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`

	Import ImportConfig `yaml:"import" mapstructure:"import"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Serve  ServeConfig  `yaml:"serve" mapstructure:"serve"`
}

// ProviderConfig holds per-provider endpoint settings.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// File is the local file for the csv provider.
	File string `yaml:"file" mapstructure:"file"`
}

// ImportConfig tunes the executor.
type ImportConfig struct {
	PageSize    int           `yaml:"page_size" mapstructure:"page_size"`
	FetchAhead  int           `yaml:"fetch_ahead" mapstructure:"fetch_ahead"`
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base" mapstructure:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap" mapstructure:"backoff_cap"`
}

// StoreConfig locates the task database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{},
		Import: ImportConfig{
			PageSize:    50,
			FetchAhead:  3,
			MaxAttempts: 5,
			BackoffBase: time.Second,
			BackoffCap:  30 * time.Second,
		},
		Store: StoreConfig{Path: "taskport.db"},
		Serve: ServeConfig{Addr: ":8484"},
	}
}

// Load loads and merges configuration from global and project sources.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if home, err := os.UserHomeDir(); err == nil {
		if err := loadFile(filepath.Join(home, ".taskport", "config.yaml"), cfg); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		if err := loadFile(filepath.Join(cwd, ".taskport", "config.yaml"), cfg); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

// BaseURL returns the configured base URL for a provider, or "".
func (c *Config) BaseURL(providerID string) string {
	return c.Providers[providerID].BaseURL
}

// CSVFile returns the configured csv input file, or "".
func (c *Config) CSVFile() string {
	return c.Providers["csv"].File
}
