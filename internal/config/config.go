// Package config loads mtm-prune settings from environment variables and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Host        string        `mapstructure:"host"`
	BaseURL     string        `mapstructure:"base_url"`
	APIToken    string        `mapstructure:"api_token"`
	AccountID   string        `mapstructure:"account_id"`
	WorkspaceID string        `mapstructure:"workspace_id"`
	PageSize    int           `mapstructure:"page_size"`
	MaxPages    int           `mapstructure:"max_pages"`
	Concurrency int           `mapstructure:"concurrency"`
	Spacing     time.Duration `mapstructure:"spacing"`
	Timeout     time.Duration `mapstructure:"timeout"`
	OutputDir   string        `mapstructure:"output_dir"`
	DryRun      bool          `mapstructure:"dry_run"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
	Log         LogConfig     `mapstructure:"log"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from environment variables and an optional
// config file. Environment variables override file values. Prefix: MTM_
// An empty path searches for mtm.yaml in . and ./config.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("page_size", 100)
	v.SetDefault("max_pages", 10000)
	v.SetDefault("concurrency", 10)
	v.SetDefault("spacing", "33ms")
	v.SetDefault("timeout", "30s")
	v.SetDefault("output_dir", ".")
	v.SetDefault("dry_run", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// MTM_API_TOKEN -> api_token, MTM_LOG_LEVEL -> log.level
	v.SetEnvPrefix("MTM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a default are only seen by Unmarshal when bound.
	for _, key := range []string{"host", "base_url", "api_token", "account_id", "workspace_id", "metrics_addr"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("mtm")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ValidateAuth reports missing connection settings.
func (c *Config) ValidateAuth() error {
	if c.Host == "" && c.BaseURL == "" {
		return fmt.Errorf("host is required (MTM_HOST)")
	}
	if c.APIToken == "" {
		return fmt.Errorf("api token is required (MTM_API_TOKEN)")
	}
	if c.PageSize < 1 {
		return fmt.Errorf("page_size must be >= 1 (got %d)", c.PageSize)
	}
	return nil
}

// ValidatePrune reports settings missing for a prune run.
func (c *Config) ValidatePrune() error {
	if err := c.ValidateAuth(); err != nil {
		return err
	}
	if c.AccountID == "" {
		return fmt.Errorf("account id is required (MTM_ACCOUNT_ID)")
	}
	if c.WorkspaceID == "" {
		return fmt.Errorf("workspace id is required (MTM_WORKSPACE_ID)")
	}
	return nil
}

// APIBaseURL returns BaseURL when set, otherwise https://{Host}.
func (c *Config) APIBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return "https://" + strings.TrimRight(c.Host, "/")
}
