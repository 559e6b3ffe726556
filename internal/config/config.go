// Package config loads service configuration from a YAML file with
// environment-variable overrides. Secret material is not kept here; it is
// resolved at boot from SSM Parameter Store or the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Trackify backend configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	AWS       AWSConfig       `yaml:"aws"`
	Mono      MonoConfig      `yaml:"mono"`
	Assistant AssistantConfig `yaml:"assistant"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// AWSConfig configures SSM secret resolution and the DynamoDB thread store.
// When ParamPrefix is empty, secrets come from the environment and the thread
// store falls back to in-process memory.
type AWSConfig struct {
	ParamPrefix string `yaml:"param_prefix"`
	ThreadTable string `yaml:"thread_table"`
}

// MonoConfig configures the aggregation-provider client.
type MonoConfig struct {
	BaseURL string `yaml:"base_url"`
}

// AssistantConfig configures the conversational-query pipeline.
type AssistantConfig struct {
	Model      string        `yaml:"model"`
	RowLimit   int           `yaml:"row_limit"`
	TurnBudget time.Duration `yaml:"turn_budget"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
		},
		Mono: MonoConfig{
			BaseURL: "https://api.withmono.com",
		},
		Assistant: AssistantConfig{
			Model:      "gemini-2.0-flash",
			RowLimit:   500,
			TurnBudget: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "TRACKIFY_ADDR")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.AWS.ParamPrefix, "TRACKIFY_PARAM_PREFIX")
	setString(&c.AWS.ThreadTable, "TRACKIFY_THREAD_TABLE")
	setString(&c.Mono.BaseURL, "MONO_BASE_URL")
	setString(&c.Assistant.Model, "TRACKIFY_MODEL")
	setInt(&c.Assistant.RowLimit, "TRACKIFY_ROW_LIMIT")
	setString(&c.Logging.Level, "TRACKIFY_LOG_LEVEL")
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("config: database url is required")
	}
	if c.Assistant.Model == "" {
		return errors.New("config: assistant model is required")
	}
	if c.Assistant.RowLimit <= 0 {
		return errors.New("config: assistant row limit must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}
