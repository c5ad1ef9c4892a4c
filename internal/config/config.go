// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// DefaultConfigDir is the default configuration directory
	DefaultConfigDir = ".engram/configs"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.json"
)

// Load reads configuration from ~/.engram/configs/config.json
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, DefaultConfigDir)

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(configPath)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, use defaults
			return loadFromDefaults(v)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromPath loads configuration from a specific path
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()

	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.tls.enabled", false)

	// Database defaults
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dir", filepath.Join(homeDir, ".engram/db"))

	// Embedding chain defaults
	v.SetDefault("embeddings.timeout_seconds", 30)
	v.SetDefault("embeddings.max_retries", 3)

	// Search defaults
	v.SetDefault("search.limit", 10)
	v.SetDefault("search.candidate_limit", 30)
	v.SetDefault("search.rrf_k", 60.0)
	v.SetDefault("search.rerank_top_n", 20)

	// Session defaults
	v.SetDefault("session.ttl_minutes", 60)
	v.SetDefault("session.sweep_interval_minutes", 5)

	// Checkpoint defaults
	v.SetDefault("checkpoints.max_count", 10)
	v.SetDefault("checkpoints.max_age_days", 30)
}

// loadFromDefaults creates a config from default values
func loadFromDefaults(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return &cfg, nil
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	// Validate database type
	if cfg.Database.Type != "sqlite" && cfg.Database.Type != "postgres" {
		return fmt.Errorf("database.type must be 'sqlite' or 'postgres', got '%s'", cfg.Database.Type)
	}

	if cfg.Database.Type == "sqlite" && cfg.Database.Dir == "" {
		return fmt.Errorf("database.dir is required when type is 'sqlite'")
	}
	if cfg.Database.Type == "postgres" && cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("database.postgres_dsn is required when type is 'postgres'")
	}

	// Validate embedding providers
	for i, p := range cfg.Embeddings.Providers {
		if p.Type != "openai" && p.Type != "ollama" {
			return fmt.Errorf("embeddings.providers[%d].type must be 'openai' or 'ollama', got '%s'", i, p.Type)
		}
		if p.Model == "" {
			return fmt.Errorf("embeddings.providers[%d].model is required", i)
		}
		if p.Dimensions < 1 {
			return fmt.Errorf("embeddings.providers[%d].dimensions must be positive, got %d", i, p.Dimensions)
		}
	}

	// Providers in one chain must agree on dimensions; mixing embedding
	// spaces inside one store is forbidden.
	if len(cfg.Embeddings.Providers) > 1 {
		dims := cfg.Embeddings.Providers[0].Dimensions
		for i, p := range cfg.Embeddings.Providers[1:] {
			if p.Dimensions != dims {
				return fmt.Errorf("embeddings.providers[%d].dimensions (%d) differs from primary (%d); all providers in a chain must share one dimension", i+1, p.Dimensions, dims)
			}
		}
	}

	if cfg.Embeddings.TimeoutSeconds < 1 {
		return fmt.Errorf("embeddings.timeout_seconds must be at least 1, got %d", cfg.Embeddings.TimeoutSeconds)
	}

	// Validate server port
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	// Validate search settings
	if cfg.Search.Limit < 1 {
		return fmt.Errorf("search.limit must be at least 1, got %d", cfg.Search.Limit)
	}
	if cfg.Search.RRFK <= 0 {
		return fmt.Errorf("search.rrf_k must be positive, got %f", cfg.Search.RRFK)
	}

	// Validate session settings
	if cfg.Session.TTLMinutes < 1 {
		return fmt.Errorf("session.ttl_minutes must be at least 1, got %d", cfg.Session.TTLMinutes)
	}

	// Validate checkpoint settings
	if cfg.Checkpoints.MaxCount < 1 {
		return fmt.Errorf("checkpoints.max_count must be at least 1, got %d", cfg.Checkpoints.MaxCount)
	}

	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist
func EnsureConfigDir() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, DefaultConfigDir)
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Dir:  filepath.Join(homeDir, ".engram/db"),
		},
		Embeddings: EmbeddingsConfig{
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
		Search: SearchConfig{
			Limit:          10,
			CandidateLimit: 30,
			RRFK:           60.0,
			RerankTopN:     20,
		},
		Session: SessionConfig{
			TTLMinutes:           60,
			SweepIntervalMinutes: 5,
		},
		Checkpoints: CheckpointsConfig{
			MaxCount:   10,
			MaxAgeDays: 30,
		},
	}
}
