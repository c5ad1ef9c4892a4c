// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

// Config is the root configuration structure
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Embeddings  EmbeddingsConfig  `mapstructure:"embeddings"`
	Search      SearchConfig      `mapstructure:"search"`
	Session     SessionConfig     `mapstructure:"session"`
	Checkpoints CheckpointsConfig `mapstructure:"checkpoints"`
}

// ServerConfig holds HTTP server settings (used only with --http)
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	TLS  struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"tls"`
}

// DatabaseConfig holds database connection settings
// For sqlite, Dir is the directory holding one database file per
// embedding profile. For postgres, DSN is the connection string and
// profile isolation uses a table-name prefix per profile.
type DatabaseConfig struct {
	Type        string `mapstructure:"type"` // "sqlite" or "postgres"
	Dir         string `mapstructure:"dir"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// ProviderConfig describes one embedding provider in the fallback chain
type ProviderConfig struct {
	Type       string `mapstructure:"type"` // "openai" or "ollama"
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	APIKeyEnv  string `mapstructure:"api_key_env"`
}

// EmbeddingsConfig holds the embedding provider chain settings.
// Providers are tried in order; when every provider is exhausted the
// engine continues in lexical-only mode.
type EmbeddingsConfig struct {
	Providers      []ProviderConfig `mapstructure:"providers"`
	TimeoutSeconds int              `mapstructure:"timeout_seconds"`
	MaxRetries     int              `mapstructure:"max_retries"`
}

// SearchConfig holds hybrid search tuning knobs
type SearchConfig struct {
	Limit          int      `mapstructure:"limit"`
	CandidateLimit int      `mapstructure:"candidate_limit"`
	RRFK           float64  `mapstructure:"rrf_k"`
	RerankCommand  []string `mapstructure:"rerank_command"`
	RerankTopN     int      `mapstructure:"rerank_top_n"`
}

// SessionConfig holds working-memory session settings
type SessionConfig struct {
	TTLMinutes           int `mapstructure:"ttl_minutes"`
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"`
}

// CheckpointsConfig holds checkpoint retention settings
type CheckpointsConfig struct {
	MaxCount    int    `mapstructure:"max_count"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	ArchivePath string `mapstructure:"archive_path"` // empty disables the git archive mirror
}
