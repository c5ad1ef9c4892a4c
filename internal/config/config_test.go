// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.NotEmpty(t, cfg.Database.Dir)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Search.Limit)
	assert.Equal(t, 60.0, cfg.Search.RRFK)
	assert.Equal(t, 30, cfg.Embeddings.TimeoutSeconds)
	assert.Equal(t, 3, cfg.Embeddings.MaxRetries)
	assert.Equal(t, 10, cfg.Checkpoints.MaxCount)
	assert.Empty(t, cfg.Embeddings.Providers, "no providers means lexical-only")
	require.NoError(t, validate(cfg))
}

func TestLoadFromPathAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"database": {"type": "sqlite", "dir": "/tmp/engram-test"}}`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/engram-test", cfg.Database.Dir)
	assert.Equal(t, 8080, cfg.Server.Port, "unset fields take defaults")
	assert.Equal(t, 60.0, cfg.Search.RRFK)
}

func TestLoadFromPathProviders(t *testing.T) {
	path := writeConfig(t, `{
		"embeddings": {
			"providers": [
				{"type": "openai", "base_url": "https://api.openai.com/v1", "model": "text-embedding-3-small", "dimensions": 1536, "api_key_env": "OPENAI_API_KEY"},
				{"type": "ollama", "base_url": "http://localhost:11434", "model": "nomic-embed-text", "dimensions": 1536}
			]
		}
	}`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	require.Len(t, cfg.Embeddings.Providers, 2)
	assert.Equal(t, "openai", cfg.Embeddings.Providers[0].Type)
	assert.Equal(t, 1536, cfg.Embeddings.Providers[1].Dimensions)
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidateDatabaseType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Type = "mongodb"
	assert.ErrorContains(t, validate(cfg), "database.type")

	cfg = DefaultConfig()
	cfg.Database.Type = "postgres"
	assert.ErrorContains(t, validate(cfg), "postgres_dsn")

	cfg.Database.PostgresDSN = "host=localhost user=engram dbname=engram"
	assert.NoError(t, validate(cfg))
}

func TestValidateProviderFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embeddings.Providers = []ProviderConfig{{Type: "carrier-pigeon", Model: "m", Dimensions: 3}}
	assert.ErrorContains(t, validate(cfg), "providers[0].type")

	cfg.Embeddings.Providers = []ProviderConfig{{Type: "ollama", Dimensions: 3}}
	assert.ErrorContains(t, validate(cfg), "model")

	cfg.Embeddings.Providers = []ProviderConfig{{Type: "ollama", Model: "m", Dimensions: 0}}
	assert.ErrorContains(t, validate(cfg), "dimensions")
}

func TestValidateRejectsMixedDimensionChain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embeddings.Providers = []ProviderConfig{
		{Type: "openai", Model: "a", Dimensions: 1536},
		{Type: "ollama", Model: "b", Dimensions: 768},
	}
	assert.ErrorContains(t, validate(cfg), "share one dimension")
}

func TestValidateBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	assert.ErrorContains(t, validate(cfg), "server.port")

	cfg = DefaultConfig()
	cfg.Search.Limit = 0
	assert.ErrorContains(t, validate(cfg), "search.limit")

	cfg = DefaultConfig()
	cfg.Search.RRFK = -1
	assert.ErrorContains(t, validate(cfg), "rrf_k")

	cfg = DefaultConfig()
	cfg.Session.TTLMinutes = 0
	assert.ErrorContains(t, validate(cfg), "ttl_minutes")

	cfg = DefaultConfig()
	cfg.Checkpoints.MaxCount = 0
	assert.ErrorContains(t, validate(cfg), "max_count")
}
