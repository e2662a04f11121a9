package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[agent]
name = "zoey"
persona = "a helpful assistant"
model_provider = "openai"

[storage]
backend = "embedded"
dsn = "agentcored.db"

[provider]
backend = "openai"
api_key = "sk-test"
model = "gpt-4o-mini"

[planner]
enable_chain_of_thought = true
routing_preference = "balanced"

[budget]
cap_usd = 5.0
policy = "warn"

[server]
listen_addr = ":9090"
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentcored.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "zoey", cfg.Agent.Name)
	require.Equal(t, "openai", cfg.Provider.Backend)
	require.Equal(t, "sk-test", cfg.Provider.APIKey)
	require.Equal(t, "embedded", cfg.Storage.Backend)
	require.True(t, cfg.Planner.EnableChainOfThought)
	require.Equal(t, 5.0, cfg.Budget.CapUSD)
	require.Equal(t, ":9090", cfg.Server.ListenAddr)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.Error(t, err)
}

func TestBuildProviderUnknownBackend(t *testing.T) {
	cfg := &Config{}
	cfg.Provider.Backend = "not-a-real-backend"
	_, err := buildProvider(cfg)
	require.Error(t, err)
}

func TestBuildProviderOpenAIRequiresAPIKey(t *testing.T) {
	cfg := &Config{}
	cfg.Provider.Backend = "openai"
	_, err := buildProvider(cfg)
	require.Error(t, err)
}

func TestBuildStoreUnknownBackend(t *testing.T) {
	cfg := &Config{}
	cfg.Storage.Backend = "not-a-real-backend"
	_, err := buildStore(context.Background(), cfg)
	require.Error(t, err)
}
