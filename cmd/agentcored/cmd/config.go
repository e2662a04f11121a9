package cmd

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk TOML shape agentcored loads at startup, grounded on
// the teacher's Config (core_ref/config.go): one top-level table per
// concern, loaded once via toml.DecodeFile.
type Config struct {
	Agent struct {
		Name          string         `toml:"name"`
		Persona       string         `toml:"persona"`
		ModelProvider string         `toml:"model_provider"`
		Settings      map[string]any `toml:"settings"`
	} `toml:"agent"`

	Storage struct {
		Backend      string `toml:"backend"` // embedded | postgres | docstore | restfacade
		DSN          string `toml:"dsn"`
		Database     string `toml:"database"`      // docstore only
		WeaviateHost string `toml:"weaviate_host"` // docstore only, optional
		APIKey       string `toml:"api_key"`       // restfacade only
		EmbeddingDim int    `toml:"embedding_dim"`
	} `toml:"storage"`

	Provider struct {
		Backend string `toml:"backend"` // openai (default when empty) | azureopenai | openrouter | ollama | vllm
		APIKey  string `toml:"api_key"`
		BaseURL string `toml:"base_url"`
		Model   string `toml:"model"`
	} `toml:"provider"`

	Planner struct {
		EnableChainOfThought bool   `toml:"enable_chain_of_thought"`
		RoutingPreference    string `toml:"routing_preference"`
	} `toml:"planner"`

	Budget struct {
		CapUSD float64 `toml:"cap_usd"`
		Policy string  `toml:"policy"` // warn | block | optimize
	} `toml:"budget"`

	Server struct {
		ListenAddr string `toml:"listen_addr"`
	} `toml:"server"`
}

// LoadConfig reads and decodes the TOML file at path.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("agentcored: load config %q: %w", path, err)
	}
	return &cfg, nil
}
