package cmd

import (
	"fmt"

	"github.com/Agent-Zoey/Zoey-sub001/plugins/provider/azureopenai"
	"github.com/Agent-Zoey/Zoey-sub001/plugins/provider/ollama"
	"github.com/Agent-Zoey/Zoey-sub001/plugins/provider/openai"
	"github.com/Agent-Zoey/Zoey-sub001/plugins/provider/openrouter"
	"github.com/Agent-Zoey/Zoey-sub001/plugins/provider/vllm"
	"github.com/Agent-Zoey/Zoey-sub001/provider"
)

// buildProvider constructs the single provider.Provider agentcored runs
// with, selected by cfg.Provider.Backend. Each case delegates straight to
// that plugin's own constructor rather than reimplementing its client.
func buildProvider(cfg *Config) (provider.Provider, error) {
	p := cfg.Provider
	switch p.Backend {
	case "", "openai":
		return openai.New(openai.Config{APIKey: p.APIKey, Model: p.Model, Priority: 1})
	case "azureopenai":
		return azureopenai.New(azureopenai.Config{
			Endpoint:   p.BaseURL,
			APIKey:     p.APIKey,
			Deployment: p.Model,
			Priority:   1,
		})
	case "openrouter":
		return openrouter.New(openrouter.Config{APIKey: p.APIKey, Model: p.Model, Priority: 1})
	case "ollama":
		return ollama.New(ollama.Config{BaseURL: p.BaseURL, Model: p.Model, Priority: 1})
	case "vllm":
		return vllm.New(vllm.Config{BaseURL: p.BaseURL, Model: p.Model, Priority: 1})
	default:
		return nil, fmt.Errorf("agentcored: unknown provider backend %q", p.Backend)
	}
}
