// Package azureopenai adapts Azure OpenAI Service's deployment-scoped chat
// API to provider.Provider. Grounded on the teacher's azure_adapter.go.
package azureopenai

import (
	"context"
	"fmt"

	"github.com/Agent-Zoey/Zoey-sub001/plugins/provider/internal/openaicompat"
	"github.com/Agent-Zoey/Zoey-sub001/provider"
)

const defaultAPIVersion = "2024-02-15-preview"

// Config configures an Adapter.
type Config struct {
	Endpoint   string // e.g. https://my-resource.openai.azure.com
	APIKey     string
	Deployment string
	APIVersion string // defaults to defaultAPIVersion
	Priority   int
}

// Adapter implements provider.Provider over Azure OpenAI Service.
type Adapter struct {
	client     *openaicompat.Client
	deployment string
	priority   int
}

// New constructs an Adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.Endpoint == "" || cfg.APIKey == "" || cfg.Deployment == "" {
		return nil, provider.NewError(provider.KindInvalidRequest, "azureopenai", "New",
			fmt.Errorf("endpoint, api key, and deployment are all required"))
	}
	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}

	client := openaicompat.New(cfg.Endpoint, cfg.APIKey, map[string]string{"api-key": cfg.APIKey})
	client.NoBearerAuth = true
	client.ChatPath = fmt.Sprintf("/openai/deployments/%s/chat/completions?api-version=%s", cfg.Deployment, version)
	client.EmbedPath = fmt.Sprintf("/openai/deployments/%s/embeddings?api-version=%s", cfg.Deployment, version)

	return &Adapter{client: client, deployment: cfg.Deployment, priority: cfg.Priority}, nil
}

func (a *Adapter) Name() string  { return "azureopenai" }
func (a *Adapter) Priority() int { return a.priority }
func (a *Adapter) Capabilities() map[provider.Capability]bool {
	return map[provider.Capability]bool{provider.CapChat: true, provider.CapStream: true, provider.CapEmbedding: true}
}

func (a *Adapter) Generate(ctx context.Context, params provider.GenerateParams) (provider.Result, error) {
	if err := params.Validate(); err != nil {
		return provider.Result{}, err
	}
	return a.client.Generate(ctx, a.Name(), a.deployment, params, nil)
}

func (a *Adapter) GenerateStream(ctx context.Context, params provider.GenerateParams) (<-chan provider.Chunk, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return a.client.Stream(ctx, a.Name(), a.deployment, params, nil)
}

func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return a.client.Embed(ctx, a.Name(), a.deployment, texts)
}
