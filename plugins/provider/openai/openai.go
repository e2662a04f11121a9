// Package openai adapts OpenAI's chat-completions API to provider.Provider.
package openai

import (
	"context"

	"github.com/Agent-Zoey/Zoey-sub001/plugins/provider/internal/openaicompat"
	"github.com/Agent-Zoey/Zoey-sub001/provider"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// Config configures an Adapter.
type Config struct {
	APIKey   string
	Model    string
	Priority int
}

// Adapter implements provider.Provider over the OpenAI API.
type Adapter struct {
	client   *openaicompat.Client
	model    string
	priority int
}

// New constructs an Adapter. APIKey must be non-empty.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, provider.NewError(provider.KindInvalidRequest, "openai", "New", errEmptyAPIKey{})
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Adapter{
		client:   openaicompat.New(DefaultBaseURL, cfg.APIKey, nil),
		model:    model,
		priority: cfg.Priority,
	}, nil
}

type errEmptyAPIKey struct{}

func (errEmptyAPIKey) Error() string { return "openai: API key must not be empty" }

func (a *Adapter) Name() string     { return "openai" }
func (a *Adapter) Priority() int    { return a.priority }
func (a *Adapter) Capabilities() map[provider.Capability]bool {
	return map[provider.Capability]bool{provider.CapChat: true, provider.CapStream: true, provider.CapEmbedding: true}
}

func (a *Adapter) Generate(ctx context.Context, params provider.GenerateParams) (provider.Result, error) {
	if err := params.Validate(); err != nil {
		return provider.Result{}, err
	}
	model := params.Model
	if model == "" {
		model = a.model
	}
	return a.client.Generate(ctx, a.Name(), model, params, nil)
}

func (a *Adapter) GenerateStream(ctx context.Context, params provider.GenerateParams) (<-chan provider.Chunk, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	model := params.Model
	if model == "" {
		model = a.model
	}
	return a.client.Stream(ctx, a.Name(), model, params, nil)
}

func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return a.client.Embed(ctx, a.Name(), "text-embedding-3-small", texts)
}
