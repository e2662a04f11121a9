// Package openrouter adapts OpenRouter's multi-model gateway to
// provider.Provider. Grounded on the teacher's openrouter_adapter.go.
package openrouter

import (
	"context"

	"github.com/Agent-Zoey/Zoey-sub001/plugins/provider/internal/openaicompat"
	"github.com/Agent-Zoey/Zoey-sub001/provider"
)

const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Config configures an Adapter.
type Config struct {
	APIKey   string
	Model    string
	SiteURL  string // optional, sent as HTTP-Referer for OpenRouter's leaderboard attribution
	SiteName string // optional, sent as X-Title
	Priority int
}

// Adapter implements provider.Provider over the OpenRouter gateway.
type Adapter struct {
	client   *openaicompat.Client
	model    string
	priority int
}

// New constructs an Adapter. APIKey must be non-empty.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, provider.NewError(provider.KindInvalidRequest, "openrouter", "New", errEmptyAPIKey{})
	}
	model := cfg.Model
	if model == "" {
		model = "openrouter/auto"
	}
	headers := map[string]string{}
	if cfg.SiteURL != "" {
		headers["HTTP-Referer"] = cfg.SiteURL
	}
	if cfg.SiteName != "" {
		headers["X-Title"] = cfg.SiteName
	}
	return &Adapter{
		client:   openaicompat.New(DefaultBaseURL, cfg.APIKey, headers),
		model:    model,
		priority: cfg.Priority,
	}, nil
}

type errEmptyAPIKey struct{}

func (errEmptyAPIKey) Error() string { return "openrouter: API key must not be empty" }

func (a *Adapter) Name() string  { return "openrouter" }
func (a *Adapter) Priority() int { return a.priority }
func (a *Adapter) Capabilities() map[provider.Capability]bool {
	return map[provider.Capability]bool{provider.CapChat: true, provider.CapStream: true}
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
	return nil, provider.NewError(provider.KindInvalidRequest, a.Name(), "Embed",
		errUnsupported{})
}

type errUnsupported struct{}

func (errUnsupported) Error() string { return "openrouter: embeddings are not supported by this gateway" }
