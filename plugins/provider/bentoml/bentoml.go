// Package bentoml adapts a BentoML OpenAI-compatible inference service to
// provider.Provider. Grounded on the teacher's bentoml_adapter.go.
package bentoml

import (
	"context"

	"github.com/Agent-Zoey/Zoey-sub001/plugins/provider/internal/openaicompat"
	"github.com/Agent-Zoey/Zoey-sub001/provider"
)

const DefaultBaseURL = "http://localhost:3000/v1"

// Config configures an Adapter.
type Config struct {
	BaseURL      string
	APIKey       string // optional, BentoML services may run without auth
	Model        string
	ServiceName  string
	ExtraHeaders map[string]string
	Priority     int
}

// Adapter implements provider.Provider over a BentoML service.
type Adapter struct {
	client   *openaicompat.Client
	model    string
	priority int
}

// New constructs an Adapter.
func New(cfg Config) (*Adapter, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	local := provider.LocalBackendConfig{BaseURL: baseURL, Model: cfg.Model}
	if err := local.Validate(); err != nil {
		return nil, err
	}

	headers := map[string]string{}
	for k, v := range cfg.ExtraHeaders {
		headers[k] = v
	}
	if cfg.ServiceName != "" {
		headers["X-Bento-Service"] = cfg.ServiceName
	}

	return &Adapter{
		client:   openaicompat.New(baseURL, cfg.APIKey, headers),
		model:    cfg.Model,
		priority: cfg.Priority,
	}, nil
}

func (a *Adapter) Name() string  { return "bentoml" }
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
	return a.client.Embed(ctx, a.Name(), a.model, texts)
}
