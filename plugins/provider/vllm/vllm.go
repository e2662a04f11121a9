// Package vllm adapts a self-hosted vLLM OpenAI-compatible server to
// provider.Provider. Grounded on the teacher's vllm_adapter.go, which
// reused the OpenAI adapter wholesale; here it reuses the shared
// openaicompat client instead and additionally runs local-backend validation
// per the provider contract (this is a local, not cloud, backend).
package vllm

import (
	"context"

	"github.com/Agent-Zoey/Zoey-sub001/plugins/provider/internal/openaicompat"
	"github.com/Agent-Zoey/Zoey-sub001/provider"
)

const DefaultBaseURL = "http://localhost:8000/v1"

// Config configures an Adapter.
type Config struct {
	BaseURL            string
	Model              string
	AllowCodeExecution bool
	Priority           int
}

// Adapter implements provider.Provider over a vLLM server.
type Adapter struct {
	client   *openaicompat.Client
	model    string
	priority int
	allowExec bool
}

// New constructs an Adapter, applying local-backend validation to BaseURL
// and Model before dialing anything.
func New(cfg Config) (*Adapter, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	local := provider.LocalBackendConfig{BaseURL: baseURL, Model: cfg.Model, AllowCodeExecution: cfg.AllowCodeExecution}
	if err := local.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		client:    openaicompat.New(baseURL, "", nil),
		model:     cfg.Model,
		priority:  cfg.Priority,
		allowExec: cfg.AllowCodeExecution,
	}, nil
}

func (a *Adapter) Name() string  { return "vllm" }
func (a *Adapter) Priority() int { return a.priority }
func (a *Adapter) Capabilities() map[provider.Capability]bool {
	return map[provider.Capability]bool{provider.CapChat: true, provider.CapStream: true}
}

func (a *Adapter) Generate(ctx context.Context, params provider.GenerateParams) (provider.Result, error) {
	if err := params.Validate(); err != nil {
		return provider.Result{}, err
	}
	if !a.allowExec && provider.ContainsDangerousPattern(params.Prompt) {
		return provider.Result{}, provider.NewError(provider.KindUnsafe, a.Name(), "Generate", errDangerous{})
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
	if !a.allowExec && provider.ContainsDangerousPattern(params.Prompt) {
		return nil, provider.NewError(provider.KindUnsafe, a.Name(), "GenerateStream", errDangerous{})
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

type errDangerous struct{}

func (errDangerous) Error() string {
	return "vllm: prompt matches the code-execution denylist and allow_code_execution is false"
}
