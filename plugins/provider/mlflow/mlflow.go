// Package mlflow adapts an MLFlow AI Gateway route to provider.Provider.
// Grounded on the teacher's mlflow_adapter.go: the gateway addresses a model
// by named route rather than model string, at
// "{base_url}/gateway/{route}/v1", and the teacher wraps calls in a bounded
// retry loop — reproduced here rather than left to the caller, since a
// gateway route (unlike a direct provider) is expected to be flaky during
// its own internal failover.
package mlflow

import (
	"context"
	"fmt"
	"time"

	"github.com/Agent-Zoey/Zoey-sub001/plugins/provider/internal/openaicompat"
	"github.com/Agent-Zoey/Zoey-sub001/provider"
)

// Config configures an Adapter.
type Config struct {
	BaseURL         string
	APIKey          string
	ChatRoute       string
	EmbeddingsRoute string // optional
	Model           string // optional, the route may carry its own default
	ExtraHeaders    map[string]string
	MaxRetries      int
	RetryDelay      time.Duration
	Priority        int
}

// Adapter implements provider.Provider over an MLFlow AI Gateway route.
type Adapter struct {
	chatClient  *openaicompat.Client
	embedClient *openaicompat.Client
	model       string
	maxRetries  int
	retryDelay  time.Duration
	priority    int
}

// New constructs an Adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, provider.NewError(provider.KindInvalidRequest, "mlflow", "New", fmt.Errorf("base_url is required"))
	}
	if cfg.ChatRoute == "" {
		return nil, provider.NewError(provider.KindInvalidRequest, "mlflow", "New", fmt.Errorf("chat_route is required"))
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}

	chatClient := openaicompat.New(fmt.Sprintf("%s/gateway/%s/v1", cfg.BaseURL, cfg.ChatRoute), cfg.APIKey, cfg.ExtraHeaders)

	var embedClient *openaicompat.Client
	if cfg.EmbeddingsRoute != "" {
		embedClient = openaicompat.New(fmt.Sprintf("%s/gateway/%s/v1", cfg.BaseURL, cfg.EmbeddingsRoute), cfg.APIKey, cfg.ExtraHeaders)
	}

	return &Adapter{
		chatClient:  chatClient,
		embedClient: embedClient,
		model:       cfg.Model,
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
		priority:    cfg.Priority,
	}, nil
}

func (a *Adapter) Name() string  { return "mlflow" }
func (a *Adapter) Priority() int { return a.priority }
func (a *Adapter) Capabilities() map[provider.Capability]bool {
	caps := map[provider.Capability]bool{provider.CapChat: true}
	if a.embedClient != nil {
		caps[provider.CapEmbedding] = true
	}
	return caps
}

func (a *Adapter) Generate(ctx context.Context, params provider.GenerateParams) (provider.Result, error) {
	if err := params.Validate(); err != nil {
		return provider.Result{}, err
	}
	model := params.Model
	if model == "" {
		model = a.model
	}

	var lastErr error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return provider.Result{}, provider.NewError(provider.KindTimeout, a.Name(), "Generate", ctx.Err())
			case <-time.After(a.retryDelay * time.Duration(attempt)):
			}
		}
		res, err := a.chatClient.Generate(ctx, a.Name(), model, params, nil)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if provider.IsKind(err, provider.KindInvalidRequest) || provider.IsKind(err, provider.KindUnsafe) {
			return provider.Result{}, err // not retryable
		}
	}
	return provider.Result{}, provider.NewError(provider.KindUnavailable, a.Name(), "Generate",
		fmt.Errorf("max retries (%d) exceeded: %w", a.maxRetries, lastErr))
}

// GenerateStream is not retried: a stream that failed partway through has
// already emitted content to the caller, so retrying would duplicate it.
func (a *Adapter) GenerateStream(ctx context.Context, params provider.GenerateParams) (<-chan provider.Chunk, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	model := params.Model
	if model == "" {
		model = a.model
	}
	return a.chatClient.Stream(ctx, a.Name(), model, params, nil)
}

func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if a.embedClient == nil {
		return nil, provider.NewError(provider.KindInvalidRequest, a.Name(), "Embed",
			fmt.Errorf("embeddings_route not configured"))
	}
	return a.embedClient.Embed(ctx, a.Name(), a.model, texts)
}
