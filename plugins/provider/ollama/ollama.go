// Package ollama adapts a local Ollama server's native API (NDJSON, not
// OpenAI-compatible) to provider.Provider. Grounded on the teacher's
// ollama_adapter.go.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Agent-Zoey/Zoey-sub001/provider"
)

const DefaultBaseURL = "http://localhost:11434"
const defaultEmbeddingModel = "nomic-embed-text:latest"

// Config configures an Adapter.
type Config struct {
	BaseURL            string
	Model              string
	EmbeddingModel      string
	AllowCodeExecution bool
	Priority           int
}

// Adapter implements provider.Provider over a local Ollama server.
type Adapter struct {
	baseURL        string
	model          string
	embeddingModel string
	httpClient     *http.Client
	bounds         provider.SafetyBounds
	allowExec      bool
	priority       int
}

// New constructs an Adapter, applying local-backend validation before
// dialing anything.
func New(cfg Config) (*Adapter, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	local := provider.LocalBackendConfig{BaseURL: baseURL, Model: cfg.Model, AllowCodeExecution: cfg.AllowCodeExecution}
	if err := local.Validate(); err != nil {
		return nil, err
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModel
	}
	bounds := provider.DefaultSafetyBounds()
	return &Adapter{
		baseURL:        baseURL,
		model:          cfg.Model,
		embeddingModel: embeddingModel,
		httpClient:     &http.Client{Timeout: bounds.CallTimeout},
		bounds:         bounds,
		allowExec:      cfg.AllowCodeExecution,
		priority:       cfg.Priority,
	}, nil
}

func (a *Adapter) Name() string  { return "ollama" }
func (a *Adapter) Priority() int { return a.priority }
func (a *Adapter) Capabilities() map[provider.Capability]bool {
	return map[provider.Capability]bool{provider.CapChat: true, provider.CapStream: true, provider.CapEmbedding: true}
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

	body, _ := json.Marshal(map[string]any{
		"model":    model,
		"messages": []map[string]string{{"role": "user", "content": params.Prompt}},
		"stream":   false,
		"options":  map[string]any{"temperature": params.Temperature, "num_predict": params.MaxTokens},
	})

	ctx, cancel := context.WithTimeout(ctx, a.bounds.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return provider.Result{}, provider.NewError(provider.KindInvalidRequest, a.Name(), "Generate", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return provider.Result{}, provider.NewError(provider.KindUnavailable, a.Name(), "Generate", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, a.bounds.MaxResponseBytes+1))
	if err != nil {
		return provider.Result{}, provider.NewError(provider.KindBadResponse, a.Name(), "Generate", err)
	}
	if resp.StatusCode != http.StatusOK {
		return provider.Result{}, provider.NewError(provider.KindUnavailable, a.Name(), "Generate",
			fmt.Errorf("ollama returned %d: %s", resp.StatusCode, raw))
	}

	var parsed struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		PromptEvalCount int `json:"prompt_eval_count"`
		EvalCount       int `json:"eval_count"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return provider.Result{}, provider.NewError(provider.KindBadResponse, a.Name(), "Generate", err)
	}
	return provider.Result{
		Text: parsed.Message.Content,
		Usage: provider.Usage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
			TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		},
	}, nil
}

// GenerateStream speaks Ollama's NDJSON streaming format over /api/generate:
// one JSON object per line, terminal object carries done=true.
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

	body, _ := json.Marshal(map[string]any{
		"model":  model,
		"prompt": params.Prompt,
		"stream": true,
		"options": map[string]any{"temperature": params.Temperature, "num_predict": params.MaxTokens},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, provider.NewError(provider.KindInvalidRequest, a.Name(), "GenerateStream", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, provider.NewError(provider.KindUnavailable, a.Name(), "GenerateStream", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, a.bounds.MaxResponseBytes))
		return nil, provider.NewError(provider.KindUnavailable, a.Name(), "GenerateStream",
			fmt.Errorf("ollama returned %d: %s", resp.StatusCode, raw))
	}

	out := make(chan provider.Chunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		decoder := json.NewDecoder(resp.Body)
		for {
			select {
			case <-ctx.Done():
				out <- provider.Chunk{Error: ctx.Err().Error(), Final: true}
				return
			default:
			}

			var chunk struct {
				Response string `json:"response"`
				Done     bool   `json:"done"`
				Error    string `json:"error,omitempty"`
			}
			if err := decoder.Decode(&chunk); err != nil {
				if err == io.EOF {
					out <- provider.Chunk{Final: true}
					return
				}
				out <- provider.Chunk{Error: err.Error(), Final: true}
				return
			}
			if chunk.Error != "" {
				out <- provider.Chunk{Error: chunk.Error, Final: true}
				return
			}
			if chunk.Response != "" {
				out <- provider.Chunk{Text: chunk.Response}
			}
			if chunk.Done {
				out <- provider.Chunk{Final: true}
				return
			}
		}
	}()
	return out, nil
}

// Embed generates embeddings one text at a time, matching Ollama's
// single-input /api/embeddings endpoint.
func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		body, _ := json.Marshal(map[string]any{"model": a.embeddingModel, "prompt": text})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, provider.NewError(provider.KindInvalidRequest, a.Name(), "Embed", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, provider.NewError(provider.KindUnavailable, a.Name(), "Embed", err)
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, a.bounds.MaxResponseBytes+1))
		resp.Body.Close()
		if err != nil {
			return nil, provider.NewError(provider.KindBadResponse, a.Name(), "Embed", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, provider.NewError(provider.KindUnavailable, a.Name(), "Embed",
				fmt.Errorf("ollama returned %d: %s", resp.StatusCode, raw))
		}
		var parsed struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, provider.NewError(provider.KindBadResponse, a.Name(), "Embed", err)
		}
		out[i] = parsed.Embedding
	}
	return out, nil
}

type errDangerous struct{}

func (errDangerous) Error() string {
	return "ollama: prompt matches the code-execution denylist and allow_code_execution is false"
}
