// Package openaicompat is the shared HTTP client for every provider adapter
// that speaks the OpenAI chat-completions wire format: OpenAI itself, Azure
// OpenAI, OpenRouter, vLLM, and BentoML's OpenAI-compatible gateway.
// Grounded on the teacher's OpenAIAdapter, which served all of these by
// swapping only the base URL and headers.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Agent-Zoey/Zoey-sub001/provider"
)

// Client is a configured OpenAI-compatible HTTP backend. ChatPath and
// EmbedPath default to "/chat/completions" and "/embeddings" but can be
// overridden (with a query string included) for backends such as Azure
// OpenAI that address a deployment by path and api-version by query.
type Client struct {
	BaseURL      string
	APIKey       string
	ExtraHeaders map[string]string
	HTTPClient   *http.Client
	Bounds       provider.SafetyBounds
	ChatPath     string
	EmbedPath    string
	NoBearerAuth bool // true when auth is carried entirely via ExtraHeaders (e.g. Azure's api-key)
}

// New builds a Client with the contract's default safety bounds.
func New(baseURL, apiKey string, extraHeaders map[string]string) *Client {
	bounds := provider.DefaultSafetyBounds()
	return &Client{
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
		APIKey:       apiKey,
		ExtraHeaders: extraHeaders,
		HTTPClient:   &http.Client{Timeout: bounds.CallTimeout},
		Bounds:       bounds,
		ChatPath:     "/chat/completions",
		EmbedPath:    "/embeddings",
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" && !c.NoBearerAuth {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	for k, v := range c.ExtraHeaders {
		req.Header.Set(k, v)
	}
}

func (c *Client) chatURL() string  { return c.BaseURL + c.ChatPath }
func (c *Client) embedURL() string { return c.BaseURL + c.EmbedPath }

func buildChatBody(params provider.GenerateParams, model string, extra map[string]any, stream bool) ([]byte, error) {
	body := map[string]any{
		"model":    model,
		"messages": []map[string]string{{"role": "user", "content": params.Prompt}},
		"stream":   stream,
	}
	if params.MaxTokens > 0 {
		body["max_tokens"] = params.MaxTokens
	}
	body["temperature"] = params.Temperature
	if params.TopP > 0 {
		body["top_p"] = params.TopP
	}
	if len(params.Stop) > 0 {
		body["stop"] = params.Stop
	}
	if params.FrequencyPenalty != 0 {
		body["frequency_penalty"] = params.FrequencyPenalty
	}
	if params.PresencePenalty != 0 {
		body["presence_penalty"] = params.PresencePenalty
	}
	for k, v := range extra {
		body[k] = v
	}
	return json.Marshal(body)
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate performs a single, non-streaming chat-completions call.
func (c *Client) Generate(ctx context.Context, providerName, model string, params provider.GenerateParams, extra map[string]any) (provider.Result, error) {
	reqBody, err := buildChatBody(params, model, extra, false)
	if err != nil {
		return provider.Result{}, provider.NewError(provider.KindInvalidRequest, providerName, "Generate", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Bounds.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL(), bytes.NewReader(reqBody))
	if err != nil {
		return provider.Result{}, provider.NewError(provider.KindInvalidRequest, providerName, "Generate", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return provider.Result{}, classifyTransportError(providerName, "Generate", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.Bounds.MaxResponseBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return provider.Result{}, provider.NewError(provider.KindBadResponse, providerName, "Generate", err)
	}
	if int64(len(raw)) > c.Bounds.MaxResponseBytes {
		return provider.Result{}, provider.NewError(provider.KindBadResponse, providerName, "Generate",
			fmt.Errorf("response exceeds max_response_size of %d bytes", c.Bounds.MaxResponseBytes))
	}

	if resp.StatusCode != http.StatusOK {
		return provider.Result{}, classifyStatusError(providerName, "Generate", resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return provider.Result{}, provider.NewError(provider.KindBadResponse, providerName, "Generate", err)
	}
	if len(parsed.Choices) == 0 {
		return provider.Result{}, provider.NewError(provider.KindBadResponse, providerName, "Generate",
			fmt.Errorf("no completion choices returned"))
	}

	return provider.Result{
		Text:         parsed.Choices[0].Message.Content,
		FinishReason: parsed.Choices[0].FinishReason,
		Usage: provider.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

// Stream performs a streaming chat-completions call over SSE.
func (c *Client) Stream(ctx context.Context, providerName, model string, params provider.GenerateParams, extra map[string]any) (<-chan provider.Chunk, error) {
	reqBody, err := buildChatBody(params, model, extra, true)
	if err != nil {
		return nil, provider.NewError(provider.KindInvalidRequest, providerName, "GenerateStream", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, provider.NewError(provider.KindInvalidRequest, providerName, "GenerateStream", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(providerName, "GenerateStream", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, c.Bounds.MaxResponseBytes))
		return nil, classifyStatusError(providerName, "GenerateStream", resp.StatusCode, raw)
	}

	out := make(chan provider.Chunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			if data == "[DONE]" {
				out <- provider.Chunk{Final: true}
				return
			}
			var delta struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
					FinishReason *string `json:"finish_reason"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				out <- provider.Chunk{Error: err.Error(), Final: true}
				return
			}
			if len(delta.Choices) == 0 {
				continue
			}
			final := delta.Choices[0].FinishReason != nil
			select {
			case out <- provider.Chunk{Text: delta.Choices[0].Delta.Content, Final: final}:
			case <-ctx.Done():
				out <- provider.Chunk{Error: ctx.Err().Error(), Final: true}
				return
			}
			if final {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			out <- provider.Chunk{Error: err.Error(), Final: true}
		}
	}()
	return out, nil
}

// Embed calls the embeddings endpoint.
func (c *Client) Embed(ctx context.Context, providerName, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	reqBody, err := json.Marshal(map[string]any{"model": model, "input": texts})
	if err != nil {
		return nil, provider.NewError(provider.KindInvalidRequest, providerName, "Embed", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Bounds.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.embedURL(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, provider.NewError(provider.KindInvalidRequest, providerName, "Embed", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(providerName, "Embed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.Bounds.MaxResponseBytes+1))
	if err != nil {
		return nil, provider.NewError(provider.KindBadResponse, providerName, "Embed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatusError(providerName, "Embed", resp.StatusCode, raw)
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, provider.NewError(provider.KindBadResponse, providerName, "Embed", err)
	}
	out := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index >= 0 && item.Index < len(out) {
			out[item.Index] = item.Embedding
		}
	}
	return out, nil
}

func classifyTransportError(providerName, op string, err error) error {
	kind := provider.KindUnavailable
	if errIsTimeout(err) {
		kind = provider.KindTimeout
	}
	return provider.NewError(kind, providerName, op, err)
}

func errIsTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "timeout")
}

func classifyStatusError(providerName, op string, status int, body []byte) error {
	msg := fmt.Errorf("http %d: %s", status, truncate(string(body), 512))
	switch status {
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return provider.NewError(provider.KindQuotaExceeded, providerName, op, msg)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return provider.NewError(provider.KindTimeout, providerName, op, msg)
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return provider.NewError(provider.KindUnavailable, providerName, op, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return provider.NewError(provider.KindInvalidRequest, providerName, op, msg)
	default:
		return provider.NewError(provider.KindBadResponse, providerName, op, msg)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

var _ = time.Second
