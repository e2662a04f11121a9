// Package provider defines the uniform contract over heterogeneous LLM
// backends: cloud APIs, local self-hosted servers, and managed gateways.
package provider

import "context"

// Capability names a single thing a Provider can do.
type Capability string

const (
	CapChat      Capability = "chat"
	CapEmbedding Capability = "embedding"
	CapStream    Capability = "stream"
	CapVoice     Capability = "voice"
)

// ModelTier is a token naming a class of model a registry entry serves.
type ModelTier string

const (
	TierTextSmall  ModelTier = "TEXT_SMALL"
	TierTextLarge  ModelTier = "TEXT_LARGE"
	TierEmbedding  ModelTier = "TEXT_EMBEDDING"
	TierTTS        ModelTier = "TTS"
	TierSTT        ModelTier = "STT"
)

// GenerateParams parameterizes a single generation call. Providers validate
// every numeric range before dispatching to the backend.
type GenerateParams struct {
	Prompt           string
	Model            string
	MaxTokens        int     // 1..=32768
	Temperature      float32 // 0.0..=2.0
	TopP             float32
	Stop             []string
	FrequencyPenalty float32
	PresencePenalty  float32
}

// Validate checks the numeric ranges and non-empty-prompt rule from the
// provider contract. Every adapter calls this before dispatching.
func (p GenerateParams) Validate() error {
	if p.Prompt == "" {
		return NewError(KindInvalidRequest, "", "Validate", errInvalid("prompt must not be empty"))
	}
	if p.MaxTokens < 1 || p.MaxTokens > 32768 {
		return NewError(KindInvalidRequest, "", "Validate", errInvalid("max_tokens out of range [1, 32768]"))
	}
	if p.Temperature < 0.0 || p.Temperature > 2.0 {
		return NewError(KindInvalidRequest, "", "Validate", errInvalid("temperature out of range [0.0, 2.0]"))
	}
	return nil
}

type invalidParam string

func (e invalidParam) Error() string { return string(e) }
func errInvalid(msg string) error    { return invalidParam(msg) }

// Chunk is one piece of a streamed generation. The terminal chunk has
// Final=true; Error is set only on the chunk that ends the stream abnormally.
type Chunk struct {
	Text  string
	Final bool
	Error string
}

// Usage reports token accounting for a completed call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is the outcome of a non-streaming Generate call.
type Result struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// Provider is the contract every LLM backend adapter implements. Embedding
// and streaming are optional: an adapter that doesn't support them omits
// the capability from Capabilities() and callers must not invoke them.
type Provider interface {
	Name() string
	Priority() int
	Capabilities() map[Capability]bool

	Generate(ctx context.Context, params GenerateParams) (Result, error)
	GenerateStream(ctx context.Context, params GenerateParams) (<-chan Chunk, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// RegistryEntry binds a named, prioritized handler into a kernel model-tier
// slot (spec's `models` registry: TIER -> ordered [{name, priority, handler}]).
type RegistryEntry struct {
	Name     string
	Priority int
	Provider Provider
}
