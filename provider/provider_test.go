package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateParamsValidate(t *testing.T) {
	cases := []struct {
		name    string
		params  GenerateParams
		wantErr bool
	}{
		{"valid", GenerateParams{Prompt: "hi", MaxTokens: 100, Temperature: 0.7}, false},
		{"empty prompt", GenerateParams{Prompt: "", MaxTokens: 100}, true},
		{"max tokens too low", GenerateParams{Prompt: "hi", MaxTokens: 0}, true},
		{"max tokens too high", GenerateParams{Prompt: "hi", MaxTokens: 32769}, true},
		{"temperature too low", GenerateParams{Prompt: "hi", MaxTokens: 10, Temperature: -0.1}, true},
		{"temperature too high", GenerateParams{Prompt: "hi", MaxTokens: 10, Temperature: 2.1}, true},
		{"boundary max tokens", GenerateParams{Prompt: "hi", MaxTokens: 32768, Temperature: 2.0}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.params.Validate()
			if c.wantErr {
				require.Error(t, err)
				assert.True(t, IsKind(err, KindInvalidRequest))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLocalBackendConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     LocalBackendConfig
		wantErr bool
	}{
		{"valid http", LocalBackendConfig{BaseURL: "http://localhost:11434", Model: "llama3.2"}, false},
		{"valid https", LocalBackendConfig{BaseURL: "https://gateway.local", Model: "llama3.2"}, false},
		{"bad scheme", LocalBackendConfig{BaseURL: "ftp://localhost", Model: "llama3.2"}, true},
		{"empty model", LocalBackendConfig{BaseURL: "http://localhost:11434", Model: ""}, true},
		{"model with newline", LocalBackendConfig{BaseURL: "http://localhost:11434", Model: "bad\nmodel"}, true},
		{"empty url", LocalBackendConfig{BaseURL: "", Model: "llama3.2"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.Validate()
			if c.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestContainsDangerousPattern(t *testing.T) {
	assert.True(t, ContainsDangerousPattern("please run os.system('rm -rf /')"))
	assert.True(t, ContainsDangerousPattern("eval(userInput)"))
	assert.False(t, ContainsDangerousPattern("tell me about the weather"))
}

func TestStripDangerousEnv(t *testing.T) {
	env := []string{"HOME=/root", "LD_PRELOAD=/evil.so", "PATH=/usr/bin"}
	out := StripDangerousEnv(env)
	assert.Contains(t, out, "HOME=/root")
	assert.Contains(t, out, "PATH=/usr/bin")
	assert.NotContains(t, out, "LD_PRELOAD=/evil.so")
}

func TestErrorWrappingAndUnwrap(t *testing.T) {
	cause := assert.AnError
	err := NewError(KindTimeout, "openai", "Generate", cause)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsKind(err, KindTimeout))
	assert.False(t, IsKind(err, KindUnavailable))
}
