package provider

import (
	"net/url"
	"regexp"
	"strings"
	"time"
)

// SafetyBounds are the limits every adapter enforces regardless of backend,
// per the provider contract's safety-bounds clause.
type SafetyBounds struct {
	MaxResponseBytes int64         // default 10 MiB
	CallTimeout      time.Duration // default 300s
	ProbeTimeout     time.Duration // default 10s
}

// DefaultSafetyBounds returns the contract's documented defaults.
func DefaultSafetyBounds() SafetyBounds {
	return SafetyBounds{
		MaxResponseBytes: 10 << 20,
		CallTimeout:      300 * time.Second,
		ProbeTimeout:     10 * time.Second,
	}
}

// dangerousPatterns flags prompts or model-supplied content that request
// direct code execution; adapters gated by AllowCodeExecution=false reject
// a match with KindUnsafe.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bos\.system\(`),
	regexp.MustCompile(`(?i)\bsubprocess\.`),
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\bexec\s*\(`),
	regexp.MustCompile("`[^`]*rm\\s+-rf[^`]*`"),
	regexp.MustCompile(`(?i)/bin/(sh|bash)\s+-c`),
}

// ContainsDangerousPattern reports whether text matches the code-execution
// denylist.
func ContainsDangerousPattern(text string) bool {
	for _, re := range dangerousPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// dangerousEnvVars are stripped from any environment handed to a local
// backend's subprocess or request context.
var dangerousEnvVars = map[string]bool{
	"LD_PRELOAD":      true,
	"LD_LIBRARY_PATH": true,
	"DYLD_INSERT_LIBRARIES": true,
	"PYTHONSTARTUP":   true,
	"NODE_OPTIONS":    true,
}

// StripDangerousEnv returns env with any dangerous entries removed. env
// entries are "KEY=VALUE" strings, matching os.Environ()'s shape.
func StripDangerousEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if !dangerousEnvVars[key] {
			out = append(out, kv)
		}
	}
	return out
}

// LocalBackendConfig carries the additional validation local providers
// (ollama, vllm) must apply to their base URL and model name.
type LocalBackendConfig struct {
	BaseURL            string
	Model              string
	AllowCodeExecution bool
}

// Validate implements the local-backend validation clause: URL scheme is
// http(s), URL length <= 2048, model name non-empty, <= 256 chars, no
// NUL/newline.
func (c LocalBackendConfig) Validate() error {
	if len(c.BaseURL) == 0 || len(c.BaseURL) > 2048 {
		return NewError(KindInvalidRequest, "", "Validate", errInvalid("base_url must be 1..2048 bytes"))
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return NewError(KindInvalidRequest, "", "Validate", errInvalid("base_url is not a valid URL"))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewError(KindInvalidRequest, "", "Validate", errInvalid("base_url scheme must be http or https"))
	}
	if c.Model == "" || len(c.Model) > 256 {
		return NewError(KindInvalidRequest, "", "Validate", errInvalid("model name must be 1..256 bytes"))
	}
	if strings.ContainsAny(c.Model, "\x00\n") {
		return NewError(KindInvalidRequest, "", "Validate", errInvalid("model name must not contain NUL or newline"))
	}
	return nil
}
