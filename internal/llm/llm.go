// Package llm provides the model provider clients and the registry the audit
// pipeline talks to.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Request is a single provider invocation.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
	IsConfigured() bool
}

// Provider kinds accepted in configuration.
const (
	KindOllama    = "ollama"
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindGemini    = "gemini"
	KindStatic    = "static"
)

// Spec describes one configured provider.
type Spec struct {
	ID                string
	Kind              string
	Model             string
	BaseURL           string
	APIKeyEnv         string
	RequestsPerMinute int
	MaxRetries        int
	Responses         []string
}

// CreateProvider creates an LLM provider from its spec.
func CreateProvider(ctx context.Context, spec Spec) (Provider, error) {
	switch strings.ToLower(spec.Kind) {
	case KindOllama:
		baseURL := spec.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return NewOllamaProvider(spec.Model, baseURL), nil
	case KindOpenAI:
		return NewOpenAIProvider(spec.Model, spec.APIKeyEnv, spec.BaseURL), nil
	case KindAnthropic:
		return NewAnthropicProvider(spec.Model, spec.APIKeyEnv, spec.BaseURL), nil
	case KindGemini:
		return NewGeminiProvider(ctx, spec.Model, spec.APIKeyEnv)
	case KindStatic:
		return NewStaticProvider(spec.Responses...), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", spec.Kind)
	}
}
