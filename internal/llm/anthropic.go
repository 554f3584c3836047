package llm

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider talks to Claude models through the official SDK.
type AnthropicProvider struct {
	Model  string
	apiKey string
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(model, apiKeyEnv, baseURL string) *AnthropicProvider {
	if apiKeyEnv == "" {
		apiKeyEnv = "ANTHROPIC_API_KEY"
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	apiKey := os.Getenv(apiKeyEnv)

	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicProvider{
		Model:  model,
		apiKey: apiKey,
		client: anthropic.NewClient(opts...),
	}
}

// IsConfigured checks if the API key is set.
func (a *AnthropicProvider) IsConfigured() bool {
	return a.apiKey != ""
}

// Generate sends a single user message and concatenates the text blocks of the reply.
func (a *AnthropicProvider) Generate(ctx context.Context, r Request) (string, error) {
	if a.apiKey == "" {
		return "", &ProviderError{Provider: KindAnthropic, StatusCode: http.StatusUnauthorized, Err: errors.New("API key not configured")}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.Model),
		MaxTokens: int64(r.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(r.Prompt)),
		},
		Temperature: anthropic.Float(r.Temperature),
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &ProviderError{Provider: KindAnthropic, StatusCode: apiErr.StatusCode, Err: err}
		}
		return "", err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", &ProviderError{Provider: KindAnthropic, Err: errors.New("empty response")}
	}
	return text.String(), nil
}
