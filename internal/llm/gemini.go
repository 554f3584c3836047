package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"google.golang.org/genai"
)

// GeminiProvider talks to Gemini models through the genai SDK.
type GeminiProvider struct {
	Model  string
	apiKey string
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider. A missing API key yields an
// unconfigured provider rather than an error.
func NewGeminiProvider(ctx context.Context, model, apiKeyEnv string) (*GeminiProvider, error) {
	if apiKeyEnv == "" {
		apiKeyEnv = "GOOGLE_API_KEY"
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	p := &GeminiProvider{Model: model, apiKey: os.Getenv(apiKeyEnv)}
	if p.apiKey == "" {
		return p, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	p.client = client
	return p, nil
}

// IsConfigured checks if the client could be created.
func (g *GeminiProvider) IsConfigured() bool {
	return g.client != nil
}

// Generate sends a prompt to Gemini and returns the response text.
func (g *GeminiProvider) Generate(ctx context.Context, r Request) (string, error) {
	if g.client == nil {
		return "", &ProviderError{Provider: KindGemini, StatusCode: http.StatusUnauthorized, Err: errors.New("API key not configured")}
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(r.Temperature)),
		MaxOutputTokens: int32(r.MaxTokens),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.Model,
		[]*genai.Content{genai.NewContentFromText(r.Prompt, genai.RoleUser)},
		config,
	)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &ProviderError{Provider: KindGemini, StatusCode: apiErr.Code, Err: err}
		}
		return "", err
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", &ProviderError{Provider: KindGemini, Err: errors.New("empty response")}
	}
	text := resp.Text()
	if text == "" {
		return "", &ProviderError{Provider: KindGemini, Err: errors.New("empty text in response")}
	}
	return text, nil
}
