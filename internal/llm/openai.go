package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const defaultOpenAIURL = "https://api.openai.com/v1"

// OpenAIProvider is an OpenAI API provider. Any chat-completions compatible
// endpoint works through BaseURL.
type OpenAIProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(model, apiKeyEnv, baseURL string) *OpenAIProvider {
	if apiKeyEnv == "" {
		apiKeyEnv = "OPENAI_API_KEY"
	}
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	return &OpenAIProvider{
		Model:   model,
		APIKey:  os.Getenv(apiKeyEnv),
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Generate sends a prompt to OpenAI and returns the response.
func (o *OpenAIProvider) Generate(ctx context.Context, r Request) (string, error) {
	if o.APIKey == "" {
		return "", &ProviderError{Provider: KindOpenAI, StatusCode: http.StatusUnauthorized, Err: errors.New("API key not configured")}
	}

	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": r.Prompt},
		},
		"max_tokens":  r.MaxTokens,
		"temperature": r.Temperature,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &ProviderError{Provider: KindOpenAI, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", respBody)}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", &ProviderError{Provider: KindOpenAI, Err: errors.New("no choices in response")}
	}

	return result.Choices[0].Message.Content, nil
}
