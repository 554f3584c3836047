package collect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPIClient searches NewsAPI for market news.
type NewsAPIClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewNewsAPIClient creates a NewsAPI client reading its key from apiKeyEnv.
// An empty baseURL uses the public endpoint.
func NewNewsAPIClient(apiKeyEnv, baseURL string) *NewsAPIClient {
	if baseURL == "" {
		baseURL = newsAPIBaseURL
	}
	return &NewsAPIClient{
		apiKey:  os.Getenv(apiKeyEnv),
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Search returns up to pageSize articles matching query from the last daysBack days.
func (c *NewsAPIClient) Search(ctx context.Context, query string, daysBack, pageSize int) ([]Headline, error) {
	if !c.IsConfigured() {
		return nil, eris.New("newsapi: api key not set")
	}
	if pageSize > 100 {
		pageSize = 100
	}

	params := url.Values{
		"q":        {query},
		"from":     {time.Now().AddDate(0, 0, -daysBack).Format("2006-01-02")},
		"language": {"en"},
		"pageSize": {strconv.Itoa(pageSize)},
		"sortBy":   {"relevancy"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "newsapi: building request")
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "newsapi: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("newsapi: HTTP %d", resp.StatusCode)
	}

	var result struct {
		Status   string `json:"status"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
			Description string `json:"description"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, eris.Wrap(err, "newsapi: decoding response")
	}
	if result.Status != "ok" {
		return nil, eris.Errorf("newsapi: status %q", result.Status)
	}

	var out []Headline
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" || a.Title == "[Removed]" {
			continue
		}

		var published string
		if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
			published = t.Format("2006-01-02")
		}

		source := "NewsAPI"
		if a.Source.Name != "" {
			source = a.Source.Name
		}

		out = append(out, Headline{
			Title:     strings.TrimSpace(a.Title),
			URL:       a.URL,
			Source:    source,
			Published: published,
			Summary:   strings.TrimSpace(a.Description),
		})
	}
	return out, nil
}
