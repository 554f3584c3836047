package collect

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"
)

// ErrNoContent is returned when a page has no extractable description.
var ErrNoContent = errors.New("no extractable content")

// minDescription is the shortest text accepted as a storefront description.
const minDescription = 100

const userAgent = "marketaudit/1.0 (storefront collector)"

// PageFetcher downloads a storefront page and extracts its readable text.
type PageFetcher struct {
	client *http.Client
}

// NewPageFetcher creates a page fetcher with the given request timeout.
func NewPageFetcher(timeout time.Duration) *PageFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &PageFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Fetch returns the readable text of pageURL.
func (f *PageFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", eris.Wrapf(err, "parsing %s", pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "building request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", eris.Wrapf(err, "fetching %s", pageURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", eris.Errorf("fetching %s: %s", pageURL, http.StatusText(resp.StatusCode))
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", eris.Wrapf(err, "extracting %s", pageURL)
	}

	text := strings.Join(strings.Fields(article.TextContent), " ")
	if len(text) < minDescription {
		return "", ErrNoContent
	}
	return text, nil
}
