package collect

import (
	"context"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

const maxPerFeed = 20

// Headline is one news item relevant to a product's market.
type Headline struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Source    string `json:"source"`
	Published string `json:"published,omitempty"` // YYYY-MM-DD or empty
	Summary   string `json:"-"`
}

// FeedConfig represents a single feed configuration.
type FeedConfig struct {
	URL  string
	Name string
}

// FeedParser parses RSS/Atom feeds.
type FeedParser struct {
	feeds []FeedConfig
}

// NewFeedParser creates a new FeedParser.
func NewFeedParser(feeds []FeedConfig) *FeedParser {
	return &FeedParser{feeds: feeds}
}

// ParseAll parses all configured feeds and returns entries within daysBack. A feed
// that fails is logged and skipped.
func (fp *FeedParser) ParseAll(ctx context.Context, daysBack int) []Headline {
	cutoff := time.Now().AddDate(0, 0, -daysBack)
	var all []Headline

	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	for _, fc := range fp.feeds {
		name := fc.Name
		if name == "" {
			name = extractSourceName(fc.URL)
		}

		entries, err := parseFeed(ctx, parser, fc.URL, name, cutoff)
		if err != nil {
			zap.L().Warn("collect: failed to parse feed", zap.String("feed", fc.URL), zap.Error(err))
			continue
		}
		all = append(all, entries...)
		zap.L().Debug("collect: parsed feed",
			zap.String("source", name),
			zap.Int("entries", len(entries)),
			zap.Int("days_back", daysBack),
		)
	}

	return all
}

func parseFeed(ctx context.Context, parser *gofeed.Parser, feedURL, sourceName string, cutoff time.Time) ([]Headline, error) {
	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, err
	}

	var entries []Headline
	for _, item := range feed.Items {
		if len(entries) >= maxPerFeed {
			break
		}

		entry := parseItem(item, sourceName)
		if entry == nil {
			continue
		}
		if isWithinWindow(entry.Published, cutoff) {
			entries = append(entries, *entry)
		}
	}

	return entries, nil
}

func parseItem(item *gofeed.Item, source string) *Headline {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	if itemURL == "" {
		return nil
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		return nil
	}

	var published string
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.Format("2006-01-02")
	} else if item.UpdatedParsed != nil {
		published = item.UpdatedParsed.Format("2006-01-02")
	}

	summary := item.Description
	if summary == "" {
		summary = item.Content
	}

	return &Headline{
		Title:     title,
		URL:       itemURL,
		Source:    source,
		Published: published,
		Summary:   stripHTML(summary),
	}
}

func isWithinWindow(published string, cutoff time.Time) bool {
	if published == "" {
		return true // benefit of the doubt
	}
	pub, err := time.Parse("2006-01-02", published)
	if err != nil {
		return true
	}
	return !pub.Before(cutoff)
}

func stripHTML(text string) string {
	var result strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			result.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			result.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(html.UnescapeString(result.String())), " ")
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return strings.ToUpper(host[:1]) + host[1:]
}

// matchHeadlines keeps the headlines that mention any of terms, deduplicated by URL.
func matchHeadlines(headlines []Headline, terms []string, limit int) []Headline {
	var lowered []string
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			lowered = append(lowered, t)
		}
	}

	seen := make(map[string]bool)
	var out []Headline
	for _, h := range headlines {
		if seen[h.URL] {
			continue
		}
		text := strings.ToLower(h.Title + " " + h.Summary)
		for _, t := range lowered {
			if strings.Contains(text, t) {
				seen[h.URL] = true
				out = append(out, h)
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
