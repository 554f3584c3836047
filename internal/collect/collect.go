// Package collect enriches stored audit inputs from a product's storefront page
// and from market news sources.
package collect

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/TobiSchelling/marketaudit/internal/audit"
)

// Sources named in quality flags and auxiliary analyses.
const (
	SourceStorefront = "storefront"
	SourceNews       = "news"
	KindMarketNews   = "market_news"
)

// PlaceholderDescription stands in for a storefront description that could not
// be collected.
const PlaceholderDescription = "No storefront description could be collected for this product."

const maxHeadlines = 15

// Store is the persistence surface the collector needs.
type Store interface {
	LoadInputs(slug string) (*audit.Inputs, error)
	UpdateDescription(slug, description string) error
	PutAuxiliary(slug string, a audit.AuxiliaryAnalysis) error
	PutQualityFlag(slug string, f audit.QualityFlag) error
	ClearQualityFlag(slug, source string) error
}

// Options configure the collector.
type Options struct {
	Feeds          []FeedConfig
	FetchTimeout   time.Duration
	DaysBack       int
	NewsAPIKeyEnv  string
	NewsAPIBaseURL string
}

// Result holds the results of a collection run.
type Result struct {
	DescriptionUpdated bool
	Headlines          int
	Flags              []audit.QualityFlag
}

// Collector orchestrates page and news collection for one product.
type Collector struct {
	store      Store
	page       *PageFetcher
	feeds      *FeedParser
	newsClient *NewsAPIClient
	daysBack   int
}

// NewCollector creates a collector.
func NewCollector(store Store, opts Options) *Collector {
	c := &Collector{
		store:    store,
		page:     NewPageFetcher(opts.FetchTimeout),
		daysBack: opts.DaysBack,
	}
	if c.daysBack <= 0 {
		c.daysBack = 30
	}
	if len(opts.Feeds) > 0 {
		c.feeds = NewFeedParser(opts.Feeds)
	}
	if opts.NewsAPIKeyEnv != "" {
		if client := NewNewsAPIClient(opts.NewsAPIKeyEnv, opts.NewsAPIBaseURL); client.IsConfigured() {
			c.newsClient = client
		}
	}
	return c
}

// Collect refreshes the storefront description and market news of slug. Source
// failures become quality flags, not errors; only store failures are returned.
func (c *Collector) Collect(ctx context.Context, slug string) (*Result, error) {
	in, err := c.store.LoadInputs(slug)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("product", slug))
	r := &Result{}

	if err := c.collectPage(ctx, slug, in, r, log); err != nil {
		return nil, err
	}
	if err := c.collectNews(ctx, slug, in, r, log); err != nil {
		return nil, err
	}

	log.Info("collect: complete",
		zap.Bool("description_updated", r.DescriptionUpdated),
		zap.Int("headlines", r.Headlines),
		zap.Int("flags", len(r.Flags)),
	)
	return r, nil
}

func (c *Collector) collectPage(ctx context.Context, slug string, in *audit.Inputs, r *Result, log *zap.Logger) error {
	if in.Subject.URL == "" {
		log.Debug("collect: no storefront url, skipping page")
		return nil
	}

	text, err := c.page.Fetch(ctx, in.Subject.URL)
	if err == nil {
		if err := c.store.UpdateDescription(slug, text); err != nil {
			return err
		}
		r.DescriptionUpdated = true
		return c.store.ClearQualityFlag(slug, SourceStorefront)
	}

	log.Warn("collect: storefront fetch failed", zap.String("url", in.Subject.URL), zap.Error(err))

	// Keep an existing description but mark it stale; otherwise use a placeholder.
	flag := audit.QualityFlag{
		Source:   SourceStorefront,
		Severity: audit.SeverityInfo,
		Note:     "page fetch failed, using previously stored description",
	}
	if in.Subject.Description == "" || in.Subject.Description == PlaceholderDescription {
		if err := c.store.UpdateDescription(slug, PlaceholderDescription); err != nil {
			return err
		}
		flag.Placeholder = true
		flag.Note = "page fetch failed, description is a placeholder"
	}
	if err := c.store.PutQualityFlag(slug, flag); err != nil {
		return err
	}
	r.Flags = append(r.Flags, flag)
	return nil
}

func (c *Collector) collectNews(ctx context.Context, slug string, in *audit.Inputs, r *Result, log *zap.Logger) error {
	if c.feeds == nil && c.newsClient == nil {
		return nil
	}

	var all []Headline
	failed := 0
	if c.feeds != nil {
		all = append(all, c.feeds.ParseAll(ctx, c.daysBack)...)
	}
	if c.newsClient != nil {
		found, err := c.newsClient.Search(ctx, in.Subject.Name, c.daysBack, 50)
		if err != nil {
			failed++
			log.Warn("collect: newsapi search failed", zap.Error(err))
		}
		all = append(all, found...)
	}

	terms := append([]string{in.Subject.Name}, in.Subject.Tags...)
	matched := matchHeadlines(all, terms, maxHeadlines)
	r.Headlines = len(matched)

	if failed > 0 && len(all) == 0 {
		flag := audit.QualityFlag{Source: SourceNews, Severity: audit.SeverityInfo, Note: "no news source could be reached"}
		if err := c.store.PutQualityFlag(slug, flag); err != nil {
			return err
		}
		r.Flags = append(r.Flags, flag)
		return nil
	}

	headlines := make([]any, len(matched))
	for i, h := range matched {
		headlines[i] = map[string]any{"title": h.Title, "url": h.URL, "source": h.Source, "published": h.Published}
	}
	analysis := audit.AuxiliaryAnalysis{
		Kind:   KindMarketNews,
		Source: SourceNews,
		Record: audit.Record{
			"scanned":   len(all),
			"matched":   len(matched),
			"headlines": headlines,
		},
	}
	if err := c.store.PutAuxiliary(slug, analysis); err != nil {
		return eris.Wrap(err, "storing market news")
	}
	return nil
}
