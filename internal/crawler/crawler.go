package crawler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"compintel/internal/articles"
	"compintel/internal/config"
	"compintel/internal/logging"
	"compintel/internal/ratelimit"
	"compintel/internal/store"
)

// Config controls search and fetching.
type Config struct {
	Keywords            []string
	MaxArticlesPerQuery int
	MaxPages            int
	Concurrency         int
	RequestDelay        time.Duration
	QueryDelay          time.Duration
	SearchURL           string
	UserAgent           string
	Timeout             time.Duration
	Recency             string
	MaxBodyChars        int
}

// ConfigFrom converts the [crawl] settings.
func ConfigFrom(c config.Crawl) Config {
	return Config{
		Keywords:            append([]string(nil), c.Keywords...),
		MaxArticlesPerQuery: c.MaxArticlesPerQuery,
		MaxPages:            c.MaxPages,
		Concurrency:         c.Concurrency,
		RequestDelay:        time.Duration(c.RequestDelayMillis) * time.Millisecond,
		QueryDelay:          time.Duration(c.QueryDelayMillis) * time.Millisecond,
		SearchURL:           c.SearchURL,
		UserAgent:           c.UserAgent,
		Timeout:             time.Duration(c.TimeoutSeconds) * time.Second,
		Recency:             c.Recency,
		MaxBodyChars:        c.MaxBodyChars,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxArticlesPerQuery <= 0 {
		c.MaxArticlesPerQuery = 20
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 1
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxBodyChars <= 0 {
		c.MaxBodyChars = 50000
	}
	if strings.TrimSpace(c.SearchURL) == "" {
		c.SearchURL = "https://www.google.com/search"
	}
	return c
}

// Crawler searches and fetches news articles.
type Crawler struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

// Option customizes the crawler.
type Option func(*Crawler)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Crawler) {
		if client != nil {
			c.client = client
		}
	}
}

// WithLogger sets the crawler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Crawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for relative dates.
func WithClock(now func() time.Time) Option {
	return func(c *Crawler) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleeper overrides delays between requests (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Crawler) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New builds a crawler.
func New(cfg Config, opts ...Option) *Crawler {
	c := &Crawler{
		cfg:    cfg.withDefaults(),
		client: &http.Client{},
		logger: logging.NewNop(),
		now:    time.Now,
		sleep:  ratelimit.SleepWithContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Summary counts what one crawl did.
type Summary struct {
	Queries     int
	Hits        int
	Duplicates  int
	Fetched     int
	Saved       int
	FailedQuery int
	FailedFetch int
}

type fetched struct {
	hit  Hit
	page Page
	err  error
}

// Run searches every competitor and keyword pair and appends new articles to
// table. Per-query failures are logged and counted; only context cancellation
// and store errors end the run.
func (c *Crawler) Run(ctx context.Context, table store.Table, competitors []string) (Summary, error) {
	var summary Summary
	logger := logging.WithContext(ctx, c.logger)

	header, err := store.EnsureHeader(ctx, table, articles.CrawlHeader)
	if err != nil {
		return summary, err
	}
	existing, err := existingURLs(ctx, table)
	if err != nil {
		return summary, err
	}
	logger.Info("crawl started",
		logging.Int("competitors", len(competitors)),
		logging.Int("keywords", len(c.cfg.Keywords)),
		logging.Int("known_urls", len(existing)),
	)

	collected := c.now().Format(shortLayout)
	first := true
	for _, competitor := range competitors {
		for _, keyword := range c.cfg.Keywords {
			if !first {
				if err := c.sleep(ctx, c.cfg.QueryDelay); err != nil {
					return summary, err
				}
			}
			first = false
			query := competitor + " " + keyword
			summary.Queries++

			hits, err := c.Search(ctx, query)
			if err != nil {
				if ctx.Err() != nil {
					return summary, ctx.Err()
				}
				summary.FailedQuery++
				logging.WarnWithContext(logger, "news search failed", "crawl_search_failed",
					logging.String("query", query),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "the search page may be rate limiting; raise crawl.query_delay_ms"),
					logging.String(logging.FieldImpact, "articles for this query are collected next run"),
				)
				continue
			}
			summary.Hits += len(hits)

			fresh := hits[:0:0]
			for _, hit := range hits {
				if _, ok := existing[hit.Link]; ok {
					summary.Duplicates++
					continue
				}
				fresh = append(fresh, hit)
			}
			results := c.fetchAll(ctx, fresh)
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}

			var rows [][]string
			for _, res := range results {
				if res.err != nil {
					summary.FailedFetch++
					logger.Debug("article fetch failed", logging.String("url", res.hit.Link), logging.Error(res.err))
					continue
				}
				if res.page.Body == "" {
					summary.FailedFetch++
					continue
				}
				summary.Fetched++
				if _, ok := existing[res.hit.Link]; ok {
					continue
				}
				existing[res.hit.Link] = struct{}{}
				rows = append(rows, c.buildRow(header, competitor, query, collected, res))
			}
			if len(rows) == 0 {
				continue
			}
			if err := table.Append(ctx, rows); err != nil {
				return summary, err
			}
			summary.Saved += len(rows)
			logger.Info("articles saved", logging.String("query", query), logging.Int("rows", len(rows)))
		}
	}
	logger.Info("crawl finished",
		logging.Int("queries", summary.Queries),
		logging.Int("saved", summary.Saved),
		logging.Int("duplicates", summary.Duplicates),
		logging.Int("failed_fetches", summary.FailedFetch),
	)
	return summary, nil
}

// fetchAll downloads hits with at most Concurrency requests outstanding.
// Results keep the order of hits.
func (c *Crawler) fetchAll(ctx context.Context, hits []Hit) []fetched {
	results := make([]fetched, len(hits))
	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, hit := range hits {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i].hit = hit
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i].err = ctx.Err()
				return
			}
			defer func() { <-sem }()
			if err := c.sleep(ctx, c.cfg.RequestDelay); err != nil {
				results[i].err = err
				return
			}
			results[i].page, results[i].err = c.FetchArticle(ctx, hit.Link, hit.Date)
		}()
	}
	wg.Wait()
	return results
}

func (c *Crawler) buildRow(header []string, competitor, query, collected string, res fetched) []string {
	values := map[string]string{
		articles.ColumnCompetitor:  competitor,
		articles.ColumnQuery:       query,
		articles.ColumnTitle:       truncateRunes(res.hit.Title, c.cfg.MaxBodyChars),
		articles.ColumnBody:        truncateRunes(flattenLines(res.page.Body), c.cfg.MaxBodyChars),
		articles.ColumnURL:         res.hit.Link,
		articles.ColumnArticleDate: res.page.Date,
		articles.ColumnCollectedAt: collected,
	}
	row := make([]string, len(header))
	for i, name := range header {
		row[i] = values[name]
	}
	return row
}

func existingURLs(ctx context.Context, table store.Table) (map[string]struct{}, error) {
	values, err := table.Values(ctx)
	if err != nil {
		return nil, err
	}
	urls := make(map[string]struct{})
	if len(values) == 0 {
		return urls, nil
	}
	idx, ok := store.HeaderIndex(values[0])[articles.ColumnURL]
	if !ok {
		return urls, nil
	}
	for _, row := range values[1:] {
		if u := store.Cell(row, idx); u != "" {
			urls[u] = struct{}{}
		}
	}
	return urls, nil
}

func flattenLines(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
