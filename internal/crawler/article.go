package crawler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

const (
	minBodyRunes         = 200
	minParagraphRunes    = 20
	minFallbackParagraph = 30
)

var bodySelectors = []string{
	"article p",
	"div.article-body p",
	"div.article-content p",
	"div.post-content p",
	"div.content p",
	"div#articleBody p",
}

var publishedMeta = []string{
	`meta[property="article:published_time"]`,
	`meta[property="og:article:published_time"]`,
	`meta[name="article:published_time"]`,
	`meta[name="pubdate"]`,
	`meta[name="date"]`,
	`meta[property="og:regDate"]`,
	`meta[name="DC.date.issued"]`,
}

var dateSelectors = []string{
	".date", ".article-date", ".news-date", ".publish-date",
	".post-date", ".entry-date", "#article-date", ".article_date",
	".view_date", ".news_date", ".report_date", ".art_date",
	`[class*="date"]`, `[class*="time"]`,
}

// Page is the extracted content of one article.
type Page struct {
	Body string
	Date string
}

func (c *Crawler) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request %s: %s", pageURL, resp.Status)
	}
	// Many Korean outlets still serve EUC-KR.
	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", pageURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, nil
}

// FetchArticle downloads link and extracts its body text. knownDate, taken
// from the search card, wins over dates found on the page.
func (c *Crawler) FetchArticle(ctx context.Context, link, knownDate string) (Page, error) {
	doc, err := c.fetchDocument(ctx, link)
	if err != nil {
		return Page{Date: knownDate}, err
	}
	return extractPage(doc, knownDate), nil
}

func extractPage(doc *goquery.Document, knownDate string) Page {
	page := Page{Date: knownDate}
	if page.Date == "" {
		page.Date = pageDate(doc)
	}
	doc.Find("script, style, nav, header, footer").Remove()

	for _, selector := range bodySelectors {
		if body := joinParagraphs(doc.Find(selector), minParagraphRunes); utf8.RuneCountInString(body) > minBodyRunes {
			page.Body = body
			return page
		}
	}
	if body := joinParagraphs(doc.Find("body p"), minFallbackParagraph); utf8.RuneCountInString(body) > minBodyRunes {
		page.Body = body
	}
	return page
}

func joinParagraphs(sel *goquery.Selection, minRunes int) string {
	var parts []string
	sel.Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		if utf8.RuneCountInString(text) > minRunes {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}

func pageDate(doc *goquery.Document) string {
	for _, selector := range publishedMeta {
		if content, ok := doc.Find(selector).First().Attr("content"); ok {
			if date := parseISODate(content); date != "" {
				return date
			}
		}
	}
	if datetime, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		if date := parseISODate(datetime); date != "" {
			return date
		}
	}
	for _, selector := range dateSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if date := parseNumericDate(strings.TrimSpace(sel.Text())); date != "" {
			return date
		}
	}
	return ""
}
