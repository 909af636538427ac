package crawler

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"compintel/internal/logging"
)

const (
	resultsPerPage = 10
	minTitleRunes  = 5
)

// Hit is one search result card.
type Hit struct {
	Title string
	Link  string
	// Date is YY.MM.DD when the card showed one.
	Date string
}

// fallbackTitleSelectors are tried when the page has no regular result cards.
var fallbackTitleSelectors = []string{
	"div[data-ved] h3",
	"div.g h3",
	`div[role="heading"]`,
	"h3.r",
	"h3 a",
	"a h3",
	`div[role="article"] h3`,
	"article h3",
}

var dateHints = []string{"전", "일", "시간", "분", "주", "어제"}

func (c *Crawler) searchURL(query string, start int) (string, error) {
	parsed, err := url.Parse(c.cfg.SearchURL)
	if err != nil {
		return "", err
	}
	q := parsed.Query()
	q.Set("q", query)
	q.Set("tbm", "nws")
	if c.cfg.Recency != "" {
		q.Set("tbs", "qdr:"+c.cfg.Recency)
	}
	if start > 0 {
		q.Set("start", strconv.Itoa(start))
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// Search returns up to MaxArticlesPerQuery hits for query across MaxPages
// result pages. A page that fails to load ends the search early.
func (c *Crawler) Search(ctx context.Context, query string) ([]Hit, error) {
	logger := logging.WithContext(ctx, c.logger)
	seen := make(map[string]struct{})
	var hits []Hit
	for page := 0; page < c.cfg.MaxPages && len(hits) < c.cfg.MaxArticlesPerQuery; page++ {
		pageURL, err := c.searchURL(query, page*resultsPerPage)
		if err != nil {
			return nil, err
		}
		doc, err := c.fetchDocument(ctx, pageURL)
		if err != nil {
			if page == 0 {
				return nil, err
			}
			logger.Info("search pagination stopped", logging.String("query", query), logging.Error(err))
			break
		}
		pageHits := parseResults(doc, seen, c.now())
		if len(pageHits) == 0 {
			break
		}
		hits = append(hits, pageHits...)
		if page+1 < c.cfg.MaxPages {
			if err := c.sleep(ctx, c.cfg.RequestDelay); err != nil {
				return nil, err
			}
		}
	}
	if len(hits) > c.cfg.MaxArticlesPerQuery {
		hits = hits[:c.cfg.MaxArticlesPerQuery]
	}
	return hits, nil
}

func parseResults(doc *goquery.Document, seen map[string]struct{}, now time.Time) []Hit {
	var hits []Hit
	doc.Find("div.SoaBEf").Each(func(_ int, card *goquery.Selection) {
		title := strings.TrimSpace(card.Find(`div[role="heading"]`).First().Text())
		if title == "" {
			title = strings.TrimSpace(card.Find("h3").First().Text())
		}
		if utf8.RuneCountInString(title) < minTitleRunes {
			return
		}
		href, _ := card.Find("a[href]").First().Attr("href")
		link, ok := resolveLink(href)
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		hits = append(hits, Hit{Title: title, Link: link, Date: cardDate(card, now)})
	})
	if len(hits) > 0 {
		return hits
	}

	for _, selector := range fallbackTitleSelectors {
		doc.Find(selector).Each(func(_ int, heading *goquery.Selection) {
			title := strings.TrimSpace(heading.Text())
			if utf8.RuneCountInString(title) < minTitleRunes {
				return
			}
			href, ok := heading.Closest("a[href]").Attr("href")
			if !ok {
				href, _ = heading.Find("a[href]").First().Attr("href")
			}
			link, ok := resolveLink(href)
			if !ok {
				return
			}
			if _, dup := seen[link]; dup {
				return
			}
			seen[link] = struct{}{}
			hits = append(hits, Hit{Title: title, Link: link})
		})
		if len(hits) > 0 {
			break
		}
	}
	return hits
}

// cardDate reads the publication date from the spans of a result card, then
// from the source line.
func cardDate(card *goquery.Selection, now time.Time) string {
	var date string
	card.Find("span").EachWithBreak(func(_ int, span *goquery.Selection) bool {
		text := strings.TrimSpace(span.Text())
		if text == "" {
			return true
		}
		if containsAny(text, dateHints) || parseNumericDate(text) != "" {
			if parsed := ParseRelativeDate(text, now); parsed != "" {
				date = parsed
				return false
			}
		}
		return true
	})
	if date != "" {
		return date
	}
	return ParseRelativeDate(card.Find("div.OSMtCf").First().Text(), now)
}

// resolveLink unwraps /url?q= redirects and rejects links back to the search
// engine itself.
func resolveLink(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if idx := strings.Index(href, "/url?q="); idx >= 0 {
		rest := href[idx+len("/url?q="):]
		if amp := strings.IndexByte(rest, '&'); amp >= 0 {
			rest = rest[:amp]
		}
		if unescaped, err := url.QueryUnescape(rest); err == nil {
			rest = unescaped
		}
		href = rest
	}
	if !strings.HasPrefix(href, "http") {
		return "", false
	}
	if strings.Contains(href, "google.com") || strings.Contains(href, "google.co.kr") {
		return "", false
	}
	return href, true
}

func containsAny(text string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
