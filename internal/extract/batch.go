package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"compintel/internal/articles"
)

const (
	DefaultArticlesPerCall = 10
	DefaultMaxArticleChars = 2000
	truncationSuffix       = "... (본문 일부만 표시됨)"
)

// Batch is one prompt's worth of articles for a single unit.
type Batch struct {
	Unit string
	// Index is the 1-based position of the batch within its unit.
	Index int
	// Business is the configured business-unit label, "" when unknown.
	Business string
	Articles []articles.SourceArticle
}

// Label identifies the batch in logs, e.g. "Acme-2".
func (b Batch) Label() string {
	return fmt.Sprintf("%s-%d", b.Unit, b.Index)
}

// RowIDs returns the sheet rows covered by the batch.
func (b Batch) RowIDs() []int {
	ids := make([]int, 0, len(b.Articles))
	for _, art := range b.Articles {
		ids = append(ids, art.RowID)
	}
	return ids
}

// BuildBatches cuts arts into consecutive slices of at most size articles.
func BuildBatches(unit string, arts []articles.SourceArticle, size int) []Batch {
	if size <= 0 {
		size = DefaultArticlesPerCall
	}
	batches := make([]Batch, 0, (len(arts)+size-1)/size)
	for start := 0; start < len(arts); start += size {
		end := min(start+size, len(arts))
		batches = append(batches, Batch{
			Unit:     unit,
			Index:    len(batches) + 1,
			Articles: arts[start:end],
		})
	}
	return batches
}

type promptArticle struct {
	Title string `json:"기사 제목"`
	Body  string `json:"기사 본문"`
	URL   string `json:"기사 URL,omitempty"`
}

// SerializeArticles renders the batch as the indented JSON array embedded in
// the prompt. Bodies longer than maxChars runes are cut and marked.
func SerializeArticles(arts []articles.SourceArticle, maxChars int) (string, error) {
	if maxChars <= 0 {
		maxChars = DefaultMaxArticleChars
	}
	items := make([]promptArticle, 0, len(arts))
	for _, art := range arts {
		items = append(items, promptArticle{
			Title: art.Title,
			Body:  truncateBody(art.Body, maxChars),
			URL:   strings.TrimSpace(art.URL),
		})
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		return "", fmt.Errorf("encode batch articles: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func truncateBody(body string, maxChars int) string {
	runes := []rune(body)
	if len(runes) <= maxChars {
		return body
	}
	return string(runes[:maxChars]) + truncationSuffix
}
