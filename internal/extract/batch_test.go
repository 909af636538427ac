package extract

import (
	"encoding/json"
	"strings"
	"testing"

	"compintel/internal/articles"
)

func sampleArticles(n int) []articles.SourceArticle {
	out := make([]articles.SourceArticle, n)
	for i := range out {
		out[i] = articles.SourceArticle{
			RowID:      i + 2,
			Competitor: "Acme",
			Title:      "title",
			Body:       "body",
		}
	}
	return out
}

func TestBuildBatchesFixedSize(t *testing.T) {
	batches := BuildBatches("Acme", sampleArticles(23), 10)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	sizes := []int{len(batches[0].Articles), len(batches[1].Articles), len(batches[2].Articles)}
	if sizes[0] != 10 || sizes[1] != 10 || sizes[2] != 3 {
		t.Fatalf("unexpected batch sizes %v", sizes)
	}
	if batches[2].Index != 3 || batches[2].Label() != "Acme-3" {
		t.Fatalf("unexpected label %q", batches[2].Label())
	}
	if ids := batches[1].RowIDs(); ids[0] != 12 || ids[9] != 21 {
		t.Fatalf("unexpected row ids %v", ids)
	}
	if got := BuildBatches("Acme", nil, 10); len(got) != 0 {
		t.Fatalf("expected no batches for no articles, got %d", len(got))
	}
	if got := BuildBatches("Acme", sampleArticles(3), 0); len(got) != 1 {
		t.Fatalf("zero size should fall back to the default, got %d batches", len(got))
	}
}

func TestSerializeArticlesTruncatesAndKeepsHTML(t *testing.T) {
	arts := []articles.SourceArticle{
		{Title: "A & B <협약>", Body: strings.Repeat("가", 12), URL: "https://news/1?a=1&b=2"},
		{Title: "no url", Body: "short"},
	}
	payload, err := SerializeArticles(arts, 10)
	if err != nil {
		t.Fatalf("SerializeArticles: %v", err)
	}
	if !strings.Contains(payload, "A & B <협약>") || !strings.Contains(payload, "a=1&b=2") {
		t.Fatalf("html characters were escaped: %s", payload)
	}
	var decoded []map[string]string
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got := decoded[0]["기사 본문"]; got != strings.Repeat("가", 10)+truncationSuffix {
		t.Fatalf("unexpected truncated body %q", got)
	}
	if _, ok := decoded[1]["기사 URL"]; ok {
		t.Fatal("empty URL should be omitted")
	}
	if decoded[1]["기사 본문"] != "short" {
		t.Fatalf("short body changed: %q", decoded[1]["기사 본문"])
	}
}
