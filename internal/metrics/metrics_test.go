package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"compintel/internal/articles"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.ObserveBatch(articles.StatusDone, 3)
	r.ObserveBatch(articles.StatusDone, 0)
	r.ObserveBatch(articles.StatusError, 0)
	r.ObserveLLMAttempt("retry")
	r.ObserveLLMAttempt("ok")
	r.ObserveWait("rpm", 1500*time.Millisecond)
	r.ObserveWait("rpm", 0)
	r.ObserveCrawl(4)
	r.ObserveAdmit("tpm", time.Unix(1700000000, 0), 1200)
	r.ObserveAdmit("tpm", time.Unix(1700000000, 0), 300)

	if got := testutil.ToFloat64(r.batches.WithLabelValues("done")); got != 2 {
		t.Fatalf("done batches = %v", got)
	}
	if got := testutil.ToFloat64(r.batches.WithLabelValues("skip")); got != 0 {
		t.Fatalf("skip batches = %v", got)
	}
	if got := testutil.ToFloat64(r.records); got != 3 {
		t.Fatalf("records = %v", got)
	}
	if got := testutil.ToFloat64(r.limiterWait.WithLabelValues("rpm")); got != 1.5 {
		t.Fatalf("wait seconds = %v", got)
	}
	if got := testutil.ToFloat64(r.limiterAdmitted.WithLabelValues("tpm")); got != 1500 {
		t.Fatalf("admitted tokens = %v", got)
	}
	if got := testutil.ToFloat64(r.articles); got != 4 {
		t.Fatalf("articles = %v", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.ObserveBatch(articles.StatusSkip, 0)
	started := time.Unix(1700000000, 0)
	r.FinishRun(started, started.Add(90*time.Second))

	path := filepath.Join(t.TempDir(), "compintel.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		`compintel_batches_total{status="skip"} 1`,
		`compintel_batches_total{status="done"} 0`,
		"compintel_run_duration_seconds 90",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("textfile missing %q:\n%s", want, text)
		}
	}
}

func TestNilRecorderAndEmptyPath(t *testing.T) {
	var r *Recorder
	r.ObserveBatch(articles.StatusDone, 1)
	r.ObserveStageFailure("crawl")
	if err := r.WriteTextfile("/nonexistent/x.prom"); err != nil {
		t.Fatalf("nil recorder should not write: %v", err)
	}
	if err := New().WriteTextfile(" "); err != nil {
		t.Fatalf("empty path should be a no-op: %v", err)
	}
}

func TestRegistryGathersStageFailures(t *testing.T) {
	r := New()
	r.ObserveStageFailure("match")
	r.ObserveStageFailure("match")
	count, err := testutil.GatherAndCount(r.Registry(), "compintel_stage_failures_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one stage series, got %d", count)
	}
	if got := testutil.ToFloat64(r.stageFailures.WithLabelValues("match")); got != 2 {
		t.Fatalf("expected 2 match failures, got %v", got)
	}
}
