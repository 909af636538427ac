package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"compintel/internal/articles"
	"compintel/internal/config"
	"compintel/internal/metrics"
	"compintel/internal/notifications"
	"compintel/internal/pipeline"
	"compintel/internal/services"
	"compintel/internal/store"
	"compintel/internal/testsupport"
)

const rules = `competitors:
  - name: Acme
    business_units: [웰다]
  - name: Gamma
`

const replyHeader = "번호,사업명,경쟁사,협력사/기관명,협력 유형,근거 기사 제목,근거 기사 URL"

var body = strings.Repeat("기사 본문 ", 30)

func seedInput(t *testing.T, cfg *config.Config, wb store.Workbook) {
	t.Helper()
	testsupport.SeedSheet(t, wb, cfg.Store.InputWorksheet, [][]string{
		{"경쟁사", "제목", "본문", "URL"},
		{"Acme", "Acme opens new office 24.02.01", body, "https://news/1"},
		{"Acme", "Acme and BetaCo co-develop a diabetes app 24.03.05", body, "https://news/2"},
		{"Gamma", "Gamma signs MOU with 토스랩", body, "https://news/3"},
		{"Gamma", "too short", "short body", "https://news/4"},
	})
}

func respond(prompt string) (string, int) {
	switch {
	case strings.Contains(prompt, "BetaCo co-develop"):
		return replyHeader + "\n1,,Acme,BetaCo,공동개발,Acme and BetaCo co-develop a diabetes app,\n", http.StatusOK
	case strings.Contains(prompt, "Gamma signs MOU"):
		return replyHeader + "\n1,,Gamma,토스랩,업무협약,Gamma signs MOU with 토스랩,\n", http.StatusOK
	default:
		return replyHeader + "\n", http.StatusOK
	}
}

type fakeNotifier struct {
	summaries []notifications.RunSummary
	failures  []string
}

func (f *fakeNotifier) NotifyRunCompleted(_ context.Context, s notifications.RunSummary) error {
	f.summaries = append(f.summaries, s)
	return nil
}

func (f *fakeNotifier) NotifyError(_ context.Context, _ error, label string) error {
	f.failures = append(f.failures, label)
	return nil
}

func (f *fakeNotifier) TestNotification(context.Context) error { return nil }

func noSleep(context.Context, time.Duration) error { return nil }

func newPipeline(t *testing.T, cfg *config.Config, wb store.Workbook, opts ...pipeline.Option) (*pipeline.Pipeline, *fakeNotifier) {
	t.Helper()
	notifier := &fakeNotifier{}
	base := []pipeline.Option{
		pipeline.WithWorkbook(wb),
		pipeline.WithNotifier(notifier),
		pipeline.WithSleeper(noSleep),
	}
	p, err := pipeline.New(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return p, notifier
}

func statusColumn(t *testing.T, values [][]string) []string {
	t.Helper()
	idx, ok := store.HeaderIndex(values[0])["status"]
	if !ok {
		t.Fatalf("status column missing from header %v", values[0])
	}
	out := make([]string, 0, len(values)-1)
	for _, row := range values[1:] {
		out = append(out, store.Cell(row, idx))
	}
	return out
}

func TestRunExtractsAndResumesIdempotently(t *testing.T) {
	srv := testsupport.NewLLMServer(t, respond)
	cfg := testsupport.NewConfig(t,
		testsupport.WithLLMEndpoint(srv.URL),
		testsupport.WithCompetitorsFile(rules),
	)
	wb := testsupport.MustOpenWorkbook(t, cfg)
	seedInput(t, cfg, wb)
	recorder := metrics.New()
	p, notifier := newPipeline(t, cfg, wb, pipeline.WithMetrics(recorder))

	result, err := p.Run(context.Background(), pipeline.Options{SkipCrawl: true, SkipMatch: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(srv.Prompts()); got != 2 {
		t.Fatalf("expected one prompt per competitor, got %d", got)
	}
	if result.Records != 2 || result.Batches[articles.StatusDone] != 2 {
		t.Fatalf("unexpected result: records=%d batches=%v", result.Records, result.Batches)
	}
	if result.RunID == "" {
		t.Fatal("expected run id")
	}

	output := testsupport.SheetValues(t, wb, cfg.Store.OutputWorksheet)
	if len(output) != 3 {
		t.Fatalf("expected header and two records, got %v", output)
	}
	idx := store.HeaderIndex(output[0])
	acme := output[1]
	if output[1][idx[articles.ColumnCompetitor]] != "Acme" {
		acme = output[2]
	}
	if acme[idx[articles.ColumnBusinessUnit]] != "웰다" || acme[idx[articles.ColumnPartner]] != "BetaCo" {
		t.Fatalf("unexpected Acme record %v", acme)
	}
	if acme[idx[articles.ColumnArticleDate]] != "24.03.05" {
		t.Fatalf("expected date from matched title, got %q", acme[idx[articles.ColumnArticleDate]])
	}

	got := statusColumn(t, testsupport.SheetValues(t, wb, cfg.Store.InputWorksheet))
	want := []string{"DONE", "DONE", "DONE", ""}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("statuses = %v, want %v", got, want)
	}

	if _, err := p.Run(context.Background(), pipeline.Options{SkipCrawl: true, SkipMatch: true}); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := len(srv.Prompts()); got != 2 {
		t.Fatalf("DONE rows were sent again: %d prompts", got)
	}
	if rows := testsupport.SheetValues(t, wb, cfg.Store.OutputWorksheet); len(rows) != 3 {
		t.Fatalf("second run appended records: %d rows", len(rows))
	}
	if len(notifier.summaries) != 2 || notifier.summaries[0].Records != 2 {
		t.Fatalf("unexpected notifications %+v", notifier.summaries)
	}
}

func TestRunMarksFailedCallsAsErrorAndRetriesThem(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv := testsupport.NewLLMServer(t, func(prompt string) (string, int) {
		if failing.Load() {
			return `{"error":{"message":"bad request","type":"invalid_request_error"}}`, http.StatusBadRequest
		}
		return respond(prompt)
	})
	cfg := testsupport.NewConfig(t,
		testsupport.WithLLMEndpoint(srv.URL),
		testsupport.WithCompetitorsFile(rules),
	)
	wb := testsupport.MustOpenWorkbook(t, cfg)
	seedInput(t, cfg, wb)
	p, notifier := newPipeline(t, cfg, wb)

	result, err := p.Run(context.Background(), pipeline.Options{SkipCrawl: true, SkipMatch: true})
	if err != nil {
		t.Fatalf("batch failures must not fail the run: %v", err)
	}
	if result.Batches[articles.StatusError] != 2 || result.Records != 0 {
		t.Fatalf("unexpected result: %+v", result.Batches)
	}
	got := statusColumn(t, testsupport.SheetValues(t, wb, cfg.Store.InputWorksheet))
	if strings.Join(got, ",") != "ERROR,ERROR,ERROR," {
		t.Fatalf("statuses = %v", got)
	}
	if output := testsupport.SheetValues(t, wb, cfg.Store.OutputWorksheet); len(output) != 0 {
		t.Fatalf("failed batches wrote records: %v", output)
	}
	if !notifier.summaries[0].Failed() {
		t.Fatal("expected the summary to report failure")
	}

	failing.Store(false)
	result, err = p.Run(context.Background(), pipeline.Options{SkipCrawl: true, SkipMatch: true})
	if err != nil {
		t.Fatalf("retry Run: %v", err)
	}
	if result.Records != 2 {
		t.Fatalf("expected ERROR rows to be retried, got %d records", result.Records)
	}
	got = statusColumn(t, testsupport.SheetValues(t, wb, cfg.Store.InputWorksheet))
	if strings.Join(got, ",") != "DONE,DONE,DONE," {
		t.Fatalf("statuses after retry = %v", got)
	}
}

func TestRunFiltersCompetitor(t *testing.T) {
	srv := testsupport.NewLLMServer(t, respond)
	cfg := testsupport.NewConfig(t,
		testsupport.WithLLMEndpoint(srv.URL),
		testsupport.WithCompetitorsFile(rules),
	)
	wb := testsupport.MustOpenWorkbook(t, cfg)
	seedInput(t, cfg, wb)
	p, _ := newPipeline(t, cfg, wb)

	result, err := p.Run(context.Background(), pipeline.Options{SkipCrawl: true, SkipMatch: true, Competitor: "Gamma"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Units) != 1 || result.Units[0].Unit != "Gamma" {
		t.Fatalf("unexpected units %+v", result.Units)
	}
	prompts := srv.Prompts()
	if len(prompts) != 1 || !strings.Contains(prompts[0], "Gamma signs MOU") {
		t.Fatalf("unexpected prompts %d", len(prompts))
	}
	got := statusColumn(t, testsupport.SheetValues(t, wb, cfg.Store.InputWorksheet))
	if strings.Join(got, ",") != ",,DONE," {
		t.Fatalf("statuses = %v", got)
	}
}

func TestRunMatchesPartnersAgainstCachedRegistry(t *testing.T) {
	srv := testsupport.NewLLMServer(t, respond)
	cfg := testsupport.NewConfig(t,
		testsupport.WithLLMEndpoint(srv.URL),
		testsupport.WithCompetitorsFile(rules),
	)
	testsupport.WriteFile(t, cfg.Registry.CacheFile,
		"corp_code,corp_name,stock_code,modify_date\n00888888,토스랩,,20240102\n")
	wb := testsupport.MustOpenWorkbook(t, cfg)
	seedInput(t, cfg, wb)
	p, notifier := newPipeline(t, cfg, wb)

	result, err := p.Run(context.Background(), pipeline.Options{SkipCrawl: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Match.Rows != 2 || result.Match.Matched != 1 || result.Match.Unmatched != 1 {
		t.Fatalf("unexpected match summary %+v", result.Match)
	}
	mapping := testsupport.SheetValues(t, wb, cfg.Store.MappingWorksheet)
	if len(mapping) != 3 {
		t.Fatalf("expected mapping header and two rows, got %v", mapping)
	}
	unmatched := testsupport.SheetValues(t, wb, cfg.Store.UnmatchedWorksheet)
	if len(unmatched) != 2 || unmatched[1][0] != "BetaCo" {
		t.Fatalf("unexpected unmatched sheet %v", unmatched)
	}
	if s := notifier.summaries[0]; s.Matched != 1 || s.Unmatched != 1 {
		t.Fatalf("summary missing match counts: %+v", s)
	}
}

func TestRunAggregatesStageFailures(t *testing.T) {
	llmSrv := testsupport.NewLLMServer(t, respond)
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(search.Close)
	cfg := testsupport.NewConfig(t,
		testsupport.WithLLMEndpoint(llmSrv.URL),
		testsupport.WithCompetitorsFile(rules),
		testsupport.WithSearchURL(search.URL+"/search"),
	)
	cfg.Registry.APIKey = ""
	cfg.Metrics.TextfilePath = filepath.Join(testsupport.BaseDir(cfg), "compintel.prom")
	wb := testsupport.MustOpenWorkbook(t, cfg)
	seedInput(t, cfg, wb)
	p, notifier := newPipeline(t, cfg, wb, pipeline.WithMetrics(metrics.New()))

	result, err := p.Run(context.Background(), pipeline.Options{})
	if err == nil {
		t.Fatal("expected aggregated stage error")
	}
	for _, stage := range []string{pipeline.StageCrawl, pipeline.StageMatch} {
		if _, ok := result.Failed[stage]; !ok {
			t.Fatalf("expected %s failure, got %v", stage, result.Failed)
		}
		if !strings.Contains(err.Error(), stage+":") {
			t.Fatalf("error %q does not mention %s", err, stage)
		}
	}
	if _, ok := result.Failed[pipeline.StageExtract]; ok {
		t.Fatalf("extract should still succeed: %v", result.Failed[pipeline.StageExtract])
	}
	if result.Records != 2 {
		t.Fatalf("extract did not run after crawl failure: %d records", result.Records)
	}
	if failures := notifier.summaries[0].Failures; len(failures) != 2 {
		t.Fatalf("unexpected summary failures %v", failures)
	}
	data, readErr := os.ReadFile(cfg.Metrics.TextfilePath)
	if readErr != nil {
		t.Fatalf("metrics textfile: %v", readErr)
	}
	if !strings.Contains(string(data), `compintel_stage_failures_total{stage="crawl"} 1`) {
		t.Fatalf("stage failure not exported:\n%s", data)
	}
}

func TestRunStopsOnConfigurationError(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCompetitorsFile(rules))
	cfg.LLM.Provider = "carrier-pigeon"
	wb := testsupport.MustOpenWorkbook(t, cfg)
	seedInput(t, cfg, wb)
	p, notifier := newPipeline(t, cfg, wb)

	result, err := p.Run(context.Background(), pipeline.Options{SkipCrawl: true})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if result.Ran[pipeline.StageMatch] {
		t.Fatal("match ran after a configuration error")
	}
	if len(notifier.failures) != 1 || notifier.failures[0] != pipeline.StageExtract {
		t.Fatalf("expected one extract failure notification, got %v", notifier.failures)
	}
	if len(notifier.summaries) != 1 {
		t.Fatalf("expected the run summary as well, got %d", len(notifier.summaries))
	}
}

func TestRunRefusesWhenLocked(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCompetitorsFile(rules))
	lock, err := pipeline.AcquireLock(cfg.LockPath())
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	t.Cleanup(func() { _ = lock.Release() })

	wb := testsupport.MustOpenWorkbook(t, cfg)
	p, notifier := newPipeline(t, cfg, wb)
	_, err = p.Run(context.Background(), pipeline.Options{SkipCrawl: true, SkipMatch: true})
	if !errors.Is(err, pipeline.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if len(notifier.summaries) != 0 {
		t.Fatal("a refused run must not notify")
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	srv := testsupport.NewLLMServer(t, respond)
	cfg := testsupport.NewConfig(t,
		testsupport.WithLLMEndpoint(srv.URL),
		testsupport.WithCompetitorsFile(rules),
	)
	wb := testsupport.MustOpenWorkbook(t, cfg)
	seedInput(t, cfg, wb)
	p, _ := newPipeline(t, cfg, wb)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, pipeline.Options{SkipCrawl: true, SkipMatch: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(srv.Prompts()) != 0 {
		t.Fatal("cancelled run sent prompts")
	}
	values := testsupport.SheetValues(t, wb, cfg.Store.InputWorksheet)
	if _, ok := store.HeaderIndex(values[0])["status"]; ok {
		t.Fatalf("cancelled run wrote statuses: %v", values[0])
	}
}

func TestAcquireLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "compintel.lock")
	first, err := pipeline.AcquireLock(path)
	if err != nil {
		t.Fatalf("first AcquireLock: %v", err)
	}
	if _, err := pipeline.AcquireLock(path); !errors.Is(err, pipeline.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	second, err := pipeline.AcquireLock(path)
	if err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
	_ = second.Release()
}
