package extract_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"compintel/internal/articles"
	"compintel/internal/competitors"
	"compintel/internal/extract"
	"compintel/internal/rowstatus"
	"compintel/internal/services/llm"
	"compintel/internal/store"
)

var body = strings.Repeat("기사 본문 ", 30)

type callerFunc func(ctx context.Context, prompt string) (string, error)

func (f callerFunc) Call(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

type fixture struct {
	input   store.Table
	output  store.Table
	tracker *rowstatus.Tracker
}

func newFixture(t *testing.T, rows [][]string) fixture {
	t.Helper()
	ctx := context.Background()
	wb, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "wb.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = wb.Close() })
	input, err := wb.Table(ctx, "input")
	if err != nil {
		t.Fatalf("input table: %v", err)
	}
	output, err := wb.Table(ctx, "output")
	if err != nil {
		t.Fatalf("output table: %v", err)
	}
	if err := input.Append(ctx, rows); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return fixture{input: input, output: output, tracker: rowstatus.New(input)}
}

func acmeRows() [][]string {
	return [][]string{
		{"경쟁사", "제목", "본문", "URL"},
		{"Acme", "Acme opens new office 24.02.01", body, "https://news/1"},
		{"Acme", "Acme and BetaCo co-develop a diabetes app 24.03.05", body, "https://news/2"},
		{"Acme", "Acme quarterly results", body, "https://news/3"},
	}
}

func statuses(t *testing.T, table store.Table) []string {
	t.Helper()
	values, err := table.Values(context.Background())
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	idx := store.HeaderIndex(values[0])["status"]
	out := make([]string, 0, len(values)-1)
	for _, row := range values[1:] {
		out = append(out, store.Cell(row, idx))
	}
	return out
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestSchedulerAcmeBetaCoEndToEnd(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, acmeRows())
	pending, err := fx.tracker.LoadUnprocessed(ctx)
	if err != nil {
		t.Fatalf("LoadUnprocessed: %v", err)
	}

	var prompts []string
	caller := callerFunc(func(_ context.Context, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return extract.OutputHeader + "\n" +
			"1,웰다,Acme,Acme,제휴,Acme opens new office,\n" +
			"2,웰다,Acme,BetaCo,co-development,Acme and BetaCo co-develop a diabetes app,\n", nil
	})
	sched := extract.NewScheduler(caller, extract.NewTableSink(fx.output), fx.tracker, competitors.Default(),
		extract.Config{ArticlesPerCall: 10, MaxInFlight: 2, UnitCooldown: time.Second},
		extract.WithSleeper(noSleep),
	)
	result := sched.Run(ctx, "Acme", pending)

	if len(prompts) != 1 {
		t.Fatalf("expected one prompt for three articles, got %d", len(prompts))
	}
	if result.Batches != 1 || result.BatchStatus[articles.StatusDone] != 1 || result.Records != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.RowStatus[articles.StatusDone] != 3 {
		t.Fatalf("expected 3 DONE rows, got %v", result.RowStatus)
	}

	values, err := fx.output.Values(ctx)
	if err != nil {
		t.Fatalf("output Values: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("expected header plus one record, got %v", values)
	}
	if strings.Join(values[0], ",") != strings.Join(articles.RecordHeader, ",") {
		t.Fatalf("unexpected output header %v", values[0])
	}
	want := []string{"", "Acme", "BetaCo", "co-development", "Acme and BetaCo co-develop a diabetes app", "https://news/2", "24.03.05"}
	if strings.Join(values[1][1:], "|") != strings.Join(want[1:], "|") {
		t.Fatalf("unexpected record row %v", values[1])
	}

	if got := strings.Join(statuses(t, fx.input), ","); got != "DONE,DONE,DONE" {
		t.Fatalf("expected all rows DONE, got %s", got)
	}
	again, err := fx.tracker.LoadUnprocessed(ctx)
	if err != nil {
		t.Fatalf("LoadUnprocessed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("DONE rows must not be reloaded, got %d", len(again))
	}
}

func TestSchedulerFailureSentinelLeavesRowsRetryable(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, acmeRows())
	pending, _ := fx.tracker.LoadUnprocessed(ctx)

	caller := callerFunc(func(context.Context, string) (string, error) {
		return "", fmt.Errorf("llm call: failed after 6 attempts: %w", llm.ErrCallFailed)
	})
	sched := extract.NewScheduler(caller, extract.NewTableSink(fx.output), fx.tracker, nil,
		extract.Config{ArticlesPerCall: 10, MaxInFlight: 1}, extract.WithSleeper(noSleep))
	result := sched.Run(ctx, "Acme", pending)

	if result.BatchStatus[articles.StatusError] != 1 || result.Records != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], llm.ErrCallFailed) {
		t.Fatalf("expected the call failure in the result, got %v", result.Errors)
	}
	if got := strings.Join(statuses(t, fx.input), ","); got != "ERROR,ERROR,ERROR" {
		t.Fatalf("expected ERROR rows, got %s", got)
	}
	values, _ := fx.output.Values(ctx)
	if len(values) != 0 {
		t.Fatalf("nothing should be written on failure, got %v", values)
	}
	retry, _ := fx.tracker.LoadUnprocessed(ctx)
	if len(retry) != 3 {
		t.Fatalf("ERROR rows must be retried, got %d", len(retry))
	}
}

func TestSchedulerBoundsInFlightAndIsolatesPanics(t *testing.T) {
	ctx := context.Background()
	rows := [][]string{{"경쟁사", "제목", "본문"}}
	for i := 0; i < 12; i++ {
		rows = append(rows, []string{"Acme", fmt.Sprintf("title %02d", i), body})
	}
	fx := newFixture(t, rows)
	pending, _ := fx.tracker.LoadUnprocessed(ctx)

	var (
		active, peak atomic.Int32
		calls        atomic.Int32
	)
	caller := callerFunc(func(_ context.Context, prompt string) (string, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		switch calls.Add(1) {
		case 2:
			panic("boom")
		case 3:
			return "", nil
		}
		return extract.OutputHeader, nil
	})

	var (
		mu      sync.Mutex
		reports []extract.BatchReport
	)
	sched := extract.NewScheduler(caller, extract.NewTableSink(fx.output), fx.tracker, nil,
		extract.Config{ArticlesPerCall: 2, MaxInFlight: 2},
		extract.WithSleeper(noSleep),
		extract.WithBatchObserver(func(r extract.BatchReport) {
			mu.Lock()
			reports = append(reports, r)
			mu.Unlock()
		}),
	)
	result := sched.Run(ctx, "Acme", pending)

	if result.Batches != 6 || len(reports) != 6 {
		t.Fatalf("expected 6 batches, got %d (%d reports)", result.Batches, len(reports))
	}
	if p := peak.Load(); p > 2 {
		t.Fatalf("in-flight peak %d exceeds limit", p)
	}
	if result.BatchStatus[articles.StatusError] != 1 || result.BatchStatus[articles.StatusSkip] != 1 || result.BatchStatus[articles.StatusDone] != 4 {
		t.Fatalf("unexpected batch statuses %v", result.BatchStatus)
	}
	// The empty reply is a SKIP, not a failure; only the panic is reported.
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0].Error(), "batch panic") {
		t.Fatalf("expected only the panic in the errors, got %v", result.Errors)
	}
	counts, err := fx.tracker.Counts(ctx, "")
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[articles.StatusDone] != 8 || counts[articles.StatusError] != 2 || counts[articles.StatusSkip] != 2 {
		t.Fatalf("unexpected row counts %v", counts)
	}
}

type failingSink struct{}

func (failingSink) AppendRecords(context.Context, []articles.Record) error {
	return errors.New("quota exceeded")
}

func TestSchedulerAppendFailureMarksError(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, acmeRows())
	pending, _ := fx.tracker.LoadUnprocessed(ctx)
	caller := callerFunc(func(context.Context, string) (string, error) {
		return extract.OutputHeader + "\n1,,Acme,BetaCo,제휴,Acme quarterly results,\n", nil
	})
	sched := extract.NewScheduler(caller, failingSink{}, fx.tracker, nil,
		extract.Config{ArticlesPerCall: 10, MaxInFlight: 1}, extract.WithSleeper(noSleep))
	result := sched.Run(ctx, "Acme", pending)
	if result.BatchStatus[articles.StatusError] != 1 || result.Records != 0 {
		t.Fatalf("append failure must downgrade to ERROR, got %+v", result)
	}
	if got := strings.Join(statuses(t, fx.input), ","); got != "ERROR,ERROR,ERROR" {
		t.Fatalf("expected ERROR rows, got %s", got)
	}
}

func TestSchedulerCancelledContextKeepsStatuses(t *testing.T) {
	fx := newFixture(t, acmeRows())
	pending, _ := fx.tracker.LoadUnprocessed(context.Background())
	ctx, cancel := context.WithCancel(context.Background())
	caller := callerFunc(func(ctx context.Context, _ string) (string, error) {
		cancel()
		return "", fmt.Errorf("llm call: %w: %w", llm.ErrCallFailed, ctx.Err())
	})
	var slept bool
	sched := extract.NewScheduler(caller, extract.NewTableSink(fx.output), fx.tracker, nil,
		extract.Config{ArticlesPerCall: 10, MaxInFlight: 1, UnitCooldown: time.Second},
		extract.WithSleeper(func(context.Context, time.Duration) error { slept = true; return nil }))
	sched.Run(ctx, "Acme", pending)

	values, _ := fx.input.Values(context.Background())
	if _, ok := store.HeaderIndex(values[0])["status"]; ok {
		t.Fatal("cancelled batch must not write statuses")
	}
	if slept {
		t.Fatal("cooldown must be skipped after cancellation")
	}
}

func TestSchedulerCooldownAfterUnit(t *testing.T) {
	fx := newFixture(t, acmeRows())
	pending, _ := fx.tracker.LoadUnprocessed(context.Background())
	var slept []time.Duration
	caller := callerFunc(func(context.Context, string) (string, error) { return extract.OutputHeader, nil })
	sched := extract.NewScheduler(caller, extract.NewTableSink(fx.output), fx.tracker, nil,
		extract.Config{UnitCooldown: 5 * time.Second},
		extract.WithSleeper(func(_ context.Context, d time.Duration) error { slept = append(slept, d); return nil }))
	sched.Run(context.Background(), "Acme", pending)
	if len(slept) != 1 || slept[0] != 5*time.Second {
		t.Fatalf("expected one 5s cooldown, got %v", slept)
	}
	sched.Run(context.Background(), "Empty", nil)
	if len(slept) != 1 {
		t.Fatal("units without articles must not cool down")
	}
}
