package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"compintel/internal/articles"
	"compintel/internal/competitors"
	"compintel/internal/config"
	"compintel/internal/crawler"
	"compintel/internal/extract"
	"compintel/internal/logging"
	"compintel/internal/metrics"
	"compintel/internal/notifications"
	"compintel/internal/ratelimit"
	"compintel/internal/registry"
	"compintel/internal/rowstatus"
	"compintel/internal/services"
	"compintel/internal/services/llm"
	"compintel/internal/store"
)

// Stage names used in logs, errors, and metrics.
const (
	StageCrawl   = "crawl"
	StageExtract = "extract"
	StageMatch   = "match"
)

// Options selects the stages of one run.
type Options struct {
	SkipCrawl   bool
	SkipExtract bool
	SkipMatch   bool
	// Competitor restricts extraction to one competitor when set.
	Competitor string
}

// Result summarizes a finished run.
type Result struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Crawl    crawler.Summary
	Units    []extract.UnitResult
	// Batches counts extraction batches per final status.
	Batches map[articles.Status]int
	// Rows counts source rows per final status.
	Rows    map[articles.Status]int
	Records int
	Match   registry.Summary
	// Ran marks the stages that were started.
	Ran map[string]bool
	// Failed lists the stages that returned an error.
	Failed map[string]error
}

// Summary converts the result for the run notification.
func (r Result) Summary() notifications.RunSummary {
	summary := notifications.RunSummary{
		RunID:     r.RunID,
		Started:   r.Started,
		Duration:  r.Duration,
		Crawled:   r.Crawl.Saved,
		Batches:   r.Batches,
		Records:   r.Records,
		Matched:   r.Match.Matched,
		Unmatched: r.Match.Unmatched,
	}
	for _, stage := range []string{StageCrawl, StageExtract, StageMatch} {
		if err, ok := r.Failed[stage]; ok {
			summary.Failures = append(summary.Failures, fmt.Sprintf("%s: %v", stage, err))
		}
	}
	return summary
}

// Pipeline wires the stage components from configuration.
type Pipeline struct {
	cfg        *config.Config
	logger     *slog.Logger
	rules      *competitors.Table
	workbook   store.Workbook
	caller     extract.Caller
	recorder   *metrics.Recorder
	notifier   notifications.Service
	httpClient *http.Client
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
}

// Option customizes the pipeline.
type Option func(*Pipeline)

// WithLogger sets the run logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithWorkbook supplies an already open workbook. The pipeline does not close it.
func WithWorkbook(wb store.Workbook) Option {
	return func(p *Pipeline) {
		p.workbook = wb
	}
}

// WithCaller replaces the LLM client built from configuration.
func WithCaller(caller extract.Caller) Option {
	return func(p *Pipeline) {
		p.caller = caller
	}
}

// WithMetrics sets the recorder that receives run counters.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = recorder
	}
}

// WithNotifier replaces the notification service built from configuration.
func WithNotifier(n notifications.Service) Option {
	return func(p *Pipeline) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithHTTPClient sets the client used by the crawler and registry loader.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Pipeline) {
		p.httpClient = client
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSleeper overrides delays and cooldowns in every stage (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Pipeline) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// New builds a pipeline and loads the competitor rule table.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline requires config")
	}
	p := &Pipeline{
		cfg:    cfg,
		logger: logging.NewNop(),
		now:    time.Now,
		sleep:  ratelimit.SleepWithContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	rules, err := competitors.Load(cfg.Paths.CompetitorsFile)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "load competitors", cfg.Paths.CompetitorsFile, err)
	}
	p.rules = rules
	if p.notifier == nil {
		p.notifier = notifications.NewService(cfg, notifications.WithLogger(p.logger))
	}
	return p, nil
}

// Rules returns the loaded competitor rule table.
func (p *Pipeline) Rules() *competitors.Table {
	return p.rules
}

// Run executes the selected stages under the run lock. Stage errors are
// aggregated into the returned error; the result is populated either way.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Result, error) {
	result := Result{
		RunID:   uuid.NewString(),
		Started: p.now(),
		Batches: make(map[articles.Status]int, 3),
		Rows:    make(map[articles.Status]int, 3),
		Ran:     make(map[string]bool),
		Failed:  make(map[string]error),
	}
	ctx = services.WithRunID(ctx, result.RunID)
	logger := logging.WithContext(ctx, p.logger)

	if err := p.cfg.EnsureDirectories(); err != nil {
		return result, services.Wrap(services.ErrConfiguration, "pipeline", "prepare directories", "", err)
	}
	lock, err := AcquireLock(p.cfg.LockPath())
	if err != nil {
		return result, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logging.WarnWithContext(logger, "failed to release run lock", "lock_release_failed", logging.Error(err))
		}
	}()

	if removed := logging.CleanupOldLogs(p.logger, p.cfg.Paths.LogDir, p.cfg.Logging.RetentionDays, result.Started); removed > 0 {
		logger.Info("old log files removed", logging.Int("count", removed))
	}

	wb := p.workbook
	if wb == nil {
		opened, err := store.Open(ctx, p.cfg)
		if err != nil {
			return result, services.Wrap(services.ErrConfiguration, "pipeline", "open store", p.cfg.Store.Backend, err)
		}
		defer opened.Close()
		wb = opened
	}

	logger.Info("run started",
		logging.Bool("crawl", !opts.SkipCrawl),
		logging.Bool("extract", !opts.SkipExtract),
		logging.Bool("match", !opts.SkipMatch),
		logging.String("competitor_filter", opts.Competitor),
	)

	var errs *multierror.Error
	stages := []struct {
		name string
		skip bool
		run  func(context.Context) error
	}{
		{StageCrawl, opts.SkipCrawl, func(ctx context.Context) error { return p.crawl(ctx, wb, &result) }},
		{StageExtract, opts.SkipExtract, func(ctx context.Context) error { return p.extract(ctx, wb, opts.Competitor, &result) }},
		{StageMatch, opts.SkipMatch, func(ctx context.Context) error { return p.match(ctx, wb, &result) }},
	}
	for _, stage := range stages {
		if stage.skip {
			continue
		}
		if ctx.Err() != nil {
			errs = multierror.Append(errs, ctx.Err())
			break
		}
		stageCtx := services.WithStage(ctx, stage.name)
		started := p.now()
		result.Ran[stage.name] = true
		err := stage.run(stageCtx)
		if err == nil {
			logging.WithContext(stageCtx, p.logger).Info("stage finished", logging.Duration("elapsed", p.now().Sub(started)))
			continue
		}
		result.Failed[stage.name] = err
		p.recorder.ObserveStageFailure(stage.name)
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", stage.name, err))
		logging.ErrorWithContext(logging.WithContext(stageCtx, p.logger), "stage failed", "stage_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "later stages still run; failed rows are retried next run"),
		)
		if services.IsFatal(err) {
			if notifyErr := p.notifier.NotifyError(context.WithoutCancel(ctx), err, stage.name); notifyErr != nil {
				logging.WarnWithContext(logger, "failure notification not sent", "notification_failed", logging.Error(notifyErr))
			}
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	finished := p.now()
	result.Duration = finished.Sub(result.Started)
	p.recorder.FinishRun(result.Started, finished)
	if err := p.recorder.WriteTextfile(p.cfg.Metrics.TextfilePath); err != nil {
		logging.WarnWithContext(logger, "metrics textfile not written", "metrics_write_failed",
			logging.String("path", p.cfg.Metrics.TextfilePath),
			logging.Error(err),
		)
	}

	// The summary is sent even after cancellation.
	notifyCtx := context.WithoutCancel(ctx)
	if err := p.notifier.NotifyRunCompleted(notifyCtx, result.Summary()); err != nil {
		logging.WarnWithContext(logger, "run notification failed", "notification_failed", logging.Error(err))
	}

	logger.Info("run finished",
		logging.Duration("elapsed", result.Duration),
		logging.Int("crawled", result.Crawl.Saved),
		logging.Int("batches_done", result.Batches[articles.StatusDone]),
		logging.Int("batches_error", result.Batches[articles.StatusError]),
		logging.Int("batches_skip", result.Batches[articles.StatusSkip]),
		logging.Int("records", result.Records),
		logging.Int("matched", result.Match.Matched),
		logging.Int("failed_stages", len(result.Failed)),
	)
	return result, errs.ErrorOrNil()
}

func (p *Pipeline) crawl(ctx context.Context, wb store.Workbook, result *Result) error {
	table, err := wb.Table(ctx, p.cfg.Store.CrawlWorksheet)
	if err != nil {
		return services.Wrap(services.ErrStore, StageCrawl, "open worksheet", p.cfg.Store.CrawlWorksheet, err)
	}
	c := crawler.New(crawler.ConfigFrom(p.cfg.Crawl),
		crawler.WithHTTPClient(p.httpClient),
		crawler.WithLogger(logging.NewComponentLogger(p.logger, "crawler")),
		crawler.WithClock(p.now),
		crawler.WithSleeper(p.sleep),
	)
	summary, err := c.Run(ctx, table, p.rules.Names())
	result.Crawl = summary
	p.recorder.ObserveCrawl(summary.Saved)
	if err != nil {
		return err
	}
	if summary.Queries > 0 && summary.FailedQuery == summary.Queries {
		return fmt.Errorf("all %d news searches failed", summary.Queries)
	}
	return nil
}

func (p *Pipeline) extract(ctx context.Context, wb store.Workbook, competitor string, result *Result) error {
	input, err := wb.Table(ctx, p.cfg.Store.InputWorksheet)
	if err != nil {
		return services.Wrap(services.ErrStore, StageExtract, "open worksheet", p.cfg.Store.InputWorksheet, err)
	}
	output, err := wb.Table(ctx, p.cfg.Store.OutputWorksheet)
	if err != nil {
		return services.Wrap(services.ErrStore, StageExtract, "open worksheet", p.cfg.Store.OutputWorksheet, err)
	}
	logger := logging.NewComponentLogger(p.logger, "extract")
	tracker := rowstatus.New(input,
		rowstatus.WithMinBodyChars(p.cfg.Extract.MinBodyChars),
		rowstatus.WithLogger(logger),
	)
	pending, err := tracker.LoadUnprocessed(ctx)
	if err != nil {
		return services.Wrap(services.ErrStore, StageExtract, "load rows", "", err)
	}
	order, groups := rowstatus.GroupByCompetitor(pending)
	if competitor != "" {
		if _, ok := groups[competitor]; !ok {
			logging.WithContext(ctx, logger).Info("no pending rows for competitor", logging.String(logging.FieldCompetitor, competitor))
			return nil
		}
		order = []string{competitor}
	}
	if len(order) == 0 {
		logging.WithContext(ctx, logger).Info("no pending rows")
		return nil
	}

	caller, err := p.llmCaller()
	if err != nil {
		return err
	}
	scheduler := extract.NewScheduler(caller, extract.NewTableSink(output), tracker, p.rules,
		extract.Config{
			ArticlesPerCall: p.cfg.Extract.ArticlesPerCall,
			MaxArticleChars: p.cfg.Extract.MaxArticleChars,
			MaxInFlight:     p.cfg.MaxInFlight(),
			UnitCooldown:    time.Duration(p.cfg.Extract.UnitCooldownSeconds) * time.Second,
		},
		extract.WithLogger(logger),
		extract.WithSleeper(p.sleep),
		extract.WithBatchObserver(func(report extract.BatchReport) {
			p.recorder.ObserveBatch(report.Status, report.Records)
		}),
	)

	for _, unit := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		unitResult := scheduler.Run(ctx, unit, groups[unit])
		result.Units = append(result.Units, unitResult)
		for status, n := range unitResult.BatchStatus {
			result.Batches[status] += n
		}
		for status, n := range unitResult.RowStatus {
			result.Rows[status] += n
		}
		result.Records += unitResult.Records
		for _, err := range unitResult.Errors {
			if services.IsFatal(err) {
				return err
			}
		}
	}
	return ctx.Err()
}

// llmCaller returns the injected caller or a client built from [llm] with
// the shared request and token budgets.
func (p *Pipeline) llmCaller() (extract.Caller, error) {
	if p.caller != nil {
		return p.caller, nil
	}
	client, err := NewLLMClient(p.cfg, p.logger, p.recorder, p.sleep)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NewLLMClient builds the rate-limited LLM client described by cfg. recorder
// may be nil and sleep may be nil.
func NewLLMClient(cfg *config.Config, logger *slog.Logger, recorder *metrics.Recorder, sleep func(context.Context, time.Duration) error) (*llm.Client, error) {
	limiterOpts := []ratelimit.Option{
		ratelimit.WithWaitObserver(recorder.ObserveWait),
		ratelimit.WithAdmitObserver(recorder.ObserveAdmit),
	}
	if sleep != nil {
		limiterOpts = append(limiterOpts, ratelimit.WithSleeper(sleep))
	}
	rpm := ratelimit.PerMinute("rpm", cfg.LLM.RequestsPerMinute, limiterOpts...)
	tpm := ratelimit.PerMinute("tpm", cfg.LLM.TokensPerMinute, limiterOpts...)

	clientOpts := []llm.Option{
		llm.WithLimiters(rpm, tpm),
		llm.WithLogger(logging.NewComponentLogger(logger, "llm")),
		llm.WithAttemptObserver(recorder.ObserveLLMAttempt),
	}
	if sleep != nil {
		clientOpts = append(clientOpts, llm.WithSleeper(sleep))
	}
	client, err := llm.NewClient(llm.Config{
		Provider:       cfg.LLM.Provider,
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		MaxTokens:      cfg.LLM.MaxTokens,
		MaxRetries:     cfg.LLM.MaxRetries,
		MaxConcurrent:  cfg.LLM.MaxConcurrentRequests,
	}, clientOpts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "llm", "create client", cfg.LLM.Provider, err)
	}
	return client, nil
}

func (p *Pipeline) match(ctx context.Context, wb store.Workbook, result *Result) error {
	names := []string{p.cfg.Store.OutputWorksheet, p.cfg.Store.MappingWorksheet, p.cfg.Store.UnmatchedWorksheet}
	tables := make([]store.Table, len(names))
	for i, name := range names {
		table, err := wb.Table(ctx, name)
		if err != nil {
			return services.Wrap(services.ErrStore, StageMatch, "open worksheet", name, err)
		}
		tables[i] = table
	}
	logger := logging.NewComponentLogger(p.logger, "registry")
	loader := registry.NewLoader(p.cfg.Registry,
		registry.WithHTTPClient(p.httpClient),
		registry.WithLogger(logger),
	)
	dir, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	summary, err := registry.NewMatcher(dir, p.cfg.Registry.CandidateThreshold, logger).Run(ctx, tables[0], tables[1], tables[2])
	result.Match = summary
	return err
}
