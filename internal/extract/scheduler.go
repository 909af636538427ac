package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"compintel/internal/articles"
	"compintel/internal/competitors"
	"compintel/internal/logging"
	"compintel/internal/ratelimit"
	"compintel/internal/services"
)

// DefaultUnitCooldown is the pause after each unit's batches finish.
const DefaultUnitCooldown = 5 * time.Second

// Caller sends one prompt to the model.
type Caller interface {
	Call(ctx context.Context, prompt string) (string, error)
}

// RecordSink persists reconciled records.
type RecordSink interface {
	AppendRecords(ctx context.Context, records []articles.Record) error
}

// StatusMarker writes row statuses back to the source worksheet.
type StatusMarker interface {
	MarkStatus(ctx context.Context, rowIDs []int, status articles.Status) error
}

// Config bounds batch size and concurrency.
type Config struct {
	ArticlesPerCall int
	MaxArticleChars int
	// MaxInFlight caps the batches of one unit that are outstanding at once.
	MaxInFlight  int
	UnitCooldown time.Duration
}

// BatchReport describes one finished batch; it is handed to the observer.
type BatchReport struct {
	Unit     string
	Label    string
	Status   articles.Status
	Rows     int
	Records  int
	Warnings []string
	Err      error
}

// UnitResult folds the batch reports of one unit.
type UnitResult struct {
	Unit    string
	Batches int
	// BatchStatus counts batches per final status.
	BatchStatus map[articles.Status]int
	// RowStatus counts rows per final status.
	RowStatus map[articles.Status]int
	Records   int
	Errors    []error
}

func (r *UnitResult) add(report BatchReport) {
	r.BatchStatus[report.Status]++
	r.RowStatus[report.Status] += report.Rows
	r.Records += report.Records
	if report.Err != nil {
		r.Errors = append(r.Errors, fmt.Errorf("batch %s: %w", report.Label, report.Err))
	}
}

// Scheduler runs the batches of one unit with bounded concurrency.
type Scheduler struct {
	caller  Caller
	sink    RecordSink
	marker  StatusMarker
	rules   *competitors.Table
	cfg     Config
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
	observe func(BatchReport)
}

// Option customizes the scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSleeper overrides the cooldown sleep (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(s *Scheduler) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithBatchObserver registers a callback invoked once per finished batch.
func WithBatchObserver(fn func(BatchReport)) Option {
	return func(s *Scheduler) {
		s.observe = fn
	}
}

// NewScheduler wires the scheduler collaborators. rules may be nil.
func NewScheduler(caller Caller, sink RecordSink, marker StatusMarker, rules *competitors.Table, cfg Config, opts ...Option) *Scheduler {
	if cfg.ArticlesPerCall <= 0 {
		cfg.ArticlesPerCall = DefaultArticlesPerCall
	}
	if cfg.MaxArticleChars <= 0 {
		cfg.MaxArticleChars = DefaultMaxArticleChars
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.UnitCooldown < 0 {
		cfg.UnitCooldown = 0
	}
	s := &Scheduler{
		caller: caller,
		sink:   sink,
		marker: marker,
		rules:  rules,
		cfg:    cfg,
		logger: logging.NewNop(),
		sleep:  ratelimit.SleepWithContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes every article of unit and returns the folded result. Batch
// failures are recorded in the result and in row statuses; they are never
// returned as a run error.
func (s *Scheduler) Run(ctx context.Context, unit string, arts []articles.SourceArticle) UnitResult {
	ctx = services.WithCompetitor(ctx, unit)
	logger := logging.WithContext(ctx, s.logger)
	result := UnitResult{
		Unit:        unit,
		BatchStatus: make(map[articles.Status]int, 3),
		RowStatus:   make(map[articles.Status]int, 3),
	}
	batches := BuildBatches(unit, arts, s.cfg.ArticlesPerCall)
	if len(batches) == 0 {
		return result
	}
	rule := s.rules.RuleFor(unit)
	for i := range batches {
		batches[i].Business = rule.BusinessLabel()
	}
	logger.Info("unit started",
		logging.Int("articles", len(arts)),
		logging.Int("batches", len(batches)),
		logging.String("business_unit", rule.BusinessLabel()),
	)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.cfg.MaxInFlight)
	)
dispatch:
	for _, batch := range batches {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		result.Batches++
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			report := s.runBatch(ctx, unit, rule, batch)
			mu.Lock()
			result.add(report)
			mu.Unlock()
			if s.observe != nil {
				s.observe(report)
			}
		}()
	}
	wg.Wait()

	logger.Info("unit finished",
		logging.Int("batches", result.Batches),
		logging.Int("done", result.BatchStatus[articles.StatusDone]),
		logging.Int("error", result.BatchStatus[articles.StatusError]),
		logging.Int("skip", result.BatchStatus[articles.StatusSkip]),
		logging.Int("records", result.Records),
	)
	if ctx.Err() == nil && s.cfg.UnitCooldown > 0 {
		_ = s.sleep(ctx, s.cfg.UnitCooldown)
	}
	return result
}

func (s *Scheduler) runBatch(ctx context.Context, unit string, rule competitors.Rule, batch Batch) BatchReport {
	ctx = services.WithBatch(ctx, batch.Label())
	logger := logging.WithContext(ctx, s.logger)
	report := BatchReport{Unit: unit, Label: batch.Label(), Rows: len(batch.Articles)}

	outcome := s.process(ctx, unit, rule, batch)
	report.Status = outcome.Status
	report.Warnings = outcome.Warnings
	if outcome.Status == articles.StatusSkip {
		logger.Info("batch skipped", logging.String("reason", outcome.Err.Error()))
	} else {
		report.Err = outcome.Err
	}

	if report.Status == articles.StatusDone && len(outcome.Records) > 0 {
		if err := protect(func() error { return s.sink.AppendRecords(ctx, outcome.Records) }); err != nil {
			report.Status = articles.StatusError
			report.Err = services.Wrap(services.ErrStore, "extract", "append records", "", err)
		} else {
			report.Records = len(outcome.Records)
		}
	}

	if ctx.Err() != nil {
		// Rows keep their previous status and are picked up by the next run.
		logger.Info("batch interrupted", logging.Error(ctx.Err()))
		if report.Err == nil {
			report.Err = ctx.Err()
		}
		return report
	}

	if err := protect(func() error { return s.marker.MarkStatus(ctx, batch.RowIDs(), report.Status) }); err != nil {
		markErr := services.Wrap(services.ErrStore, "extract", "mark status", report.Status.Label(), err)
		logging.WarnWithContext(logger, "status write-back failed", "status_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "rows keep their previous status and are retried next run"),
		)
		report.Err = errors.Join(report.Err, markErr)
	}

	for _, warning := range report.Warnings {
		logger.Warn("model reply warning",
			logging.String(logging.FieldEventType, "reply_warning"),
			logging.String("detail", warning),
		)
	}
	attrs := []logging.Attr{
		logging.String("status", report.Status.Label()),
		logging.Int("rows", report.Rows),
		logging.Int("records", report.Records),
	}
	if report.Err != nil {
		attrs = append(attrs, logging.Error(report.Err))
		logging.WarnWithContext(logger, "batch finished with errors", "batch_failed", attrs...)
	} else {
		logger.Info("batch finished", logging.Args(attrs...)...)
	}
	return report
}

// process renders, calls, and reconciles one batch. Panics become ERROR.
func (s *Scheduler) process(ctx context.Context, unit string, rule competitors.Rule, batch Batch) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = failed(fmt.Errorf("batch panic: %v", r), nil)
		}
	}()
	payload, err := SerializeArticles(batch.Articles, s.cfg.MaxArticleChars)
	if err != nil {
		return failed(services.Wrap(services.ErrFatal, "extract", "serialize", "", err), nil)
	}
	text, callErr := s.caller.Call(ctx, RenderPrompt(unit, rule, payload))
	return Reconcile(text, callErr, batch)
}

func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
