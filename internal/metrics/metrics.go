// Package metrics records run counters and exports them in the Prometheus
// text format for the node_exporter textfile collector.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"compintel/internal/articles"
)

// Recorder holds the counters of one run. The zero value is not usable; a nil
// *Recorder ignores every call.
type Recorder struct {
	registry *prometheus.Registry

	batches         *prometheus.CounterVec
	records         prometheus.Counter
	articles        prometheus.Counter
	llmAttempts     *prometheus.CounterVec
	limiterWait     *prometheus.CounterVec
	limiterAdmitted *prometheus.CounterVec
	stageFailures   *prometheus.CounterVec
	runDuration     prometheus.Gauge
	lastRunFinished prometheus.Gauge
}

// New creates a recorder with its own registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compintel_batches_total",
			Help: "LLM batches processed, by final status.",
		}, []string{"status"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compintel_records_saved_total",
			Help: "Partnership records appended to the output worksheet.",
		}),
		articles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compintel_articles_crawled_total",
			Help: "New articles appended to the crawl worksheet.",
		}),
		llmAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compintel_llm_attempts_total",
			Help: "LLM request attempts, by outcome.",
		}, []string{"outcome"}),
		limiterWait: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compintel_ratelimit_wait_seconds_total",
			Help: "Time spent waiting for rate limiter capacity.",
		}, []string{"limiter"}),
		limiterAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compintel_ratelimit_admitted_total",
			Help: "Units admitted by each rate limiter (requests or estimated tokens).",
		}, []string{"limiter"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compintel_stage_failures_total",
			Help: "Pipeline stages that ended with an error.",
		}, []string{"stage"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "compintel_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		lastRunFinished: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "compintel_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}
	registry.MustRegister(
		r.batches,
		r.records,
		r.articles,
		r.llmAttempts,
		r.limiterWait,
		r.limiterAdmitted,
		r.stageFailures,
		r.runDuration,
		r.lastRunFinished,
	)
	for _, status := range articles.AllStatuses() {
		if status == articles.StatusUnprocessed {
			continue
		}
		r.batches.WithLabelValues(statusLabel(status))
	}
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func statusLabel(status articles.Status) string {
	return strings.ToLower(status.Label())
}

// ObserveBatch counts a finished batch and the records it saved.
func (r *Recorder) ObserveBatch(status articles.Status, records int) {
	if r == nil {
		return
	}
	r.batches.WithLabelValues(statusLabel(status)).Inc()
	if records > 0 {
		r.records.Add(float64(records))
	}
}

// ObserveCrawl counts articles saved by the crawler.
func (r *Recorder) ObserveCrawl(saved int) {
	if r == nil || saved <= 0 {
		return
	}
	r.articles.Add(float64(saved))
}

// ObserveLLMAttempt counts one LLM attempt outcome.
func (r *Recorder) ObserveLLMAttempt(outcome string) {
	if r == nil {
		return
	}
	r.llmAttempts.WithLabelValues(outcome).Inc()
}

// ObserveWait adds a rate limiter wait.
func (r *Recorder) ObserveWait(limiter string, delay time.Duration) {
	if r == nil || delay <= 0 {
		return
	}
	r.limiterWait.WithLabelValues(limiter).Add(delay.Seconds())
}

// ObserveAdmit counts units admitted by a rate limiter.
func (r *Recorder) ObserveAdmit(limiter string, _ time.Time, cost int) {
	if r == nil || cost <= 0 {
		return
	}
	r.limiterAdmitted.WithLabelValues(limiter).Add(float64(cost))
}

// ObserveStageFailure counts a failed pipeline stage.
func (r *Recorder) ObserveStageFailure(stage string) {
	if r == nil {
		return
	}
	r.stageFailures.WithLabelValues(stage).Inc()
}

// FinishRun records the run duration and completion time.
func (r *Recorder) FinishRun(started, finished time.Time) {
	if r == nil {
		return
	}
	r.runDuration.Set(finished.Sub(started).Seconds())
	r.lastRunFinished.Set(float64(finished.Unix()))
}

// WriteTextfile writes every metric to path in the text exposition format.
// An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || strings.TrimSpace(path) == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
