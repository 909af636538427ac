package services

import "context"

type contextKey string

const (
	runIDKey      contextKey = "run_id"
	stageKey      contextKey = "stage"
	competitorKey contextKey = "competitor"
	batchKey      contextKey = "batch"
)

// WithRunID annotates context with the pipeline run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithCompetitor annotates context with the competitor being processed.
func WithCompetitor(ctx context.Context, competitor string) context.Context {
	if competitor == "" {
		return ctx
	}
	return context.WithValue(ctx, competitorKey, competitor)
}

// CompetitorFromContext returns the competitor if present.
func CompetitorFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(competitorKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithBatch annotates context with a batch label such as "Acme-3".
func WithBatch(ctx context.Context, label string) context.Context {
	if label == "" {
		return ctx
	}
	return context.WithValue(ctx, batchKey, label)
}

// BatchFromContext returns the batch label if present.
func BatchFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(batchKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
