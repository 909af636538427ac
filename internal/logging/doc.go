// Package logging assembles structured slog loggers and formatting helpers used
// across the pipeline stages.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so stage code automatically tags log lines
// with the run ID, stage, competitor, and batch label. Daily log files are
// written under the configured log directory and pruned by CleanupOldLogs.
// A no-op logger is provided for tests and wiring code that cannot fail.
package logging
