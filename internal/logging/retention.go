package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DailyLogPattern matches the files produced by DailyLogPath.
const DailyLogPattern = "compintel-*.log"

// CleanupOldLogs removes daily log files in dir older than retentionDays. The
// file for the current day is never removed. A retentionDays value of 0
// disables pruning. It returns the number of files removed.
func CleanupOldLogs(logger *slog.Logger, dir string, retentionDays int, now time.Time) int {
	if retentionDays <= 0 || dir == "" {
		return 0
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	current := filepath.Base(DailyLogPath(dir, now))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == current {
			continue
		}
		if matched, err := filepath.Match(DailyLogPattern, name); err != nil || !matched {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		fullPath := filepath.Join(dir, name)
		if err := os.Remove(fullPath); err != nil {
			WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
				String("path", fullPath),
				Error(err),
				String(FieldErrorHint, "check file permissions and log_dir ownership"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		removed++
		if logger != nil {
			logger.Debug("log pruned", String("path", fullPath), String(FieldEventType, "log_pruned"))
		}
	}
	return removed
}
