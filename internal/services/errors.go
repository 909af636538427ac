package services

import (
	"errors"
	"fmt"
	"strings"

	"compintel/internal/articles"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrFatal         = errors.New("fatal failure")
	ErrParse         = errors.New("parse error")
	ErrEmptyOutput   = errors.New("empty output")
	ErrStore         = errors.New("store error")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later status classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureStatus maps a batch error to the row status persisted for the rows
// it covered. Empty model output is SKIP; everything else is ERROR so the rows
// are retried on the next run.
func FailureStatus(err error) articles.Status {
	if errors.Is(err, ErrEmptyOutput) {
		return articles.StatusSkip
	}
	return articles.StatusError
}

// IsFatal reports whether err must halt the whole run rather than a single batch.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
