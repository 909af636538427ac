package extract

import (
	"context"
	"fmt"
	"sync"

	"compintel/internal/articles"
	"compintel/internal/store"
)

// TableSink appends records to the output worksheet, writing the header row
// before the first append when the worksheet is empty.
type TableSink struct {
	table store.Table

	mu        sync.Mutex
	hasHeader bool
}

// NewTableSink wraps the output worksheet.
func NewTableSink(table store.Table) *TableSink {
	return &TableSink{table: table}
}

// AppendRecords writes records in articles.RecordHeader column order.
func (s *TableSink) AppendRecords(ctx context.Context, records []articles.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureHeader(ctx); err != nil {
		return err
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.Row())
	}
	if err := s.table.Append(ctx, rows); err != nil {
		return fmt.Errorf("append %d records: %w", len(rows), err)
	}
	return nil
}

func (s *TableSink) ensureHeader(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasHeader {
		return nil
	}
	if _, err := store.EnsureHeader(ctx, s.table, articles.RecordHeader); err != nil {
		return fmt.Errorf("output header: %w", err)
	}
	s.hasHeader = true
	return nil
}
