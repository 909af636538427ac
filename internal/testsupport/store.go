package testsupport

import (
	"context"
	"testing"

	"compintel/internal/config"
	"compintel/internal/store"
)

// MustOpenWorkbook opens the configured workbook for tests and registers
// cleanup.
func MustOpenWorkbook(t testing.TB, cfg *config.Config) store.Workbook {
	t.Helper()

	wb, err := store.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = wb.Close()
	})
	return wb
}

// SeedSheet appends rows to the named worksheet and returns it.
func SeedSheet(t testing.TB, wb store.Workbook, name string, rows [][]string) store.Table {
	t.Helper()

	ctx := context.Background()
	table, err := wb.Table(ctx, name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	if err := table.Append(ctx, rows); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	return table
}

// SheetValues returns every row of the named worksheet.
func SheetValues(t testing.TB, wb store.Workbook, name string) [][]string {
	t.Helper()

	ctx := context.Background()
	table, err := wb.Table(ctx, name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	values, err := table.Values(ctx)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return values
}
