package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"compintel/internal/config"
)

// Backend names accepted in store.backend.
const (
	BackendSheets = "sheets"
	BackendSQLite = "sqlite"
)

// ErrInvalidCell reports a cell address outside the 1-based grid.
var ErrInvalidCell = errors.New("invalid cell address")

// CellUpdate writes Value into the 1-based (Row, Col) cell.
type CellUpdate struct {
	Row   int
	Col   int
	Value string
}

// Table is one worksheet. Row 1 is the header. Values returns every row
// including the header; trailing empty cells may be omitted.
type Table interface {
	Name() string
	Values(ctx context.Context) ([][]string, error)
	Append(ctx context.Context, rows [][]string) error
	Update(ctx context.Context, cells []CellUpdate) error
	Clear(ctx context.Context) error
}

// Workbook is a collection of worksheets.
type Workbook interface {
	// Table opens the named worksheet, creating it when missing.
	Table(ctx context.Context, name string) (Table, error)
	// Tables lists existing worksheet names.
	Tables(ctx context.Context) ([]string, error)
	Close() error
}

// Open returns the workbook selected by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config) (Workbook, error) {
	switch cfg.Store.Backend {
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.Store.SQLitePath)
	case BackendSheets, "":
		return OpenSheets(ctx, cfg.Store.SpreadsheetID, cfg.Store.CredentialsFile)
	default:
		return nil, fmt.Errorf("store: unsupported backend %q", cfg.Store.Backend)
	}
}

// HeaderIndex maps trimmed header names to 0-based column indexes. The first
// occurrence of a duplicated name wins.
func HeaderIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := index[name]; !ok {
			index[name] = i
		}
	}
	return index
}

// EnsureHeader makes sure row 1 of t contains every column in want. An empty
// table gets want as its header. Missing columns are appended after the last
// existing one. The resulting header is returned.
func EnsureHeader(ctx context.Context, t Table, want []string) ([]string, error) {
	values, err := t.Values(ctx)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 || isBlankRow(values[0]) {
		if len(values) == 0 {
			if err := t.Append(ctx, [][]string{want}); err != nil {
				return nil, fmt.Errorf("write header: %w", err)
			}
		} else if err := t.Update(ctx, headerCells(want, 0)); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		return append([]string(nil), want...), nil
	}

	header := trimRow(values[0])
	index := HeaderIndex(header)
	var missing []string
	for _, name := range want {
		if _, ok := index[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return header, nil
	}
	if err := t.Update(ctx, headerCells(missing, len(header))); err != nil {
		return nil, fmt.Errorf("extend header: %w", err)
	}
	return append(header, missing...), nil
}

func headerCells(names []string, offset int) []CellUpdate {
	cells := make([]CellUpdate, 0, len(names))
	for i, name := range names {
		cells = append(cells, CellUpdate{Row: 1, Col: offset + i + 1, Value: name})
	}
	return cells
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// trimRow drops trailing blank cells.
func trimRow(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	out := make([]string, end)
	for i := 0; i < end; i++ {
		out[i] = strings.TrimSpace(row[i])
	}
	return out
}

// Cell returns row[idx] trimmed, or "" when idx is out of range.
func Cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// ColumnLetter converts a 1-based column number to A1 notation letters.
func ColumnLetter(col int) string {
	if col <= 0 {
		return ""
	}
	var buf []byte
	for col > 0 {
		col--
		buf = append([]byte{byte('A' + col%26)}, buf...)
		col /= 26
	}
	return string(buf)
}

// A1 renders a cell reference such as 'Sheet 1'!C7.
func A1(sheet string, row, col int) string {
	return quoteSheet(sheet) + "!" + ColumnLetter(col) + strconv.Itoa(row)
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func validateCells(cells []CellUpdate) error {
	for _, cell := range cells {
		if cell.Row <= 0 || cell.Col <= 0 {
			return fmt.Errorf("%w: row=%d col=%d", ErrInvalidCell, cell.Row, cell.Col)
		}
	}
	return nil
}
