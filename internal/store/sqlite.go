package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteWorkbook stores worksheets as cell rows in a local SQLite database.
type SQLiteWorkbook struct {
	db   *sql.DB
	path string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ Workbook = (*SQLiteWorkbook)(nil)

// OpenSQLite initializes or connects to the workbook database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteWorkbook, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store: sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	wb := &SQLiteWorkbook{db: db, path: path, locks: make(map[string]*sync.Mutex)}
	if err := wb.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return wb, nil
}

// Close closes the underlying database connection.
func (w *SQLiteWorkbook) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Path returns the database file location.
func (w *SQLiteWorkbook) Path() string { return w.path }

func (w *SQLiteWorkbook) initSchema(ctx context.Context) error {
	var tableExists int
	err := w.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return w.createSchema(ctx)
	}

	var version int
	if err := w.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to recreate it)",
			ErrSchemaMismatch, version, schemaVersion, w.path)
	}
	return nil
}

func (w *SQLiteWorkbook) createSchema(ctx context.Context) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func (w *SQLiteWorkbook) lockFor(name string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		w.locks[name] = lock
	}
	return lock
}

// Table opens the named worksheet, creating it when missing.
func (w *SQLiteWorkbook) Table(ctx context.Context, name string) (Table, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("store: worksheet name required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	query, args, err := sq.Insert("sheets").
		Columns("name", "row_count", "created_at", "updated_at").
		Values(name, 0, now, now).
		Suffix("ON CONFLICT(name) DO NOTHING").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sheet insert: %w", err)
	}
	if err := retryOnBusy(ctx, func() error {
		_, execErr := w.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, fmt.Errorf("create worksheet %q: %w", name, err)
	}
	return &sqliteTable{wb: w, name: name, lock: w.lockFor(name)}, nil
}

// Tables lists existing worksheet names in creation order.
func (w *SQLiteWorkbook) Tables(ctx context.Context) ([]string, error) {
	query, args, err := sq.Select("name").From("sheets").OrderBy("rowid").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sheet list: %w", err)
	}
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list worksheets: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan worksheet: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type sqliteTable struct {
	wb   *SQLiteWorkbook
	name string
	lock *sync.Mutex
}

func (t *sqliteTable) Name() string { return t.name }

func (t *sqliteTable) Values(ctx context.Context) ([][]string, error) {
	var rowCount int
	countQuery, countArgs, err := sq.Select("row_count").From("sheets").Where(sq.Eq{"name": t.name}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build row count query: %w", err)
	}
	if err := t.wb.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&rowCount); err != nil {
		return nil, fmt.Errorf("read row count for %q: %w", t.name, err)
	}
	if rowCount == 0 {
		return nil, nil
	}

	query, args, err := sq.Select("row_num", "col_num", "value").
		From("cells").
		Where(sq.Eq{"sheet": t.name}).
		OrderBy("row_num", "col_num").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build cell query: %w", err)
	}
	rows, err := t.wb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read cells for %q: %w", t.name, err)
	}
	defer rows.Close()

	grid := make([][]string, rowCount)
	for rows.Next() {
		var (
			rowNum, colNum int
			value          string
		)
		if err := rows.Scan(&rowNum, &colNum, &value); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		if rowNum > rowCount {
			continue
		}
		row := grid[rowNum-1]
		for len(row) < colNum {
			row = append(row, "")
		}
		row[colNum-1] = value
		grid[rowNum-1] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cells: %w", err)
	}
	for i := range grid {
		grid[i] = trimTrailingEmpty(grid[i])
	}
	return grid, nil
}

func trimTrailingEmpty(row []string) []string {
	end := len(row)
	for end > 0 && row[end-1] == "" {
		end--
	}
	return row[:end]
}

func (t *sqliteTable) Append(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.withTx(ctx, func(tx *sql.Tx) error {
		var rowCount int
		if err := tx.QueryRowContext(ctx, "SELECT row_count FROM sheets WHERE name = ?", t.name).Scan(&rowCount); err != nil {
			return fmt.Errorf("read row count: %w", err)
		}
		var cells []CellUpdate
		for i, row := range rows {
			for j, value := range row {
				if value == "" {
					continue
				}
				cells = append(cells, CellUpdate{Row: rowCount + i + 1, Col: j + 1, Value: value})
			}
		}
		if err := upsertCells(ctx, tx, t.name, cells); err != nil {
			return err
		}
		return setRowCount(ctx, tx, t.name, rowCount+len(rows))
	})
}

func (t *sqliteTable) Update(ctx context.Context, cells []CellUpdate) error {
	if len(cells) == 0 {
		return nil
	}
	if err := validateCells(cells); err != nil {
		return err
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.withTx(ctx, func(tx *sql.Tx) error {
		var rowCount int
		if err := tx.QueryRowContext(ctx, "SELECT row_count FROM sheets WHERE name = ?", t.name).Scan(&rowCount); err != nil {
			return fmt.Errorf("read row count: %w", err)
		}
		if err := upsertCells(ctx, tx, t.name, cells); err != nil {
			return err
		}
		maxRow := rowCount
		for _, cell := range cells {
			if cell.Row > maxRow {
				maxRow = cell.Row
			}
		}
		if maxRow == rowCount {
			return nil
		}
		return setRowCount(ctx, tx, t.name, maxRow)
	})
}

func (t *sqliteTable) Clear(ctx context.Context) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.withTx(ctx, func(tx *sql.Tx) error {
		query, args, err := sq.Delete("cells").Where(sq.Eq{"sheet": t.name}).ToSql()
		if err != nil {
			return fmt.Errorf("build clear: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("clear cells: %w", err)
		}
		return setRowCount(ctx, tx, t.name, 0)
	})
}

func (t *sqliteTable) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := t.wb.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func upsertCells(ctx context.Context, tx *sql.Tx, sheet string, cells []CellUpdate) error {
	const chunk = 200
	for start := 0; start < len(cells); start += chunk {
		end := min(start+chunk, len(cells))
		builder := sq.Insert("cells").Columns("sheet", "row_num", "col_num", "value")
		for _, cell := range cells[start:end] {
			builder = builder.Values(sheet, cell.Row, cell.Col, cell.Value)
		}
		query, args, err := builder.
			Suffix("ON CONFLICT(sheet, row_num, col_num) DO UPDATE SET value = excluded.value").
			ToSql()
		if err != nil {
			return fmt.Errorf("build cell upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert cells: %w", err)
		}
	}
	return nil
}

func setRowCount(ctx context.Context, tx *sql.Tx, sheet string, rowCount int) error {
	query, args, err := sq.Update("sheets").
		Set("row_count", rowCount).
		Set("updated_at", time.Now().UTC().Format(time.RFC3339Nano)).
		Where(sq.Eq{"name": sheet}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build row count update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update row count: %w", err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
