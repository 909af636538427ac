package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	// Values are written verbatim so dates like 25.10.22 stay text.
	valueInputOption = "RAW"
	sheetsRetries    = 4
	sheetsBaseDelay  = 2 * time.Second
	sheetsMaxDelay   = 30 * time.Second
)

// SheetsWorkbook is a Google Sheets spreadsheet.
type SheetsWorkbook struct {
	svc           *sheets.Service
	spreadsheetID string
	sleep         func(context.Context, time.Duration) error

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	titles map[string]bool
}

var _ Workbook = (*SheetsWorkbook)(nil)

// SheetsOption customizes the sheets workbook.
type SheetsOption func(*SheetsWorkbook)

// WithSheetsSleeper overrides how quota backoffs are performed (useful for tests).
func WithSheetsSleeper(sleep func(context.Context, time.Duration) error) SheetsOption {
	return func(w *SheetsWorkbook) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// OpenSheets authenticates with a service-account credentials file.
func OpenSheets(ctx context.Context, spreadsheetID, credentialsFile string) (*SheetsWorkbook, error) {
	credentialsFile = strings.TrimSpace(credentialsFile)
	if credentialsFile == "" {
		return nil, errors.New("store: google credentials file required")
	}
	return OpenSheetsWithOptions(ctx, spreadsheetID, nil,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
}

// OpenSheetsWithOptions builds the workbook from explicit client options.
func OpenSheetsWithOptions(ctx context.Context, spreadsheetID string, opts []SheetsOption, clientOpts ...option.ClientOption) (*SheetsWorkbook, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("store: spreadsheet id required")
	}
	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	wb := &SheetsWorkbook{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sleep:         sleepWithContext,
		locks:         make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(wb)
	}
	return wb, nil
}

// Close is a no-op; the HTTP client needs no teardown.
func (w *SheetsWorkbook) Close() error { return nil }

func (w *SheetsWorkbook) lockFor(name string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		w.locks[name] = lock
	}
	return lock
}

// Tables lists the worksheet titles of the spreadsheet.
func (w *SheetsWorkbook) Tables(ctx context.Context) ([]string, error) {
	var spreadsheet *sheets.Spreadsheet
	err := w.withRetry(ctx, func() error {
		var callErr error
		spreadsheet, callErr = w.svc.Spreadsheets.Get(w.spreadsheetID).
			Fields("sheets.properties.title").
			Context(ctx).
			Do()
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("list worksheets: %w", err)
	}
	titles := make([]string, 0, len(spreadsheet.Sheets))
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil {
			titles = append(titles, sheet.Properties.Title)
		}
	}
	w.mu.Lock()
	w.titles = make(map[string]bool, len(titles))
	for _, title := range titles {
		w.titles[title] = true
	}
	w.mu.Unlock()
	return titles, nil
}

// Table opens the named worksheet, adding it to the spreadsheet when missing.
func (w *SheetsWorkbook) Table(ctx context.Context, name string) (Table, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("store: worksheet name required")
	}
	w.mu.Lock()
	known := w.titles != nil
	exists := w.titles[name]
	w.mu.Unlock()
	if !known {
		if _, err := w.Tables(ctx); err != nil {
			return nil, err
		}
		w.mu.Lock()
		exists = w.titles[name]
		w.mu.Unlock()
	}
	if !exists {
		if err := w.addSheet(ctx, name); err != nil {
			return nil, err
		}
	}
	return &sheetsTable{wb: w, name: name, lock: w.lockFor(name)}, nil
}

func (w *SheetsWorkbook) addSheet(ctx context.Context, name string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: name},
			},
		}},
	}
	err := w.withRetry(ctx, func() error {
		_, callErr := w.svc.Spreadsheets.BatchUpdate(w.spreadsheetID, req).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return fmt.Errorf("add worksheet %q: %w", name, err)
	}
	w.mu.Lock()
	if w.titles == nil {
		w.titles = make(map[string]bool)
	}
	w.titles[name] = true
	w.mu.Unlock()
	return nil
}

// withRetry retries quota (429) and server (5xx) errors with capped
// exponential backoff.
func (w *SheetsWorkbook) withRetry(ctx context.Context, op func() error) error {
	delay := sheetsBaseDelay
	var lastErr error
	for attempt := 0; attempt < sheetsRetries; attempt++ {
		lastErr = op()
		if lastErr == nil || !isRetryableSheetsError(lastErr) || attempt == sheetsRetries-1 {
			return lastErr
		}
		if err := w.sleep(ctx, delay); err != nil {
			return err
		}
		delay = min(delay*2, sheetsMaxDelay)
	}
	return lastErr
}

func isRetryableSheetsError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type sheetsTable struct {
	wb   *SheetsWorkbook
	name string
	lock *sync.Mutex
}

func (t *sheetsTable) Name() string { return t.name }

func (t *sheetsTable) Values(ctx context.Context) ([][]string, error) {
	var resp *sheets.ValueRange
	err := t.wb.withRetry(ctx, func() error {
		var callErr error
		resp, callErr = t.wb.svc.Spreadsheets.Values.Get(t.wb.spreadsheetID, quoteSheet(t.name)).
			ValueRenderOption("FORMATTED_VALUE").
			Context(ctx).
			Do()
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("read worksheet %q: %w", t.name, err)
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, cell := range row {
			if cell != nil {
				cells[j] = fmt.Sprint(cell)
			}
		}
		out[i] = cells
	}
	return out, nil
}

func (t *sheetsTable) Append(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	body := &sheets.ValueRange{Values: toInterfaces(rows)}
	err := t.wb.withRetry(ctx, func() error {
		_, callErr := t.wb.svc.Spreadsheets.Values.Append(t.wb.spreadsheetID, quoteSheet(t.name)+"!A1", body).
			ValueInputOption(valueInputOption).
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		return callErr
	})
	if err != nil {
		return fmt.Errorf("append to worksheet %q: %w", t.name, err)
	}
	return nil
}

func (t *sheetsTable) Update(ctx context.Context, cells []CellUpdate) error {
	if len(cells) == 0 {
		return nil
	}
	if err := validateCells(cells); err != nil {
		return err
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	data := make([]*sheets.ValueRange, 0, len(cells))
	for _, cell := range cells {
		data = append(data, &sheets.ValueRange{
			Range:  A1(t.name, cell.Row, cell.Col),
			Values: [][]interface{}{{cell.Value}},
		})
	}
	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: valueInputOption,
		Data:             data,
	}
	err := t.wb.withRetry(ctx, func() error {
		_, callErr := t.wb.svc.Spreadsheets.Values.BatchUpdate(t.wb.spreadsheetID, req).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return fmt.Errorf("update worksheet %q: %w", t.name, err)
	}
	return nil
}

func (t *sheetsTable) Clear(ctx context.Context) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	err := t.wb.withRetry(ctx, func() error {
		_, callErr := t.wb.svc.Spreadsheets.Values.Clear(t.wb.spreadsheetID, quoteSheet(t.name), &sheets.ClearValuesRequest{}).
			Context(ctx).
			Do()
		return callErr
	})
	if err != nil {
		return fmt.Errorf("clear worksheet %q: %w", t.name, err)
	}
	return nil
}

func toInterfaces(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, value := range row {
			cells[j] = value
		}
		out[i] = cells
	}
	return out
}
