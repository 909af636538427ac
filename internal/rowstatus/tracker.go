package rowstatus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"compintel/internal/articles"
	"compintel/internal/logging"
	"compintel/internal/store"
)

// Status is the processing state of one source row.
type Status = articles.Status

const (
	Unprocessed = articles.StatusUnprocessed
	Done        = articles.StatusDone
	Error       = articles.StatusError
	Skip        = articles.StatusSkip
)

const (
	// DefaultMinBodyChars is the body length (in runes) a row must exceed to
	// be worth sending to the model.
	DefaultMinBodyChars = 100
	// maxUpdatesPerCall bounds the cells written per store round trip.
	maxUpdatesPerCall = 100
)

var urlColumnAliases = []string{"url", "링크", "기사url", "기사 url"}

// Tracker reads and writes row statuses on one worksheet.
type Tracker struct {
	table        store.Table
	minBodyChars int
	logger       *slog.Logger

	// statusCol is the 1-based status column once known; 0 until resolved.
	mu        sync.Mutex
	statusCol int
}

// Option customizes the tracker.
type Option func(*Tracker)

// WithMinBodyChars overrides the body length filter used by LoadUnprocessed.
func WithMinBodyChars(n int) Option {
	return func(t *Tracker) {
		if n >= 0 {
			t.minBodyChars = n
		}
	}
}

// WithLogger sets the tracker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New builds a tracker over table.
func New(table store.Table, opts ...Option) *Tracker {
	t := &Tracker{
		table:        table,
		minBodyChars: DefaultMinBodyChars,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// columns holds 0-based indexes resolved from the header; -1 means absent.
type columns struct {
	competitor int
	title      int
	body       int
	url        int
	status     int
}

func resolveColumns(header []string) columns {
	cols := columns{competitor: -1, title: -1, body: -1, url: -1, status: -1}
	for i, raw := range header {
		name := strings.TrimSpace(raw)
		lower := strings.ToLower(name)
		switch {
		case name == articles.ColumnCompetitor && cols.competitor < 0:
			cols.competitor = i
		case name == articles.ColumnTitle && cols.title < 0:
			cols.title = i
		case name == articles.ColumnBody && cols.body < 0:
			cols.body = i
		case lower == articles.ColumnStatus && cols.status < 0:
			cols.status = i
		case cols.url < 0 && isURLColumn(lower):
			cols.url = i
		}
	}
	return cols
}

func isURLColumn(lower string) bool {
	for _, alias := range urlColumnAliases {
		if lower == alias {
			return true
		}
	}
	return false
}

func (c columns) missingRequired() []string {
	var missing []string
	if c.competitor < 0 {
		missing = append(missing, articles.ColumnCompetitor)
	}
	if c.title < 0 {
		missing = append(missing, articles.ColumnTitle)
	}
	if c.body < 0 {
		missing = append(missing, articles.ColumnBody)
	}
	return missing
}

// LoadUnprocessed returns every row whose status is not DONE and whose body
// is longer than the minimum length, in sheet order.
func (t *Tracker) LoadUnprocessed(ctx context.Context) ([]articles.SourceArticle, error) {
	rows, err := t.readAll(ctx)
	if err != nil {
		return nil, err
	}
	var (
		out     []articles.SourceArticle
		short   int
		skipped int
	)
	for _, row := range rows {
		if !row.Status.Retryable() {
			skipped++
			continue
		}
		if row.Title == "" && row.Body == "" {
			continue
		}
		if utf8.RuneCountInString(row.Body) <= t.minBodyChars {
			short++
			continue
		}
		out = append(out, row)
	}
	logging.WithContext(ctx, t.logger).Info("loaded unprocessed rows",
		logging.String("worksheet", t.table.Name()),
		logging.Int("pending", len(out)),
		logging.Int("done", skipped),
		logging.Int("short_body", short),
	)
	return out, nil
}

func (t *Tracker) readAll(ctx context.Context) ([]articles.SourceArticle, error) {
	values, err := t.table.Values(ctx)
	if err != nil {
		return nil, fmt.Errorf("read worksheet %q: %w", t.table.Name(), err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	cols := resolveColumns(values[0])
	if cols.status >= 0 {
		t.rememberStatusColumn(cols.status + 1)
	}
	if missing := cols.missingRequired(); len(missing) > 0 {
		return nil, fmt.Errorf("worksheet %q: missing required columns %s", t.table.Name(), strings.Join(missing, ", "))
	}
	out := make([]articles.SourceArticle, 0, len(values)-1)
	for i, row := range values[1:] {
		status, _ := articles.ParseStatus(store.Cell(row, cols.status))
		out = append(out, articles.SourceArticle{
			RowID:      i + 2,
			Competitor: store.Cell(row, cols.competitor),
			Title:      store.Cell(row, cols.title),
			Body:       store.Cell(row, cols.body),
			URL:        store.Cell(row, cols.url),
			Status:     status,
		})
	}
	return out, nil
}

// MarkStatus writes status into the status cell of each row. The status
// column is appended to the header when missing.
func (t *Tracker) MarkStatus(ctx context.Context, rowIDs []int, status Status) error {
	if len(rowIDs) == 0 {
		return nil
	}
	col, err := t.statusColumn(ctx)
	if err != nil {
		return err
	}
	value := string(status)
	updates := make([]store.CellUpdate, 0, len(rowIDs))
	for _, row := range rowIDs {
		if row < 2 {
			return fmt.Errorf("mark status: %w: row %d is not a data row", store.ErrInvalidCell, row)
		}
		updates = append(updates, store.CellUpdate{Row: row, Col: col, Value: value})
	}
	for start := 0; start < len(updates); start += maxUpdatesPerCall {
		end := min(start+maxUpdatesPerCall, len(updates))
		if err := t.table.Update(ctx, updates[start:end]); err != nil {
			return fmt.Errorf("mark %d rows %s: %w", end-start, status.Label(), err)
		}
	}
	return nil
}

// statusColumn returns the 1-based status column, creating it if needed. The
// column is resolved once per tracker; later calls do not read the worksheet.
func (t *Tracker) statusColumn(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.statusCol > 0 {
		return t.statusCol, nil
	}
	values, err := t.table.Values(ctx)
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	var header []string
	if len(values) > 0 {
		header = values[0]
	}
	if cols := resolveColumns(header); cols.status >= 0 {
		t.statusCol = cols.status + 1
		return t.statusCol, nil
	}
	header, err = store.EnsureHeader(ctx, t.table, []string{articles.ColumnStatus})
	if err != nil {
		return 0, fmt.Errorf("add status column: %w", err)
	}
	t.statusCol = resolveColumns(header).status + 1
	return t.statusCol, nil
}

func (t *Tracker) rememberStatusColumn(col int) {
	t.mu.Lock()
	t.statusCol = col
	t.mu.Unlock()
}

// Counts tallies rows per status, optionally filtered to one competitor.
func (t *Tracker) Counts(ctx context.Context, competitor string) (map[Status]int, error) {
	rows, err := t.readAll(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[Status]int, 4)
	for _, row := range rows {
		if competitor != "" && row.Competitor != competitor {
			continue
		}
		counts[row.Status]++
	}
	return counts, nil
}

// CompetitorCounts tallies rows per competitor and status.
func (t *Tracker) CompetitorCounts(ctx context.Context) (map[string]map[Status]int, error) {
	rows, err := t.readAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[Status]int)
	for _, row := range rows {
		counts, ok := out[row.Competitor]
		if !ok {
			counts = make(map[Status]int, 4)
			out[row.Competitor] = counts
		}
		counts[row.Status]++
	}
	return out, nil
}

// Reset moves rows in status from back to UNPROCESSED. An empty competitor
// matches every row. It returns the number of rows changed.
func (t *Tracker) Reset(ctx context.Context, from Status, competitor string) (int, error) {
	if from == Unprocessed {
		return 0, nil
	}
	rows, err := t.readAll(ctx)
	if err != nil {
		return 0, err
	}
	var ids []int
	for _, row := range rows {
		if row.Status != from {
			continue
		}
		if competitor != "" && row.Competitor != competitor {
			continue
		}
		ids = append(ids, row.RowID)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := t.MarkStatus(ctx, ids, Unprocessed); err != nil {
		return 0, err
	}
	logging.WithContext(ctx, t.logger).Info("reset row status",
		logging.String("from", from.Label()),
		logging.String("competitor", competitor),
		logging.Int("rows", len(ids)),
	)
	return len(ids), nil
}

// GroupByCompetitor splits arts by competitor, preserving the order in which
// competitors first appear.
func GroupByCompetitor(arts []articles.SourceArticle) (order []string, groups map[string][]articles.SourceArticle) {
	groups = make(map[string][]articles.SourceArticle)
	for _, art := range arts {
		if _, ok := groups[art.Competitor]; !ok {
			order = append(order, art.Competitor)
		}
		groups[art.Competitor] = append(groups[art.Competitor], art)
	}
	return order, groups
}

// SortedCompetitors returns the keys of counts in lexical order.
func SortedCompetitors(counts map[string]map[Status]int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
