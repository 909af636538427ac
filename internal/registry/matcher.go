package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"compintel/internal/articles"
	"compintel/internal/logging"
	"compintel/internal/store"
	"compintel/internal/textutil"
)

// Mapping and unmatched worksheet headers.
var (
	MappingHeader   = []string{"norm_partner_name", "dart_match", "dart_corp_name"}
	UnmatchedHeader = []string{articles.ColumnPartner, "dart_candidate_name", "dart_candidate_code", "candidate_score"}
)

// partnerColumns are the accepted names of the partner column, in order of
// preference.
var partnerColumns = []string{articles.ColumnPartner, "이용기업", "협력사기관명", "협력사 기관명"}

// Summary reports one matching pass.
type Summary struct {
	Rows      int
	Matched   int
	Unmatched int
	// Strong counts unmatched partners whose best candidate reached the
	// review threshold.
	Strong int
}

// Matcher writes registry matches for the output worksheet.
type Matcher struct {
	dir       *Directory
	threshold int
	logger    *slog.Logger
}

// NewMatcher builds a matcher. threshold is the candidate similarity (0..1)
// at which an unmatched partner is reported as worth reviewing.
func NewMatcher(dir *Directory, threshold float64, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Matcher{dir: dir, threshold: int(threshold * 100), logger: logger}
}

// Run reads partner names from output, rewrites mapping with one row per
// output row, and rewrites unmatched with the distinct partners that had no
// exact registry match.
func (m *Matcher) Run(ctx context.Context, output, mapping, unmatched store.Table) (Summary, error) {
	var summary Summary
	logger := logging.WithContext(ctx, m.logger)

	values, err := output.Values(ctx)
	if err != nil {
		return summary, err
	}
	if len(values) < 2 {
		logger.Info("no partner rows to match", logging.String("sheet", output.Name()))
		return summary, nil
	}
	col, err := partnerColumn(values[0])
	if err != nil {
		return summary, err
	}

	mappingRows := [][]string{MappingHeader}
	missing := make(map[string]struct{})
	for _, row := range values[1:] {
		partner := store.Cell(row, col)
		normalized := textutil.NormalizeName(partner)
		summary.Rows++
		corp, ok := m.dir.Lookup(normalized)
		if ok && normalized != "" {
			summary.Matched++
			mappingRows = append(mappingRows, []string{normalized, "TRUE", corp.Name})
			continue
		}
		mappingRows = append(mappingRows, []string{normalized, "FALSE", ""})
		if partner != "" {
			missing[partner] = struct{}{}
		}
	}
	if err := rewrite(ctx, mapping, mappingRows); err != nil {
		return summary, err
	}

	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	summary.Unmatched = len(names)

	unmatchedRows := [][]string{UnmatchedHeader}
	for _, name := range names {
		cand, ok := m.dir.BestCandidate(name)
		if !ok {
			unmatchedRows = append(unmatchedRows, []string{name, "", "", "0"})
			continue
		}
		if cand.Score >= m.threshold {
			summary.Strong++
		}
		unmatchedRows = append(unmatchedRows, []string{name, cand.Name, cand.Code, strconv.Itoa(cand.Score)})
	}
	if err := rewrite(ctx, unmatched, unmatchedRows); err != nil {
		return summary, err
	}

	logger.Info("registry matching finished",
		logging.Int("rows", summary.Rows),
		logging.Int("matched", summary.Matched),
		logging.Int("unmatched", summary.Unmatched),
		logging.Int("review_candidates", summary.Strong),
	)
	return summary, nil
}

func partnerColumn(header []string) (int, error) {
	idx := store.HeaderIndex(header)
	for _, name := range partnerColumns {
		if i, ok := idx[name]; ok {
			return i, nil
		}
	}
	return 0, fmt.Errorf("registry: partner column missing (want one of %s; have %s)",
		strings.Join(partnerColumns, ", "), strings.Join(header, ", "))
}

func rewrite(ctx context.Context, table store.Table, rows [][]string) error {
	if err := table.Clear(ctx); err != nil {
		return fmt.Errorf("clear %s: %w", table.Name(), err)
	}
	if err := table.Append(ctx, rows); err != nil {
		return fmt.Errorf("write %s: %w", table.Name(), err)
	}
	return nil
}
