package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"compintel/internal/articles"
	"compintel/internal/services"
	"compintel/internal/services/llm"
	"compintel/internal/textutil"
)

// Canonical column positions of OutputHeader.
const (
	colSerial = iota
	colBusiness
	colCompetitor
	colPartner
	colType
	colTitle
	colURL
	columnCount
)

const (
	prefixMatchMinRunes = 10
	prefixMatchRunes    = 30
)

var columnAliases = map[string]int{
	"번호":               colSerial,
	"serial":           colSerial,
	"no":               colSerial,
	"사업명":              colBusiness,
	"business_unit":    colBusiness,
	"businessunit":     colBusiness,
	"경쟁사":              colCompetitor,
	"competitor":       colCompetitor,
	"협력사/기관명":          colPartner,
	"협력사기관명":           colPartner,
	"협력사":              colPartner,
	"partner":          colPartner,
	"협력유형":             colType,
	"partnership_type": colType,
	"partnershiptype":  colType,
	"근거기사제목":           colTitle,
	"source_title":     colTitle,
	"sourcetitle":      colTitle,
	"근거기사url":          colURL,
	"source_url":       colURL,
	"sourceurl":        colURL,
}

// Outcome is the reconciled result of one batch.
type Outcome struct {
	Records  []articles.Record
	Status   articles.Status
	Warnings []string
	// Err explains every outcome other than DONE. Status is derived from it
	// with services.FailureStatus.
	Err error
}

func failed(err error, warnings []string) Outcome {
	return Outcome{Status: services.FailureStatus(err), Err: err, Warnings: warnings}
}

// Reconcile parses the model's CSV reply for batch. A non-nil callErr is an
// ERROR; an empty reply is a SKIP; a parsed reply is DONE even when no row
// survives filtering.
func Reconcile(text string, callErr error, batch Batch) Outcome {
	if callErr != nil {
		return failed(callErr, nil)
	}
	body := llm.StripCodeFence(text)
	if body == "" {
		return failed(services.Wrap(services.ErrEmptyOutput, "extract", "reconcile", "model returned no content", nil), nil)
	}

	reader := csv.NewReader(strings.NewReader(body))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		out     = Outcome{Status: articles.StatusDone}
		mapping []int
		first   = true
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return failed(services.Wrap(services.ErrParse, "extract", "reconcile", "parse model csv", err), out.Warnings)
		}
		if first {
			first = false
			var isHeader bool
			mapping, isHeader = headerMapping(row)
			if isHeader {
				if len(row) < columnCount {
					out.Warnings = append(out.Warnings, fmt.Sprintf("header has %d columns, expected %d", len(row), columnCount))
				}
				continue
			}
			out.Warnings = append(out.Warnings, "reply has no header row; using column positions")
		}
		if isBlank(row) {
			continue
		}
		if rec, ok := buildRecord(row, mapping, batch); ok {
			out.Records = append(out.Records, rec)
		}
	}
	return out
}

// headerMapping maps canonical columns to indexes in row. Columns the header
// does not name keep their canonical position unless another column already
// sits there. isHeader is false when no cell of row is a known column name.
func headerMapping(row []string) ([]int, bool) {
	mapping := make([]int, columnCount)
	for i := range mapping {
		mapping[i] = -1
	}
	named := 0
	for idx, cell := range row {
		col, ok := columnAliases[headerKey(cell)]
		if !ok || mapping[col] >= 0 {
			continue
		}
		mapping[col] = idx
		named++
	}
	claimed := make(map[int]bool, len(row))
	for _, idx := range mapping {
		if idx >= 0 {
			claimed[idx] = true
		}
	}
	for col := range mapping {
		if mapping[col] < 0 && !claimed[col] {
			mapping[col] = col
		}
	}
	return mapping, named > 0
}

func headerKey(cell string) string {
	cell = strings.TrimPrefix(strings.TrimSpace(cell), "\ufeff")
	cell = strings.ToLower(cell)
	return strings.Join(strings.Fields(cell), "")
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func field(row []string, mapping []int, col int) string {
	idx := mapping[col]
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func buildRecord(row []string, mapping []int, batch Batch) (articles.Record, bool) {
	partner := field(row, mapping, colPartner)
	if partner == "" || strings.EqualFold(partner, strings.TrimSpace(batch.Unit)) {
		return articles.Record{}, false
	}

	asserted := field(row, mapping, colTitle)
	title := asserted
	var (
		url        string
		competitor = batch.Unit
	)
	if art, ok := matchArticle(asserted, batch.Articles); ok {
		title = art.Title
		url = strings.TrimSpace(art.URL)
		if c := strings.TrimSpace(art.Competitor); c != "" {
			competitor = c
		}
	}

	date, clean, _ := textutil.ExtractDate(title)
	if clean == "" {
		clean = title
	}

	business := batch.Business
	if business == "" {
		business = field(row, mapping, colBusiness)
	}

	return articles.Record{
		BusinessUnit:    business,
		Competitor:      competitor,
		Partner:         partner,
		PartnershipType: field(row, mapping, colType),
		SourceTitle:     clean,
		SourceURL:       url,
		Date:            date,
	}, true
}

// matchArticle finds the first batch article whose title contains, or is
// contained in, the asserted title. Long titles also match on their leading
// runes, since models often shorten or reword the tail.
func matchArticle(asserted string, arts []articles.SourceArticle) (articles.SourceArticle, bool) {
	asserted = strings.TrimSpace(asserted)
	if asserted == "" {
		return articles.SourceArticle{}, false
	}
	for _, art := range arts {
		original := strings.TrimSpace(art.Title)
		if original == "" {
			continue
		}
		if strings.Contains(original, asserted) || strings.Contains(asserted, original) {
			return art, true
		}
		if utf8.RuneCountInString(asserted) > prefixMatchMinRunes && utf8.RuneCountInString(original) > prefixMatchMinRunes {
			if strings.Contains(original, runePrefix(asserted, prefixMatchRunes)) ||
				strings.Contains(asserted, runePrefix(original, prefixMatchRunes)) {
				return art, true
			}
		}
	}
	return articles.SourceArticle{}, false
}

func runePrefix(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
