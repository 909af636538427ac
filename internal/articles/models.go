package articles

import "strings"

// Status is the processing state of one source row.
type Status string

const (
	StatusUnprocessed Status = ""
	StatusDone        Status = "DONE"
	StatusError       Status = "ERROR"
	StatusSkip        Status = "SKIP"
)

var allStatuses = []Status{
	StatusUnprocessed,
	StatusDone,
	StatusError,
	StatusSkip,
}

// ParseStatus maps a raw status cell to a Status. Unknown values are treated
// as unprocessed so a hand-edited sheet never blocks a row forever.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return StatusUnprocessed, false
}

// AllStatuses returns every status in display order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Retryable reports whether a row in this state is picked up by the next run.
func (s Status) Retryable() bool {
	return s != StatusDone
}

// Label renders the status for tables and logs.
func (s Status) Label() string {
	if s == StatusUnprocessed {
		return "UNPROCESSED"
	}
	return string(s)
}

// SourceArticle is one crawled article row.
type SourceArticle struct {
	RowID      int
	Competitor string
	Title      string
	Body       string
	URL        string
	Status     Status
}

// Record is one extracted partnership.
type Record struct {
	BusinessUnit    string
	Competitor      string
	Partner         string
	PartnershipType string
	SourceTitle     string
	SourceURL       string
	Date            string
}

// Column names used by the source and output worksheets.
const (
	ColumnCompetitor      = "경쟁사"
	ColumnQuery           = "경쟁사+키워드"
	ColumnTitle           = "제목"
	ColumnBody            = "본문"
	ColumnURL             = "URL"
	ColumnArticleDate     = "기사 날짜"
	ColumnCollectedAt     = "수집날짜"
	ColumnStatus          = "status"
	ColumnBusinessUnit    = "사업명"
	ColumnPartner         = "협력사/기관명"
	ColumnPartnershipType = "협력 유형"
	ColumnSourceTitle     = "근거 기사 제목"
	ColumnSourceURL       = "근거 기사 URL"
)

// RecordHeader is the header row of the partnership output worksheet.
var RecordHeader = []string{
	ColumnBusinessUnit,
	ColumnCompetitor,
	ColumnPartner,
	ColumnPartnershipType,
	ColumnSourceTitle,
	ColumnSourceURL,
	ColumnArticleDate,
}

// Row renders the record in RecordHeader order.
func (r Record) Row() []string {
	return []string{
		r.BusinessUnit,
		r.Competitor,
		r.Partner,
		r.PartnershipType,
		r.SourceTitle,
		r.SourceURL,
		r.Date,
	}
}

// CrawlHeader is the header row of the crawl worksheet.
var CrawlHeader = []string{
	ColumnCompetitor,
	ColumnQuery,
	ColumnTitle,
	ColumnBody,
	ColumnURL,
	ColumnArticleDate,
	ColumnCollectedAt,
	ColumnStatus,
}
