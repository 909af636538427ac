package notifications

import (
	"fmt"
	"strings"
	"time"

	"compintel/internal/articles"
)

// RunSummary describes one finished pipeline run.
type RunSummary struct {
	RunID     string
	Started   time.Time
	Duration  time.Duration
	Crawled   int
	Batches   map[articles.Status]int
	Records   int
	Matched   int
	Unmatched int
	// Failures holds one line per failed stage.
	Failures []string
}

// Failed reports whether any stage or batch failed.
func (s RunSummary) Failed() bool {
	return len(s.Failures) > 0 || s.Batches[articles.StatusError] > 0
}

// BatchRows lists batch counts in status order, omitting UNPROCESSED.
func (s RunSummary) BatchRows() []StatusCount {
	var rows []StatusCount
	for _, status := range articles.AllStatuses() {
		if status == articles.StatusUnprocessed {
			continue
		}
		rows = append(rows, StatusCount{Status: status.Label(), Count: s.Batches[status]})
	}
	return rows
}

// StatusCount is one line of the batch table.
type StatusCount struct {
	Status string
	Count  int
}

func (s RunSummary) subject() string {
	if s.Failed() {
		return fmt.Sprintf("[compintel] run finished with errors: %d records", s.Records)
	}
	return fmt.Sprintf("[compintel] run finished: %d records", s.Records)
}

func (s RunSummary) durationText() string {
	d := s.Duration.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

func renderPlainText(s RunSummary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %s\n", s.RunID)
	sb.WriteString(strings.Repeat("=", 40) + "\n\n")
	if !s.Started.IsZero() {
		fmt.Fprintf(&sb, "Started:  %s\n", s.Started.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(&sb, "Duration: %s\n", s.durationText())
	fmt.Fprintf(&sb, "Crawled articles: %d\n", s.Crawled)
	fmt.Fprintf(&sb, "Saved records:    %d\n", s.Records)
	fmt.Fprintf(&sb, "Registry matches: %d matched, %d unmatched\n\n", s.Matched, s.Unmatched)

	sb.WriteString("BATCHES\n")
	sb.WriteString(strings.Repeat("-", 20) + "\n")
	for _, row := range s.BatchRows() {
		fmt.Fprintf(&sb, "%-6s %d\n", row.Status, row.Count)
	}
	if len(s.Failures) > 0 {
		sb.WriteString("\nFAILURES\n")
		sb.WriteString(strings.Repeat("-", 20) + "\n")
		for _, line := range s.Failures {
			fmt.Fprintf(&sb, "• %s\n", line)
		}
	}
	return sb.String()
}

const summaryHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8" />
  <style>
    body { font-family: -apple-system, "Segoe UI", sans-serif; color: #111827; }
    table { border-collapse: collapse; }
    td, th { padding: 4px 12px 4px 0; text-align: left; }
    .failed { color: #b91c1c; }
  </style>
</head>
<body>
  <h2>Run {{.RunID}}</h2>
  <p>Duration {{.DurationText}}. Crawled {{.Crawled}} articles and saved {{.Records}} records.</p>
  <p>Registry: {{.Matched}} matched, {{.Unmatched}} unmatched.</p>
  <table>
    <tr><th>Batch status</th><th>Count</th></tr>
    {{- range .Batches}}
    <tr><td>{{.Status}}</td><td>{{.Count}}</td></tr>
    {{- end}}
  </table>
  {{- if .Failures}}
  <h3 class="failed">Failures</h3>
  <ul>
    {{- range .Failures}}
    <li>{{.}}</li>
    {{- end}}
  </ul>
  {{- end}}
</body>
</html>`

type htmlView struct {
	RunID        string
	DurationText string
	Crawled      int
	Records      int
	Matched      int
	Unmatched    int
	Batches      []StatusCount
	Failures     []string
}

func (s RunSummary) htmlView() htmlView {
	return htmlView{
		RunID:        s.RunID,
		DurationText: s.durationText(),
		Crawled:      s.Crawled,
		Records:      s.Records,
		Matched:      s.Matched,
		Unmatched:    s.Unmatched,
		Batches:      s.BatchRows(),
		Failures:     s.Failures,
	}
}
