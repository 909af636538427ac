package textutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// titleDatePatterns are tried against the tail of a title. The rightmost match
// wins; on a tie the earlier pattern wins.
var titleDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{4}\.\s*\d{1,2}\.\s*\d{1,2}\.)(?:\s|$|[.,])`),
	regexp.MustCompile(`(\d{4}\.\s*\d{1,2}\.\s*\d{1,2}\.)`),
	regexp.MustCompile(`(\d{4}\.\d{1,2}\.\d{1,2}\.)`),
	regexp.MustCompile(`(\d{4}\.\s*\d{1,2}\.\s*\d{1,2})(?:\s|$|[.,])`),
	regexp.MustCompile(`(\d{4}\.\d{1,2}\.\d{1,2})(?:\s|$|[.,])`),
	regexp.MustCompile(`(\d{2}\.\d{1,2}\.\d{1,2})(?:\s|$|[.,"])`),
	regexp.MustCompile(`(\d{4}-\d{1,2}-\d{1,2})(?:\s|$|[.,])`),
	regexp.MustCompile(`(\d{4}/\d{1,2}/\d{1,2})(?:\s|$|[.,])`),
	regexp.MustCompile(`(\d{8})(?:\s|$|[.,])`),
	regexp.MustCompile(`(\d{6})(?:\s|$|[.,])`),
	regexp.MustCompile(`(\d{4}\s*년\s*\d{1,2}\s*월\s*\d{1,2}\s*일)`),
}

type datePattern struct {
	re       *regexp.Regexp
	fullYear bool
}

var normalizePatterns = []datePattern{
	{regexp.MustCompile(`(\d{4})[.\s]+(\d{1,2})[.\s]+(\d{1,2})`), true},
	{regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`), true},
	{regexp.MustCompile(`(\d{4})/(\d{1,2})/(\d{1,2})`), true},
	{regexp.MustCompile(`(\d{2})\.(\d{1,2})\.(\d{1,2})`), false},
	{regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`), true},
	{regexp.MustCompile(`^(\d{2})(\d{2})(\d{2})$`), false},
	{regexp.MustCompile(`(\d{4})\s*년\s*(\d{1,2})\s*월\s*(\d{1,2})\s*일`), true},
}

var trailingSeparators = regexp.MustCompile(`[.,\s\[\]()\-–—｜|]+$`)

const dateSearchWindow = 500

// ExtractDate finds the date embedded near the end of a news title. It returns
// the date as YY.MM.DD, the title with that date and any trailing separators
// removed, and whether a date was found. Without a date the title is returned
// unchanged.
func ExtractDate(title string) (string, string, bool) {
	area := title
	if runes := []rune(title); len(runes) > dateSearchWindow {
		area = string(runes[len(runes)-dateSearchWindow:])
	}

	var (
		best    []int
		bestEnd = -1
	)
	for _, pattern := range titleDatePatterns {
		matches := pattern.FindAllStringSubmatchIndex(area, -1)
		if len(matches) == 0 {
			continue
		}
		last := matches[len(matches)-1]
		if last[1] > bestEnd {
			best = last
			bestEnd = last[1]
		}
	}
	if best == nil {
		return "", title, false
	}

	offset := len(title) - len(area)
	group := area[best[2]:best[3]]

	clean := strings.TrimSpace(title[:offset+best[0]] + title[offset+best[1]:])
	clean = strings.TrimSpace(trailingSeparators.ReplaceAllString(clean, ""))
	return NormalizeDate(group), clean, true
}

// NormalizeDate converts the supported date spellings to YY.MM.DD. Two-digit
// years are kept as written. Unrecognized input is returned trimmed but
// otherwise unchanged.
func NormalizeDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	for _, pattern := range normalizePatterns {
		m := pattern.re.FindStringSubmatch(value)
		if m == nil {
			continue
		}
		year := m[1]
		if pattern.fullYear && len(year) == 4 {
			year = year[2:]
		}
		month, errMonth := strconv.Atoi(m[2])
		day, errDay := strconv.Atoi(m[3])
		if errMonth != nil || errDay != nil {
			continue
		}
		return fmt.Sprintf("%s.%02d.%02d", year, month, day)
	}
	return value
}
