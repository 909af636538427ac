package crawler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	minutesOrHoursAgo = regexp.MustCompile(`\d+\s*(시간|분)\s*전`)
	daysAgo           = regexp.MustCompile(`(\d+)\s*일\s*전`)
	weeksAgo          = regexp.MustCompile(`(\d+)\s*주\s*전`)
	fullDate          = regexp.MustCompile(`(\d{4})[.\-/](\d{1,2})[.\-/](\d{1,2})`)
	shortDate         = regexp.MustCompile(`(\d{2})[.\-/](\d{1,2})[.\-/](\d{1,2})`)
	monthDay          = regexp.MustCompile(`(\d{1,2})\s*월\s*(\d{1,2})\s*일`)
	isoDate           = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
)

const shortLayout = "06.01.02"

// ParseRelativeDate converts the date text shown next to a search result
// ("3시간 전", "2일 전", "어제", "2024.03.05", "3월 5일") to YY.MM.DD relative
// to now. It returns "" when the text holds no recognizable date.
func ParseRelativeDate(text string, now time.Time) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if minutesOrHoursAgo.MatchString(text) {
		return now.Format(shortLayout)
	}
	if m := daysAgo.FindStringSubmatch(text); m != nil {
		days, _ := strconv.Atoi(m[1])
		return now.AddDate(0, 0, -days).Format(shortLayout)
	}
	if m := weeksAgo.FindStringSubmatch(text); m != nil {
		weeks, _ := strconv.Atoi(m[1])
		return now.AddDate(0, 0, -7*weeks).Format(shortLayout)
	}
	if strings.Contains(text, "어제") {
		return now.AddDate(0, 0, -1).Format(shortLayout)
	}
	if date := parseNumericDate(text); date != "" {
		return date
	}
	if m := monthDay.FindStringSubmatch(text); m != nil {
		return formatDate(now.Format("06"), m[1], m[2])
	}
	return ""
}

func parseNumericDate(text string) string {
	if m := fullDate.FindStringSubmatch(text); m != nil {
		return formatDate(m[1][2:], m[2], m[3])
	}
	if m := shortDate.FindStringSubmatch(text); m != nil {
		return formatDate(m[1], m[2], m[3])
	}
	return ""
}

func parseISODate(value string) string {
	if m := isoDate.FindStringSubmatch(value); m != nil {
		return formatDate(m[1][2:], m[2], m[3])
	}
	return ""
}

func formatDate(yy, month, day string) string {
	m, errMonth := strconv.Atoi(month)
	d, errDay := strconv.Atoi(day)
	if errMonth != nil || errDay != nil || m < 1 || m > 12 || d < 1 || d > 31 {
		return ""
	}
	return fmt.Sprintf("%s.%02d.%02d", yy, m, d)
}
