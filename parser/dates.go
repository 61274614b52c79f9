package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const isoDate = "2006-01-02"

var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"1/2/2006",
	"2/1/2006",
}

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "june": time.June, "july": time.July,
	"august": time.August, "sept": time.September, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

var (
	yearOnly       = regexp.MustCompile(`^\d{4}$`)
	monthYearWords = regexp.MustCompile(`^(?i:(?:early|mid|late)\s+)?([A-Za-z]+)\.?,?\s+(\d{4})$`)
	yearMonthKanji = regexp.MustCompile(`^(\d{4})年\s*(\d{1,2})月`)
	monthSlashYear = regexp.MustCompile(`^(\d{1,2})/(\d{4})$`)
)

// NormalizeDate converts the release date shapes seen across sources into an
// ISO-8601 calendar date. Unrecognised input yields nil, never an error.
func NormalizeDate(raw string) *string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	for _, try := range []func(string) (time.Time, bool){
		parseISO,
		parseMonAbbrevYear,
		parseYear,
		parseMonthYear,
	} {
		if t, ok := try(s); ok {
			out := t.Format(isoDate)
			return &out
		}
	}
	return nil
}

func parseISO(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseMonAbbrevYear handles "Mar-2025".
func parseMonAbbrevYear(s string) (time.Time, bool) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 || !yearOnly.MatchString(parts[1]) {
		return time.Time{}, false
	}
	month, ok := monthNames[strings.ToLower(parts[0])]
	if !ok || len(parts[0]) != 3 {
		return time.Time{}, false
	}
	return firstOfMonth(parts[1], month)
}

func parseYear(s string) (time.Time, bool) {
	if !yearOnly.MatchString(s) {
		return time.Time{}, false
	}
	return firstOfMonth(s, time.January)
}

// parseMonthYear handles locale month/year strings: "March 2025",
// "Late Mar. 2025", "2025年3月" and "03/2025".
func parseMonthYear(s string) (time.Time, bool) {
	if m := monthYearWords.FindStringSubmatch(s); m != nil {
		month, ok := monthNames[strings.ToLower(m[1])]
		if !ok {
			return time.Time{}, false
		}
		return firstOfMonth(m[2], month)
	}
	if m := yearMonthKanji.FindStringSubmatch(s); m != nil {
		return numericMonth(m[1], m[2])
	}
	if m := monthSlashYear.FindStringSubmatch(s); m != nil {
		return numericMonth(m[2], m[1])
	}
	return time.Time{}, false
}

func numericMonth(year, month string) (time.Time, bool) {
	n, err := strconv.Atoi(month)
	if err != nil || n < 1 || n > 12 {
		return time.Time{}, false
	}
	return firstOfMonth(year, time.Month(n))
}

func firstOfMonth(year string, month time.Month) (time.Time, bool) {
	y, err := strconv.Atoi(year)
	if err != nil || y < 1 {
		return time.Time{}, false
	}
	return time.Date(y, month, 1, 0, 0, 0, 0, time.UTC), true
}
