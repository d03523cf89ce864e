package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var (
	dashedUSDate = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})(.*)$`)
	relativeAgo  = regexp.MustCompile(`^(\d+|an?|one)\s+(second|sec|minute|min|hour|hr|day|week)s?\s+ago$`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var agoUnits = map[string]time.Duration{
	"second": time.Second, "sec": time.Second,
	"minute": time.Minute, "min": time.Minute,
	"hour": time.Hour, "hr": time.Hour,
	"day": 24 * time.Hour,
	"week": 7 * 24 * time.Hour,
}

// ParseTimestamp parses a machine-readable timestamp into epoch seconds.
// All-digit values are epoch seconds (milliseconds above 1e12); naive values are UTC.
func ParseTimestamp(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	if isDigits(raw) {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse epoch %q: %w", raw, err)
		}
		if v > 1e12 {
			v /= 1000
		}
		return v, nil
	}

	// Khoros forums render "05-17-2025 09:21 AM"
	if m := dashedUSDate.FindStringSubmatch(raw); m != nil {
		raw = m[1] + "/" + m[2] + "/" + m[3] + m[4]
	}

	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t.Unix(), nil
}

// ResolveRelative resolves human expressions like "yesterday", "3 hours ago",
// "Friday" or "March" against the reference time.
func ResolveRelative(expr string, ref time.Time) (time.Time, bool) {
	s := strings.ToLower(strings.Join(strings.Fields(expr), " "))
	s = strings.TrimSuffix(s, ".")

	switch s {
	case "":
		return time.Time{}, false
	case "just now", "now", "today":
		return ref, true
	case "yesterday":
		return ref.Add(-24 * time.Hour), true
	}

	if m := relativeAgo.FindStringSubmatch(s); m != nil {
		n := 1
		if isDigits(m[1]) {
			v, err := strconv.Atoi(m[1])
			if err != nil {
				return time.Time{}, false
			}
			n = v
		}
		return ref.Add(-time.Duration(n) * agoUnits[m[2]]), true
	}

	midnight := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())

	if wd, ok := weekdays[s]; ok {
		back := (int(ref.Weekday()) - int(wd) + 7) % 7
		return midnight.AddDate(0, 0, -back), true
	}

	if month, ok := months[s]; ok {
		year := ref.Year()
		if month > ref.Month() {
			year--
		}
		return time.Date(year, month, 1, 0, 0, 0, 0, ref.Location()), true
	}

	return time.Time{}, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
