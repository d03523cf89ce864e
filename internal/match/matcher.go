// Package match correlates two independently collected report sets by calendar
// date, falling back to ISO week when no single day is shared.
package match

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/ppiankov/outagelens/internal/model"
)

// Range is an inclusive run of consecutive calendar dates
type Range struct {
	Start civil.Date
	End   civil.Date
}

// isoWeek identifies an ISO 8601 week
type isoWeek struct {
	Year int
	Week int
}

// Matcher intersects report dates in a fixed timezone
type Matcher struct {
	loc *time.Location
}

// NewMatcher creates a new matcher; nil means UTC
func NewMatcher(loc *time.Location) *Matcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Matcher{loc: loc}
}

// Match finds the windows where a and b both have activity.
// Day granularity wins when any date is shared, then ISO week, else none.
// The result depends only on the two sets: swapping a and b swaps window members.
func (m *Matcher) Match(a, b []model.Report) model.MatchResult {
	// 1. Day intersection
	days := intersectDates(m.dates(a), m.dates(b))
	if len(days) > 0 {
		var windows []model.MatchWindow
		for _, r := range CompressRuns(days) {
			windows = append(windows, model.MatchWindow{
				Granularity: model.GranularityDay,
				Start:       r.Start,
				End:         r.End,
				Label:       DayLabel(r.Start, r.End),
				A:           m.membersInRange(a, r),
				B:           m.membersInRange(b, r),
			})
		}
		return model.MatchResult{Granularity: model.GranularityDay, Windows: windows}
	}

	// 2. ISO week fallback
	weeks := intersectWeeks(m.weeks(a), m.weeks(b))
	if len(weeks) > 0 {
		windows := make([]model.MatchWindow, 0, len(weeks))
		for _, w := range weeks {
			start := isoWeekStart(w.Year, w.Week)
			windows = append(windows, model.MatchWindow{
				Granularity: model.GranularityWeek,
				Start:       start,
				End:         start.AddDays(6),
				ISOYear:     w.Year,
				ISOWeek:     w.Week,
				Label:       WeekLabel(w.Year, w.Week),
				A:           m.membersInWeek(a, w),
				B:           m.membersInWeek(b, w),
			})
		}
		return model.MatchResult{Granularity: model.GranularityWeek, Windows: windows}
	}

	// 3. No overlap is a valid outcome
	return model.MatchResult{Granularity: model.GranularityNone}
}

// WeekFallback explains a week-granularity match
func WeekFallback(res model.MatchResult) (model.Signal, bool) {
	if res.Granularity != model.GranularityWeek {
		return model.Signal{}, false
	}
	labels := make([]string, len(res.Windows))
	for i, w := range res.Windows {
		labels[i] = w.Label
	}
	return model.Signal{
		Type:        model.SignalWeekFallback,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("Sources share no calendar day; matched on ISO week %s", strings.Join(labels, ", ")),
		Data: map[string]interface{}{
			"weeks": labels,
		},
	}, true
}

// CompressRuns collapses sorted distinct dates into inclusive ranges of consecutive days
func CompressRuns(dates []civil.Date) []Range {
	if len(dates) == 0 {
		return nil
	}
	var runs []Range
	cur := Range{Start: dates[0], End: dates[0]}
	for _, d := range dates[1:] {
		if d.DaysSince(cur.End) == 1 {
			cur.End = d
			continue
		}
		runs = append(runs, cur)
		cur = Range{Start: d, End: d}
	}
	return append(runs, cur)
}

// DayLabel renders a range such as "MAY 01-03 2025", "MAY 30-JUN 02 2025" or
// "DEC 30 2024-JAN 02 2025". A single date renders as "MAY 01 2025".
func DayLabel(start, end civil.Date) string {
	switch {
	case start == end:
		return fmt.Sprintf("%s %02d %d", monthAbbr(start), start.Day, start.Year)
	case start.Year != end.Year:
		return fmt.Sprintf("%s %02d %d-%s %02d %d",
			monthAbbr(start), start.Day, start.Year, monthAbbr(end), end.Day, end.Year)
	case start.Month != end.Month:
		return fmt.Sprintf("%s %02d-%s %02d %d",
			monthAbbr(start), start.Day, monthAbbr(end), end.Day, end.Year)
	default:
		return fmt.Sprintf("%s %02d-%02d %d", monthAbbr(start), start.Day, end.Day, end.Year)
	}
}

// WeekLabel renders an ISO week such as "2025-W19"
func WeekLabel(year, week int) string {
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthAbbr(d civil.Date) string {
	return strings.ToUpper(d.Month.String()[:3])
}

func (m *Matcher) dates(reports []model.Report) map[civil.Date]bool {
	out := make(map[civil.Date]bool, len(reports))
	for _, r := range reports {
		out[r.Date(m.loc)] = true
	}
	return out
}

func (m *Matcher) weeks(reports []model.Report) map[isoWeek]bool {
	out := make(map[isoWeek]bool, len(reports))
	for _, r := range reports {
		out[m.weekOf(r)] = true
	}
	return out
}

func (m *Matcher) weekOf(r model.Report) isoWeek {
	y, w := r.Time().In(m.loc).ISOWeek()
	return isoWeek{Year: y, Week: w}
}

func (m *Matcher) membersInRange(reports []model.Report, rng Range) []model.Report {
	var out []model.Report
	for _, r := range reports {
		d := r.Date(m.loc)
		if !d.Before(rng.Start) && !d.After(rng.End) {
			out = append(out, r)
		}
	}
	return out
}

func (m *Matcher) membersInWeek(reports []model.Report, w isoWeek) []model.Report {
	var out []model.Report
	for _, r := range reports {
		if m.weekOf(r) == w {
			out = append(out, r)
		}
	}
	return out
}

func intersectDates(a, b map[civil.Date]bool) []civil.Date {
	var out []civil.Date
	for d := range a {
		if b[d] {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func intersectWeeks(a, b map[isoWeek]bool) []isoWeek {
	var out []isoWeek
	for w := range a {
		if b[w] {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Week < out[j].Week
	})
	return out
}

// isoWeekStart returns the Monday of the given ISO week.
// January 4th always falls in week 1.
func isoWeekStart(year, week int) civil.Date {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	return civil.DateOf(jan4).AddDays(-offset + (week-1)*7)
}
