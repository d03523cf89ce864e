package match

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/outagelens/internal/model"
)

func at(idx int, src model.Source, y int, mo time.Month, d, h int) model.Report {
	return model.Report{
		Index:     idx,
		Timestamp: time.Date(y, mo, d, h, 0, 0, 0, time.UTC).Unix(),
		Source:    src,
	}
}

func date(y int, mo time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: mo, Day: d}
}

func ranges(res model.MatchResult) []Range {
	out := make([]Range, len(res.Windows))
	for i, w := range res.Windows {
		out[i] = Range{Start: w.Start, End: w.End}
	}
	return out
}

func TestMatch_DayRunsCompressed(t *testing.T) {
	var a, b []model.Report
	for i, d := range []int{1, 2, 3, 10} {
		a = append(a, at(i, model.SourceXML, 2025, time.May, d, 9))
		b = append(b, at(i, model.SourceForum, 2025, time.May, d, 18))
	}
	b = append(b, at(4, model.SourceForum, 2025, time.May, 20, 1))

	res := NewMatcher(nil).Match(a, b)
	if res.Granularity != model.GranularityDay {
		t.Fatalf("granularity = %s, want day", res.Granularity)
	}

	want := []Range{
		{Start: date(2025, time.May, 1), End: date(2025, time.May, 3)},
		{Start: date(2025, time.May, 10), End: date(2025, time.May, 10)},
	}
	if diff := cmp.Diff(want, ranges(res)); diff != "" {
		t.Errorf("windows mismatch (-want +got):\n%s", diff)
	}
	if res.Windows[0].Label != "MAY 01-03 2025" {
		t.Errorf("label = %q", res.Windows[0].Label)
	}
	if res.Windows[1].Label != "MAY 10 2025" {
		t.Errorf("label = %q", res.Windows[1].Label)
	}
	if len(res.Windows[0].A) != 3 || len(res.Windows[0].B) != 3 {
		t.Errorf("first window members = %d/%d, want 3/3", len(res.Windows[0].A), len(res.Windows[0].B))
	}
}

func TestMatch_WeekFallback(t *testing.T) {
	// Monday and Friday of ISO week 19, 2025
	a := []model.Report{at(0, model.SourceXML, 2025, time.May, 5, 10)}
	b := []model.Report{
		at(0, model.SourceForum, 2025, time.May, 9, 10),
		at(1, model.SourceForum, 2025, time.May, 20, 10),
	}

	res := NewMatcher(nil).Match(a, b)
	if res.Granularity != model.GranularityWeek {
		t.Fatalf("granularity = %s, want week", res.Granularity)
	}
	if len(res.Windows) != 1 {
		t.Fatalf("windows = %d, want 1", len(res.Windows))
	}
	w := res.Windows[0]
	if w.Label != "2025-W19" || w.ISOYear != 2025 || w.ISOWeek != 19 {
		t.Errorf("week window = %+v", w)
	}
	if w.Start != date(2025, time.May, 5) || w.End != date(2025, time.May, 11) {
		t.Errorf("week span = %s..%s", w.Start, w.End)
	}
	if len(w.A) != 1 || len(w.B) != 1 {
		t.Errorf("members = %d/%d, want 1/1", len(w.A), len(w.B))
	}

	sig, ok := WeekFallback(res)
	if !ok || sig.Type != model.SignalWeekFallback {
		t.Errorf("expected a week_fallback signal, got %+v", sig)
	}
}

func TestMatch_NoOverlap(t *testing.T) {
	a := []model.Report{at(0, model.SourceXML, 2025, time.January, 6, 0)}
	b := []model.Report{at(0, model.SourceForum, 2025, time.March, 3, 0)}

	res := NewMatcher(nil).Match(a, b)
	if res.Granularity != model.GranularityNone || len(res.Windows) != 0 {
		t.Errorf("expected no match, got %+v", res)
	}
	if _, ok := WeekFallback(res); ok {
		t.Error("no signal expected without a week match")
	}

	empty := NewMatcher(nil).Match(nil, b)
	if empty.Granularity != model.GranularityNone {
		t.Errorf("empty side should not match, got %s", empty.Granularity)
	}
}

func TestMatch_IdempotentAndCommutative(t *testing.T) {
	a := []model.Report{
		at(0, model.SourceXML, 2025, time.May, 30, 1),
		at(1, model.SourceXML, 2025, time.June, 2, 1),
		at(2, model.SourceXML, 2025, time.May, 31, 1),
	}
	b := []model.Report{
		at(0, model.SourceForum, 2025, time.June, 1, 22),
		at(1, model.SourceForum, 2025, time.May, 31, 5),
		at(2, model.SourceForum, 2025, time.June, 2, 8),
		at(3, model.SourceForum, 2025, time.May, 30, 8),
	}
	m := NewMatcher(nil)

	first := m.Match(a, b)
	if diff := cmp.Diff(first, m.Match(a, b)); diff != "" {
		t.Errorf("second run differs (-first +second):\n%s", diff)
	}

	swapped := m.Match(b, a)
	for i := range swapped.Windows {
		swapped.Windows[i].A, swapped.Windows[i].B = swapped.Windows[i].B, swapped.Windows[i].A
	}
	if diff := cmp.Diff(first, swapped); diff != "" {
		t.Errorf("swapping sources changed more than members (-ab +ba):\n%s", diff)
	}
}

func TestMatch_Timezone(t *testing.T) {
	// 02:00 UTC on May 2 is still May 1 four hours west of UTC
	a := []model.Report{at(0, model.SourceXML, 2025, time.May, 2, 2)}
	b := []model.Report{at(0, model.SourceForum, 2025, time.May, 1, 12)}

	if got := NewMatcher(nil).Match(a, b).Granularity; got != model.GranularityWeek {
		t.Errorf("UTC granularity = %s, want week", got)
	}
	east := NewMatcher(time.FixedZone("EDT", -4*3600)).Match(a, b)
	if east.Granularity != model.GranularityDay || east.Windows[0].Label != "MAY 01 2025" {
		t.Errorf("EDT match = %+v", east)
	}
}

func TestCompressRuns(t *testing.T) {
	tests := []struct {
		name  string
		dates []civil.Date
		want  []Range
	}{
		{"empty", nil, nil},
		{
			"single",
			[]civil.Date{date(2025, time.May, 10)},
			[]Range{{date(2025, time.May, 10), date(2025, time.May, 10)}},
		},
		{
			"across year end",
			[]civil.Date{date(2024, time.December, 31), date(2025, time.January, 1), date(2025, time.January, 3)},
			[]Range{
				{date(2024, time.December, 31), date(2025, time.January, 1)},
				{date(2025, time.January, 3), date(2025, time.January, 3)},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, CompressRuns(tt.dates)); diff != "" {
				t.Errorf("CompressRuns mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDayLabel(t *testing.T) {
	tests := []struct {
		start, end civil.Date
		want       string
	}{
		{date(2025, time.May, 1), date(2025, time.May, 3), "MAY 01-03 2025"},
		{date(2025, time.May, 30), date(2025, time.June, 2), "MAY 30-JUN 02 2025"},
		{date(2024, time.December, 30), date(2025, time.January, 2), "DEC 30 2024-JAN 02 2025"},
		{date(2025, time.September, 9), date(2025, time.September, 9), "SEP 09 2025"},
	}
	for _, tt := range tests {
		if got := DayLabel(tt.start, tt.end); got != tt.want {
			t.Errorf("DayLabel(%s, %s) = %q, want %q", tt.start, tt.end, got, tt.want)
		}
	}
	if got := WeekLabel(2025, 1); got != "2025-W01" {
		t.Errorf("WeekLabel = %q", got)
	}
}

func TestISOWeekStart(t *testing.T) {
	tests := []struct {
		year, week int
		want       civil.Date
	}{
		{2025, 1, date(2024, time.December, 30)},
		{2025, 19, date(2025, time.May, 5)},
		{2026, 53, date(2026, time.December, 28)},
	}
	for _, tt := range tests {
		if got := isoWeekStart(tt.year, tt.week); got != tt.want {
			t.Errorf("isoWeekStart(%d, %d) = %s, want %s", tt.year, tt.week, got, tt.want)
		}
	}
}
