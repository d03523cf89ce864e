package normalize

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unix(y int, m time.Month, d, hh, mm int) int64 {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC).Unix()
}

func TestCSV_Basic(t *testing.T) {
	input := `timestamp,currentIncidents,normalIncidents,verified,text
2025-05-01 10:00:00,120,40,TRUE,mobile data down downtown
2025-05-01 10:30:00,0,0,false,quiet
not-a-date,5,5,TRUE,broken row
2025-05-02T08:15:00Z,10,abc,true,bad counter
2025-05-03 09:00:00,,,yes,empty counters
`
	batch, err := New().CSV(strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, batch.Reports, 4)
	assert.Equal(t, 1, batch.Dropped[model.SourceCSV])

	first := batch.Reports[0]
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, unix(2025, time.May, 1, 10, 0), first.Timestamp)
	assert.InDelta(t, 3.0, first.SeverityRatio, 1e-9)
	require.NotNil(t, first.Label)
	assert.True(t, *first.Label)
	assert.Equal(t, "mobile data down downtown", first.Text)

	// 0/0 must not leak NaN
	assert.Equal(t, 0.0, batch.Reports[1].SeverityRatio)
	assert.False(t, batch.Reports[1].Verified())

	// unparsable counter coerces the ratio to 0; label is case-insensitive
	assert.Equal(t, 0.0, batch.Reports[2].SeverityRatio)
	assert.True(t, batch.Reports[2].Verified())
	assert.Equal(t, 2, batch.Reports[2].Index)

	// anything other than TRUE is false
	require.NotNil(t, batch.Reports[3].Label)
	assert.False(t, *batch.Reports[3].Label)
}

func TestCSV_DateColumnFallback(t *testing.T) {
	input := "id,Incident_Date,description\n1,2025-05-10,fiber cut\n"
	batch, err := New().CSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, batch.Reports, 1)
	assert.Equal(t, unix(2025, time.May, 10, 0, 0), batch.Reports[0].Timestamp)
	assert.Equal(t, "fiber cut", batch.Reports[0].Text)
	assert.Nil(t, batch.Reports[0].Label, "no verified column means no label")
}

func TestCSV_NoTimestampColumn(t *testing.T) {
	_, err := New().CSV(strings.NewReader("id,text\n1,hello\n"))
	assert.ErrorIs(t, err, ErrNoTimestampColumn)
}

func TestCSV_Empty(t *testing.T) {
	batch, err := New().CSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, batch.Reports)
	assert.Zero(t, batch.Dropped.Total())
}

func TestXML_Items(t *testing.T) {
	input := `<?xml version="1.0"?>
<rss><channel>
  <item>
    <title>Outage in Toronto</title>
    <link>https://status.example.com/1</link>
    <description>&lt;p&gt;&lt;b&gt;Current&lt;/b&gt; reports: 1,200 &lt;br/&gt; Normal level: 300&lt;/p&gt;</description>
    <pubDate>Thu, 08 May 2025 14:30:00 -0400</pubDate>
  </item>
  <item>
    <title>No date</title>
    <pubDate>sometime last week</pubDate>
  </item>
  <item>
    <title>Single digit day</title>
    <description>all clear</description>
    <pubDate>Fri, 9 May 2025 08:00:00 +0000</pubDate>
  </item>
</channel></rss>`

	batch, err := New().XML(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, batch.Reports, 2)
	assert.Equal(t, 1, batch.Dropped[model.SourceXML])

	r := batch.Reports[0]
	assert.Equal(t, unix(2025, time.May, 8, 18, 30), r.Timestamp)
	assert.InDelta(t, 4.0, r.SeverityRatio, 1e-9)
	assert.Equal(t, "Outage in Toronto", r.Title)
	assert.Equal(t, "https://status.example.com/1", r.URL)
	assert.NotContains(t, r.Text, "<")

	assert.Equal(t, unix(2025, time.May, 9, 8, 0), batch.Reports[1].Timestamp)
	assert.Equal(t, 0.0, batch.Reports[1].SeverityRatio)
	assert.Equal(t, 1, batch.Reports[1].Index)
}

func TestXML_MalformedItemDroppedAlone(t *testing.T) {
	input := `<rss><channel>
  <item>
    <title>First</title>
    <link>https://status.example.com/a</link>
    <pubDate>Thu, 08 May 2025 14:30:00 -0400</pubDate>
  </item>
  <item>
    <title>5 < 6 towers down</title>
    <pubDate>Thu, 08 May 2025 15:00:00 -0400</pubDate>
  </item>
  <item>
    <title>Third</title>
    <link>https://status.example.com/c</link>
    <description>Current reports: 90 Normal level: 30</description>
    <pubDate>Thu, 08 May 2025 16:00:00 -0400</pubDate>
  </item>
</channel></rss>`

	batch, err := New().XML(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, batch.Reports, 2)
	assert.Equal(t, 1, batch.Dropped[model.SourceXML])

	assert.Equal(t, "https://status.example.com/a", batch.Reports[0].URL)
	assert.Equal(t, 0, batch.Reports[0].Index)
	assert.Equal(t, "Third", batch.Reports[1].Title)
	assert.Equal(t, "https://status.example.com/c", batch.Reports[1].URL)
	assert.Equal(t, unix(2025, time.May, 8, 20, 0), batch.Reports[1].Timestamp)
	assert.InDelta(t, 3.0, batch.Reports[1].SeverityRatio, 1e-9)
	assert.Equal(t, 1, batch.Reports[1].Index)
}

func TestXML_UnclosedLastItem(t *testing.T) {
	input := `<rss><channel>
  <item><title>ok</title><pubDate>Fri, 9 May 2025 08:00:00 +0000</pubDate></item>
  <item><title>cut off</title><pubDate>Fri, 9 May 2025 09:00:00 +0000</pubDate>`

	batch, err := New().XML(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, batch.Reports, 1)
	assert.Equal(t, "ok", batch.Reports[0].Title)
	assert.Equal(t, 1, batch.Dropped[model.SourceXML])
}

func TestRecords_Forum(t *testing.T) {
	ref := time.Date(2025, time.May, 14, 12, 0, 0, 0, time.UTC) // Wednesday
	n := New(WithClock(func() time.Time { return ref }))

	records := []RawRecord{
		{"datetime": "05-17-2025 09:21 AM", "title": "Internet down", "url": "https://forum.example.com/t/1"},
		{"human_time": "3 hours ago", "description": "no signal"},
		{"human_time": "Yesterday"},
		{"human_time": "Friday"},
		{"human_time": "in a while"},
		{"title": "no time at all"},
	}

	batch, err := n.Records(model.SourceForum, records)
	require.NoError(t, err)
	require.Len(t, batch.Reports, 4)
	assert.Equal(t, 2, batch.Dropped[model.SourceForum])

	assert.Equal(t, unix(2025, time.May, 17, 9, 21), batch.Reports[0].Timestamp)
	assert.Equal(t, "https://forum.example.com/t/1", batch.Reports[0].URL)
	assert.Equal(t, ref.Add(-3*time.Hour).Unix(), batch.Reports[1].Timestamp)
	assert.Equal(t, ref.Add(-24*time.Hour).Unix(), batch.Reports[2].Timestamp)
	assert.Equal(t, unix(2025, time.May, 9, 0, 0), batch.Reports[3].Timestamp)
	for i, r := range batch.Reports {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, model.SourceForum, r.Source)
	}
}

func TestRecords_RejectsFileSources(t *testing.T) {
	_, err := New().Records(model.SourceCSV, nil)
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestFile_Dispatch(t *testing.T) {
	n := New()
	batch, err := n.File(model.SourceCSV, strings.NewReader("timestamp\n1746093600\n"))
	require.NoError(t, err)
	require.Len(t, batch.Reports, 1)
	assert.Equal(t, int64(1746093600), batch.Reports[0].Timestamp)

	_, err = n.File(model.SourceForum, strings.NewReader(""))
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestResolveRelative(t *testing.T) {
	ref := time.Date(2025, time.May, 14, 12, 0, 0, 0, time.UTC) // Wednesday

	tests := []struct {
		expr string
		want time.Time
		ok   bool
	}{
		{"yesterday", ref.Add(-24 * time.Hour), true},
		{"today", ref, true},
		{"1 hour ago", ref.Add(-time.Hour), true},
		{"an hour ago", ref.Add(-time.Hour), true},
		{"45 minutes ago", ref.Add(-45 * time.Minute), true},
		{"2 days ago", ref.Add(-48 * time.Hour), true},
		{"Wednesday", time.Date(2025, time.May, 14, 0, 0, 0, 0, time.UTC), true},
		{"Mon", time.Date(2025, time.May, 12, 0, 0, 0, 0, time.UTC), true},
		{"Thursday", time.Date(2025, time.May, 8, 0, 0, 0, 0, time.UTC), true},
		{"March", time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), true},
		{"December", time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC), true},
		{"soon", time.Time{}, false},
		{"", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, ok := ResolveRelative(tt.expr, ref)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
	}{
		{"1746093600", 1746093600},
		{"1746093600000", 1746093600},
		{"2025-05-01T10:00:00Z", unix(2025, time.May, 1, 10, 0)},
		{"2025-05-01T06:00:00-04:00", unix(2025, time.May, 1, 10, 0)},
		{"2025-05-01 10:00:00", unix(2025, time.May, 1, 10, 0)},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	_, err := ParseTimestamp("   ")
	assert.Error(t, err)
	_, err = ParseTimestamp("definitely not a date")
	assert.Error(t, err)
}

func TestSeverityRatio(t *testing.T) {
	assert.Equal(t, 2.0, SeverityRatio(6, 3))
	assert.Equal(t, 0.0, SeverityRatio(5, 0))
	assert.Equal(t, 0.0, SeverityRatio(0, 0))
	assert.Equal(t, 0.0, SeverityRatio(math.NaN(), 3))
	assert.Equal(t, 0.0, SeverityRatio(math.Inf(1), 3))
}

func TestSeverityFromText(t *testing.T) {
	assert.InDelta(t, 2.5, SeverityFromText("CURRENT incidents 50 vs normal 20"), 1e-9)
	assert.Equal(t, 0.0, SeverityFromText("Current 10 Normal 0"))
	assert.Equal(t, 0.0, SeverityFromText("nothing to see"))
}

func TestDrops(t *testing.T) {
	d := make(Drops)
	d.Add(model.SourceXML, 2)
	d.Add(model.SourceCSV, 0)
	d.Merge(Drops{model.SourceCSV: 1, model.SourceXML: 1})
	assert.Equal(t, 4, d.Total())
	assert.Equal(t, "csv=1 xml=3", d.String())
}
