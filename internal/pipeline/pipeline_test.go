package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/outagelens/internal/classify"
	"github.com/ppiankov/outagelens/internal/model"
	"github.com/ppiankov/outagelens/internal/normalize"
	"github.com/ppiankov/outagelens/internal/scrape"
	"github.com/ppiankov/outagelens/internal/store"
	"github.com/ppiankov/outagelens/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2025, time.May, 17, 0, 0, 0, 0, time.UTC)

// memFiles serves input files from memory and remembers what was opened
type memFiles struct {
	mu     sync.Mutex
	files  map[string]string
	opened []string
}

func (m *memFiles) open(path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, path)
	body, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m *memFiles) openedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.opened...)
}

// trainingCSV builds labeled history: verified bursts with high severity and
// isolated unverified reports with low severity
func trainingCSV() string {
	var b strings.Builder
	b.WriteString("timestamp,currentIncidents,normalIncidents,verified,text\n")
	start := day.AddDate(0, -2, 0)
	for burst := 0; burst < 6; burst++ {
		base := start.Add(time.Duration(burst) * 72 * time.Hour)
		for k := 0; k < 5; k++ {
			ts := base.Add(time.Duration(k) * 10 * time.Minute).Unix()
			fmt.Fprintf(&b, "%d,%d,4,TRUE,outage burst %d\n", ts, 30+k, burst)
		}
	}
	for k := 0; k < 30; k++ {
		ts := start.Add(time.Duration(k)*5*time.Hour + 36*time.Hour).Unix()
		fmt.Fprintf(&b, "%d,2,4,FALSE,routine notice %d\n", ts, k)
	}
	b.WriteString("not-a-time,1,1,FALSE,broken row\n")
	return b.String()
}

func feedXML() string {
	item := func(t time.Time, title string) string {
		return fmt.Sprintf(`<item><title>%s</title><link>https://status.example/%d</link>
<description>Current 50 Normal 5</description><pubDate>%s</pubDate></item>`,
			title, t.Unix(), t.Format(time.RFC1123Z))
	}
	return `<?xml version="1.0"?><rss><channel>` +
		item(day.Add(13*time.Hour), "Wireless outage") +
		item(day.Add(13*time.Hour+15*time.Minute), "Wireless outage update") +
		item(day.Add(13*time.Hour+40*time.Minute), "Wireless outage resolved") +
		item(day.Add(75*time.Hour), "Maintenance") +
		`</channel></rss>`
}

type fakeSource struct {
	kind    model.Source
	records []normalize.RawRecord
	err     error
}

func (f fakeSource) Kind() model.Source { return f.kind }

func (f fakeSource) Collect(ctx context.Context, p model.ProviderConfig) ([]normalize.RawRecord, error) {
	return f.records, f.err
}

func testConfig() *model.Config {
	cfg := model.DefaultConfig()
	cfg.Classifier.Trees = 15
	cfg.Providers = []model.ProviderConfig{
		{Name: model.ProviderBell, TrainingCSV: "bell.csv", FeedXML: "bell.xml", AlertCount: 300},
		{Name: model.ProviderTelus, TrainingCSV: "telus.csv", FeedXML: "telus.xml", AlertCount: 50},
	}
	return cfg
}

func newTestPipeline(t *testing.T, files *memFiles, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{
		WithOpener(files.open),
		WithClock(func() time.Time { return day.Add(24 * time.Hour) }),
	}, opts...)
	p, err := NewPipeline(testConfig(), opts...)
	require.NoError(t, err)
	return p
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func bellFiles() *memFiles {
	return &memFiles{files: map[string]string{"bell.csv": trainingCSV(), "bell.xml": feedXML()}}
}

func TestPipeline_Run_TrainsAndScores(t *testing.T) {
	files := bellFiles()
	p := newTestPipeline(t, files, WithStore(openStore(t)))

	res := p.Run(context.Background(), model.ProviderBell)
	require.NoError(t, res.Error)

	assert.NotEmpty(t, res.RunID)
	require.NotNil(t, res.Metrics, "a freshly trained model carries held-out metrics")
	assert.Greater(t, res.Metrics.TestSize, 0)

	require.NotNil(t, res.Score.Best)
	assert.Equal(t, model.SourceXML, res.Score.Best.Report.Source)
	assert.Len(t, res.Evidence, 4, "evidence is index-aligned with the feed")
	assert.Equal(t, 1, res.Dropped[model.SourceCSV])
	assert.Nil(t, res.Match, "no collector means no match")

	var types []model.SignalType
	for _, s := range res.Score.Signals {
		types = append(types, s.Type)
	}
	assert.Contains(t, types, model.SignalCombinedScore)
	assert.Contains(t, types, model.SignalDroppedRecords)
}

func TestPipeline_Run_ReusesStoredModel(t *testing.T) {
	s := openStore(t)

	first := newTestPipeline(t, bellFiles(), WithStore(s)).Run(context.Background(), model.ProviderBell)
	require.NoError(t, first.Error)

	files := bellFiles()
	second := newTestPipeline(t, files, WithStore(s)).Run(context.Background(), model.ProviderBell)
	require.NoError(t, second.Error)

	assert.Equal(t, []string{"bell.xml"}, files.openedPaths(), "a stored model skips training input")
	assert.Equal(t, first.Metrics, second.Metrics)
	assert.InDelta(t, first.Score.Best.Combined, second.Score.Best.Combined, 1e-12)

	runs, err := s.Runs(context.Background(), model.ProviderBell, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestPipeline_Run_ForceTrainIgnoresStoredModel(t *testing.T) {
	s := openStore(t)
	require.NoError(t, newTestPipeline(t, bellFiles(), WithStore(s)).Run(context.Background(), model.ProviderBell).Error)

	files := bellFiles()
	res := newTestPipeline(t, files, WithStore(s), WithForceTrain(true)).Run(context.Background(), model.ProviderBell)
	require.NoError(t, res.Error)
	assert.Contains(t, files.openedPaths(), "bell.csv")
}

func TestPipeline_Run_CorruptModelIsFatal(t *testing.T) {
	s := openStore(t)
	files := bellFiles()
	p := newTestPipeline(t, files, WithStore(s))

	require.NoError(t, s.SaveModel(context.Background(), store.ModelRecord{
		Provider:  model.ProviderBell,
		SchemaID:  p.SchemaID(),
		Blob:      []byte("{not json"),
		TrainedAt: day,
	}))

	res := p.Run(context.Background(), model.ProviderBell)
	require.Error(t, res.Error)
	assert.ErrorIs(t, res.Error, classify.ErrModelLoad)
	assert.Empty(t, files.openedPaths(), "a broken model must not be silently retrained")
	assert.NotEmpty(t, res.Err)
}

func TestPipeline_Run_UnknownProvider(t *testing.T) {
	res := newTestPipeline(t, bellFiles()).Run(context.Background(), model.ProviderRogers)
	assert.ErrorIs(t, res.Error, ErrUnknownProvider)
	assert.False(t, res.FinishedAt.IsZero())
}

func TestPipeline_Run_MatchesCommunityEvidence(t *testing.T) {
	collector := scrape.NewCollector(nil,
		fakeSource{kind: model.SourceForum, records: []normalize.RawRecord{
			{"datetime": day.Add(14 * time.Hour).Format(time.RFC3339), "title": "No signal downtown", "url": "https://forum.example/t/1"},
			{"title": "undated"},
		}},
		fakeSource{kind: model.SourceOutageTracker, records: []normalize.RawRecord{
			{"timestamp": fmt.Sprint(day.Add(15 * time.Hour).Unix()), "count": "412", "summary": "412 reports"},
		}},
		fakeSource{kind: model.SourceServiceStatus, err: fmt.Errorf("status page down")},
	)

	res := newTestPipeline(t, bellFiles(), WithCollector(collector)).Run(context.Background(), model.ProviderBell)
	require.NoError(t, res.Error)

	require.NotNil(t, res.Match)
	assert.Equal(t, model.GranularityDay, res.Match.Granularity)
	require.Len(t, res.Match.Windows, 1)
	w := res.Match.Windows[0]
	assert.Equal(t, "MAY 17 2025", w.Label)
	assert.Len(t, w.A, 3)
	assert.Len(t, w.B, 2)
	assert.Equal(t, 1, res.Dropped[model.SourceForum])

	var spike bool
	for _, s := range res.Score.Signals {
		if s.Type == model.SignalTrackerSpike {
			spike = true
			assert.Equal(t, 412, s.Data["count"])
		}
	}
	assert.True(t, spike, "tracker count above alert_count should raise a signal")
}

func TestPipeline_Train(t *testing.T) {
	s := openStore(t)
	files := bellFiles()
	p := newTestPipeline(t, files, WithStore(s))

	res := p.Train(context.Background(), model.ProviderBell)
	require.NoError(t, res.Error)
	require.NotNil(t, res.Metrics)
	assert.Equal(t, []string{"bell.csv"}, files.openedPaths())

	rec, err := s.LoadModel(context.Background(), model.ProviderBell, p.SchemaID())
	require.NoError(t, err)
	mdl, err := classify.Unmarshal(rec.Blob)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderBell, mdl.Provider)
	assert.True(t, mdl.Schema.Fitted, "min-max bounds are learned from training ratios")
}

func TestProviderBatch_IsolatesFailures(t *testing.T) {
	files := bellFiles() // telus inputs are missing
	p := newTestPipeline(t, files)

	out := worker.NewProviderBatch(p, 2, nil).Run(context.Background(),
		[]model.Provider{model.ProviderBell, model.ProviderTelus})
	results := NewResults(out)

	require.Len(t, results, 2)
	assert.NoError(t, results[model.ProviderBell].Error)
	assert.Error(t, results[model.ProviderTelus].Error)
	assert.Equal(t, []model.Provider{model.ProviderTelus}, results.Failed())
	assert.Equal(t, []model.Provider{model.ProviderBell, model.ProviderTelus}, results.Providers())
}

func TestPipeline_Match(t *testing.T) {
	files := &memFiles{files: map[string]string{"a.xml": feedXML(), "b.csv": trainingCSV()}}
	p := newTestPipeline(t, files)

	res, err := p.Match(model.SourceXML, "a.xml", model.SourceCSV, "b.csv")
	require.NoError(t, err)
	assert.Equal(t, model.GranularityNone, res.Granularity, "training history predates the feed")

	_, err = p.Match(model.SourceXML, "missing.xml", model.SourceCSV, "b.csv")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPipeline_ClusterReports_ImputesUnsetTimes(t *testing.T) {
	p := newTestPipeline(t, bellFiles())
	start := day.Add(10 * time.Hour).Unix()
	reports := []model.Report{
		{Index: 0, Timestamp: start},
		{Index: 1},
		{Index: 2, Timestamp: start + 3000},
	}

	res := p.clusterReports(reports)
	assert.Equal(t, []int{0, 0, 0}, res.Labels, "the unset time sits at the batch median")
	assert.Zero(t, reports[1].Timestamp, "imputation stays local to clustering")
}

func TestStrategies(t *testing.T) {
	pc := model.ProviderConfig{TrainingCSV: "t.csv", FeedXML: "f.xml"}
	assert.Equal(t, "t.csv", Strategies[model.SourceCSV].Path(pc))
	assert.Equal(t, RoleCandidates, Strategies[model.SourceXML].Role)

	for path, want := range map[string]model.Source{"a.CSV": model.SourceCSV, "feed.rss": model.SourceXML, "x.xml": model.SourceXML} {
		got, ok := SourceForPath(path)
		assert.True(t, ok, path)
		assert.Equal(t, want, got, path)
	}
	_, ok := SourceForPath("notes.txt")
	assert.False(t, ok)
}
