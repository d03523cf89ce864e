package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Batch(model.ProviderBell, model.SourceCSV, 10, 2)
	m.Stage("cluster", time.Now())
	m.Result(&model.ProviderResult{Provider: model.ProviderBell})
	m.CacheStats("page", func() int64 { return 0 }, func() int64 { return 0 })
}

func TestBatchAndClusters(t *testing.T) {
	m := New()
	m.Batch(model.ProviderBell, model.SourceCSV, 10, 2)
	m.Batch(model.ProviderBell, model.SourceCSV, 5, 1)

	if got := testutil.ToFloat64(m.recordsNormalized.WithLabelValues("BELL", "csv")); got != 15 {
		t.Errorf("normalized = %v, want 15", got)
	}
	if got := testutil.ToFloat64(m.recordsDropped.WithLabelValues("BELL", "csv")); got != 3 {
		t.Errorf("dropped = %v, want 3", got)
	}

	m.Clusters(model.ProviderBell, model.SourceXML, []model.Cluster{{ID: -1}, {ID: 0}, {ID: 1}})
	if got := testutil.ToFloat64(m.clusters.WithLabelValues("BELL", "xml")); got != 2 {
		t.Errorf("clusters = %v, want 2", got)
	}
}

func TestResult(t *testing.T) {
	m := New()
	m.Result(&model.ProviderResult{
		Provider:   model.ProviderTelus,
		FinishedAt: time.Unix(1747483200, 0),
		Metrics:    &model.EvalMetrics{BalancedAccuracy: 0.9},
		Score:      model.Score{Best: &model.Candidate{Combined: 0.75}},
	})
	m.Result(&model.ProviderResult{Provider: model.ProviderTelus, Error: io.ErrUnexpectedEOF})

	if got := testutil.ToFloat64(m.runs.WithLabelValues("TELUS", "ok")); got != 1 {
		t.Errorf("ok runs = %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("TELUS", "error")); got != 1 {
		t.Errorf("error runs = %v", got)
	}
	if got := testutil.ToFloat64(m.bestScore.WithLabelValues("TELUS")); got != 0.75 {
		t.Errorf("best score = %v", got)
	}
	if got := testutil.ToFloat64(m.lastSuccess.WithLabelValues("TELUS")); got != 1747483200 {
		t.Errorf("last success = %v", got)
	}
}

func TestHandlerExposesCacheStats(t *testing.T) {
	m := New()
	m.CacheStats("page", func() int64 { return 7 }, func() int64 { return 3 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`outagelens_cache_hits_total{cache="page"} 7`,
		`outagelens_cache_misses_total{cache="page"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
