// Package metrics exposes pipeline counters and gauges to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "outagelens"

// Metrics holds every collector on a private registry
type Metrics struct {
	registry *prometheus.Registry

	recordsNormalized *prometheus.CounterVec
	recordsDropped    *prometheus.CounterVec
	clusters          *prometheus.GaugeVec
	stageDuration     *prometheus.HistogramVec
	balancedAccuracy  *prometheus.GaugeVec
	bestScore         *prometheus.GaugeVec
	runs              *prometheus.CounterVec
	lastSuccess       *prometheus.GaugeVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.recordsNormalized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_normalized_total",
		Help:      "Reports kept after normalization",
	}, []string{"provider", "source"})
	m.recordsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_dropped_total",
		Help:      "Malformed records dropped during normalization",
	}, []string{"provider", "source"})
	m.clusters = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "clusters",
		Help:      "Temporal clusters found in the last run, noise excluded",
	}, []string{"provider", "source"})
	m.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Time spent in each pipeline stage",
		Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
	}, []string{"stage"})
	m.balancedAccuracy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_balanced_accuracy",
		Help:      "Held-out balanced accuracy of the provider's model",
	}, []string{"provider"})
	m.bestScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "best_combined_score",
		Help:      "Combined score of the best incident candidate",
	}, []string{"provider"})
	m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Provider pipeline runs by status",
	}, []string{"provider", "status"})
	m.lastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful provider run",
	}, []string{"provider"})

	m.registry.MustRegister(
		m.recordsNormalized, m.recordsDropped, m.clusters, m.stageDuration,
		m.balancedAccuracy, m.bestScore, m.runs, m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// CacheStats registers hit and miss counters read from a cache
func (m *Metrics) CacheStats(name string, hits, misses func() int64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cache_hits_total",
			Help:        "Cache lookups that found an entry",
			ConstLabels: prometheus.Labels{"cache": name},
		}, func() float64 { return float64(hits()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cache_misses_total",
			Help:        "Cache lookups that found nothing",
			ConstLabels: prometheus.Labels{"cache": name},
		}, func() float64 { return float64(misses()) }),
	)
}

// Batch records normalization outcome for one provider source
func (m *Metrics) Batch(provider model.Provider, source model.Source, kept, dropped int) {
	if m == nil {
		return
	}
	m.recordsNormalized.WithLabelValues(string(provider), string(source)).Add(float64(kept))
	m.recordsDropped.WithLabelValues(string(provider), string(source)).Add(float64(dropped))
}

// Clusters records the roster size, not counting noise
func (m *Metrics) Clusters(provider model.Provider, source model.Source, roster []model.Cluster) {
	if m == nil {
		return
	}
	n := 0
	for _, c := range roster {
		if c.ID != model.NoiseCluster {
			n++
		}
	}
	m.clusters.WithLabelValues(string(provider), string(source)).Set(float64(n))
}

// Stage observes the time since start for a pipeline stage
func (m *Metrics) Stage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Result records a finished provider run
func (m *Metrics) Result(res *model.ProviderResult) {
	if m == nil || res == nil {
		return
	}
	p := string(res.Provider)
	if res.Failed() {
		m.runs.WithLabelValues(p, "error").Inc()
		return
	}
	m.runs.WithLabelValues(p, "ok").Inc()
	m.lastSuccess.WithLabelValues(p).Set(float64(res.FinishedAt.Unix()))
	if res.Metrics != nil {
		m.balancedAccuracy.WithLabelValues(p).Set(res.Metrics.BalancedAccuracy)
	}
	if res.Score.Best != nil {
		m.bestScore.WithLabelValues(p).Set(res.Score.Best.Combined)
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics and /healthz
type Server struct {
	server *http.Server
}

// NewServer creates a metrics server on addr
func (m *Metrics) NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{server: &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}}
}

// Serve blocks until the server stops. http.ErrServerClosed means a clean shutdown.
func (s *Server) Serve() error                       { return s.server.ListenAndServe() }
func (s *Server) Shutdown(ctx context.Context) error { return s.server.Shutdown(ctx) }
