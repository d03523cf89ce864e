package cli

import (
	"fmt"

	"github.com/ppiankov/outagelens/internal/cache"
	"github.com/ppiankov/outagelens/internal/llm"
	"github.com/ppiankov/outagelens/internal/logging"
	"github.com/ppiankov/outagelens/internal/metrics"
	"github.com/ppiankov/outagelens/internal/model"
	"github.com/ppiankov/outagelens/internal/pipeline"
	"github.com/ppiankov/outagelens/internal/scrape"
	"github.com/ppiankov/outagelens/internal/store"
	"github.com/ppiankov/outagelens/internal/worker"
	"go.uber.org/zap"
)

// app holds the long-lived components shared by commands
type app struct {
	cfg      *model.Config
	logger   *zap.Logger
	store    *store.Store
	metrics  *metrics.Metrics
	pipeline *pipeline.Pipeline
	renderer *pipeline.Renderer
}

type appOptions struct {
	scrape     bool
	forceTrain bool
	metrics    bool
}

// newApp wires the pipeline from configuration
func newApp(cfg *model.Config, opts appOptions) (*app, error) {
	logger, err := logging.New(cfg.Logging, cfg.Output.Verbose)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		renderer: pipeline.NewRenderer(cfg.Output.IncludeFooter),
	}
	if opts.metrics {
		a.metrics = metrics.New()
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithStore(st),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithForceTrain(opts.forceTrain),
	}

	if opts.scrape && cfg.Scrape.Enabled {
		pages := cache.FromConfig(cfg.Cache)
		if layered, ok := pages.(*cache.LayeredCache); ok {
			if removed, err := layered.Prune(); err != nil {
				logger.Warn("Page cache prune failed", zap.Error(err))
			} else if removed > 0 {
				logger.Debug("Pruned expired pages", zap.Int("removed", removed))
			}
			stats := layered.Stats()
			a.metrics.CacheStats("pages", stats.Hits, stats.Misses)
		}

		fetcherOpts := []scrape.FetcherOption{
			scrape.WithLimiter(worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.Burst)),
			scrape.WithCache(pages, cfg.Cache.DiskTTL),
			scrape.WithFetchLogger(logger),
		}
		if cfg.RateLimiting.RespectRobots {
			fetcherOpts = append(fetcherOpts, scrape.WithRobots(cfg.Cache.DiskTTL))
		}
		fetcher := scrape.NewFetcher(cfg.HTTP, fetcherOpts...)
		collector := scrape.NewCollector(logger, scrape.NewDefaultSources(fetcher, cfg, logger)...)
		pipeOpts = append(pipeOpts, pipeline.WithCollector(collector))
	}

	if cfg.LLM.Provider != "" {
		summarizer, err := llm.NewSummarizer(llm.ConfigFromModel(cfg.LLM, cfg.HTTP))
		if err != nil {
			// Summaries are optional; scoring goes ahead without them
			logger.Warn("failed to initialize LLM provider", zap.Error(err))
		} else {
			pipeOpts = append(pipeOpts, pipeline.WithSummarizer(summarizer))
		}
	}

	p, err := pipeline.NewPipeline(cfg, pipeOpts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	a.pipeline = p
	return a, nil
}

// Close releases the store and flushes logs
func (a *app) Close() {
	_ = a.store.Close()
	_ = a.logger.Sync()
}
