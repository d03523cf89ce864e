// Package scrape collects corroborating outage evidence from community forums,
// crowd-sourced trackers and third-party status pages.
package scrape

import (
	"context"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
	"github.com/ppiankov/outagelens/internal/normalize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source scrapes one kind of evidence for a provider
type Source interface {
	Kind() model.Source
	Collect(ctx context.Context, p model.ProviderConfig) ([]normalize.RawRecord, error)
}

// Collected holds raw records and per-source failures for one provider
type Collected struct {
	Records map[model.Source][]normalize.RawRecord
	Errors  map[model.Source]error
	Elapsed time.Duration
}

// Collector runs every source for a provider concurrently
type Collector struct {
	sources []Source
	logger  *zap.Logger
}

// NewCollector creates a new collector
func NewCollector(logger *zap.Logger, sources ...Source) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{sources: sources, logger: logger}
}

// NewDefaultSources builds the forum, tracker and status scrapers
func NewDefaultSources(fetcher PageFetcher, cfg *model.Config, logger *zap.Logger) []Source {
	return []Source{
		NewForumSource(fetcher, cfg.Concurrency.Threads, cfg.Scrape.ThreadBodies, logger),
		NewTrackerSource(fetcher),
		NewStatusSource(fetcher),
	}
}

// Collect runs all sources. A failing source is recorded and logged without
// affecting the others; only cancellation of ctx fails the whole collection.
func (c *Collector) Collect(ctx context.Context, p model.ProviderConfig) (Collected, error) {
	start := time.Now()
	records := make([][]normalize.RawRecord, len(c.sources))
	errs := make([]error, len(c.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range c.sources {
		g.Go(func() error {
			recs, err := src.Collect(gctx, p)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			records[i], errs[i] = recs, err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Collected{}, err
	}

	out := Collected{
		Records: make(map[model.Source][]normalize.RawRecord, len(c.sources)),
		Errors:  make(map[model.Source]error),
		Elapsed: time.Since(start),
	}
	for i, src := range c.sources {
		if errs[i] != nil {
			out.Errors[src.Kind()] = errs[i]
			c.logger.Warn("source failed",
				zap.String("provider", string(p.Name)),
				zap.String("source", string(src.Kind())),
				zap.Error(errs[i]))
			continue
		}
		out.Records[src.Kind()] = append(out.Records[src.Kind()], records[i]...)
	}
	return out, nil
}
