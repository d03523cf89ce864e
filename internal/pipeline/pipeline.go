// Package pipeline runs the full per-provider flow: normalize, cluster, train or
// load the verifier, score the official feed, collect community evidence, match
// the two by date and optionally summarize the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/outagelens/internal/cache"
	"github.com/ppiankov/outagelens/internal/classify"
	"github.com/ppiankov/outagelens/internal/cluster"
	"github.com/ppiankov/outagelens/internal/features"
	"github.com/ppiankov/outagelens/internal/llm"
	"github.com/ppiankov/outagelens/internal/match"
	"github.com/ppiankov/outagelens/internal/metrics"
	"github.com/ppiankov/outagelens/internal/model"
	"github.com/ppiankov/outagelens/internal/normalize"
	"github.com/ppiankov/outagelens/internal/score"
	"github.com/ppiankov/outagelens/internal/scrape"
	"github.com/ppiankov/outagelens/internal/store"
	"github.com/ppiankov/outagelens/internal/worker"
	"go.uber.org/zap"
)

// ErrUnknownProvider is returned for a provider missing from the configuration
var ErrUnknownProvider = errors.New("unknown provider")

// ModelStore persists trained models and run history
type ModelStore interface {
	SaveModel(ctx context.Context, rec store.ModelRecord) error
	LoadModel(ctx context.Context, provider model.Provider, schemaID string) (store.ModelRecord, error)
	SaveRun(ctx context.Context, res *model.ProviderResult) error
}

// Pipeline orchestrates one provider run
type Pipeline struct {
	config     *model.Config
	schema     features.Schema
	normalizer *normalize.Normalizer
	clusterer  *cluster.Clusterer
	engineer   *features.Engineer
	trainer    *classify.Trainer
	scorer     *score.Scorer
	matcher    *match.Matcher
	collector  *scrape.Collector // nil disables evidence collection
	store      ModelStore        // nil keeps models in process only
	models     *cache.Memo[*classify.Model]
	summarizer *llm.Summarizer // Optional LLM summarizer (nil if disabled)
	metrics    *metrics.Metrics
	logger     *zap.Logger
	open       func(path string) (io.ReadCloser, error)
	now        func() time.Time
	forceTrain bool
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the pipeline logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithStore persists models and runs
func WithStore(s ModelStore) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithCollector enables community evidence collection
func WithCollector(c *scrape.Collector) Option {
	return func(p *Pipeline) { p.collector = c }
}

// WithSummarizer attaches the optional LLM summarizer
func WithSummarizer(s *llm.Summarizer) Option {
	return func(p *Pipeline) { p.summarizer = s }
}

// WithMetrics records run metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithForceTrain retrains even when a stored model exists
func WithForceTrain(force bool) Option {
	return func(p *Pipeline) { p.forceTrain = force }
}

// WithOpener replaces os.Open for input files
func WithOpener(open func(path string) (io.ReadCloser, error)) Option {
	return func(p *Pipeline) { p.open = open }
}

// WithClock sets the clock used for run timestamps and relative dates
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a new pipeline with the given configuration
func NewPipeline(cfg *model.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	norm, err := features.ParseRatioNorm(cfg.Features.RatioNorm)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Match.Location()
	if err != nil {
		return nil, fmt.Errorf("match timezone: %w", err)
	}

	p := &Pipeline{
		config:    cfg,
		schema:    features.V1(norm),
		clusterer: cluster.NewClusterer(cfg.Cluster.EpsSeconds, cfg.Cluster.MinPoints),
		engineer:  features.NewEngineer(cfg.Features.WindowSeconds, cfg.Features.DefaultGapSeconds),
		scorer:    score.NewScorer(cfg.Score.Alpha, cfg.Score.MinSeverityRatio),
		matcher:   match.NewMatcher(loc),
		models:    cache.NewMemo[*classify.Model](0),
		logger:    zap.NewNop(),
		open:      func(path string) (io.ReadCloser, error) { return os.Open(path) },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.normalizer = normalize.New(normalize.WithClock(p.now), normalize.WithLogger(p.logger))
	p.trainer = classify.NewTrainer(classify.TrainConfigFromModel(cfg), p.logger)
	p.metrics.CacheStats("models", p.models.Stats.Hits, p.models.Stats.Misses)
	return p, nil
}

// SchemaID identifies the configured feature schema models are stored under
func (p *Pipeline) SchemaID() string {
	return p.schema.ID()
}

// Run executes the full pipeline for one provider. Failures are reported in
// the result so that other providers keep running.
func (p *Pipeline) Run(ctx context.Context, provider model.Provider) *model.ProviderResult {
	return p.execute(ctx, provider, p.run)
}

// Train fits, evaluates and persists the provider's model without scoring
func (p *Pipeline) Train(ctx context.Context, provider model.Provider) *model.ProviderResult {
	return p.execute(ctx, provider, func(ctx context.Context, pc model.ProviderConfig, res *model.ProviderResult) error {
		training, err := p.Load(model.SourceCSV, pc)
		if err != nil {
			return err
		}
		p.addDrops(res, pc.Name, training)
		mdl, err := p.train(ctx, pc.Name, training)
		if err != nil {
			return err
		}
		res.Metrics = mdl.Metrics
		if sig, ok := score.Imbalance(classify.Labels(training.Reports)); ok {
			res.Score.Signals = append(res.Score.Signals, sig)
		}
		return nil
	})
}

// Trainer adapts Train to the worker runner interface
func (p *Pipeline) Trainer() worker.Runner {
	return trainRunner{p}
}

type trainRunner struct{ p *Pipeline }

func (t trainRunner) Run(ctx context.Context, provider model.Provider) *model.ProviderResult {
	return t.p.Train(ctx, provider)
}

type stageFunc func(ctx context.Context, pc model.ProviderConfig, res *model.ProviderResult) error

func (p *Pipeline) execute(ctx context.Context, provider model.Provider, stage stageFunc) *model.ProviderResult {
	res := &model.ProviderResult{
		Provider:  provider,
		RunID:     uuid.NewString(),
		StartedAt: p.now().UTC(),
	}
	log := p.logger.With(zap.String("provider", string(provider)), zap.String("run_id", res.RunID))

	pc, ok := p.config.ProviderByName(provider)
	var err error
	if !ok {
		err = fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	} else {
		err = stage(ctx, pc, res)
	}
	if err != nil {
		res.Error = err
		res.Err = err.Error()
		log.Error("provider run failed", zap.Error(err))
	}
	res.FinishedAt = p.now().UTC()
	p.metrics.Result(res)

	if p.store != nil {
		// History must not be lost to a cancelled run context
		if err := p.store.SaveRun(context.WithoutCancel(ctx), res); err != nil {
			log.Warn("failed to record run", zap.Error(err))
		}
	}
	log.Info("provider run finished",
		zap.Bool("failed", res.Failed()),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))
	return res
}

func (p *Pipeline) run(ctx context.Context, pc model.ProviderConfig, res *model.ProviderResult) error {
	// 1. Verifier: load the stored model or train a new one
	mdl, trained, err := p.model(ctx, pc)
	if err != nil {
		return err
	}
	res.Metrics = mdl.Metrics
	if trained != nil {
		p.addDrops(res, pc.Name, *trained)
		if sig, ok := score.Imbalance(classify.Labels(trained.Reports)); ok {
			res.Score.Signals = append(res.Score.Signals, sig)
		}
	}

	// 2. Score the official feed
	start := time.Now()
	feed, err := p.Load(model.SourceXML, pc)
	if err != nil {
		return err
	}
	p.addDrops(res, pc.Name, feed)

	sc, evidence, roster, err := p.score(mdl, feed.Reports)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}
	sc.Signals = append(res.Score.Signals, sc.Signals...)
	res.Score, res.Evidence, res.Clusters = sc, evidence, roster
	p.metrics.Clusters(pc.Name, model.SourceXML, roster)
	p.metrics.Stage("score", start)

	// 3. Community evidence, matched against the feed by date
	if p.collector != nil {
		start = time.Now()
		scraped, err := p.collect(ctx, pc)
		if err != nil {
			return fmt.Errorf("collect: %w", err)
		}
		p.addDrops(res, pc.Name, scraped)
		if sig, ok := score.TrackerSpike(pc.Name, trackerCount(scraped.Reports), pc.AlertCount); ok {
			res.Score.Signals = append(res.Score.Signals, sig)
		}

		m := p.matcher.Match(feed.Reports, scraped.Reports)
		res.Match = &m
		if sig, ok := match.WeekFallback(m); ok {
			res.Score.Signals = append(res.Score.Signals, sig)
		}
		p.metrics.Stage("match", start)
	}

	if sig, ok := score.Dropped(res.Dropped); ok {
		res.Score.Signals = append(res.Score.Signals, sig)
	}

	// 4. LLM summary (AFTER scoring, never affects score)
	if p.summarizer.IsEnabled() {
		start = time.Now()
		summary, err := p.summarizer.GenerateSummary(ctx, res)
		if err != nil {
			p.logger.Warn("LLM summary generation failed", zap.String("provider", string(pc.Name)), zap.Error(err))
		}
		res.LLM = summary
		p.metrics.Stage("summarize", start)
	}
	return nil
}

// model returns the provider's verifier. A stored model that fails to load is
// fatal; only a missing one is retrained. trained holds the training batch when
// a new model was fit.
func (p *Pipeline) model(ctx context.Context, pc model.ProviderConfig) (*classify.Model, *normalize.Batch, error) {
	if !p.forceTrain {
		mdl, err := p.models.GetOrLoad(cache.ModelKey(pc.Name, p.SchemaID()), func() (*classify.Model, error) {
			if p.store == nil {
				return nil, store.ErrNotFound
			}
			rec, err := p.store.LoadModel(ctx, pc.Name, p.SchemaID())
			if err != nil {
				return nil, err
			}
			return classify.Unmarshal(rec.Blob)
		})
		switch {
		case err == nil:
			p.logger.Debug("using stored model",
				zap.String("provider", string(pc.Name)),
				zap.String("schema", mdl.Schema.ID()))
			return mdl, nil, nil
		case errors.Is(err, classify.ErrModelLoad):
			return nil, nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		case !errors.Is(err, store.ErrNotFound):
			return nil, nil, fmt.Errorf("load model: %w", err)
		}
	}

	training, err := p.Load(model.SourceCSV, pc)
	if err != nil {
		return nil, nil, err
	}
	mdl, err := p.train(ctx, pc.Name, training)
	if err != nil {
		return nil, nil, err
	}
	return mdl, &training, nil
}

func (p *Pipeline) train(ctx context.Context, provider model.Provider, training normalize.Batch) (*classify.Model, error) {
	start := time.Now()
	reports := training.Reports

	ratios := make([]float64, len(reports))
	for i, r := range reports {
		ratios[i] = r.SeverityRatio
	}
	schema := p.schema.FitRatio(ratios)

	clusters := p.clusterReports(reports)
	p.metrics.Clusters(provider, model.SourceCSV, clusters.Clusters)

	X, err := p.engineer.Transform(schema, reports, clusters)
	if err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	mdl, err := p.trainer.Train(schema, X, classify.Labels(reports))
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", provider, err)
	}
	mdl.Provider = provider
	p.metrics.Stage("train", start)

	p.logger.Info("trained model",
		zap.String("provider", string(provider)),
		zap.String("schema", mdl.Schema.ID()),
		zap.Int("reports", len(reports)),
		zap.Float64("balanced_accuracy", mdl.Metrics.BalancedAccuracy))

	if p.store != nil {
		blob, err := mdl.Marshal()
		if err != nil {
			return nil, err
		}
		if err := p.store.SaveModel(ctx, store.ModelRecord{
			Provider:  provider,
			SchemaID:  p.SchemaID(),
			Blob:      blob,
			TrainedAt: mdl.TrainedAt,
		}); err != nil {
			return nil, err
		}
	}
	p.models.Set(cache.ModelKey(provider, p.SchemaID()), mdl)
	return mdl, nil
}

// score clusters the candidates, computes features under the model's schema and
// ranks them. evidence is index-aligned with reports.
func (p *Pipeline) score(mdl *classify.Model, reports []model.Report) (model.Score, []model.Annotated, []model.Cluster, error) {
	clusters := p.clusterReports(reports)
	X, err := p.engineer.Transform(mdl.Schema, reports, clusters)
	if err != nil {
		return model.Score{}, nil, nil, err
	}
	proba, err := mdl.PredictProba(X)
	if err != nil {
		return model.Score{}, nil, nil, err
	}

	ratios := make([]float64, len(reports))
	for i, r := range reports {
		ratios[i] = r.SeverityRatio
	}
	sc, err := p.scorer.Calculate(reports, proba, features.RatioColumn(mdl.Schema, ratios))
	if err != nil {
		return model.Score{}, nil, nil, err
	}

	evidence := make([]model.Annotated, len(reports))
	for i, r := range reports {
		evidence[i] = model.Annotated{Report: r, ClusterID: clusters.Labels[i], Features: X[i]}
	}
	return sc, evidence, clusters.Clusters, nil
}

// collect scrapes every source and normalizes the records into one batch
func (p *Pipeline) collect(ctx context.Context, pc model.ProviderConfig) (normalize.Batch, error) {
	collected, err := p.collector.Collect(ctx, pc)
	if err != nil {
		return normalize.Batch{}, err
	}

	out := normalize.Batch{Dropped: make(normalize.Drops)}
	for _, src := range model.Sources {
		records, ok := collected.Records[src]
		if !ok {
			continue
		}
		batch, err := p.normalizer.Records(src, records)
		if err != nil {
			return normalize.Batch{}, err
		}
		p.metrics.Batch(pc.Name, src, len(batch.Reports), batch.Dropped.Total())
		out.Append(batch)
	}
	return out, nil
}

// Load reads and normalizes the file-shaped source for a provider
func (p *Pipeline) Load(source model.Source, pc model.ProviderConfig) (normalize.Batch, error) {
	strategy, ok := Strategies[source]
	if !ok {
		return normalize.Batch{}, fmt.Errorf("%w: %s", normalize.ErrUnknownSource, source)
	}
	path := strategy.Path(pc)
	if path == "" {
		return normalize.Batch{}, fmt.Errorf("provider %s has no %s input", pc.Name, strategy.Role)
	}
	batch, err := p.LoadFile(source, path)
	if err != nil {
		return normalize.Batch{}, err
	}
	p.metrics.Batch(pc.Name, source, len(batch.Reports), batch.Dropped.Total())
	return batch, nil
}

// LoadFile normalizes one input file
func (p *Pipeline) LoadFile(source model.Source, path string) (normalize.Batch, error) {
	f, err := p.open(path)
	if err != nil {
		return normalize.Batch{}, fmt.Errorf("open %s: %w", source, err)
	}
	defer func() { _ = f.Close() }()

	batch, err := p.normalizer.File(source, f)
	if err != nil {
		return normalize.Batch{}, fmt.Errorf("normalize %s: %w", path, err)
	}
	return batch, nil
}

// Match normalizes two files and matches them by date
func (p *Pipeline) Match(aSource model.Source, aPath string, bSource model.Source, bPath string) (model.MatchResult, error) {
	a, err := p.LoadFile(aSource, aPath)
	if err != nil {
		return model.MatchResult{}, err
	}
	b, err := p.LoadFile(bSource, bPath)
	if err != nil {
		return model.MatchResult{}, err
	}
	return p.matcher.Match(a.Reports, b.Reports), nil
}

func (p *Pipeline) addDrops(res *model.ProviderResult, provider model.Provider, batch normalize.Batch) {
	if batch.Dropped.Total() == 0 {
		return
	}
	if res.Dropped == nil {
		res.Dropped = make(map[model.Source]int)
	}
	for src, n := range batch.Dropped {
		res.Dropped[src] += n
	}
	p.logger.Warn("dropped malformed records",
		zap.String("provider", string(provider)),
		zap.String("counts", batch.Dropped.String()))
}

// clusterReports clusters report times. A zero timestamp marks a report whose
// time was never set; it is clustered at the batch median and left unchanged.
func (p *Pipeline) clusterReports(reports []model.Report) cluster.Result {
	ts := make([]int64, len(reports))
	present := make([]bool, len(reports))
	for i, r := range reports {
		ts[i] = r.Timestamp
		present[i] = r.Timestamp != 0
	}
	return p.clusterer.FitWithGaps(ts, present)
}

// trackerCount returns the highest outage tracker report count in the batch
func trackerCount(reports []model.Report) int {
	best := 0
	for _, r := range reports {
		if r.Source == model.SourceOutageTracker && r.Count > best {
			best = r.Count
		}
	}
	return best
}
