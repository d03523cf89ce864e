package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
	"go.uber.org/zap"
)

// Runner runs the full pipeline for one provider.
// It reports failures inside the returned result rather than as an error.
type Runner interface {
	Run(ctx context.Context, provider model.Provider) *model.ProviderResult
}

// ProviderJob runs one provider as an independent pool job
type ProviderJob struct {
	Provider model.Provider
	Runner   Runner
}

// Execute executes the provider job
func (j *ProviderJob) Execute(ctx context.Context) Result {
	res := j.Runner.Run(ctx, j.Provider)
	if res == nil {
		err := fmt.Errorf("runner returned no result")
		res = &model.ProviderResult{Provider: j.Provider, Error: err, Err: err.Error()}
	}
	return &ProviderOutcome{Result: res}
}

// ProviderOutcome wraps a provider result for the pool
type ProviderOutcome struct {
	Result *model.ProviderResult
}

// GetError returns the provider's failure, if any
func (o *ProviderOutcome) GetError() error {
	return o.Result.Error
}

// ProviderBatch runs several providers concurrently. A failing provider never
// affects the others.
type ProviderBatch struct {
	runner      Runner
	concurrency int
	logger      *zap.Logger
}

// NewProviderBatch creates a new provider batch
func NewProviderBatch(runner Runner, concurrency int, logger *zap.Logger) *ProviderBatch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderBatch{
		runner:      runner,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run processes providers and returns their results in the same order
func (b *ProviderBatch) Run(ctx context.Context, providers []model.Provider) []*model.ProviderResult {
	if len(providers) == 0 {
		return []*model.ProviderResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	start := time.Now()
	for _, p := range providers {
		pool.Submit(&ProviderJob{Provider: p, Runner: b.runner})
	}
	results := pool.Wait()

	out := make([]*model.ProviderResult, len(providers))
	for i, p := range providers {
		var r Result
		if i < len(results) {
			r = results[i]
		}
		out[i] = b.unwrap(ctx, p, r)
		if out[i].Error != nil {
			b.logger.Warn("provider failed",
				zap.String("provider", string(p)),
				zap.Error(out[i].Error))
		}
	}

	b.logger.Debug("provider batch finished",
		zap.Int("providers", len(providers)),
		zap.Duration("elapsed", time.Since(start)))
	return out
}

func (b *ProviderBatch) unwrap(ctx context.Context, p model.Provider, r Result) *model.ProviderResult {
	switch v := r.(type) {
	case *ProviderOutcome:
		return v.Result
	case nil:
		err := ctx.Err()
		if err == nil {
			err = fmt.Errorf("provider %s was not run", p)
		}
		return &model.ProviderResult{Provider: p, Error: err, Err: err.Error()}
	default:
		err := v.GetError()
		return &model.ProviderResult{Provider: p, Error: err, Err: err.Error()}
	}
}
