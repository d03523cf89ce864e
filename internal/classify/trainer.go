// Package classify trains and applies the verifier classifier: a random forest
// of CART trees with optional recursive feature elimination, evaluated on a
// stratified held-out split.
package classify

import (
	"fmt"
	"time"

	"github.com/ppiankov/outagelens/internal/balance"
	"github.com/ppiankov/outagelens/internal/features"
	"github.com/ppiankov/outagelens/internal/model"
	"go.uber.org/zap"
)

// TrainConfig configures one training run
type TrainConfig struct {
	TestSize  float64
	Balance   bool
	Neighbors int
	Forest    ForestConfig
	RFE       bool
	RFEConfig RFEConfig
	Seed      int64
}

// TrainConfigFromModel maps application config onto a training config
func TrainConfigFromModel(cfg *model.Config) TrainConfig {
	return TrainConfig{
		TestSize:  cfg.Split.TestSize,
		Balance:   cfg.Balance.Enabled,
		Neighbors: cfg.Balance.Neighbors,
		Forest: ForestConfig{
			Trees:          cfg.Classifier.Trees,
			MaxDepth:       cfg.Classifier.MaxDepth,
			MinSamplesLeaf: cfg.Classifier.MinSamplesLeaf,
			Balanced:       true,
			Seed:           cfg.Seed,
		},
		RFE: cfg.Classifier.RFE,
		RFEConfig: RFEConfig{
			Folds:       cfg.Classifier.RFEFolds,
			MinFeatures: cfg.Classifier.MinFeatures,
		},
		Seed: cfg.Seed,
	}
}

// Trainer runs split, balance, optional elimination, fit and evaluation
type Trainer struct {
	cfg    TrainConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewTrainer creates a new trainer
func NewTrainer(cfg TrainConfig, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{cfg: cfg, logger: logger, now: time.Now}
}

// Train fits a model on X (laid out under schema) with labels y.
// Oversampling touches the training split only; metrics come from the held-out split.
func (t *Trainer) Train(schema features.Schema, X []model.FeatureVector, y []int) (*Model, error) {
	if len(X) == 0 {
		return nil, ErrEmptyTraining
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("%d rows, %d labels", len(X), len(y))
	}

	trainIdx, testIdx, err := StratifiedSplit(y, t.cfg.TestSize, t.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	all := make([]int, schema.Len())
	for j := range all {
		all[j] = j
	}
	trX, trY := subset(X, y, trainIdx, all)
	teX, teY := subset(X, y, testIdx, all)

	if t.cfg.Balance {
		var stats balance.Stats
		trX, trY, stats, err = balance.NewSMOTE(t.cfg.Neighbors, t.cfg.Seed).Resample(trX, trY)
		if err != nil {
			return nil, fmt.Errorf("balance: %w", err)
		}
		t.logger.Debug("balanced training split",
			zap.Int("minority", stats.Minority),
			zap.Int("before", stats.Before),
			zap.Int("synthetic", stats.Synthetic))
	}

	fitSchema := schema
	var rfeReport *RFEReport
	if t.cfg.RFE {
		selected, report, err := RFECV(trX, trY, schema, t.cfg.Forest, t.cfg.RFEConfig)
		if err != nil {
			return nil, fmt.Errorf("feature elimination: %w", err)
		}
		fitSchema, rfeReport = selected, &report
		if trX, err = features.Project(trX, schema, fitSchema); err != nil {
			return nil, err
		}
		if teX, err = features.Project(teX, schema, fitSchema); err != nil {
			return nil, err
		}
		t.logger.Info("selected features",
			zap.Strings("columns", fitSchema.Columns),
			zap.Strings("eliminated", report.Eliminated))
	}

	forest, err := FitForest(trX, trY, t.cfg.Forest)
	if err != nil {
		return nil, fmt.Errorf("fit forest: %w", err)
	}

	pred, err := forest.Predict(teX)
	if err != nil {
		return nil, fmt.Errorf("predict held-out: %w", err)
	}
	metrics := Evaluate(teY, pred)
	metrics.TrainSize = len(trainIdx)
	metrics.TestSize = len(testIdx)
	metrics.Features = append([]string(nil), fitSchema.Columns...)

	return &Model{
		Format:    FormatVersion,
		Schema:    fitSchema,
		Forest:    forest,
		Metrics:   &metrics,
		RFE:       rfeReport,
		TrainedAt: t.now().UTC(),
	}, nil
}

// Labels converts report ground truth into {0, 1}
func Labels(reports []model.Report) []int {
	y := make([]int, len(reports))
	for i, r := range reports {
		if r.Verified() {
			y[i] = 1
		}
	}
	return y
}
