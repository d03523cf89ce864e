package classify

import (
	"fmt"
	"math"

	"github.com/ppiankov/outagelens/internal/features"
	"github.com/ppiankov/outagelens/internal/model"
)

// RFEConfig configures recursive feature elimination with cross-validation
type RFEConfig struct {
	Folds       int // Stratified folds, default 3
	MinFeatures int // Never eliminate below this many, default 5
}

// RFEReport records how the feature subset was chosen
type RFEReport struct {
	Selected   []string          `json:"selected"`
	MeanScores map[int]float64   `json:"mean_scores"` // subset size -> mean balanced accuracy
	Eliminated []string          `json:"eliminated"`  // In elimination order on the full split
}

// RFECV picks the feature subset with the best mean cross-validated balanced
// accuracy, removing the least important feature one step at a time. Ties in
// score prefer fewer features.
func RFECV(X []model.FeatureVector, y []int, schema features.Schema, forestCfg ForestConfig, cfg RFEConfig) (features.Schema, RFEReport, error) {
	if cfg.Folds <= 0 {
		cfg.Folds = 3
	}
	if cfg.MinFeatures <= 0 {
		cfg.MinFeatures = 5
	}

	p := schema.Len()
	report := RFEReport{MeanScores: make(map[int]float64)}
	if p <= cfg.MinFeatures {
		report.Selected = append([]string(nil), schema.Columns...)
		return schema, report, nil
	}

	folds, err := StratifiedKFold(y, cfg.Folds, forestCfg.Seed)
	if err != nil {
		return schema, report, fmt.Errorf("rfecv folds: %w", err)
	}

	sums := make(map[int]float64)
	for _, val := range folds {
		train := Complement(len(y), val)
		scores, _, err := eliminate(X, y, train, val, p, cfg.MinFeatures, forestCfg)
		if err != nil {
			return schema, report, fmt.Errorf("rfecv fold: %w", err)
		}
		for size, s := range scores {
			sums[size] += s
		}
	}

	bestSize, bestScore := p, math.Inf(-1)
	for size := cfg.MinFeatures; size <= p; size++ {
		mean := sums[size] / float64(len(folds))
		report.MeanScores[size] = mean
		if mean > bestScore+1e-12 {
			bestSize, bestScore = size, mean
		}
	}

	all := make([]int, len(y))
	for i := range all {
		all[i] = i
	}
	_, order, err := eliminate(X, y, all, nil, p, bestSize, forestCfg)
	if err != nil {
		return schema, report, fmt.Errorf("rfe final pass: %w", err)
	}

	removed := make(map[int]bool, len(order))
	for _, col := range order {
		removed[col] = true
		report.Eliminated = append(report.Eliminated, schema.Columns[col])
	}
	for j, c := range schema.Columns {
		if !removed[j] {
			report.Selected = append(report.Selected, c)
		}
	}

	selected, err := schema.Select(report.Selected)
	if err != nil {
		return schema, report, err
	}
	return selected, report, nil
}

// eliminate fits on train, scores on val (when given) and drops the least
// important remaining column until only stopAt remain. It returns the score per
// subset size and the eliminated column positions in order.
func eliminate(X []model.FeatureVector, y []int, train, val []int, p, stopAt int, cfg ForestConfig) (map[int]float64, []int, error) {
	remaining := make([]int, p)
	for j := range remaining {
		remaining[j] = j
	}
	scores := make(map[int]float64)
	var order []int

	for {
		trX, trY := subset(X, y, train, remaining)
		forest, err := FitForest(trX, trY, cfg)
		if err != nil {
			return nil, nil, err
		}

		if len(val) > 0 {
			vaX, vaY := subset(X, y, val, remaining)
			pred, err := forest.Predict(vaX)
			if err != nil {
				return nil, nil, err
			}
			scores[len(remaining)] = BalancedAccuracy(vaY, pred)
		}

		if len(remaining) <= stopAt {
			return scores, order, nil
		}

		// Drop the weakest column; ties drop the later column
		weakest := 0
		for k := 1; k < len(remaining); k++ {
			if forest.Importances[k] <= forest.Importances[weakest] {
				weakest = k
			}
		}
		order = append(order, remaining[weakest])
		remaining = append(remaining[:weakest:weakest], remaining[weakest+1:]...)
	}
}

func subset(X []model.FeatureVector, y []int, rows, cols []int) ([]model.FeatureVector, []int) {
	outX := make([]model.FeatureVector, len(rows))
	outY := make([]int, len(rows))
	for i, r := range rows {
		v := make(model.FeatureVector, len(cols))
		for j, c := range cols {
			v[j] = X[r][c]
		}
		outX[i] = v
		outY[i] = y[r]
	}
	return outX, outY
}
