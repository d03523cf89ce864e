package classify

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/ppiankov/outagelens/internal/model"
)

var (
	// ErrEmptyTraining is returned when there is nothing to fit on
	ErrEmptyTraining = errors.New("empty training set")

	// ErrSingleClass is returned when training labels contain only one class
	ErrSingleClass = errors.New("training labels contain a single class")

	// ErrWidthMismatch is returned when a row does not match the fitted feature count
	ErrWidthMismatch = errors.New("feature vector width mismatch")
)

// ForestConfig configures a random forest
type ForestConfig struct {
	Trees          int   // Number of bagged trees
	MaxDepth       int   // 0 = unlimited
	MinSamplesLeaf int   // Minimum rows per leaf
	MaxFeatures    int   // Features examined per split, 0 = sqrt(n_features)
	Balanced       bool  // Weight classes inversely to their frequency
	Seed           int64 // Drives bootstrap draws and feature sampling
}

// DefaultForestConfig returns the stock configuration: 300 balanced trees
func DefaultForestConfig(seed int64) ForestConfig {
	return ForestConfig{
		Trees:          300,
		MinSamplesLeaf: 1,
		Balanced:       true,
		Seed:           seed,
	}
}

// Forest is a bagged ensemble of CART trees
type Forest struct {
	Trees       []*Tree   `json:"trees"`
	NFeatures   int       `json:"n_features"`
	Importances []float64 `json:"importances"`
}

// FitForest trains a forest on X with labels y in {0, 1}
func FitForest(X []model.FeatureVector, y []int, cfg ForestConfig) (*Forest, error) {
	if len(X) == 0 {
		return nil, ErrEmptyTraining
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("%d rows, %d labels", len(X), len(y))
	}
	nFeatures := len(X[0])
	if nFeatures == 0 {
		return nil, fmt.Errorf("%w: zero features", ErrWidthMismatch)
	}
	for i, row := range X {
		if len(row) != nFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrWidthMismatch, i, len(row), nFeatures)
		}
	}

	classWeight := [2]float64{1, 1}
	var counts [2]int
	for _, label := range y {
		if label != 0 && label != 1 {
			return nil, fmt.Errorf("label %d outside {0, 1}", label)
		}
		counts[label]++
	}
	if counts[0] == 0 || counts[1] == 0 {
		return nil, ErrSingleClass
	}
	if cfg.Balanced {
		n := float64(len(y))
		classWeight[0] = n / (2 * float64(counts[0]))
		classWeight[1] = n / (2 * float64(counts[1]))
	}

	if cfg.Trees <= 0 {
		cfg.Trees = 1
	}
	if cfg.MinSamplesLeaf <= 0 {
		cfg.MinSamplesLeaf = 1
	}
	maxFeatures := cfg.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > nFeatures {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures)))))
	}
	params := treeParams{
		maxDepth:       cfg.MaxDepth,
		minSamplesLeaf: cfg.MinSamplesLeaf,
		maxFeatures:    maxFeatures,
	}

	master := rand.New(rand.NewSource(cfg.Seed))
	forest := &Forest{
		Trees:       make([]*Tree, 0, cfg.Trees),
		NFeatures:   nFeatures,
		Importances: make([]float64, nFeatures),
	}

	n := len(X)
	draws := make([]int, n)
	for t := 0; t < cfg.Trees; t++ {
		rng := rand.New(rand.NewSource(master.Int63()))

		for i := range draws {
			draws[i] = 0
		}
		for i := 0; i < n; i++ {
			draws[rng.Intn(n)]++
		}

		weights := make([]float64, n)
		idx := make([]int, 0, n)
		for i, c := range draws {
			if c == 0 {
				continue
			}
			weights[i] = float64(c) * classWeight[y[i]]
			idx = append(idx, i)
		}

		tree, imp := growTree(X, y, weights, idx, params, rng)
		forest.Trees = append(forest.Trees, tree)
		addNormalized(forest.Importances, imp)
	}

	for i := range forest.Importances {
		forest.Importances[i] /= float64(len(forest.Trees))
	}
	normalize(forest.Importances)
	return forest, nil
}

// PredictProba returns P(verified) for each row
func (f *Forest) PredictProba(X []model.FeatureVector) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		if len(row) != f.NFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrWidthMismatch, i, len(row), f.NFeatures)
		}
		sum := 0.0
		for _, t := range f.Trees {
			sum += t.Proba(row)
		}
		out[i] = sum / float64(len(f.Trees))
	}
	return out, nil
}

// Predict returns hard labels; a probability of exactly 0.5 resolves to 0
func (f *Forest) Predict(X []model.FeatureVector) ([]int, error) {
	proba, err := f.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(proba))
	for i, p := range proba {
		if p > 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}

func addNormalized(dst, src []float64) {
	total := 0.0
	for _, v := range src {
		total += v
	}
	if total <= 0 {
		return
	}
	for i, v := range src {
		dst[i] += v / total
	}
}

func normalize(v []float64) {
	total := 0.0
	for _, x := range v {
		total += x
	}
	if total <= 0 {
		return
	}
	for i := range v {
		v[i] /= total
	}
}
