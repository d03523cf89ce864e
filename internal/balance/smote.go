// Package balance oversamples the minority class of a training split.
package balance

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/ppiankov/outagelens/internal/model"
)

// ErrLengthMismatch is returned when features and labels differ in length
var ErrLengthMismatch = errors.New("features and labels differ in length")

// DefaultNeighbors is the number of nearest minority neighbors considered
const DefaultNeighbors = 5

// SMOTE synthesizes minority samples by interpolating toward nearest minority neighbors
type SMOTE struct {
	neighbors int
	seed      int64
}

// NewSMOTE creates a new oversampler
func NewSMOTE(neighbors int, seed int64) *SMOTE {
	if neighbors <= 0 {
		neighbors = DefaultNeighbors
	}
	return &SMOTE{neighbors: neighbors, seed: seed}
}

// Stats describes what a resample did
type Stats struct {
	Minority  int `json:"minority"`  // Minority class label
	Before    int `json:"before"`    // Minority count before
	Synthetic int `json:"synthetic"` // Samples generated
}

// Resample returns the original samples followed by synthetic minority samples
// until both classes have the same count. Inputs are never modified.
func (s *SMOTE) Resample(X []model.FeatureVector, y []int) ([]model.FeatureVector, []int, Stats, error) {
	if len(X) != len(y) {
		return nil, nil, Stats{}, fmt.Errorf("%w: %d rows, %d labels", ErrLengthMismatch, len(X), len(y))
	}

	outX := make([]model.FeatureVector, len(X), len(X)*2)
	for i, row := range X {
		outX[i] = append(model.FeatureVector(nil), row...)
	}
	outY := append(make([]int, 0, len(y)*2), y...)

	counts := map[int]int{}
	for _, label := range y {
		counts[label]++
	}
	if len(counts) != 2 {
		return outX, outY, Stats{}, nil
	}

	minority, majority := 0, 1
	if counts[1] < counts[0] {
		minority, majority = 1, 0
	}
	stats := Stats{Minority: minority, Before: counts[minority]}

	need := counts[majority] - counts[minority]
	if need <= 0 || counts[minority] < 2 {
		return outX, outY, stats, nil
	}

	var members []int
	for i, label := range y {
		if label == minority {
			members = append(members, i)
		}
	}

	k := s.neighbors
	if k > len(members)-1 {
		k = len(members) - 1
	}
	nn := nearest(X, members, k)

	rng := rand.New(rand.NewSource(s.seed))
	for n := 0; n < need; n++ {
		a := rng.Intn(len(members))
		b := nn[a][rng.Intn(k)]
		gap := rng.Float64()

		base, toward := X[members[a]], X[members[b]]
		synthetic := make(model.FeatureVector, len(base))
		for j := range base {
			synthetic[j] = base[j] + gap*(toward[j]-base[j])
		}
		outX = append(outX, synthetic)
		outY = append(outY, minority)
	}

	stats.Synthetic = need
	return outX, outY, stats, nil
}

// nearest returns, for each member, the positions (within members) of its k nearest other members.
// Equal distances resolve to the lower position.
func nearest(X []model.FeatureVector, members []int, k int) [][]int {
	out := make([][]int, len(members))
	for a := range members {
		type cand struct {
			pos  int
			dist float64
		}
		cands := make([]cand, 0, len(members)-1)
		for b := range members {
			if a == b {
				continue
			}
			cands = append(cands, cand{pos: b, dist: sqDist(X[members[a]], X[members[b]])})
		}
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })

		out[a] = make([]int, k)
		for i := 0; i < k; i++ {
			out[a][i] = cands[i].pos
		}
	}
	return out
}

func sqDist(a, b model.FeatureVector) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
