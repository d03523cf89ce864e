// Package score combines classifier confidence with normalized severity and
// picks the single best incident candidate per provider.
package score

import (
	"fmt"
	"math"
	"sort"

	"github.com/ppiankov/outagelens/internal/model"
)

// DefaultAlpha weights classifier probability against severity
const DefaultAlpha = 0.5

// DefaultMinSeverityRatio drops candidates whose severity ratio is below normal
const DefaultMinSeverityRatio = 1.0

// imbalanceShare is the minority share below which training labels are flagged
const imbalanceShare = 0.2

// tieEpsilon is the largest combined-score gap still treated as a tie
const tieEpsilon = 1e-12

// Scorer ranks candidates and generates signals
type Scorer struct {
	alpha       float64
	minSeverity float64
}

// NewScorer creates a new scorer. alpha outside [0, 1] falls back to DefaultAlpha;
// minSeverity 0 disables the severity filter.
func NewScorer(alpha, minSeverity float64) *Scorer {
	if alpha < 0 || alpha > 1 || math.IsNaN(alpha) {
		alpha = DefaultAlpha
	}
	if minSeverity < 0 || math.IsNaN(minSeverity) {
		minSeverity = 0
	}
	return &Scorer{alpha: alpha, minSeverity: minSeverity}
}

// Combine returns alpha*p + (1-alpha)*ratioNorm
func (s *Scorer) Combine(p, ratioNorm float64) float64 {
	return s.alpha*p + (1-s.alpha)*ratioNorm
}

// Calculate scores every report, ranks the qualifying candidates and explains the
// outcome with signals. proba and ratioNorm are index-aligned with reports.
func (s *Scorer) Calculate(reports []model.Report, proba, ratioNorm []float64) (model.Score, error) {
	if len(proba) != len(reports) || len(ratioNorm) != len(reports) {
		return model.Score{}, fmt.Errorf("score: %d reports, %d probabilities, %d ratios",
			len(reports), len(proba), len(ratioNorm))
	}

	// 1. Build candidates, filtering on severity
	candidates := make([]model.Candidate, 0, len(reports))
	filtered := 0
	for i, r := range reports {
		if s.minSeverity > 0 && r.SeverityRatio < s.minSeverity {
			filtered++
			continue
		}
		candidates = append(candidates, model.Candidate{
			Index:       i,
			Report:      r,
			Probability: proba[i],
			RatioNorm:   ratioNorm[i],
			Combined:    s.Combine(proba[i], ratioNorm[i]),
		})
	}

	// 2. Rank
	Rank(candidates)

	result := model.Score{Ranked: candidates}
	if len(candidates) == 0 {
		result.Signals = append(result.Signals, model.Signal{
			Type:        model.SignalNoCandidates,
			Severity:    model.SeverityWarning,
			Description: fmt.Sprintf("No candidate reached severity ratio %.2f (%d reports considered)", s.minSeverity, len(reports)),
			Data: map[string]interface{}{
				"reports":            len(reports),
				"filtered":           filtered,
				"min_severity_ratio": s.minSeverity,
			},
		})
		return result, nil
	}

	// 3. Explain the winner
	best := candidates[0]
	result.Best = &best
	result.Signals = append(result.Signals, s.combinedSignal(best, len(candidates), filtered))

	if sig, ok := s.severityBias(candidates); ok {
		result.Signals = append(result.Signals, sig)
	}
	return result, nil
}

// Rank orders candidates by combined score descending; scores within tieEpsilon
// tie and keep the lowest index first
func Rank(candidates []model.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if math.Abs(candidates[i].Combined-candidates[j].Combined) > tieEpsilon {
			return candidates[i].Combined > candidates[j].Combined
		}
		return candidates[i].Index < candidates[j].Index
	})
}

func (s *Scorer) combinedSignal(best model.Candidate, ranked, filtered int) model.Signal {
	severity := model.SeverityInfo
	if best.Probability <= 0.5 {
		severity = model.SeverityWarning
	}
	return model.Signal{
		Type:        model.SignalCombinedScore,
		Severity:    severity,
		Description: fmt.Sprintf("Best candidate #%d scored %.3f (p=%.3f, ratio_norm=%.3f)", best.Index, best.Combined, best.Probability, best.RatioNorm),
		Data: map[string]interface{}{
			"index":       best.Index,
			"probability": best.Probability,
			"ratio_norm":  best.RatioNorm,
			"combined":    best.Combined,
			"alpha":       s.alpha,
			"ranked":      ranked,
			"filtered":    filtered,
			"formula":     "alpha * p_verified + (1 - alpha) * ratio_norm",
		},
	}
}

// severityBias reports how many candidates had severity folded into cluster_size
func (s *Scorer) severityBias(candidates []model.Candidate) (model.Signal, bool) {
	biased := 0
	for _, c := range candidates {
		if c.Report.SeverityRatio >= 1 {
			biased++
		}
	}
	if biased == 0 {
		return model.Signal{}, false
	}
	return model.Signal{
		Type:        model.SignalSeverityBias,
		Severity:    model.SeverityInfo,
		Description: fmt.Sprintf("%d/%d candidates carry a severity bias on cluster_size", biased, len(candidates)),
		Data: map[string]interface{}{
			"biased":  biased,
			"total":   len(candidates),
			"formula": "cluster_size = size + (ratio_norm if severity_ratio >= 1 else 0)",
		},
	}, true
}

// Dropped explains malformed records discarded during normalization
func Dropped(drops map[model.Source]int) (model.Signal, bool) {
	total := 0
	data := make(map[string]interface{}, len(drops)+1)
	for src, n := range drops {
		total += n
		data[string(src)] = n
	}
	if total == 0 {
		return model.Signal{}, false
	}
	data["total"] = total
	return model.Signal{
		Type:        model.SignalDroppedRecords,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("%d malformed record(s) dropped during normalization", total),
		Data:        data,
	}, true
}

// Imbalance flags training labels whose minority class is under 20%
func Imbalance(y []int) (model.Signal, bool) {
	if len(y) == 0 {
		return model.Signal{}, false
	}
	positives := 0
	for _, label := range y {
		if label == 1 {
			positives++
		}
	}
	minority := positives
	if len(y)-positives < minority {
		minority = len(y) - positives
	}
	share := float64(minority) / float64(len(y))
	if share >= imbalanceShare {
		return model.Signal{}, false
	}

	severity := model.SeverityWarning
	if minority < 2 {
		severity = model.SeverityCritical
	}
	return model.Signal{
		Type:        model.SignalClassImbalance,
		Severity:    severity,
		Description: fmt.Sprintf("Minority class is %.1f%% of %d training reports", share*100, len(y)),
		Data: map[string]interface{}{
			"positives": positives,
			"negatives": len(y) - positives,
			"share":     share,
		},
	}, true
}

// TrackerSpike flags an outage tracker report count at or above threshold.
// A threshold of 0 disables the check.
func TrackerSpike(provider model.Provider, count, threshold int) (model.Signal, bool) {
	if threshold <= 0 || count < threshold {
		return model.Signal{}, false
	}
	return model.Signal{
		Type:        model.SignalTrackerSpike,
		Severity:    model.SeverityCritical,
		Description: fmt.Sprintf("%s outage tracker shows %d reports (threshold %d)", provider, count, threshold),
		Data: map[string]interface{}{
			"count":     count,
			"threshold": threshold,
		},
	}, true
}
