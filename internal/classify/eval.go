package classify

import (
	"github.com/ppiankov/outagelens/internal/model"
)

// Evaluate computes held-out metrics for binary labels.
// Zero divisions yield 0; balanced accuracy averages recall over classes present in yTrue.
func Evaluate(yTrue, yPred []int) model.EvalMetrics {
	var m model.EvalMetrics
	n := len(yTrue)
	if len(yPred) < n {
		n = len(yPred)
	}
	if n == 0 {
		return m
	}

	correct := 0
	for i := 0; i < n; i++ {
		t, p := clamp01(yTrue[i]), clamp01(yPred[i])
		m.Confusion[t][p]++
		if t == p {
			correct++
		}
	}
	m.Accuracy = float64(correct) / float64(n)

	recallSum, present := 0.0, 0
	for c := 0; c < 2; c++ {
		tp := m.Confusion[c][c]
		support := m.Confusion[c][0] + m.Confusion[c][1]
		predicted := m.Confusion[0][c] + m.Confusion[1][c]

		cm := model.ClassMetrics{
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, support),
			Support:   support,
		}
		if cm.Precision+cm.Recall > 0 {
			cm.F1 = 2 * cm.Precision * cm.Recall / (cm.Precision + cm.Recall)
		}
		m.Classes[c] = cm

		if support > 0 {
			recallSum += cm.Recall
			present++
		}
	}
	if present > 0 {
		m.BalancedAccuracy = recallSum / float64(present)
	}
	return m
}

// BalancedAccuracy is the mean per-class recall
func BalancedAccuracy(yTrue, yPred []int) float64 {
	return Evaluate(yTrue, yPred).BalancedAccuracy
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func clamp01(v int) int {
	if v != 0 {
		return 1
	}
	return 0
}
