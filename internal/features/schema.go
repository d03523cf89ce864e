// Package features derives per-report temporal feature vectors.
//
// A Schema fixes the column order and ratio normalization for one model. The
// same Schema value travels with the trained model so that scoring always
// produces vectors in the order the classifier was fit on.
package features

import (
	"fmt"
	"math"

	"github.com/ppiankov/outagelens/internal/model"
)

// Column names
const (
	ColClusterSize      = "cluster_size"
	ColClusterFrequency = "cluster_frequency"
	ColInterArrival     = "inter_arrival"
	ColCount1h          = "count_1h"
	ColHour             = "hour"
	ColWeekday          = "weekday"
	ColCount1hZ         = "count_1h_z"
	ColRatioNorm        = "ratio_norm"
)

// SchemaName identifies the temporal feature family
const SchemaName = "temporal"

// RatioNorm selects how severity ratios are squashed into [0, 1]
type RatioNorm string

const (
	// RatioSigmoid applies the logistic function per report
	RatioSigmoid RatioNorm = "sigmoid"

	// RatioMinMax rescales with bounds fitted on the training batch
	RatioMinMax RatioNorm = "minmax"
)

// ParseRatioNorm validates a normalization name
func ParseRatioNorm(s string) (RatioNorm, error) {
	switch RatioNorm(s) {
	case RatioSigmoid, RatioMinMax:
		return RatioNorm(s), nil
	default:
		return "", fmt.Errorf("unknown ratio normalization %q (supported: sigmoid, minmax)", s)
	}
}

// Schema is the versioned, ordered feature contract shared by engineer and classifier
type Schema struct {
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Columns   []string  `json:"columns"`
	RatioNorm RatioNorm `json:"ratio_norm"`
	RatioMin  float64   `json:"ratio_min,omitempty"`
	RatioMax  float64   `json:"ratio_max,omitempty"`
	Fitted    bool      `json:"fitted"` // min-max bounds have been learned
}

// V1 returns the full version 1 schema
func V1(norm RatioNorm) Schema {
	return Schema{
		Name:    SchemaName,
		Version: 1,
		Columns: []string{
			ColClusterSize,
			ColClusterFrequency,
			ColInterArrival,
			ColCount1h,
			ColHour,
			ColWeekday,
			ColCount1hZ,
			ColRatioNorm,
		},
		RatioNorm: norm,
	}
}

// ID renders a compact identifier such as "temporal/v1/minmax/8"
func (s Schema) ID() string {
	return fmt.Sprintf("%s/v%d/%s/%d", s.Name, s.Version, s.RatioNorm, len(s.Columns))
}

// Len returns the number of columns
func (s Schema) Len() int {
	return len(s.Columns)
}

// Index returns the position of a column, or -1
func (s Schema) Index(col string) int {
	for i, c := range s.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Select returns a schema restricted to cols, kept in this schema's order
func (s Schema) Select(cols []string) (Schema, error) {
	want := make(map[string]bool, len(cols))
	for _, c := range cols {
		if s.Index(c) < 0 {
			return Schema{}, fmt.Errorf("column %q not in schema %s", c, s.ID())
		}
		want[c] = true
	}

	out := s
	out.Columns = make([]string, 0, len(cols))
	for _, c := range s.Columns {
		if want[c] {
			out.Columns = append(out.Columns, c)
		}
	}
	return out, nil
}

// Project re-lays rows built under from into the column order of to
func Project(rows []model.FeatureVector, from, to Schema) ([]model.FeatureVector, error) {
	pos := make([]int, len(to.Columns))
	for j, c := range to.Columns {
		pos[j] = from.Index(c)
		if pos[j] < 0 {
			return nil, fmt.Errorf("column %q not in schema %s", c, from.ID())
		}
	}

	out := make([]model.FeatureVector, len(rows))
	for i, row := range rows {
		if len(row) != from.Len() {
			return nil, fmt.Errorf("row %d has %d values, schema %s has %d", i, len(row), from.ID(), from.Len())
		}
		projected := make(model.FeatureVector, len(pos))
		for j, p := range pos {
			projected[j] = row[p]
		}
		out[i] = projected
	}
	return out, nil
}

// FitRatio learns min-max bounds from training severity ratios.
// Sigmoid schemas are returned unchanged.
func (s Schema) FitRatio(ratios []float64) Schema {
	if s.RatioNorm != RatioMinMax {
		return s
	}
	out := s
	out.Columns = append([]string(nil), s.Columns...)
	out.RatioMin, out.RatioMax = minMax(ratios)
	out.Fitted = true
	return out
}

// NormalizeRatio maps one severity ratio into [0, 1].
// Absent severity (0) always maps to 0.
func (s Schema) NormalizeRatio(ratio, batchMin, batchMax float64) float64 {
	if ratio == 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0
	}

	switch s.RatioNorm {
	case RatioSigmoid:
		return 1 / (1 + math.Exp(-ratio))
	default:
		lo, hi := batchMin, batchMax
		if s.Fitted {
			lo, hi = s.RatioMin, s.RatioMax
		}
		if hi-lo <= 0 {
			return 0
		}
		v := (ratio - lo) / (hi - lo)
		return math.Max(0, math.Min(1, v))
	}
}

func minMax(values []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return 0, 0
	}
	return lo, hi
}
