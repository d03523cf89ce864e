package features

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ppiankov/outagelens/internal/cluster"
	"github.com/ppiankov/outagelens/internal/model"
)

// ErrLengthMismatch is returned when cluster labels do not line up with reports
var ErrLengthMismatch = errors.New("cluster labels do not match reports")

const (
	// DefaultWindow is the trailing count window in seconds
	DefaultWindow int64 = 3600

	// DefaultGap is the inter-arrival value used when a batch has no positive median gap
	DefaultGap = 3600.0
)

// Engineer computes temporal features for a batch of reports
type Engineer struct {
	window     int64
	defaultGap float64
}

// NewEngineer creates a new feature engineer. Non-positive values fall back to defaults.
func NewEngineer(windowSeconds int64, defaultGap float64) *Engineer {
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindow
	}
	if defaultGap <= 0 {
		defaultGap = DefaultGap
	}
	return &Engineer{window: windowSeconds, defaultGap: defaultGap}
}

// Frame holds every base column for a batch, index-aligned with the input reports
type Frame struct {
	n       int
	columns map[string][]float64
}

// Len returns the number of rows
func (f *Frame) Len() int {
	return f.n
}

// Column returns a copy of one column
func (f *Frame) Column(name string) []float64 {
	col, ok := f.columns[name]
	if !ok {
		return nil
	}
	return append([]float64(nil), col...)
}

// Matrix projects the frame onto schema's column order
func (f *Frame) Matrix(schema Schema) ([]model.FeatureVector, error) {
	cols := make([][]float64, len(schema.Columns))
	for j, name := range schema.Columns {
		col, ok := f.columns[name]
		if !ok {
			return nil, fmt.Errorf("unknown feature column %q", name)
		}
		cols[j] = col
	}

	rows := make([]model.FeatureVector, f.n)
	for i := 0; i < f.n; i++ {
		row := make(model.FeatureVector, len(cols))
		for j, col := range cols {
			row[j] = finite(col[i])
		}
		rows[i] = row
	}
	return rows, nil
}

// Compute derives all base columns. schema decides the ratio normalization;
// an unfitted min-max schema normalizes across this batch.
func (e *Engineer) Compute(schema Schema, reports []model.Report, clusters cluster.Result) (*Frame, error) {
	n := len(reports)
	if len(clusters.Labels) != n {
		return nil, fmt.Errorf("%w: %d labels for %d reports", ErrLengthMismatch, len(clusters.Labels), n)
	}

	frame := &Frame{n: n, columns: make(map[string][]float64, 8)}
	if n == 0 {
		for _, c := range V1(schema.RatioNorm).Columns {
			frame.columns[c] = []float64{}
		}
		return frame, nil
	}

	ts := make([]int64, n)
	ratios := make([]float64, n)
	for i, r := range reports {
		ts[i] = r.Timestamp
		ratios[i] = r.SeverityRatio
	}

	ratioNorm := RatioColumn(schema, ratios)

	roster := clusters.ByID()
	size := make([]float64, n)
	freq := make([]float64, n)
	for i, label := range clusters.Labels {
		c := roster[label]
		bias := 0.0
		if ratios[i] >= 1 {
			bias = ratioNorm[i]
		}
		size[i] = float64(c.Size) + bias
		freq[i] = c.Frequency
	}

	counts := e.trailingCounts(ts)
	hour := make([]float64, n)
	weekday := make([]float64, n)
	for i, t := range ts {
		u := time.Unix(t, 0).UTC()
		hour[i] = float64(u.Hour())
		weekday[i] = float64((int(u.Weekday()) + 6) % 7) // Monday = 0
	}

	frame.columns[ColClusterSize] = size
	frame.columns[ColClusterFrequency] = freq
	frame.columns[ColInterArrival] = e.interArrival(reports)
	frame.columns[ColCount1h] = counts
	frame.columns[ColHour] = hour
	frame.columns[ColWeekday] = weekday
	frame.columns[ColCount1hZ] = zscore(counts)
	frame.columns[ColRatioNorm] = ratioNorm
	return frame, nil
}

// Transform computes features and projects them onto schema in one step
func (e *Engineer) Transform(schema Schema, reports []model.Report, clusters cluster.Result) ([]model.FeatureVector, error) {
	frame, err := e.Compute(schema, reports, clusters)
	if err != nil {
		return nil, err
	}
	return frame.Matrix(schema)
}

// RatioColumn normalizes a batch of severity ratios under schema
func RatioColumn(schema Schema, ratios []float64) []float64 {
	lo, hi := minMax(ratios)
	out := make([]float64, len(ratios))
	for i, r := range ratios {
		out[i] = schema.NormalizeRatio(r, lo, hi)
	}
	return out
}

// interArrival returns the gap to the previous report in time order.
// The earliest report gets the batch median gap.
func (e *Engineer) interArrival(reports []model.Report) []float64 {
	n := len(reports)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := reports[order[a]], reports[order[b]]
		if ra.Timestamp != rb.Timestamp {
			return ra.Timestamp < rb.Timestamp
		}
		return ra.Index < rb.Index
	})

	out := make([]float64, n)
	gaps := make([]float64, 0, n)
	for k := 1; k < n; k++ {
		gap := float64(reports[order[k]].Timestamp - reports[order[k-1]].Timestamp)
		out[order[k]] = gap
		gaps = append(gaps, gap)
	}

	first := median(gaps)
	if first <= 0 {
		first = e.defaultGap
	}
	out[order[0]] = first
	return out
}

// trailingCounts counts reports in (t-window, t], same-timestamp peers included
func (e *Engineer) trailingCounts(ts []int64) []float64 {
	sorted := append([]int64(nil), ts...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a] < sorted[b] })

	out := make([]float64, len(ts))
	for i, t := range ts {
		upper := sort.Search(len(sorted), func(k int) bool { return sorted[k] > t })
		lower := sort.Search(len(sorted), func(k int) bool { return sorted[k] > t-e.window })
		out[i] = float64(upper - lower)
	}
	return out
}

// zscore standardizes with the population standard deviation; zero spread yields zeros
func zscore(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(values)))
	if std < 1e-12 {
		return out
	}

	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
