// Package cluster groups reports into temporal bursts with density-based
// clustering on the timestamp axis.
package cluster

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/ppiankov/outagelens/internal/model"
)

const (
	// DefaultEps is the neighborhood radius in seconds
	DefaultEps int64 = 3600

	// DefaultMinPoints is the neighborhood size, counting the point itself, that makes a core point
	DefaultMinPoints = 3
)

// Clusterer runs DBSCAN over 1-D timestamps
type Clusterer struct {
	eps       int64
	minPoints int
}

// NewClusterer creates a new clusterer. Non-positive values fall back to defaults.
func NewClusterer(eps int64, minPoints int) *Clusterer {
	if eps <= 0 {
		eps = DefaultEps
	}
	if minPoints <= 0 {
		minPoints = DefaultMinPoints
	}
	return &Clusterer{eps: eps, minPoints: minPoints}
}

// Result holds one label per input timestamp plus the cluster roster
type Result struct {
	Labels   []int           `json:"labels"`
	Clusters []model.Cluster `json:"clusters"`
}

// SizeOf returns the size of the cluster with the given id, or 0 if absent
func (r Result) SizeOf(id int) int {
	for _, c := range r.Clusters {
		if c.ID == id {
			return c.Size
		}
	}
	return 0
}

// ByID indexes the roster by cluster id
func (r Result) ByID() map[int]model.Cluster {
	m := make(map[int]model.Cluster, len(r.Clusters))
	for _, c := range r.Clusters {
		m[c.ID] = c
	}
	return m
}

// Fit clusters timestamps. Labels are aligned with the input; ids are assigned
// in ascending time order so the result does not depend on input order.
func (c *Clusterer) Fit(timestamps []int64) Result {
	n := len(timestamps)
	if n == 0 {
		return Result{Labels: []int{}, Clusters: []model.Cluster{}}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return timestamps[order[a]] < timestamps[order[b]]
	})

	sorted := make([]int64, n)
	for i, idx := range order {
		sorted[i] = timestamps[idx]
	}

	core := c.corePoints(sorted)

	// Chain core points whose successive gaps are within eps
	labels := make([]int, n) // in sorted order
	for i := range labels {
		labels[i] = model.NoiseCluster
	}
	next := 0
	lastCore := -1
	for i := 0; i < n; i++ {
		if !core[i] {
			continue
		}
		if lastCore >= 0 && sorted[i]-sorted[lastCore] <= c.eps {
			labels[i] = labels[lastCore]
		} else {
			labels[i] = next
			next++
		}
		lastCore = i
	}

	c.assignBorders(sorted, core, labels)

	out := make([]int, n)
	for i, idx := range order {
		out[idx] = labels[i]
	}

	return Result{
		Labels:   out,
		Clusters: Summarize(timestamps, out),
	}
}

// FitWithGaps clusters timestamps where present[i] is false for missing values.
// Missing values are imputed with the median of present ones for clustering only.
func (c *Clusterer) FitWithGaps(timestamps []int64, present []bool) Result {
	filled := make([]int64, len(timestamps))
	var known []int64
	for i, ts := range timestamps {
		if i < len(present) && present[i] {
			known = append(known, ts)
		}
	}
	median := medianInt64(known)
	for i, ts := range timestamps {
		if i < len(present) && present[i] {
			filled[i] = ts
		} else {
			filled[i] = median
		}
	}
	return c.Fit(filled)
}

// corePoints marks points whose inclusive eps-neighborhood holds at least minPoints points
func (c *Clusterer) corePoints(sorted []int64) []bool {
	n := len(sorted)
	core := make([]bool, n)
	lo, hi := 0, 0
	for i := 0; i < n; i++ {
		for sorted[i]-sorted[lo] > c.eps {
			lo++
		}
		if hi < i {
			hi = i
		}
		for hi+1 < n && sorted[hi+1]-sorted[i] <= c.eps {
			hi++
		}
		core[i] = hi-lo+1 >= c.minPoints
	}
	return core
}

// assignBorders attaches non-core points to the cluster of the nearest core point
// within eps. Equidistant cores resolve to the earlier one.
func (c *Clusterer) assignBorders(sorted []int64, core []bool, labels []int) {
	n := len(sorted)
	prevCore := make([]int, n)
	last := -1
	for i := 0; i < n; i++ {
		if core[i] {
			last = i
		}
		prevCore[i] = last
	}
	nextCore := make([]int, n)
	last = -1
	for i := n - 1; i >= 0; i-- {
		if core[i] {
			last = i
		}
		nextCore[i] = last
	}

	for i := 0; i < n; i++ {
		if core[i] {
			continue
		}
		best := -1
		var bestDist int64
		if p := prevCore[i]; p >= 0 && sorted[i]-sorted[p] <= c.eps {
			best, bestDist = p, sorted[i]-sorted[p]
		}
		if q := nextCore[i]; q >= 0 && sorted[q]-sorted[i] <= c.eps {
			if best < 0 || sorted[q]-sorted[i] < bestDist {
				best = q
			}
		}
		if best >= 0 {
			labels[i] = labels[best]
		}
	}
}

// Summarize builds the cluster roster for labels, including the noise
// pseudo-cluster when it has members. Member dates are UTC calendar days.
func Summarize(timestamps []int64, labels []int) []model.Cluster {
	sizes := make(map[int]int)
	days := make(map[int]map[civil.Date]bool)
	for i, id := range labels {
		sizes[id]++
		if days[id] == nil {
			days[id] = make(map[civil.Date]bool)
		}
		days[id][civil.DateOf(time.Unix(timestamps[i], 0).UTC())] = true
	}

	ids := make([]int, 0, len(sizes))
	for id := range sizes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	clusters := make([]model.Cluster, 0, len(ids))
	for _, id := range ids {
		dates := make([]civil.Date, 0, len(days[id]))
		for d := range days[id] {
			dates = append(dates, d)
		}
		sort.Slice(dates, func(a, b int) bool { return dates[a].Before(dates[b]) })

		distinct := len(dates)
		if distinct < 1 {
			distinct = 1
		}
		clusters = append(clusters, model.Cluster{
			ID:          id,
			Size:        sizes[id],
			MemberDates: dates,
			Frequency:   float64(sizes[id]) / float64(distinct),
		})
	}
	return clusters
}

func medianInt64(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a] < sorted[b] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
