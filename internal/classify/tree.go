package classify

import (
	"math"
	"math/rand"
	"sort"

	"github.com/ppiankov/outagelens/internal/model"
)

// Node is one node of a binary decision tree. Leaves have Left == Right == -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"` // Weighted share of class 1 at this node
}

// Tree is a CART classifier for labels {0, 1} grown with gini impurity
type Tree struct {
	Nodes     []Node `json:"nodes"`
	NFeatures int    `json:"n_features"`
}

type treeParams struct {
	maxDepth       int // 0 = unlimited
	minSamplesLeaf int
	maxFeatures    int
}

type grower struct {
	X           []model.FeatureVector
	y           []int
	w           []float64
	params      treeParams
	rng         *rand.Rand
	nodes       []Node
	importances []float64
}

// growTree fits a tree on the rows in idx with per-row weights w
func growTree(X []model.FeatureVector, y []int, w []float64, idx []int, params treeParams, rng *rand.Rand) (*Tree, []float64) {
	nFeatures := 0
	if len(X) > 0 {
		nFeatures = len(X[0])
	}
	g := &grower{
		X:           X,
		y:           y,
		w:           w,
		params:      params,
		rng:         rng,
		importances: make([]float64, nFeatures),
	}
	g.grow(idx, 0)
	return &Tree{Nodes: g.nodes, NFeatures: nFeatures}, g.importances
}

func (g *grower) grow(idx []int, depth int) int {
	w0, w1 := g.weights(idx)
	total := w0 + w1
	value := 0.0
	if total > 0 {
		value = w1 / total
	}

	id := len(g.nodes)
	g.nodes = append(g.nodes, Node{Feature: -1, Left: -1, Right: -1, Value: value})

	if w0 == 0 || w1 == 0 {
		return id
	}
	if g.params.maxDepth > 0 && depth >= g.params.maxDepth {
		return id
	}
	if len(idx) < 2*g.params.minSamplesLeaf {
		return id
	}

	feature, threshold, gain, ok := g.bestSplit(idx, total*gini(w0, w1))
	if !ok {
		return id
	}

	var left, right []int
	for _, i := range idx {
		if g.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	g.importances[feature] += gain

	l := g.grow(left, depth+1)
	r := g.grow(right, depth+1)
	g.nodes[id].Feature = feature
	g.nodes[id].Threshold = threshold
	g.nodes[id].Left = l
	g.nodes[id].Right = r
	return id
}

// bestSplit scans candidate features in random order and stops after
// maxFeatures non-constant features have been examined.
func (g *grower) bestSplit(idx []int, parentImpurity float64) (int, float64, float64, bool) {
	nFeatures := len(g.importances)
	order := g.rng.Perm(nFeatures)

	bestFeature, bestThreshold := -1, 0.0
	bestGain := 1e-12
	examined := 0
	sorted := make([]int, len(idx))

	for _, f := range order {
		if examined >= g.params.maxFeatures {
			break
		}
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, b int) bool {
			return g.X[sorted[a]][f] < g.X[sorted[b]][f]
		})
		if g.X[sorted[0]][f] == g.X[sorted[len(sorted)-1]][f] {
			continue
		}
		examined++

		t0, t1 := g.weights(sorted)
		var l0, l1 float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			if g.y[i] == 1 {
				l1 += g.w[i]
			} else {
				l0 += g.w[i]
			}

			cur, next := g.X[i][f], g.X[sorted[k+1]][f]
			if cur == next {
				continue
			}
			if k+1 < g.params.minSamplesLeaf || len(sorted)-k-1 < g.params.minSamplesLeaf {
				continue
			}

			r0, r1 := t0-l0, t1-l1
			child := (l0+l1)*gini(l0, l1) + (r0+r1)*gini(r0, r1)
			gain := parentImpurity - child
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
				if bestThreshold == next {
					bestThreshold = cur
				}
			}
		}
	}

	if bestFeature < 0 {
		return 0, 0, 0, false
	}
	return bestFeature, bestThreshold, bestGain, true
}

func (g *grower) weights(idx []int) (float64, float64) {
	var w0, w1 float64
	for _, i := range idx {
		if g.y[i] == 1 {
			w1 += g.w[i]
		} else {
			w0 += g.w[i]
		}
	}
	return w0, w1
}

func gini(w0, w1 float64) float64 {
	total := w0 + w1
	if total <= 0 {
		return 0
	}
	p0, p1 := w0/total, w1/total
	return 1 - p0*p0 - p1*p1
}

// Proba returns the class-1 share of the leaf x falls into
func (t *Tree) Proba(x model.FeatureVector) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	n := 0
	for {
		node := t.Nodes[n]
		if node.Left < 0 {
			return node.Value
		}
		if x[node.Feature] <= node.Threshold {
			n = node.Left
		} else {
			n = node.Right
		}
	}
}

// Depth returns the depth of the deepest leaf
func (t *Tree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(n int) int
	walk = func(n int) int {
		node := t.Nodes[n]
		if node.Left < 0 {
			return 0
		}
		return 1 + int(math.Max(float64(walk(node.Left)), float64(walk(node.Right))))
	}
	return walk(0)
}
