package model

import (
	"fmt"
	"math/rand"
	"sort"
)

// Params are the gradient boosting hyperparameters.
type Params struct {
	NEstimators     int     `json:"n_estimators"`
	LearningRate    float64 `json:"learning_rate"`
	MaxDepth        int     `json:"max_depth"`
	MinSamplesSplit int     `json:"min_samples_split"`
	MinSamplesLeaf  int     `json:"min_samples_leaf"`
	Subsample       float64 `json:"subsample"`
	Seed            int64   `json:"seed"`
}

// DefaultParams returns the production hyperparameters.
func DefaultParams() Params {
	return Params{
		NEstimators:     100,
		LearningRate:    0.1,
		MaxDepth:        5,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Subsample:       1.0,
		Seed:            42,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.NEstimators <= 0 {
		p.NEstimators = d.NEstimators
	}
	if p.LearningRate <= 0 {
		p.LearningRate = d.LearningRate
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = d.MaxDepth
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = d.MinSamplesSplit
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = d.MinSamplesLeaf
	}
	if p.Subsample <= 0 || p.Subsample > 1 {
		p.Subsample = d.Subsample
	}
	return p
}

// node is one entry of a flattened regression tree. Leaves have Left == -1.
type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

type tree []node

func (t tree) predict(x []float64) float64 {
	i := 0
	for t[i].Left >= 0 {
		if x[t[i].Feature] <= t[i].Threshold {
			i = t[i].Left
		} else {
			i = t[i].Right
		}
	}
	return t[i].Value
}

// GradientBoosting is a least-squares gradient boosted ensemble of regression
// trees.
type GradientBoosting struct {
	NFeatures    int     `json:"n_features"`
	Init         float64 `json:"init"`
	LearningRate float64 `json:"learning_rate"`
	Trees        []tree  `json:"trees"`
}

// FitGradientBoosting trains a fresh ensemble on x (already scaled) and y.
func FitGradientBoosting(x [][]float64, y []float64, p Params) (*GradientBoosting, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("fit: %d rows and %d targets", len(x), len(y))
	}
	p = p.withDefaults()
	dim := len(x[0])

	var init float64
	for _, v := range y {
		init += v
	}
	init /= float64(len(y))

	g := &GradientBoosting{NFeatures: dim, Init: init, LearningRate: p.LearningRate}

	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = init
	}
	residual := make([]float64, len(y))
	rng := rand.New(rand.NewSource(p.Seed))
	all := make([]int, len(y))
	for i := range all {
		all[i] = i
	}

	b := &treeBuilder{x: x, residual: residual, p: p}
	for m := 0; m < p.NEstimators; m++ {
		for i := range residual {
			residual[i] = y[i] - pred[i]
		}

		idx := all
		if p.Subsample < 1 {
			n := int(p.Subsample * float64(len(all)))
			if n < 1 {
				n = 1
			}
			idx = rng.Perm(len(all))[:n]
			sort.Ints(idx)
		}

		t := b.build(idx)
		g.Trees = append(g.Trees, t)
		for i := range pred {
			pred[i] += p.LearningRate * t.predict(x[i])
		}
	}
	return g, nil
}

// Predict returns the ensemble output for one scaled feature vector.
func (g *GradientBoosting) Predict(x []float64) (float64, error) {
	if len(x) != g.NFeatures {
		return 0, fmt.Errorf("regressor expects %d features, got %d: %w", g.NFeatures, len(x), ErrDimensionMismatch)
	}
	out := g.Init
	for _, t := range g.Trees {
		out += g.LearningRate * t.predict(x)
	}
	return out, nil
}

// validTrees reports whether every node index and feature is in range.
func (g *GradientBoosting) validTrees() bool {
	for _, t := range g.Trees {
		if len(t) == 0 {
			return false
		}
		for _, n := range t {
			if n.Left < 0 {
				continue
			}
			if n.Left >= len(t) || n.Right < 0 || n.Right >= len(t) || n.Feature < 0 || n.Feature >= g.NFeatures {
				return false
			}
		}
	}
	return true
}

type treeBuilder struct {
	x        [][]float64
	residual []float64
	p        Params
	nodes    tree
}

func (b *treeBuilder) build(idx []int) tree {
	b.nodes = nil
	b.grow(idx, 0)
	return b.nodes
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	var sum float64
	for _, i := range idx {
		sum += b.residual[i]
	}
	self := len(b.nodes)
	b.nodes = append(b.nodes, node{Left: -1, Right: -1, Value: sum / float64(len(idx))})

	if depth >= b.p.MaxDepth || len(idx) < b.p.MinSamplesSplit {
		return self
	}

	feature, threshold, ok := b.bestSplit(idx, sum)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self].Feature = feature
	b.nodes[self].Threshold = threshold
	b.nodes[self].Left = l
	b.nodes[self].Right = r
	return self
}

// bestSplit scans every feature for the midpoint threshold that most reduces
// squared error. Ties keep the first candidate found, so the result only
// depends on the data order.
func (b *treeBuilder) bestSplit(idx []int, total float64) (int, float64, bool) {
	n := len(idx)
	baseline := total * total / float64(n)
	bestGain := 1e-12
	bestFeature, bestThreshold, found := 0, 0.0, false

	sorted := make([]int, n)
	dim := len(b.x[idx[0]])
	for f := 0; f < dim; f++ {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool {
			return b.x[sorted[a]][f] < b.x[sorted[c]][f]
		})

		var leftSum float64
		for k := 1; k < n; k++ {
			leftSum += b.residual[sorted[k-1]]
			lo, hi := b.x[sorted[k-1]][f], b.x[sorted[k]][f]
			if lo == hi {
				continue
			}
			if k < b.p.MinSamplesLeaf || n-k < b.p.MinSamplesLeaf {
				continue
			}
			rightSum := total - leftSum
			gain := leftSum*leftSum/float64(k) + rightSum*rightSum/float64(n-k) - baseline
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = (lo + hi) / 2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}
