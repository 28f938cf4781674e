package trainer

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/cortexlab/fedhub/pkg/errdefs"
)

// TreeNode is one node of a decision tree, stored in a flat slice. Leaf
// nodes carry the weighted class distribution of their training samples.
type TreeNode struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Leaf      bool
	Dist      []float64 // normalized class distribution, leaves only
}

// Tree is a single CART-style decision tree.
type Tree struct {
	Nodes []TreeNode
}

// Forest is a random forest classifier. Exported fields keep it
// gob-encodable inside model artifacts.
type Forest struct {
	Trees       []Tree
	NumClasses  int
	NumFeatures int
}

// ForestConfig controls training.
type ForestConfig struct {
	Trees    int
	MaxDepth int
	MinLeaf  int
	Seed     int64
}

// DefaultForestConfig mirrors the production training parameters:
// 100 trees, generous depth, leaves down to a single sample.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{Trees: 100, MaxDepth: 32, MinLeaf: 1}
}

// TrainForest fits a forest on X/y with per-sample weights w. Bootstrap
// resampling is weighted, so a rating-3x sample is three times as likely to
// appear in each tree's bag.
func TrainForest(X [][]float64, y []int, w []float64, numClasses int, cfg ForestConfig) (*Forest, error) {
	n := len(X)
	if n == 0 || len(y) != n || len(w) != n {
		return nil, fmt.Errorf("%w: inconsistent training matrix", errdefs.ErrInvariant)
	}
	if numClasses < 1 {
		return nil, fmt.Errorf("%w: need at least one class", errdefs.ErrInvariant)
	}
	if cfg.Trees < 1 {
		cfg = DefaultForestConfig()
	}

	numFeatures := len(X[0])
	mtry := int(math.Sqrt(float64(numFeatures)))
	if mtry < 1 {
		mtry = 1
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	cum := cumulativeWeights(w)

	f := &Forest{
		Trees:       make([]Tree, cfg.Trees),
		NumClasses:  numClasses,
		NumFeatures: numFeatures,
	}
	for t := 0; t < cfg.Trees; t++ {
		bag := make([]int, n)
		for i := range bag {
			bag[i] = sampleIndex(cum, rng.Float64())
		}
		b := &treeBuilder{
			X: X, y: y, w: w,
			numClasses: numClasses,
			mtry:       mtry,
			maxDepth:   cfg.MaxDepth,
			minLeaf:    cfg.MinLeaf,
			rng:        rng,
		}
		b.build(bag, 0)
		f.Trees[t] = Tree{Nodes: b.nodes}
	}
	return f, nil
}

// cumulativeWeights builds a normalized CDF for weighted sampling.
func cumulativeWeights(w []float64) []float64 {
	cum := make([]float64, len(w))
	total := 0.0
	for i, x := range w {
		if x <= 0 {
			x = 1
		}
		total += x
		cum[i] = total
	}
	for i := range cum {
		cum[i] /= total
	}
	return cum
}

func sampleIndex(cum []float64, u float64) int {
	i := sort.SearchFloat64s(cum, u)
	if i >= len(cum) {
		i = len(cum) - 1
	}
	return i
}

type treeBuilder struct {
	X          [][]float64
	y          []int
	w          []float64
	numClasses int
	mtry       int
	maxDepth   int
	minLeaf    int
	rng        *rand.Rand
	nodes      []TreeNode
}

// build grows the subtree over samples (indices into X) and returns the
// node index.
func (b *treeBuilder) build(samples []int, depth int) int {
	dist, total := b.classDist(samples)

	pure := false
	nonZero := 0
	for _, d := range dist {
		if d > 0 {
			nonZero++
		}
	}
	if nonZero <= 1 {
		pure = true
	}

	if pure || depth >= b.maxDepth || len(samples) <= b.minLeaf*2 {
		return b.leaf(dist, total)
	}

	feature, threshold, ok := b.bestSplit(samples, dist, total)
	if !ok {
		return b.leaf(dist, total)
	}

	var left, right []int
	for _, i := range samples {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return b.leaf(dist, total)
	}

	idx := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{Feature: feature, Threshold: threshold})
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[idx].Left = l
	b.nodes[idx].Right = r
	return idx
}

func (b *treeBuilder) leaf(dist []float64, total float64) int {
	normalized := make([]float64, len(dist))
	if total > 0 {
		for i, d := range dist {
			normalized[i] = d / total
		}
	}
	idx := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{Leaf: true, Dist: normalized})
	return idx
}

func (b *treeBuilder) classDist(samples []int) ([]float64, float64) {
	dist := make([]float64, b.numClasses)
	total := 0.0
	for _, i := range samples {
		dist[b.y[i]] += b.w[i]
		total += b.w[i]
	}
	return dist, total
}

// bestSplit scans a random sqrt-subset of features and picks the weighted
// gini-minimizing threshold.
func (b *treeBuilder) bestSplit(samples []int, parentDist []float64, parentTotal float64) (int, float64, bool) {
	parentGini := gini(parentDist, parentTotal)

	bestGain := 1e-9
	bestFeature, bestThreshold := -1, 0.0

	numFeatures := len(b.X[samples[0]])
	for _, feature := range b.rng.Perm(numFeatures)[:b.mtry] {
		ordered := make([]int, len(samples))
		copy(ordered, samples)
		sort.Slice(ordered, func(i, j int) bool {
			return b.X[ordered[i]][feature] < b.X[ordered[j]][feature]
		})

		leftDist := make([]float64, b.numClasses)
		leftTotal := 0.0
		rightDist := append([]float64(nil), parentDist...)
		rightTotal := parentTotal

		for k := 0; k < len(ordered)-1; k++ {
			i := ordered[k]
			leftDist[b.y[i]] += b.w[i]
			leftTotal += b.w[i]
			rightDist[b.y[i]] -= b.w[i]
			rightTotal -= b.w[i]

			v, next := b.X[i][feature], b.X[ordered[k+1]][feature]
			if v == next {
				continue
			}

			weighted := (leftTotal*gini(leftDist, leftTotal) + rightTotal*gini(rightDist, rightTotal)) / parentTotal
			if gain := parentGini - weighted; gain > bestGain {
				bestGain = gain
				bestFeature = feature
				bestThreshold = (v + next) / 2
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func gini(dist []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	g := 1.0
	for _, d := range dist {
		p := d / total
		g -= p * p
	}
	return g
}

// PredictProba averages the leaf distributions across all trees.
func (f *Forest) PredictProba(x []float64) []float64 {
	probs := make([]float64, f.NumClasses)
	if len(f.Trees) == 0 {
		return probs
	}
	for _, t := range f.Trees {
		node := 0
		for !t.Nodes[node].Leaf {
			n := t.Nodes[node]
			if x[n.Feature] <= n.Threshold {
				node = n.Left
			} else {
				node = n.Right
			}
		}
		for c, p := range t.Nodes[node].Dist {
			probs[c] += p
		}
	}
	inv := 1.0 / float64(len(f.Trees))
	for c := range probs {
		probs[c] *= inv
	}
	return probs
}

// Predict returns the argmax class and its probability.
func (f *Forest) Predict(x []float64) (int, float64) {
	probs := f.PredictProba(x)
	best, bestP := 0, -1.0
	for c, p := range probs {
		if p > bestP {
			best, bestP = c, p
		}
	}
	return best, bestP
}
