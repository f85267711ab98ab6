package forecast

import (
	"math/rand"
	"sort"

	"github.com/cafeops/replenish/internal/domain"
)

// predictor is the opaque parameter set behind a ForecastModel. Callers
// never branch on the concrete variant; the tag travels in the metadata.
type predictor interface {
	Predict(features []float64) float64
	Kind() domain.ModelKind
}

// treeNode is one node of a regression tree. Leaves carry the mean target
// of the samples that reached them.
type treeNode struct {
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
	value     float64
	leaf      bool
}

type regressionTree struct {
	root     *treeNode
	maxDepth int
	minLeaf  int
}

// treeEnsemble is a bagged ensemble of shallow regression trees trained on
// bootstrap resamples. Training is fully deterministic for a given seed so
// repeated runs over identical data produce identical models.
type treeEnsemble struct {
	trees []*regressionTree
}

func (e *treeEnsemble) Kind() domain.ModelKind { return domain.ModelTreeEnsemble }

func (e *treeEnsemble) Predict(features []float64) float64 {
	if len(e.trees) == 0 {
		return 0
	}
	var sum float64
	for _, t := range e.trees {
		sum += t.predict(features)
	}
	return sum / float64(len(e.trees))
}

func fitTreeEnsemble(x [][]float64, y []float64, nTrees, maxDepth int, seed int64) *treeEnsemble {
	if nTrees <= 0 {
		nTrees = 25
	}
	if maxDepth <= 0 {
		maxDepth = 3
	}

	rng := rand.New(rand.NewSource(seed))
	ens := &treeEnsemble{trees: make([]*regressionTree, 0, nTrees)}
	n := len(y)

	for t := 0; t < nTrees; t++ {
		bx := make([][]float64, n)
		by := make([]float64, n)
		for i := 0; i < n; i++ {
			j := rng.Intn(n)
			bx[i] = x[j]
			by[i] = y[j]
		}
		tree := &regressionTree{maxDepth: maxDepth, minLeaf: 3}
		tree.root = tree.build(bx, by, 0)
		ens.trees = append(ens.trees, tree)
	}

	return ens
}

func (t *regressionTree) predict(features []float64) float64 {
	node := t.root
	for node != nil && !node.leaf {
		if features[node.feature] <= node.threshold {
			node = node.left
		} else {
			node = node.right
		}
	}
	if node == nil {
		return 0
	}
	return node.value
}

func (t *regressionTree) build(x [][]float64, y []float64, depth int) *treeNode {
	if len(y) == 0 {
		return &treeNode{leaf: true}
	}
	if depth >= t.maxDepth || len(y) < 2*t.minLeaf {
		return &treeNode{leaf: true, value: mean(y)}
	}

	feature, threshold, ok := t.bestSplit(x, y)
	if !ok {
		return &treeNode{leaf: true, value: mean(y)}
	}

	var lx, rx [][]float64
	var ly, ry []float64
	for i := range y {
		if x[i][feature] <= threshold {
			lx = append(lx, x[i])
			ly = append(ly, y[i])
		} else {
			rx = append(rx, x[i])
			ry = append(ry, y[i])
		}
	}
	if len(ly) < t.minLeaf || len(ry) < t.minLeaf {
		return &treeNode{leaf: true, value: mean(y)}
	}

	return &treeNode{
		feature:   feature,
		threshold: threshold,
		left:      t.build(lx, ly, depth+1),
		right:     t.build(rx, ry, depth+1),
	}
}

// bestSplit scans every feature and candidate threshold for the split with
// the largest sum-of-squares reduction.
func (t *regressionTree) bestSplit(x [][]float64, y []float64) (int, float64, bool) {
	baseSSE := sse(y)
	bestGain := 0.0
	bestFeature, bestThreshold := -1, 0.0

	for f := 0; f < numFeatures; f++ {
		values := make([]float64, len(y))
		for i := range y {
			values[i] = x[i][f]
		}
		for _, threshold := range candidateThresholds(values) {
			var ly, ry []float64
			for i := range y {
				if x[i][f] <= threshold {
					ly = append(ly, y[i])
				} else {
					ry = append(ry, y[i])
				}
			}
			if len(ly) < t.minLeaf || len(ry) < t.minLeaf {
				continue
			}
			gain := baseSSE - sse(ly) - sse(ry)
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = threshold
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

// candidateThresholds returns midpoints between consecutive distinct values.
func candidateThresholds(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var out []float64
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			out = append(out, (sorted[i]+sorted[i-1])/2)
		}
	}
	return out
}

func mean(y []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var sum float64
	for _, v := range y {
		sum += v
	}
	return sum / float64(len(y))
}

func sse(y []float64) float64 {
	m := mean(y)
	var sum float64
	for _, v := range y {
		d := v - m
		sum += d * d
	}
	return sum
}
