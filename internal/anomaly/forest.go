package anomaly

import (
	"math"
	"math/rand"
)

// IsolationForest scores outliers with an ensemble of random partitioning
// trees (Liu, Ting & Zhou 2008). Points that isolate in few random splits
// receive scores near 1; inliers trend toward 0.5 and below. The forest is
// fully deterministic for a fixed seed and input order.
type IsolationForest struct {
	Trees      int
	SampleSize int

	rng    *rand.Rand
	roots  []*treeNode
	sample int // actual subsample size after clamping to the dataset
}

type treeNode struct {
	splitDim int
	splitVal float64
	left     *treeNode
	right    *treeNode
	size     int // external node only
}

// NewIsolationForest creates a forest with the conventional ensemble size
// (100 trees, subsamples of up to 256 points) and a fixed seed.
func NewIsolationForest(seed int64) *IsolationForest {
	return &IsolationForest{
		Trees:      100,
		SampleSize: 256,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Fit builds the ensemble over the feature matrix. Each tree is grown on a
// random subsample to the standard height limit ceil(log2(sample size)).
func (f *IsolationForest) Fit(features [][]float64) {
	n := len(features)
	f.roots = nil
	if n == 0 {
		return
	}

	f.sample = f.SampleSize
	if f.sample > n {
		f.sample = n
	}
	heightLimit := int(math.Ceil(math.Log2(float64(f.sample))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	f.roots = make([]*treeNode, 0, f.Trees)
	for t := 0; t < f.Trees; t++ {
		perm := f.rng.Perm(n)
		subsample := make([][]float64, f.sample)
		for i := 0; i < f.sample; i++ {
			subsample[i] = features[perm[i]]
		}
		f.roots = append(f.roots, f.grow(subsample, 0, heightLimit))
	}
}

// Score returns one anomaly score per row, in row order. Higher is more
// anomalous. Fit must be called first; scoring an unfitted or empty forest
// yields zeros.
func (f *IsolationForest) Score(features [][]float64) []float64 {
	scores := make([]float64, len(features))
	if len(f.roots) == 0 {
		return scores
	}

	norm := avgPathLength(f.sample)
	for i, x := range features {
		var sum float64
		for _, root := range f.roots {
			sum += pathLength(root, x, 0)
		}
		mean := sum / float64(len(f.roots))
		scores[i] = math.Pow(2, -mean/norm)
	}
	return scores
}

func (f *IsolationForest) grow(points [][]float64, depth, limit int) *treeNode {
	if depth >= limit || len(points) <= 1 {
		return &treeNode{size: len(points)}
	}

	dim, lo, hi, ok := f.pickSplitDimension(points)
	if !ok {
		// All points identical across every dimension.
		return &treeNode{size: len(points)}
	}

	split := lo + f.rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, p := range points {
		if p[dim] < split {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &treeNode{size: len(points)}
	}

	return &treeNode{
		splitDim: dim,
		splitVal: split,
		left:     f.grow(left, depth+1, limit),
		right:    f.grow(right, depth+1, limit),
	}
}

// pickSplitDimension chooses a random dimension with spread, returning its
// value range. ok is false when every dimension is constant.
func (f *IsolationForest) pickSplitDimension(points [][]float64) (dim int, lo, hi float64, ok bool) {
	dims := len(points[0])
	candidates := make([]int, 0, dims)
	ranges := make([][2]float64, dims)

	for d := 0; d < dims; d++ {
		lo, hi := points[0][d], points[0][d]
		for _, p := range points[1:] {
			if p[d] < lo {
				lo = p[d]
			}
			if p[d] > hi {
				hi = p[d]
			}
		}
		ranges[d] = [2]float64{lo, hi}
		if hi > lo {
			candidates = append(candidates, d)
		}
	}

	if len(candidates) == 0 {
		return 0, 0, 0, false
	}
	dim = candidates[f.rng.Intn(len(candidates))]
	return dim, ranges[dim][0], ranges[dim][1], true
}

func pathLength(node *treeNode, x []float64, depth int) float64 {
	if node.left == nil {
		return float64(depth) + avgPathLength(node.size)
	}
	if x[node.splitDim] < node.splitVal {
		return pathLength(node.left, x, depth+1)
	}
	return pathLength(node.right, x, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n points, used to normalize tree depths.
func avgPathLength(n int) float64 {
	switch {
	case n > 2:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	case n == 2:
		return 1
	default:
		return 0
	}
}

const eulerGamma = 0.5772156649015329
