package ml

import (
	"errors"
	"math/rand"
	"sort"
)

// TreeParams controls tree growth. Zero MaxDepth grows until leaves are pure
// or too small to split; zero MaxFeatures considers every feature.
type TreeParams struct {
	MaxDepth        int `json:"max_depth"`
	MinSamplesSplit int `json:"min_samples_split"`
	MinSamplesLeaf  int `json:"min_samples_leaf"`
	MaxFeatures     int `json:"max_features"`
}

func (p TreeParams) normalized() TreeParams {
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}
	if p.MaxDepth < 0 {
		p.MaxDepth = 0
	}
	return p
}

// DecisionTree is a CART classifier using Gini impurity. Nodes are stored
// in a flat slice in pre-order; children are referenced by index.
type DecisionTree struct {
	Params     TreeParams
	NumClasses int
	Nodes      []TreeNode

	rng *rand.Rand
}

type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	Proba      []float64 `json:"proba,omitempty"`
	IsLeaf     bool      `json:"is_leaf"`
}

// NewDecisionTree creates an untrained tree. A nil rng uses a fixed seed.
func NewDecisionTree(params TreeParams, rng *rand.Rand) *DecisionTree {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &DecisionTree{Params: params.normalized(), rng: rng}
}

func (dt *DecisionTree) Fit(features [][]float64, labels []int, numClasses int) error {
	indices := make([]int, len(features))
	for i := range indices {
		indices[i] = i
	}
	return dt.fitIndices(features, labels, indices, numClasses)
}

// fitIndices grows the tree on the rows named by indices. Indices may repeat,
// which is how bootstrap samples are passed in.
func (dt *DecisionTree) fitIndices(features [][]float64, labels []int, indices []int, numClasses int) error {
	if len(features) == 0 || len(labels) == 0 || len(indices) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if numClasses <= 0 {
		return errors.New("numClasses must be positive")
	}
	for _, label := range labels {
		if label < 0 || label >= numClasses {
			return errors.New("label out of range")
		}
	}
	if dt.rng == nil {
		dt.rng = rand.New(rand.NewSource(1))
	}
	dt.Params = dt.Params.normalized()
	dt.NumClasses = numClasses
	dt.Nodes = dt.Nodes[:0]

	b := &treeBuilder{
		tree:     dt,
		features: features,
		labels:   labels,
		numFeat:  len(features[0]),
	}
	b.build(append([]int(nil), indices...), 0)
	return nil
}

func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	if len(dt.Nodes) == 0 {
		return nil, ErrNotFitted
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node.Proba, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(dt.Nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	proba, err := dt.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label, confidence := argmax(proba)
	return label, confidence, nil
}

// Depth returns the length of the longest root-to-leaf path.
func (dt *DecisionTree) Depth() int {
	if len(dt.Nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return 0
		}
		left, right := walk(node.LeftChild), walk(node.RightChild)
		if left > right {
			return left + 1
		}
		return right + 1
	}
	return walk(0)
}

type treeBuilder struct {
	tree     *DecisionTree
	features [][]float64
	labels   []int
	numFeat  int
}

func (b *treeBuilder) build(indices []int, depth int) int {
	dt := b.tree
	counts := classCounts(b.labels, indices, dt.NumClasses)
	nodeIdx := len(dt.Nodes)

	p := dt.Params
	stop := (p.MaxDepth > 0 && depth >= p.MaxDepth) ||
		len(indices) < p.MinSamplesSplit ||
		len(indices) < 2*p.MinSamplesLeaf ||
		isPure(counts)
	if !stop {
		if feature, threshold, ok := b.findBestSplit(indices, counts); ok {
			left, right := partition(b.features, indices, feature, threshold)
			dt.Nodes = append(dt.Nodes, TreeNode{FeatureIdx: feature, Threshold: threshold})
			leftIdx := b.build(left, depth+1)
			rightIdx := b.build(right, depth+1)
			dt.Nodes[nodeIdx].LeftChild = leftIdx
			dt.Nodes[nodeIdx].RightChild = rightIdx
			return nodeIdx
		}
	}

	dt.Nodes = append(dt.Nodes, TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Proba:      normalizeCounts(counts, len(indices)),
		IsLeaf:     true,
	})
	return nodeIdx
}

func (b *treeBuilder) candidateFeatures() []int {
	maxFeatures := b.tree.Params.MaxFeatures
	if maxFeatures <= 0 || maxFeatures >= b.numFeat {
		all := make([]int, b.numFeat)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return b.tree.rng.Perm(b.numFeat)[:maxFeatures]
}

func (b *treeBuilder) findBestSplit(indices []int, counts []int) (int, float64, bool) {
	n := len(indices)
	minLeaf := b.tree.Params.MinSamplesLeaf
	numClasses := b.tree.NumClasses

	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := 0.0

	sorted := make([]int, n)
	left := make([]int, numClasses)
	right := make([]int, numClasses)

	for _, feature := range b.candidateFeatures() {
		copy(sorted, indices)
		sort.Slice(sorted, func(i, j int) bool {
			return b.features[sorted[i]][feature] < b.features[sorted[j]][feature]
		})
		for c := range left {
			left[c] = 0
			right[c] = counts[c]
		}
		for i := 0; i < n-1; i++ {
			label := b.labels[sorted[i]]
			left[label]++
			right[label]--

			current := b.features[sorted[i]][feature]
			next := b.features[sorted[i+1]][feature]
			if current >= next {
				continue
			}
			nLeft := i + 1
			nRight := n - nLeft
			if nLeft < minLeaf || nRight < minLeaf {
				continue
			}
			impurity := (float64(nLeft)*gini(left, nLeft) + float64(nRight)*gini(right, nRight)) / float64(n)
			if bestFeature == -1 || impurity < bestImpurity {
				bestFeature = feature
				bestImpurity = impurity
				threshold := current + (next-current)/2
				if threshold >= next {
					threshold = current
				}
				bestThreshold = threshold
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func partition(features [][]float64, indices []int, feature int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, idx := range indices {
		if features[idx][feature] <= threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}
	return left, right
}

func classCounts(labels []int, indices []int, numClasses int) []int {
	counts := make([]int, numClasses)
	for _, idx := range indices {
		counts[labels[idx]]++
	}
	return counts
}

func gini(counts []int, total int) float64 {
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(total)
		impurity -= prob * prob
	}
	return impurity
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func normalizeCounts(counts []int, total int) []float64 {
	proba := make([]float64, len(counts))
	if total == 0 {
		return proba
	}
	for i, c := range counts {
		proba[i] = float64(c) / float64(total)
	}
	return proba
}
