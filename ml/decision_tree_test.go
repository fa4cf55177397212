package ml

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	labels := []int{0, 0, 2, 2}

	model := NewDecisionTree(TreeParams{}, nil)
	require.NoError(t, model.Fit(features, labels, 3))

	label, confidence, err := model.Predict([]float64{0.15, 0.15})
	require.NoError(t, err)
	assert.Equal(t, 0, label)
	assert.InDelta(t, 1.0, confidence, 1e-9)

	label, _, err = model.Predict([]float64{0.85, 0.85})
	require.NoError(t, err)
	assert.Equal(t, 2, label)

	proba, err := model.PredictProba([]float64{0.85, 0.85})
	require.NoError(t, err)
	assert.Len(t, proba, 3)
}

func TestDecisionTreeNotFitted(t *testing.T) {
	_, _, err := NewDecisionTree(TreeParams{}, nil).Predict([]float64{1})
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestDecisionTreeMaxDepth(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var features [][]float64
	var labels []int
	for i := 0; i < 200; i++ {
		x := rng.Float64()
		features = append(features, []float64{x, rng.Float64()})
		labels = append(labels, int(x*8)%2)
	}

	shallow := NewDecisionTree(TreeParams{MaxDepth: 2}, nil)
	require.NoError(t, shallow.Fit(features, labels, 2))
	assert.LessOrEqual(t, shallow.Depth(), 2)

	deep := NewDecisionTree(TreeParams{}, nil)
	require.NoError(t, deep.Fit(features, labels, 2))
	assert.Greater(t, deep.Depth(), 2)
}

func TestDecisionTreeMinSamplesLeaf(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}}
	labels := []int{0, 1, 0, 1, 0, 1}

	tree := NewDecisionTree(TreeParams{MinSamplesLeaf: 3}, nil)
	require.NoError(t, tree.Fit(features, labels, 2))
	for _, node := range tree.Nodes {
		if node.IsLeaf {
			assert.InDelta(t, 1.0, node.Proba[0]+node.Proba[1], 1e-9)
		}
	}
	// Only the 3/3 split satisfies the leaf minimum.
	assert.LessOrEqual(t, len(tree.Nodes), 3)
}

func TestDecisionTreeRejectsBadInput(t *testing.T) {
	tree := NewDecisionTree(TreeParams{}, nil)
	assert.Error(t, tree.Fit(nil, nil, 2))
	assert.Error(t, tree.Fit([][]float64{{1}}, []int{0, 1}, 2))
	assert.Error(t, tree.Fit([][]float64{{1}}, []int{0}, 0))
}

func TestGini(t *testing.T) {
	assert.InDelta(t, 0.0, gini([]int{4, 0}, 4), 1e-12)
	assert.InDelta(t, 0.5, gini([]int{2, 2}, 4), 1e-12)
	assert.InDelta(t, 2.0/3.0, gini([]int{1, 1, 1}, 3), 1e-12)
}
