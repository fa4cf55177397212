package ml

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobs returns n points per class centred at class*5 in every dimension.
func blobs(n, dims, classes int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	var features [][]float64
	var labels []int
	for c := 0; c < classes; c++ {
		for i := 0; i < n; i++ {
			row := make([]float64, dims)
			for j := range row {
				row[j] = float64(c*5) + rng.NormFloat64()*0.5
			}
			features = append(features, row)
			labels = append(labels, c)
		}
	}
	return features, labels
}

func TestRandomForestFitPredict(t *testing.T) {
	features, labels := blobs(30, 4, 3, 1)
	forest := NewRandomForest(ForestParams{NEstimators: 15, MaxDepth: 6}, 42)
	require.NoError(t, forest.Fit(features, labels, 3))
	assert.Len(t, forest.Trees, 15)

	predicted, err := forest.PredictBatch(features)
	require.NoError(t, err)
	correct := 0
	for i := range predicted {
		if predicted[i] == labels[i] {
			correct++
		}
	}
	assert.Greater(t, float64(correct)/float64(len(labels)), 0.95)

	proba, err := forest.PredictProba(features[0])
	require.NoError(t, err)
	sum := 0.0
	for _, p := range proba {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestRandomForestDeterministic(t *testing.T) {
	features, labels := blobs(20, 3, 2, 3)
	a := NewRandomForest(ForestParams{NEstimators: 8}, 11)
	a.Workers = 1
	b := NewRandomForest(ForestParams{NEstimators: 8}, 11)
	b.Workers = 4
	require.NoError(t, a.Fit(features, labels, 2))
	require.NoError(t, b.Fit(features, labels, 2))

	sample := []float64{2.5, 2.5, 2.5}
	pa, err := a.PredictProba(sample)
	require.NoError(t, err)
	pb, err := b.PredictProba(sample)
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}

func TestRandomForestCancelled(t *testing.T) {
	features, labels := blobs(10, 2, 2, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewRandomForest(ForestParams{NEstimators: 10}, 1).FitContext(ctx, features, labels, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRandomForestNotFitted(t *testing.T) {
	_, err := NewRandomForest(ForestParams{}, 1).PredictProba([]float64{1})
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestForestParamsString(t *testing.T) {
	p := ForestParams{NEstimators: 100, MaxDepth: 0, MinSamplesSplit: 2, MinSamplesLeaf: 1}
	assert.Equal(t, "n_estimators=100 max_depth=none min_samples_split=2 min_samples_leaf=1", p.String())
}
