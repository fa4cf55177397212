package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStratifiedSplitKeepsProportions(t *testing.T) {
	features, labels := blobs(50, 2, 2, 1)
	features = features[:75]
	labels = labels[:75] // 50 of class 0, 25 of class 1

	split, err := StratifiedSplit(features, labels, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, split.TestY, 15)
	assert.Len(t, split.TrainY, 60)

	count := func(ys []int, class int) int {
		n := 0
		for _, y := range ys {
			if y == class {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 10, count(split.TestY, 0))
	assert.Equal(t, 5, count(split.TestY, 1))
}

func TestStratifiedSplitDeterministic(t *testing.T) {
	features, labels := blobs(20, 2, 3, 2)
	a, err := StratifiedSplit(features, labels, 0.25, 42)
	require.NoError(t, err)
	b, err := StratifiedSplit(features, labels, 0.25, 42)
	require.NoError(t, err)
	assert.Equal(t, a.TestX, b.TestX)
}

func TestStratifiedSplitSmallClass(t *testing.T) {
	_, err := StratifiedSplit([][]float64{{1}, {2}, {3}}, []int{0, 0, 1}, 0.2, 1)
	assert.Error(t, err)

	split, err := StratifiedSplit([][]float64{{1}, {2}, {3}, {4}}, []int{0, 0, 1, 1}, 0.2, 1)
	require.NoError(t, err)
	assert.Len(t, split.TestY, 2)
	assert.Len(t, split.TrainY, 2)
}

func TestStratifiedKFold(t *testing.T) {
	labels := []int{0, 0, 0, 1, 1, 1, 0, 0, 0}
	folds, err := StratifiedKFold(labels, 3)
	require.NoError(t, err)
	require.Len(t, folds, 3)

	seen := map[int]bool{}
	for _, fold := range folds {
		ones := 0
		for _, idx := range fold {
			assert.False(t, seen[idx], "index %d in two folds", idx)
			seen[idx] = true
			if labels[idx] == 1 {
				ones++
			}
		}
		assert.Equal(t, 1, ones)
		assert.Len(t, fold, 3)
	}
	assert.Len(t, seen, len(labels))

	_, err = StratifiedKFold([]int{0, 0, 0, 1}, 3)
	assert.Error(t, err)
	_, err = StratifiedKFold(labels, 1)
	assert.Error(t, err)
}
