package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfusionMatrix(t *testing.T) {
	matrix, err := ConfusionMatrix([]int{0, 0, 1, 2, 2}, []int{0, 1, 1, 2, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 1, 0}, {0, 1, 0}, {1, 0, 1}}, matrix)

	_, err = ConfusionMatrix([]int{0}, []int{0, 1}, 3)
	assert.Error(t, err)
	_, err = ConfusionMatrix([]int{3}, []int{0}, 3)
	assert.Error(t, err)
}

func TestBalancedAccuracy(t *testing.T) {
	classes := []string{"A", "B"}
	// Recall A = 9/10, recall B = 1/2.
	matrix := [][]int{{9, 1}, {1, 1}}
	assert.InDelta(t, 0.7, BalancedAccuracy(matrix, classes), 1e-9)

	// A class absent from truth is ignored.
	matrix = [][]int{{4, 0}, {0, 0}}
	assert.InDelta(t, 1.0, BalancedAccuracy(matrix, classes), 1e-9)
}

func TestEvaluate(t *testing.T) {
	classes := []string{"CANDIDATE", "CONFIRMED", "FALSE POSITIVE"}
	truth := []int{0, 0, 1, 1, 2, 2}
	predicted := []int{0, 1, 1, 1, 2, 2}

	eval, err := Evaluate(truth, predicted, classes)
	require.NoError(t, err)
	assert.InDelta(t, 5.0/6.0, eval.Accuracy, 1e-9)
	assert.InDelta(t, (0.5+1+1)/3, eval.BalancedAccuracy, 1e-9)
	require.Len(t, eval.Classes, 3)
	assert.Equal(t, "CONFIRMED", eval.Classes[1].Class)
	assert.InDelta(t, 2.0/3.0, eval.Classes[1].Precision, 1e-9)
	assert.InDelta(t, 1.0, eval.Classes[1].Recall, 1e-9)
	assert.Equal(t, 2, eval.Classes[0].Support)
	assert.NotEmpty(t, eval.Report)
}
