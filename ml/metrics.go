package ml

import (
	"errors"
	"math"

	"github.com/sjwhitworth/golearn/evaluation"
)

// ClassMetrics are the per-class scores of a classification report.
type ClassMetrics struct {
	Class     string  `json:"class"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1Score   float64 `json:"f1_score"`
	Support   int     `json:"support"`
}

// Evaluation summarizes a classifier on held-out data.
type Evaluation struct {
	BalancedAccuracy float64        `json:"balanced_accuracy"`
	Accuracy         float64        `json:"accuracy"`
	ConfusionMatrix  [][]int        `json:"confusion_matrix"`
	Classes          []ClassMetrics `json:"classes"`
	Report           string         `json:"report"`
}

// ConfusionMatrix counts (true, predicted) pairs; rows are true labels.
func ConfusionMatrix(truth, predicted []int, numClasses int) ([][]int, error) {
	if len(truth) != len(predicted) {
		return nil, errors.New("truth and predictions size mismatch")
	}
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	for i := range truth {
		t, p := truth[i], predicted[i]
		if t < 0 || t >= numClasses || p < 0 || p >= numClasses {
			return nil, errors.New("label out of range")
		}
		matrix[t][p]++
	}
	return matrix, nil
}

// toEvaluationMatrix converts an index matrix into golearn's
// reference -> predicted -> count map keyed by class name.
func toEvaluationMatrix(matrix [][]int, classes []string) evaluation.ConfusionMatrix {
	cm := make(evaluation.ConfusionMatrix, len(classes))
	for i, ref := range classes {
		row := make(map[string]int, len(classes))
		for j, pred := range classes {
			row[pred] = matrix[i][j]
		}
		cm[ref] = row
	}
	return cm
}

// BalancedAccuracy is the mean recall over classes that occur in truth.
func BalancedAccuracy(matrix [][]int, classes []string) float64 {
	cm := toEvaluationMatrix(matrix, classes)
	sum, n := 0.0, 0
	for i, class := range classes {
		if rowSum(matrix[i]) == 0 {
			continue
		}
		sum += finite(evaluation.GetRecall(class, cm))
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Evaluate scores predictions against truth.
func Evaluate(truth, predicted []int, classes []string) (*Evaluation, error) {
	matrix, err := ConfusionMatrix(truth, predicted, len(classes))
	if err != nil {
		return nil, err
	}
	cm := toEvaluationMatrix(matrix, classes)
	result := &Evaluation{
		BalancedAccuracy: BalancedAccuracy(matrix, classes),
		Accuracy:         finite(evaluation.GetAccuracy(cm)),
		ConfusionMatrix:  matrix,
		Report:           evaluation.GetSummary(cm),
	}
	for i, class := range classes {
		result.Classes = append(result.Classes, ClassMetrics{
			Class:     class,
			Precision: finite(evaluation.GetPrecision(class, cm)),
			Recall:    finite(evaluation.GetRecall(class, cm)),
			F1Score:   finite(evaluation.GetF1Score(class, cm)),
			Support:   rowSum(matrix[i]),
		})
	}
	return result, nil
}

func rowSum(row []int) int {
	total := 0
	for _, v := range row {
		total += v
	}
	return total
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
