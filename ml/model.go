package ml

import "errors"

var ErrNotFitted = errors.New("model not trained")

// Classifier is a fitted multi-class estimator over dense feature vectors.
type Classifier interface {
	Fit(features [][]float64, labels []int, numClasses int) error
	PredictProba(features []float64) ([]float64, error)
	Predict(features []float64) (int, float64, error)
}

// Disposition is the outcome of one prediction.
type Disposition struct {
	Label      string  `json:"label"`
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

func argmax(values []float64) (int, float64) {
	best, bestValue := 0, -1.0
	for i, v := range values {
		if v > bestValue {
			best, bestValue = i, v
		}
	}
	return best, bestValue
}
