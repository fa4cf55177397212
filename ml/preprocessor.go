package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// StandardScaler centers each feature on its training mean and scales it to
// unit (population) variance. Constant features keep a scale of 1.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

// Fit computes per-column statistics.
func (s *StandardScaler) Fit(features [][]float64) error {
	m, err := toMatrix(features)
	if err != nil {
		return err
	}
	rows, cols := m.Dims()
	s.Mean = make([]float64, cols)
	s.Scale = make([]float64, cols)
	column := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(column, j, m)
		mean, variance := stat.MeanVariance(column, nil)
		// MeanVariance is unbiased; the scaler uses the population variance.
		if rows > 1 {
			variance = variance * float64(rows-1) / float64(rows)
		} else {
			variance = 0
		}
		scale := math.Sqrt(variance)
		if scale == 0 || math.IsNaN(scale) {
			scale = 1
		}
		s.Mean[j] = mean
		s.Scale[j] = scale
	}
	return nil
}

// Transform returns a scaled copy of features.
func (s *StandardScaler) Transform(features [][]float64) ([][]float64, error) {
	if len(s.Mean) == 0 {
		return nil, ErrNotFitted
	}
	out := make([][]float64, len(features))
	for i, row := range features {
		scaled, err := s.TransformVector(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = scaled
	}
	return out, nil
}

// TransformVector scales a single sample.
func (s *StandardScaler) TransformVector(vector []float64) ([]float64, error) {
	if len(s.Mean) == 0 {
		return nil, ErrNotFitted
	}
	if len(vector) != len(s.Mean) {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrFeatureCount, len(vector), len(s.Mean))
	}
	out := make([]float64, len(vector))
	for j, v := range vector {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// FitTransform fits on features and returns them scaled.
func (s *StandardScaler) FitTransform(features [][]float64) ([][]float64, error) {
	if err := s.Fit(features); err != nil {
		return nil, err
	}
	return s.Transform(features)
}

func toMatrix(features [][]float64) (*mat.Dense, error) {
	if len(features) == 0 {
		return nil, errors.New("features is empty")
	}
	cols := len(features[0])
	if cols == 0 {
		return nil, errors.New("features have no columns")
	}
	flat := make([]float64, 0, len(features)*cols)
	for i, row := range features {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), cols)
		}
		flat = append(flat, row...)
	}
	return mat.NewDense(len(features), cols, flat), nil
}
