package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardScaler(t *testing.T) {
	features := [][]float64{{1, 5}, {3, 5}, {5, 5}}
	scaler := &StandardScaler{}
	scaled, err := scaler.FitTransform(features)
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{3, 5}, scaler.Mean, 1e-12)
	// Population std of {1,3,5} is sqrt(8/3); constant column keeps scale 1.
	assert.InDelta(t, 1.632993161855452, scaler.Scale[0], 1e-12)
	assert.Equal(t, 1.0, scaler.Scale[1])

	assert.InDelta(t, 0, scaled[1][0], 1e-12)
	assert.InDelta(t, -scaled[2][0], scaled[0][0], 1e-12)
	assert.Equal(t, 0.0, scaled[0][1])

	// Input is not modified.
	assert.Equal(t, 1.0, features[0][0])
}

func TestStandardScalerErrors(t *testing.T) {
	scaler := &StandardScaler{}
	_, err := scaler.TransformVector([]float64{1})
	assert.ErrorIs(t, err, ErrNotFitted)

	assert.Error(t, scaler.Fit(nil))
	assert.Error(t, scaler.Fit([][]float64{{1, 2}, {3}}))

	require.NoError(t, scaler.Fit([][]float64{{1, 2}, {3, 4}}))
	_, err = scaler.TransformVector([]float64{1})
	assert.ErrorIs(t, err, ErrFeatureCount)
}

func TestLabelEncoder(t *testing.T) {
	enc := &LabelEncoder{}
	codes, err := enc.FitTransform([]string{"FALSE POSITIVE", "CONFIRMED", "CANDIDATE", "CONFIRMED"})
	require.NoError(t, err)
	assert.Equal(t, []string{"CANDIDATE", "CONFIRMED", "FALSE POSITIVE"}, enc.Classes)
	assert.Equal(t, []int{2, 1, 0, 1}, codes)

	label, err := enc.InverseTransform(2)
	require.NoError(t, err)
	assert.Equal(t, "FALSE POSITIVE", label)

	_, err = enc.InverseTransform(3)
	assert.Error(t, err)
	_, err = enc.Transform([]string{"UNKNOWN"})
	assert.Error(t, err)

	_, err = (&LabelEncoder{}).Transform([]string{"A"})
	assert.ErrorIs(t, err, ErrNotFitted)
}
