package ml

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// TargetColumn is the KOI disposition column used as the training label.
const TargetColumn = "koi_disposition"

// Dispositions returned to clients.
const (
	DispositionConfirmed     = "Confirmed"
	DispositionCandidate     = "Candidate"
	DispositionFalsePositive = "False Positive"
)

var (
	ErrFeatureCount   = errors.New("feature vector length mismatch")
	ErrInvalidFeature = errors.New("feature value is not a finite number")
)

var featureNames = []string{
	"koi_period",
	"koi_period_err1",
	"koi_period_err2",
	"koi_time0bk_err1",
	"koi_time0bk_err2",
	"koi_time0_err1",
	"koi_time0_err2",
	"koi_impact",
	"koi_duration",
	"koi_duration_err1",
	"koi_duration_err2",
	"koi_depth",
	"koi_prad",
	"koi_prad_err1",
	"koi_sma",
	"koi_insol_err1",
	"koi_insol_err2",
	"koi_model_snr",
	"koi_num_transits",
	"koi_bin_oedp_sig",
	"koi_srad",
}

// FeatureNames returns the required features in vector order.
func FeatureNames() []string {
	return append([]string(nil), featureNames...)
}

// FeatureNamesString joins the required features for display.
func FeatureNamesString() string {
	return strings.Join(featureNames, ", ")
}

// FeatureVector orders a record by the given feature list. Missing keys are
// returned in the second value.
func FeatureVector(record map[string]float64, features []string) ([]float64, []string) {
	vector := make([]float64, len(features))
	var missing []string
	for i, name := range features {
		value, ok := record[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		vector[i] = value
	}
	return vector, missing
}

// ValidateVector checks length and finiteness of a feature vector.
func ValidateVector(vector []float64, expected int) error {
	if len(vector) != expected {
		return fmt.Errorf("%w: got %d values, want %d", ErrFeatureCount, len(vector), expected)
	}
	for i, v := range vector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: index %d", ErrInvalidFeature, i)
		}
	}
	return nil
}

// DisplayDisposition maps a raw archive label to the client-facing name.
func DisplayDisposition(label string) string {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "CONFIRMED":
		return DispositionConfirmed
	case "CANDIDATE":
		return DispositionCandidate
	default:
		return DispositionFalsePositive
	}
}
