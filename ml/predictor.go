package ml

import (
	"fmt"
	"strings"
)

// Predictor serves predictions from one artifact. It is safe for concurrent
// use because the artifact is never mutated after loading.
type Predictor struct {
	Name     string
	artifact *Artifact
}

// NewPredictor validates the artifact and wraps it.
func NewPredictor(name string, artifact *Artifact) (*Predictor, error) {
	if artifact == nil {
		return nil, fmt.Errorf("model %s: nil artifact", name)
	}
	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("model %s: %w", name, err)
	}
	return &Predictor{Name: name, artifact: artifact}, nil
}

// Artifact exposes the wrapped bundle for introspection.
func (p *Predictor) Artifact() *Artifact {
	return p.artifact
}

// Features returns the ordered features the model expects.
func (p *Predictor) Features() []string {
	return append([]string(nil), p.artifact.Features...)
}

// Predict scales the vector when a scaler is present, classifies it and
// decodes the label into a display disposition.
func (p *Predictor) Predict(vector []float64) (Disposition, error) {
	if err := ValidateVector(vector, len(p.artifact.Features)); err != nil {
		return Disposition{}, err
	}
	input := vector
	if p.artifact.Scaler != nil {
		scaled, err := p.artifact.Scaler.TransformVector(vector)
		if err != nil {
			return Disposition{}, err
		}
		input = scaled
	}
	code, confidence, err := p.artifact.Model.Predict(input)
	if err != nil {
		return Disposition{}, err
	}
	label, err := p.artifact.LabelEncoder.InverseTransform(code)
	if err != nil {
		return Disposition{}, err
	}
	return Disposition{
		Label:      label,
		Prediction: DisplayDisposition(label),
		Confidence: confidence,
	}, nil
}

// PredictRecord orders a named record by the model's features first.
func (p *Predictor) PredictRecord(record map[string]float64) (Disposition, error) {
	vector, missing := FeatureVector(record, p.artifact.Features)
	if len(missing) > 0 {
		return Disposition{}, &MissingColumnsError{Missing: missing}
	}
	return p.Predict(vector)
}

func (p *Predictor) String() string {
	scaler := "none"
	if p.artifact.Scaler != nil {
		scaler = "standard"
	}
	return fmt.Sprintf("model %s features: [%s] scaler: %s", p.Name, strings.Join(p.artifact.Features, ", "), scaler)
}
