package ml

import (
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArtifactExt is the file extension of serialized model bundles.
const ArtifactExt = ".model"

const artifactFormatVersion = 1

func init() {
	gob.Register(&RandomForest{})
	gob.Register(&DecisionTree{})
}

// ArtifactMetadata describes how an artifact was produced.
type ArtifactMetadata struct {
	Description      string         `json:"description"`
	Target           string         `json:"target"`
	BestParams       ForestParams   `json:"best_params"`
	CVScore          float64        `json:"cv_score"`
	BalancedAccuracy float64        `json:"balanced_accuracy"`
	Classes          []ClassMetrics `json:"classes,omitempty"`
	Report           string         `json:"report,omitempty"`
	TrainingRows     int            `json:"training_rows"`
	ResampledRows    int            `json:"resampled_rows"`
	TestRows         int            `json:"test_rows"`
	Sources          []string       `json:"sources,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Artifact is a ready-to-serve model bundle.
type Artifact struct {
	Version         int
	Model           Classifier
	LabelEncoder    *LabelEncoder
	Scaler          *StandardScaler
	Features        []string
	ConfusionMatrix [][]int
	Metadata        ArtifactMetadata
}

// Validate checks that the bundle can serve predictions.
func (a *Artifact) Validate() error {
	if a.Model == nil {
		return errors.New("artifact has no model")
	}
	if a.LabelEncoder == nil || a.LabelEncoder.NumClasses() == 0 {
		return errors.New("artifact has no label encoder")
	}
	if len(a.Features) == 0 {
		return errors.New("artifact has no feature list")
	}
	if a.Scaler != nil && len(a.Scaler.Mean) != len(a.Features) {
		return fmt.Errorf("scaler expects %d features, artifact lists %d", len(a.Scaler.Mean), len(a.Features))
	}
	return nil
}

// SaveArtifact writes the bundle as gzip-compressed gob. The file is written
// to a temporary name first and renamed into place.
func SaveArtifact(path string, artifact *Artifact) error {
	if err := artifact.Validate(); err != nil {
		return err
	}
	artifact.Version = artifactFormatVersion

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	if err := gob.NewEncoder(zw).Encode(artifact); err != nil {
		tmp.Close()
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadArtifact reads and validates a bundle written by SaveArtifact.
func LoadArtifact(path string) (*Artifact, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	zr, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer zr.Close()

	var artifact Artifact
	if err := gob.NewDecoder(zr).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("%s: decode artifact: %w", path, err)
	}
	if artifact.Version != artifactFormatVersion {
		return nil, fmt.Errorf("%s: unsupported artifact version %d", path, artifact.Version)
	}
	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &artifact, nil
}
