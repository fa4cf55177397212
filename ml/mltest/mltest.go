// Package mltest builds small synthetic KOI datasets and models for tests.
package mltest

import (
	"bytes"
	"encoding/csv"
	"math/rand"
	"strconv"

	"exovision/ml"
)

// Labels are the raw dispositions used in generated data.
var Labels = []string{"CANDIDATE", "CONFIRMED", "FALSE POSITIVE"}

// Row returns a feature vector clearly belonging to class (index into
// Labels): every feature is centred on class*10 with small noise.
func Row(rng *rand.Rand, class int) []float64 {
	row := make([]float64, len(ml.FeatureNames()))
	for j := range row {
		row[j] = float64(class*10) + rng.Float64()
	}
	return row
}

// CSV renders perClass rows of every class, plus the target column. Class
// counts are skewed by imbalance extra rows for the first class.
func CSV(perClass, imbalance int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := append(ml.FeatureNames(), ml.TargetColumn)
	_ = w.Write(header)
	for class, label := range Labels {
		n := perClass
		if class == 0 {
			n += imbalance
		}
		for i := 0; i < n; i++ {
			record := make([]string, 0, len(header))
			for _, v := range Row(rng, class) {
				record = append(record, strconv.FormatFloat(v, 'f', 6, 64))
			}
			record = append(record, label)
			_ = w.Write(record)
		}
	}
	w.Flush()
	return buf.Bytes()
}

// Dataset parses CSV(perClass, imbalance, seed).
func Dataset(perClass, imbalance int, seed int64) *ml.Dataset {
	ds, err := ml.ReadCSVBytes(CSV(perClass, imbalance, seed), "synthetic.csv")
	if err != nil {
		panic(err)
	}
	return ds
}

// Artifact trains a small forest on synthetic data without search.
func Artifact(seed int64) *ml.Artifact {
	ds := Dataset(20, 0, seed)
	features := ml.FeatureNames()
	x := make([][]float64, ds.Len())
	labels := make([]string, ds.Len())
	for i := range x {
		x[i], _ = ds.Record(i, features)
		labels[i], _ = ds.Value(i, ml.TargetColumn)
	}
	encoder := &ml.LabelEncoder{}
	y, err := encoder.FitTransform(labels)
	if err != nil {
		panic(err)
	}
	scaler := &ml.StandardScaler{}
	scaled, err := scaler.FitTransform(x)
	if err != nil {
		panic(err)
	}
	forest := ml.NewRandomForest(ml.ForestParams{NEstimators: 5, MaxDepth: 4, MinSamplesSplit: 2, MinSamplesLeaf: 1}, seed)
	if err := forest.Fit(scaled, y, encoder.NumClasses()); err != nil {
		panic(err)
	}
	return &ml.Artifact{
		Model:           forest,
		LabelEncoder:    encoder,
		Scaler:          scaler,
		Features:        features,
		ConfusionMatrix: [][]int{{4, 0, 0}, {0, 4, 0}, {0, 0, 4}},
		Metadata: ml.ArtifactMetadata{
			Description: "synthetic test model",
			Target:      ml.TargetColumn,
			BestParams:  forest.Params,
		},
	}
}
