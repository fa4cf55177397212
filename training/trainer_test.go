package training

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exovision/ml"
	"exovision/ml/mltest"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.NIter = 2
	cfg.Grid = ml.ParamGrid{
		NEstimators:     []int{5, 8},
		MaxDepth:        []int{4},
		MinSamplesSplit: []int{2},
		MinSamplesLeaf:  []int{1},
	}
	return cfg
}

type stageRecorder struct {
	mu     sync.Mutex
	stages []string
}

func (r *stageRecorder) record(stage string) {
	r.mu.Lock()
	r.stages = append(r.stages, stage)
	r.mu.Unlock()
}

func TestTrainerRun(t *testing.T) {
	rec := &stageRecorder{}
	trainer := New(fastConfig(), rec.record)

	result, err := trainer.Run(context.Background(), "synthetic", mltest.Dataset(20, 15, 1))
	require.NoError(t, err)

	assert.Equal(t, []string{StagePreprocessing, StageTraining, StageEvaluating, StageComplete}, rec.stages)

	a := result.Artifact
	require.NoError(t, a.Validate())
	assert.Equal(t, ml.FeatureNames(), a.Features)
	assert.Equal(t, mltest.Labels, a.LabelEncoder.Classes)
	assert.Len(t, a.ConfusionMatrix, 3)
	assert.Equal(t, "synthetic", a.Metadata.Description)
	assert.Equal(t, ml.TargetColumn, a.Metadata.Target)
	assert.Equal(t, []string{"synthetic.csv"}, a.Metadata.Sources)
	assert.Greater(t, a.Metadata.BalancedAccuracy, 0.9)

	// 35/20/20 rows split 80/20 per class gives 28/16/16 training rows,
	// oversampled to 28 each.
	assert.Equal(t, 60, a.Metadata.TrainingRows)
	assert.Equal(t, 84, a.Metadata.ResampledRows)
	assert.Equal(t, 15, a.Metadata.TestRows)
	assert.Len(t, result.Search.Candidates, 2)

	p, err := ml.NewPredictor("synthetic", a)
	require.NoError(t, err)
	d, err := p.PredictRecord(recordFor(1))
	require.NoError(t, err)
	assert.Equal(t, ml.DispositionConfirmed, d.Prediction)
}

func recordFor(class int) map[string]float64 {
	record := map[string]float64{}
	for _, name := range ml.FeatureNames() {
		record[name] = float64(class*10) + 0.5
	}
	return record
}

func TestTrainerMissingColumns(t *testing.T) {
	rec := &stageRecorder{}
	trainer := New(fastConfig(), rec.record)

	ds, err := ml.ReadCSVBytes([]byte("koi_period,koi_disposition\n1,CONFIRMED\n"), "partial.csv")
	require.NoError(t, err)

	_, err = trainer.Run(context.Background(), "", mltest.Dataset(5, 0, 1), ds)
	var missing *ml.MissingColumnsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "partial.csv", missing.Source)
	assert.Contains(t, err.Error(), "koi_srad")

	require.Len(t, rec.stages, 2)
	assert.Equal(t, StagePreprocessing, rec.stages[0])
	assert.True(t, strings.HasPrefix(rec.stages[1], "Training failed: file partial.csv is missing features"))
}

func TestTrainerNoUsableRows(t *testing.T) {
	header := strings.Join(append(ml.FeatureNames(), ml.TargetColumn), ",")
	ds, err := ml.ReadCSVBytes([]byte(header+"\n"+strings.Repeat(",", len(ml.FeatureNames()))+"CONFIRMED\n"), "blank.csv")
	require.NoError(t, err)

	_, err = New(fastConfig(), nil).Run(context.Background(), "", ds)
	assert.ErrorIs(t, err, ErrNoUsableRows)
}

func TestTrainerSingleClass(t *testing.T) {
	ds := mltest.Dataset(10, 0, 2)
	ds.Rows = ds.Rows[:10]

	_, err := New(fastConfig(), nil).Run(context.Background(), "", ds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2 classes")
}

func TestTrainerCleansDuplicates(t *testing.T) {
	trainer := New(fastConfig(), nil)
	ds := mltest.Dataset(10, 0, 3)
	ds.Rows = append(ds.Rows, ds.Rows[0], ds.Rows[1])

	cleaned, issues, err := trainer.Clean(ds)
	require.NoError(t, err)
	assert.Len(t, issues, 2)
	assert.Equal(t, 30, cleaned.Len())
}

func TestTrainerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(fastConfig(), nil).Run(ctx, "", mltest.Dataset(10, 0, 4))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConfig().TestSize, cfg.TestSize)
	assert.Equal(t, int64(0), cfg.Seed)
	assert.Equal(t, 3, cfg.CVFolds)
	assert.Equal(t, 5, cfg.NIter)
	assert.Equal(t, 5, cfg.SmoteK)
	assert.Len(t, cfg.Grid.Candidates(), 81)
	assert.Equal(t, ml.TargetColumn, cfg.Target)
	assert.Equal(t, "Training failed: boom", FailedStage(errors.New("boom")))
}
