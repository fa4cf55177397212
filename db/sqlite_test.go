package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exovision/ml"
)

func initTestDB(t *testing.T) {
	t.Helper()
	require.NoError(t, InitDB(":memory:"))
	t.Cleanup(func() { _ = Close() })
}

func TestNotInitialized(t *testing.T) {
	require.NoError(t, Close())
	assert.False(t, Enabled())
	assert.ErrorIs(t, SaveTrainingLog(TrainingLog{}), ErrNotInitialized)
	_, err := LoadTrainingLog(10)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, SavePredictions("m", "manual", nil), ErrNotInitialized)
	_, err = PredictionStats()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestTrainingLogRoundTrip(t *testing.T) {
	initTestDB(t)

	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, SaveTrainingLog(TrainingLog{
		JobID:            "job-1",
		ModelName:        "koi",
		Status:           "ok",
		BalancedAccuracy: 0.91,
		CVScore:          0.9,
		BestParams:       ml.ForestParams{NEstimators: 200, MaxDepth: 20, MinSamplesSplit: 2, MinSamplesLeaf: 1},
		TrainingRows:     800,
		TestRows:         200,
		DroppedRows:      3,
		Sources:          []string{"a.csv", "kepler, q1-q17.csv"},
		Duration:         1500 * time.Millisecond,
		TrainedAt:        first,
	}))
	require.NoError(t, SaveTrainingLog(TrainingLog{
		JobID:     "job-2",
		ModelName: "koi",
		Status:    "failed",
		Error:     "file x.csv is missing features: koi_srad",
		TrainedAt: first.Add(time.Hour),
	}))

	logs, err := LoadTrainingLog(10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "job-2", logs[0].JobID)
	assert.Equal(t, "failed", logs[0].Status)
	assert.Nil(t, logs[0].Sources)

	assert.Equal(t, 200, logs[1].BestParams.NEstimators)
	assert.Equal(t, []string{"a.csv", "kepler, q1-q17.csv"}, logs[1].Sources)
	assert.Equal(t, 1500*time.Millisecond, logs[1].Duration)
	assert.True(t, first.Equal(logs[1].TrainedAt))

	logs, err = LoadTrainingLog(1)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestPredictionStats(t *testing.T) {
	initTestDB(t)

	require.NoError(t, SavePredictions("koi", "csv", []ml.Disposition{
		{Prediction: ml.DispositionConfirmed, Confidence: 0.8},
		{Prediction: ml.DispositionConfirmed, Confidence: 0.6},
		{Prediction: ml.DispositionFalsePositive, Confidence: 0.9},
	}))
	require.NoError(t, SavePredictions("other", "manual", []ml.Disposition{
		{Prediction: ml.DispositionCandidate, Confidence: 0.5},
	}))
	require.NoError(t, SavePredictions("koi", "manual", nil))
	assert.Error(t, SavePredictions("", "manual", []ml.Disposition{{}}))

	stats, err := PredictionStats()
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, PredictionStat{ModelName: "koi", Prediction: "Confirmed", Count: 2, AvgConf: 0.7}, roundAvg(stats[0]))
	assert.Equal(t, "False Positive", stats[1].Prediction)
	assert.Equal(t, "other", stats[2].ModelName)
}

func TestInitDBOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exo.db")
	require.NoError(t, InitDB(path))
	t.Cleanup(func() { _ = Close() })
	assert.True(t, Enabled())
	assert.FileExists(t, path)
}

func roundAvg(s PredictionStat) PredictionStat {
	s.AvgConf = float64(int(s.AvgConf*1000+0.5)) / 1000
	return s
}
