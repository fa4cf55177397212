package training

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exovision/db"
	"exovision/ml"
	"exovision/ml/mltest"
	"exovision/store"
)

type memSaver struct {
	mu    sync.Mutex
	saved map[string]*ml.Artifact
	err   error
	block chan struct{}
}

func (s *memSaver) Save(name string, artifact *ml.Artifact) error {
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string]*ml.Artifact)
	}
	s.saved[name] = artifact
	return nil
}

type event struct {
	jobID, model, stage string
	done, failed        bool
}

type eventRecorder struct {
	mu     sync.Mutex
	events []event
}

func (r *eventRecorder) PublishStage(jobID, model, stage string, done, failed bool) {
	r.mu.Lock()
	r.events = append(r.events, event{jobID, model, stage, done, failed})
	r.mu.Unlock()
}

func (r *eventRecorder) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.stage
	}
	return out
}

type resultRecorder struct {
	eventRecorder
	order   []string
	summary Summary
}

func (r *resultRecorder) PublishStage(jobID, model, stage string, done, failed bool) {
	r.eventRecorder.PublishStage(jobID, model, stage, done, failed)
	r.order = append(r.order, stage)
}

func (r *resultRecorder) PublishResult(jobID, model string, summary any) {
	r.summary = summary.(Summary)
	r.order = append(r.order, "result:"+jobID+"/"+model)
}

func withDB(t *testing.T) {
	t.Helper()
	require.NoError(t, db.InitDB(":memory:"))
	t.Cleanup(func() { db.Close() })
}

func TestRunnerRun(t *testing.T) {
	withDB(t)
	saver := &memSaver{}
	events := &eventRecorder{}
	runner := NewRunner(fastConfig(), saver, events)

	result, err := runner.Run(context.Background(), Job{
		ID:       "job-1",
		Model:    "kepler_v2",
		Datasets: []*ml.Dataset{mltest.Dataset(20, 10, 3)},
	})
	require.NoError(t, err)
	assert.Same(t, result.Artifact, saver.saved["kepler_v2"])
	assert.False(t, runner.Busy())

	assert.Equal(t, []string{StagePreprocessing, StageTraining, StageEvaluating, StageComplete}, events.stages())
	last := events.events[len(events.events)-1]
	assert.Equal(t, event{"job-1", "kepler_v2", StageComplete, true, false}, last)

	history, err := db.LoadTrainingLog(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "job-1", history[0].JobID)
	assert.Equal(t, "succeeded", history[0].Status)
	assert.Equal(t, result.Artifact.Metadata.BalancedAccuracy, history[0].BalancedAccuracy)
}

func TestRunnerPublishesResultBeforeComplete(t *testing.T) {
	rec := &resultRecorder{}
	result, err := NewRunner(fastConfig(), &memSaver{}, rec).Run(context.Background(), Job{
		ID:       "job-7",
		Model:    "summary",
		Datasets: []*ml.Dataset{mltest.Dataset(15, 0, 5)},
	})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(rec.order), 2)
	assert.Equal(t, []string{"result:job-7/summary", StageComplete}, rec.order[len(rec.order)-2:])
	meta := result.Artifact.Metadata
	assert.Equal(t, meta.BalancedAccuracy, rec.summary.BalancedAccuracy)
	assert.Equal(t, meta.BestParams, rec.summary.BestParams)
	assert.Equal(t, meta.TrainingRows, rec.summary.TrainingRows)
	assert.Equal(t, len(result.Issues), rec.summary.DroppedRows)
}

func TestRunnerLoadsPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "koi.csv")
	require.NoError(t, os.WriteFile(path, mltest.CSV(15, 0, 4), 0o644))

	saver := &memSaver{}
	_, err := NewRunner(fastConfig(), saver, nil).Run(context.Background(), Job{Model: "from_disk", Paths: []string{path}})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, saver.saved["from_disk"].Metadata.Sources)
}

func TestRunnerFailures(t *testing.T) {
	withDB(t)

	t.Run("invalid name", func(t *testing.T) {
		_, err := NewRunner(fastConfig(), &memSaver{}, nil).Run(context.Background(), Job{Model: "../evil"})
		assert.ErrorIs(t, err, store.ErrInvalidName)
	})

	t.Run("no datasets", func(t *testing.T) {
		events := &eventRecorder{}
		_, err := NewRunner(fastConfig(), &memSaver{}, events).Run(context.Background(), Job{Model: "empty"})
		assert.ErrorIs(t, err, ErrNoDatasets)
		require.Len(t, events.events, 1)
		assert.True(t, events.events[0].failed)
	})

	t.Run("save error", func(t *testing.T) {
		events := &eventRecorder{}
		saver := &memSaver{err: errors.New("disk full")}
		_, err := NewRunner(fastConfig(), saver, events).Run(context.Background(), Job{
			Model:    "unsaved",
			Datasets: []*ml.Dataset{mltest.Dataset(15, 0, 5)},
		})
		assert.ErrorIs(t, err, ErrSaveFailed)
		stages := events.stages()
		assert.NotContains(t, stages, StageComplete)
		assert.Contains(t, stages[len(stages)-1], "disk full")
	})

	history, err := db.LoadTrainingLog(10)
	require.NoError(t, err)
	// The invalid name is rejected before a job exists.
	require.Len(t, history, 2)
	for _, entry := range history {
		assert.Equal(t, "failed", entry.Status)
		assert.NotEmpty(t, entry.Error)
	}
}

func TestRunnerRejectsConcurrentJobs(t *testing.T) {
	saver := &memSaver{block: make(chan struct{})}
	runner := NewRunner(fastConfig(), saver, nil)

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background(), Job{Model: "first", Datasets: []*ml.Dataset{mltest.Dataset(15, 0, 6)}})
		done <- err
	}()
	require.Eventually(t, runner.Busy, defaultWait, pollEvery)

	_, err := runner.Run(context.Background(), Job{Model: "second", Datasets: []*ml.Dataset{mltest.Dataset(15, 0, 7)}})
	assert.ErrorIs(t, err, ErrTrainingBusy)

	close(saver.block)
	require.NoError(t, <-done)
	assert.False(t, runner.Busy())
}

func TestRunnerReserve(t *testing.T) {
	runner := NewRunner(fastConfig(), &memSaver{}, nil)

	slot, err := runner.Reserve()
	require.NoError(t, err)
	assert.True(t, runner.Busy())

	_, err = runner.Reserve()
	assert.ErrorIs(t, err, ErrTrainingBusy)
	_, err = runner.Run(context.Background(), Job{Model: "other", Datasets: []*ml.Dataset{mltest.Dataset(15, 0, 8)}})
	assert.ErrorIs(t, err, ErrTrainingBusy)

	slot.Release()
	slot.Release()
	assert.False(t, runner.Busy())
	_, err = slot.Run(context.Background(), Job{Model: "late"})
	assert.ErrorIs(t, err, ErrTrainingBusy)

	slot, err = runner.Reserve()
	require.NoError(t, err)
	_, err = slot.Run(context.Background(), Job{Model: "reserved", Datasets: []*ml.Dataset{mltest.Dataset(15, 0, 9)}})
	require.NoError(t, err)
	assert.False(t, runner.Busy())
}

const (
	defaultWait = 10 * time.Second
	pollEvery   = 10 * time.Millisecond
)
