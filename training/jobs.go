package training

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"exovision/db"
	"exovision/logger"
	"exovision/ml"
	"exovision/monitoring"
	"exovision/store"
)

var (
	ErrTrainingBusy = errors.New("a training job is already running")
	ErrSaveFailed   = errors.New("saving the trained model failed")
	ErrNoDatasets   = errors.New("at least one dataset is required")
)

// ArtifactSaver persists a finished artifact under a model name.
type ArtifactSaver interface {
	Save(name string, artifact *ml.Artifact) error
}

// Publisher receives stage events for live progress streams.
type Publisher interface {
	PublishStage(jobID, model, stage string, done, failed bool)
}

// ResultPublisher is implemented by publishers that also want the summary
// of a saved model. It is sent just before the complete stage.
type ResultPublisher interface {
	PublishResult(jobID, model string, summary any)
}

// Summary is the published outcome of a successful job.
type Summary struct {
	BalancedAccuracy float64         `json:"balanced_accuracy"`
	CVScore          float64         `json:"cv_score"`
	BestParams       ml.ForestParams `json:"best_params"`
	TrainingRows     int             `json:"training_rows"`
	TestRows         int             `json:"test_rows"`
	DroppedRows      int             `json:"dropped_rows"`
	Seconds          float64         `json:"seconds"`
}

func summarize(result *Result) Summary {
	meta := result.Artifact.Metadata
	return Summary{
		BalancedAccuracy: meta.BalancedAccuracy,
		CVScore:          meta.CVScore,
		BestParams:       meta.BestParams,
		TrainingRows:     meta.TrainingRows,
		TestRows:         meta.TestRows,
		DroppedRows:      len(result.Issues),
		Seconds:          result.Duration.Seconds(),
	}
}

// Job describes one training request. Datasets and Paths are combined.
type Job struct {
	ID          string
	Model       string
	Description string
	Trigger     string
	Paths       []string
	Datasets    []*ml.Dataset
}

// Runner executes training jobs one at a time.
type Runner struct {
	config    Config
	saver     ArtifactSaver
	publisher Publisher
	busy      atomic.Bool
	log       *zap.Logger
}

// NewRunner returns a runner. publisher may be nil.
func NewRunner(config Config, saver ArtifactSaver, publisher Publisher) *Runner {
	return &Runner{
		config:    config,
		saver:     saver,
		publisher: publisher,
		log:       logger.L().With(zap.String("component", "training-jobs")),
	}
}

// Busy reports whether a job is in progress.
func (r *Runner) Busy() bool {
	return r.busy.Load()
}

// Run trains, saves and records job. It returns ErrTrainingBusy without
// doing anything when another job holds the runner.
func (r *Runner) Run(ctx context.Context, job Job) (*Result, error) {
	if !store.ValidName(job.Model) {
		return nil, store.ErrInvalidName
	}
	res, err := r.Reserve()
	if err != nil {
		return nil, err
	}
	return res.Run(ctx, job)
}

// Reserve claims the runner before a job is ready to start, so callers can
// do their own preparation only once they hold it.
func (r *Runner) Reserve() (*Reservation, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrTrainingBusy
	}
	res := &Reservation{runner: r}
	res.held.Store(true)
	return res, nil
}

// Reservation holds the runner for a single job. Run or Release frees it.
type Reservation struct {
	runner *Runner
	held   atomic.Bool
}

// Release frees the runner without running a job. It is safe to call more
// than once and after Run.
func (res *Reservation) Release() {
	if res.held.CompareAndSwap(true, false) {
		res.runner.busy.Store(false)
	}
}

// Run executes job on the reserved runner and releases it.
func (res *Reservation) Run(ctx context.Context, job Job) (*Result, error) {
	if !res.held.Load() {
		return nil, ErrTrainingBusy
	}
	defer res.Release()
	if !store.ValidName(job.Model) {
		return nil, store.ErrInvalidName
	}
	return res.runner.run(ctx, job)
}

func (r *Runner) run(ctx context.Context, job Job) (*Result, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Trigger == "" {
		job.Trigger = "manual"
	}
	log := r.log.With(
		zap.String("job_id", job.ID),
		zap.String("model", job.Model),
		zap.String("trigger", job.Trigger))

	progress := func(stage string) {
		log.Info("training progress", zap.String("stage", stage))
		if r.publisher != nil {
			r.publisher.PublishStage(job.ID, job.Model, stage,
				stage == StageComplete, isFailure(stage))
		}
	}

	start := time.Now()
	result, err := r.train(ctx, job, progress)
	elapsed := time.Since(start)
	monitoring.RecordTraining(job.Model, err, elapsed, balancedAccuracy(result))
	r.record(job, result, err, elapsed)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Runner) train(ctx context.Context, job Job, progress ProgressFunc) (*Result, error) {
	datasets := append([]*ml.Dataset(nil), job.Datasets...)
	if len(job.Paths) > 0 {
		loaded, err := LoadFiles(job.Paths...)
		if err != nil {
			progress(FailedStage(err))
			return nil, err
		}
		datasets = append(datasets, loaded...)
	}
	if len(datasets) == 0 {
		progress(FailedStage(ErrNoDatasets))
		return nil, ErrNoDatasets
	}

	description := job.Description
	if description == "" {
		description = fmt.Sprintf("Custom model trained on %d dataset(s)", len(datasets))
	}

	// The complete stage is emitted only once the artifact is on disk.
	var completed bool
	trainer := New(r.config, func(stage string) {
		if stage == StageComplete {
			completed = true
			return
		}
		progress(stage)
	})
	result, err := trainer.Run(ctx, description, datasets...)
	if err != nil {
		return nil, err
	}
	if err := r.saver.Save(job.Model, result.Artifact); err != nil {
		err = fmt.Errorf("%w: %w", ErrSaveFailed, err)
		progress(FailedStage(err))
		return nil, err
	}
	if completed {
		if rp, ok := r.publisher.(ResultPublisher); ok {
			rp.PublishResult(job.ID, job.Model, summarize(result))
		}
		progress(StageComplete)
	}
	return result, nil
}

func (r *Runner) record(job Job, result *Result, runErr error, elapsed time.Duration) {
	if !db.Enabled() {
		return
	}
	entry := db.TrainingLog{
		JobID:     job.ID,
		ModelName: job.Model,
		Status:    "succeeded",
		Duration:  elapsed,
		Sources:   job.Paths,
	}
	if runErr != nil {
		entry.Status = "failed"
		entry.Error = runErr.Error()
	}
	if result != nil {
		meta := result.Artifact.Metadata
		entry.BalancedAccuracy = meta.BalancedAccuracy
		entry.CVScore = meta.CVScore
		entry.BestParams = meta.BestParams
		entry.TrainingRows = meta.TrainingRows
		entry.TestRows = meta.TestRows
		entry.Sources = meta.Sources
		entry.DroppedRows = len(result.Issues)
	}
	if err := db.SaveTrainingLog(entry); err != nil {
		r.log.Warn("failed to record training run", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func isFailure(stage string) bool {
	return strings.HasPrefix(stage, failedPrefix)
}

func balancedAccuracy(result *Result) float64 {
	if result == nil {
		return 0
	}
	return result.Artifact.Metadata.BalancedAccuracy
}
