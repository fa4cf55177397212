// Package training turns uploaded KOI datasets into servable model artifacts.
package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"exovision/logger"
	"exovision/ml"
	"exovision/pipeline"
)

// Progress stages reported to the ProgressFunc.
const (
	StagePreprocessing = "Preprocessing data"
	StageTraining      = "Training model"
	StageEvaluating    = "Evaluating model"
	StageComplete      = "Model training complete"
)

// ErrNoUsableRows is returned when cleaning leaves nothing to train on.
var ErrNoUsableRows = errors.New("no usable rows after cleaning")

const failedPrefix = "Training failed: "

// FailedStage is the progress message emitted when a run fails.
func FailedStage(err error) string {
	return failedPrefix + err.Error()
}

// ProgressFunc receives stage messages as training advances.
type ProgressFunc func(stage string)

// Config holds every training hyperparameter.
type Config struct {
	TestSize float64      `yaml:"test_size"`
	Seed     int64        `yaml:"seed"`
	CVFolds  int          `yaml:"cv_folds"`
	NIter    int          `yaml:"n_iter"`
	SmoteK   int          `yaml:"smote_k"`
	Grid     ml.ParamGrid `yaml:"grid"`
	Features []string     `yaml:"features"`
	Target   string       `yaml:"target"`
}

// DefaultConfig returns the web trainer's settings.
func DefaultConfig() Config {
	return Config{
		TestSize: 0.2,
		Seed:     42,
		CVFolds:  3,
		NIter:    5,
		SmoteK:   5,
		Grid:     ml.DefaultParamGrid(),
		Features: ml.FeatureNames(),
		Target:   ml.TargetColumn,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TestSize <= 0 || c.TestSize >= 1 {
		c.TestSize = def.TestSize
	}
	if c.CVFolds < 2 {
		c.CVFolds = def.CVFolds
	}
	if c.NIter <= 0 {
		c.NIter = def.NIter
	}
	if c.SmoteK <= 0 {
		c.SmoteK = def.SmoteK
	}
	if len(c.Grid.Candidates()) == 0 {
		c.Grid = def.Grid
	}
	if len(c.Features) == 0 {
		c.Features = def.Features
	}
	if c.Target == "" {
		c.Target = def.Target
	}
	return c
}

// Prepared is the model-ready data produced by Preprocess.
type Prepared struct {
	TrainX        [][]float64
	TrainY        []int
	TestX         [][]float64
	TestY         []int
	Encoder       *ml.LabelEncoder
	Scaler        *ml.StandardScaler
	TrainingRows  int
	ResampledRows int
}

// Result is the outcome of a full run.
type Result struct {
	Artifact   *ml.Artifact
	Evaluation *ml.Evaluation
	Search     *ml.SearchResult
	Issues     []pipeline.QualityIssue
	Duration   time.Duration
}

// Trainer runs the training stages. A Trainer is single-use per run because
// its cleaner remembers rows it has already seen.
type Trainer struct {
	config   Config
	progress ProgressFunc
	cleaner  *pipeline.DataCleaner
	log      *zap.Logger
}

// New returns a trainer. progress may be nil.
func New(config Config, progress ProgressFunc) *Trainer {
	config = config.withDefaults()
	if progress == nil {
		progress = func(string) {}
	}
	return &Trainer{
		config:   config,
		progress: progress,
		cleaner:  pipeline.NewDataCleaner(config.Features, config.Target),
		log:      logger.L().With(zap.String("component", "trainer")),
	}
}

// Config returns the effective configuration.
func (t *Trainer) Config() Config {
	return t.config
}

// LoadFiles parses CSV files from disk.
func LoadFiles(paths ...string) ([]*ml.Dataset, error) {
	datasets := make([]*ml.Dataset, 0, len(paths))
	for _, path := range paths {
		ds, err := ml.LoadCSV(path)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, ds)
	}
	return datasets, nil
}

// Validate checks that every dataset carries the features and the target.
// The error names the first offending file.
func (t *Trainer) Validate(datasets ...*ml.Dataset) error {
	if len(datasets) == 0 {
		return errors.New("no training files provided")
	}
	for _, ds := range datasets {
		if err := ds.Require(t.required()); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) required() []string {
	return append(append([]string(nil), t.config.Features...), t.config.Target)
}

// Clean drops rows with missing or invalid values and duplicates from each
// dataset, so issues keep their file and row, then stacks what is left.
func (t *Trainer) Clean(datasets ...*ml.Dataset) (*ml.Dataset, []pipeline.QualityIssue, error) {
	var issues []pipeline.QualityIssue
	cleaned := make([]*ml.Dataset, 0, len(datasets))
	for _, ds := range datasets {
		kept, dropped := t.cleaner.Clean(ds)
		cleaned = append(cleaned, kept)
		issues = append(issues, dropped...)
	}
	merged, err := ml.Concat(t.required(), cleaned...)
	if err != nil {
		return nil, issues, err
	}
	if len(issues) > 0 {
		stats := t.cleaner.Stats()
		t.log.Warn("rows dropped during cleaning",
			zap.Int("dropped", stats.Dropped),
			zap.Int("kept", stats.Kept),
			zap.Any("by_rule", stats.ByRule))
	}
	if merged.Len() == 0 {
		return nil, issues, ErrNoUsableRows
	}
	return merged, issues, nil
}

// Preprocess encodes labels, splits, scales and oversamples.
func (t *Trainer) Preprocess(ds *ml.Dataset) (*Prepared, error) {
	features := make([][]float64, ds.Len())
	labels := make([]string, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		vector, invalid := ds.Record(i, t.config.Features)
		if len(invalid) > 0 {
			return nil, fmt.Errorf("row %d: invalid values for %v", i+1, invalid)
		}
		features[i] = vector
		labels[i], _ = ds.Value(i, t.config.Target)
	}

	encoder := &ml.LabelEncoder{}
	encoded, err := encoder.FitTransform(labels)
	if err != nil {
		return nil, err
	}
	if encoder.NumClasses() < 2 {
		return nil, fmt.Errorf("need at least 2 classes in %s, found %d", t.config.Target, encoder.NumClasses())
	}

	split, err := ml.StratifiedSplit(features, encoded, t.config.TestSize, t.config.Seed)
	if err != nil {
		return nil, err
	}

	scaler := &ml.StandardScaler{}
	trainX, err := scaler.FitTransform(split.TrainX)
	if err != nil {
		return nil, err
	}
	testX, err := scaler.Transform(split.TestX)
	if err != nil {
		return nil, err
	}

	resampledX, resampledY, err := ml.NewSMOTE(t.config.SmoteK, t.config.Seed).FitResample(trainX, split.TrainY)
	if err != nil {
		return nil, err
	}

	t.log.Info("data preprocessed",
		zap.Int("rows", ds.Len()),
		zap.Strings("classes", encoder.Classes),
		zap.Int("train", len(split.TrainY)),
		zap.Int("resampled", len(resampledY)),
		zap.Int("test", len(split.TestY)))

	return &Prepared{
		TrainX:        resampledX,
		TrainY:        resampledY,
		TestX:         testX,
		TestY:         split.TestY,
		Encoder:       encoder,
		Scaler:        scaler,
		TrainingRows:  len(split.TrainY),
		ResampledRows: len(resampledY),
	}, nil
}

// Train runs the randomized hyperparameter search.
func (t *Trainer) Train(ctx context.Context, p *Prepared) (*ml.SearchResult, error) {
	return ml.RandomizedSearch(ctx, p.TrainX, p.TrainY, p.Encoder.Classes, ml.SearchConfig{
		Grid:  t.config.Grid,
		NIter: t.config.NIter,
		Folds: t.config.CVFolds,
		Seed:  t.config.Seed,
	})
}

// Evaluate scores the model on the held-out set.
func (t *Trainer) Evaluate(model *ml.RandomForest, p *Prepared) (*ml.Evaluation, error) {
	predicted, err := model.PredictBatch(p.TestX)
	if err != nil {
		return nil, err
	}
	return ml.Evaluate(p.TestY, predicted, p.Encoder.Classes)
}

// Run executes every stage and returns a ready artifact. Progress is
// reported for each stage and for failure.
func (t *Trainer) Run(ctx context.Context, description string, datasets ...*ml.Dataset) (*Result, error) {
	result, err := t.run(ctx, description, datasets...)
	if err != nil {
		t.progress(FailedStage(err))
		t.log.Error("training failed", zap.Error(err))
		return nil, err
	}
	t.progress(StageComplete)
	return result, nil
}

func (t *Trainer) run(ctx context.Context, description string, datasets ...*ml.Dataset) (*Result, error) {
	start := time.Now()

	t.progress(StagePreprocessing)
	if err := t.Validate(datasets...); err != nil {
		return nil, err
	}
	cleaned, issues, err := t.Clean(datasets...)
	if err != nil {
		return nil, err
	}
	prepared, err := t.Preprocess(cleaned)
	if err != nil {
		return nil, err
	}

	t.progress(StageTraining)
	search, err := t.Train(ctx, prepared)
	if err != nil {
		return nil, err
	}

	t.progress(StageEvaluating)
	eval, err := t.Evaluate(search.Best, prepared)
	if err != nil {
		return nil, err
	}

	sources := make([]string, 0, len(datasets))
	for _, ds := range datasets {
		sources = append(sources, ds.Source)
	}

	artifact := &ml.Artifact{
		Model:           search.Best,
		LabelEncoder:    prepared.Encoder,
		Scaler:          prepared.Scaler,
		Features:        append([]string(nil), t.config.Features...),
		ConfusionMatrix: eval.ConfusionMatrix,
		Metadata: ml.ArtifactMetadata{
			Description:      description,
			Target:           t.config.Target,
			BestParams:       search.BestParams,
			CVScore:          search.BestScore,
			BalancedAccuracy: eval.BalancedAccuracy,
			Classes:          eval.Classes,
			Report:           eval.Report,
			TrainingRows:     prepared.TrainingRows,
			ResampledRows:    prepared.ResampledRows,
			TestRows:         len(prepared.TestY),
			Sources:          sources,
			CreatedAt:        time.Now().UTC(),
		},
	}

	duration := time.Since(start)
	t.log.Info("training finished",
		zap.Stringer("best_params", search.BestParams),
		zap.Float64("cv_score", search.BestScore),
		zap.Float64("balanced_accuracy", eval.BalancedAccuracy),
		zap.Duration("duration", duration))

	return &Result{
		Artifact:   artifact,
		Evaluation: eval,
		Search:     search,
		Issues:     issues,
		Duration:   duration,
	}, nil
}
