package ml

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"exovision/logger"
)

// ParamGrid lists the candidate values of every searched hyperparameter.
// A MaxDepth of 0 means unlimited depth.
type ParamGrid struct {
	NEstimators     []int `yaml:"n_estimators"`
	MaxDepth        []int `yaml:"max_depth"`
	MinSamplesSplit []int `yaml:"min_samples_split"`
	MinSamplesLeaf  []int `yaml:"min_samples_leaf"`
}

// DefaultParamGrid is the grid searched by the web trainer.
func DefaultParamGrid() ParamGrid {
	return ParamGrid{
		NEstimators:     []int{100, 200, 300},
		MaxDepth:        []int{10, 20, 0},
		MinSamplesSplit: []int{2, 5, 10},
		MinSamplesLeaf:  []int{1, 2, 4},
	}
}

// Candidates enumerates the full grid in a fixed order.
func (g ParamGrid) Candidates() []ForestParams {
	var out []ForestParams
	for _, n := range g.NEstimators {
		for _, depth := range g.MaxDepth {
			for _, split := range g.MinSamplesSplit {
				for _, leaf := range g.MinSamplesLeaf {
					out = append(out, ForestParams{
						NEstimators:     n,
						MaxDepth:        depth,
						MinSamplesSplit: split,
						MinSamplesLeaf:  leaf,
					})
				}
			}
		}
	}
	return out
}

// SearchConfig configures RandomizedSearch.
type SearchConfig struct {
	Grid  ParamGrid
	NIter int
	Folds int
	Seed  int64
}

// CandidateScore is the cross-validated score of one parameter set.
type CandidateScore struct {
	Params     ForestParams `json:"params"`
	FoldScores []float64    `json:"fold_scores"`
	MeanScore  float64      `json:"mean_score"`
}

// SearchResult holds the refitted best estimator and all candidate scores.
type SearchResult struct {
	Best       *RandomForest
	BestParams ForestParams
	BestScore  float64
	Candidates []CandidateScore
}

// RandomizedSearch samples NIter distinct parameter sets from the grid,
// scores each with stratified k-fold balanced accuracy and refits the best
// one on all of features.
func RandomizedSearch(ctx context.Context, features [][]float64, labels []int, classes []string, cfg SearchConfig) (*SearchResult, error) {
	grid := cfg.Grid.Candidates()
	if len(grid) == 0 {
		return nil, errors.New("parameter grid is empty")
	}
	if cfg.NIter <= 0 || cfg.NIter > len(grid) {
		cfg.NIter = len(grid)
	}
	if cfg.Folds < 2 {
		cfg.Folds = 3
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	order := rng.Perm(len(grid))[:cfg.NIter]

	folds, err := StratifiedKFold(labels, cfg.Folds)
	if err != nil {
		return nil, err
	}

	log := logger.L().With(zap.String("component", "search"))
	log.Info("randomized search started",
		zap.Int("candidates", cfg.NIter),
		zap.Int("folds", cfg.Folds),
		zap.Int("samples", len(labels)))

	// Folds run side by side; split the CPUs between their forests.
	workers := runtime.GOMAXPROCS(0) / cfg.Folds
	if workers < 1 {
		workers = 1
	}

	result := &SearchResult{}
	bestIdx := -1
	for _, gi := range order {
		params := grid[gi]
		scores := make([]float64, len(folds))
		g, gctx := errgroup.WithContext(ctx)
		for fi, testIdx := range folds {
			g.Go(func() error {
				trainX, trainY, testX, testY := foldData(features, labels, testIdx)
				forest := NewRandomForest(params, cfg.Seed)
				forest.Workers = workers
				if err := forest.FitContext(gctx, trainX, trainY, len(classes)); err != nil {
					return err
				}
				predicted, err := forest.PredictBatch(testX)
				if err != nil {
					return err
				}
				matrix, err := ConfusionMatrix(testY, predicted, len(classes))
				if err != nil {
					return err
				}
				scores[fi] = BalancedAccuracy(matrix, classes)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("search %s: %w", params, err)
		}
		mean := 0.0
		for _, s := range scores {
			mean += s
		}
		mean /= float64(len(scores))
		result.Candidates = append(result.Candidates, CandidateScore{Params: params, FoldScores: scores, MeanScore: mean})
		log.Info("candidate scored", zap.Stringer("params", params), zap.Float64("balanced_accuracy", mean))

		if bestIdx == -1 || mean > result.BestScore {
			bestIdx = len(result.Candidates) - 1
			result.BestScore = mean
			result.BestParams = params
		}
	}

	best := NewRandomForest(result.BestParams, cfg.Seed)
	if err := best.FitContext(ctx, features, labels, len(classes)); err != nil {
		return nil, fmt.Errorf("refit best estimator: %w", err)
	}
	result.Best = best
	log.Info("randomized search finished",
		zap.Stringer("best_params", result.BestParams),
		zap.Float64("best_score", result.BestScore))
	return result, nil
}
