package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ForestParams are the hyperparameters searched during training.
type ForestParams struct {
	NEstimators     int `json:"n_estimators" yaml:"n_estimators"`
	MaxDepth        int `json:"max_depth" yaml:"max_depth"`
	MinSamplesSplit int `json:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int `json:"min_samples_leaf" yaml:"min_samples_leaf"`
}

func (p ForestParams) String() string {
	depth := "none"
	if p.MaxDepth > 0 {
		depth = fmt.Sprint(p.MaxDepth)
	}
	return fmt.Sprintf("n_estimators=%d max_depth=%s min_samples_split=%d min_samples_leaf=%d",
		p.NEstimators, depth, p.MinSamplesSplit, p.MinSamplesLeaf)
}

// RandomForest is a bagged ensemble of CART trees, each grown on a bootstrap
// sample and considering sqrt(features) candidates per split. Prediction
// averages the per-tree class probabilities.
type RandomForest struct {
	Params     ForestParams
	Seed       int64
	Workers    int
	NumClasses int
	Trees      []*DecisionTree
}

// NewRandomForest creates an untrained forest.
func NewRandomForest(params ForestParams, seed int64) *RandomForest {
	if params.NEstimators <= 0 {
		params.NEstimators = 100
	}
	return &RandomForest{Params: params, Seed: seed}
}

func (f *RandomForest) Fit(features [][]float64, labels []int, numClasses int) error {
	return f.FitContext(context.Background(), features, labels, numClasses)
}

// FitContext grows the trees concurrently. Each tree draws from its own
// generator seeded from the forest seed, so results do not depend on
// scheduling.
func (f *RandomForest) FitContext(ctx context.Context, features [][]float64, labels []int, numClasses int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	numFeatures := len(features[0])
	maxFeatures := int(math.Max(1, math.Floor(math.Sqrt(float64(numFeatures)))))
	treeParams := TreeParams{
		MaxDepth:        f.Params.MaxDepth,
		MinSamplesSplit: f.Params.MinSamplesSplit,
		MinSamplesLeaf:  f.Params.MinSamplesLeaf,
		MaxFeatures:     maxFeatures,
	}

	master := rand.New(rand.NewSource(f.Seed))
	seeds := make([]int64, f.Params.NEstimators)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]*DecisionTree, f.Params.NEstimators)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers())
	for i := range trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[i]))
			sample := make([]int, len(features))
			for j := range sample {
				sample[j] = rng.Intn(len(features))
			}
			tree := NewDecisionTree(treeParams, rng)
			if err := tree.fitIndices(features, labels, sample, numClasses); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.Trees = trees
	f.NumClasses = numClasses
	return nil
}

func (f *RandomForest) workers() int {
	if f.Workers > 0 {
		return f.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (f *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotFitted
	}
	proba := make([]float64, f.NumClasses)
	for _, tree := range f.Trees {
		p, err := tree.PredictProba(features)
		if err != nil {
			return nil, err
		}
		for c, v := range p {
			proba[c] += v
		}
	}
	for c := range proba {
		proba[c] /= float64(len(f.Trees))
	}
	return proba, nil
}

func (f *RandomForest) Predict(features []float64) (int, float64, error) {
	proba, err := f.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label, confidence := argmax(proba)
	return label, confidence, nil
}

// PredictBatch predicts every row.
func (f *RandomForest) PredictBatch(features [][]float64) ([]int, error) {
	out := make([]int, len(features))
	for i, row := range features {
		label, _, err := f.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = label
	}
	return out, nil
}
