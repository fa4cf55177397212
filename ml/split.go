package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Split holds a train/test partition.
type Split struct {
	TrainX [][]float64
	TrainY []int
	TestX  [][]float64
	TestY  []int
}

// StratifiedSplit shuffles each class with the given seed and moves
// round(testRatio * classSize) samples of it to the test set, so both sets
// keep the class proportions.
func StratifiedSplit(features [][]float64, labels []int, testRatio float64, seed int64) (*Split, error) {
	if len(features) != len(labels) {
		return nil, errors.New("features and labels size mismatch")
	}
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	byClass := groupByClass(labels)
	rng := rand.New(rand.NewSource(seed))

	split := &Split{}
	for _, class := range sortedClasses(byClass) {
		members := byClass[class]
		if len(members) < 2 {
			return nil, fmt.Errorf("class %d has %d sample(s); stratified split needs at least 2", class, len(members))
		}
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		nTest := int(math.Round(float64(len(members)) * testRatio))
		if nTest < 1 {
			nTest = 1
		}
		if nTest >= len(members) {
			nTest = len(members) - 1
		}
		for i, idx := range members {
			if i < nTest {
				split.TestX = append(split.TestX, features[idx])
				split.TestY = append(split.TestY, labels[idx])
			} else {
				split.TrainX = append(split.TrainX, features[idx])
				split.TrainY = append(split.TrainY, labels[idx])
			}
		}
	}
	return split, nil
}

// StratifiedKFold assigns every sample to one of k folds, dealing each class
// round-robin in its original order. It returns the test indices of every
// fold.
func StratifiedKFold(labels []int, k int) ([][]int, error) {
	if k < 2 {
		return nil, errors.New("k must be at least 2")
	}
	byClass := groupByClass(labels)
	for class, members := range byClass {
		if len(members) < k {
			return nil, fmt.Errorf("class %d has %d sample(s); %d folds need at least %d", class, len(members), k, k)
		}
	}
	folds := make([][]int, k)
	for _, class := range sortedClasses(byClass) {
		for i, idx := range byClass[class] {
			folds[i%k] = append(folds[i%k], idx)
		}
	}
	for _, fold := range folds {
		sort.Ints(fold)
	}
	return folds, nil
}

// foldData materializes the training and validation rows of one fold.
func foldData(features [][]float64, labels []int, testIdx []int) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	inTest := make([]bool, len(labels))
	for _, idx := range testIdx {
		inTest[idx] = true
	}
	for i := range labels {
		if inTest[i] {
			testX = append(testX, features[i])
			testY = append(testY, labels[i])
		} else {
			trainX = append(trainX, features[i])
			trainY = append(trainY, labels[i])
		}
	}
	return trainX, trainY, testX, testY
}

func groupByClass(labels []int) map[int][]int {
	byClass := make(map[int][]int)
	for i, label := range labels {
		byClass[label] = append(byClass[label], i)
	}
	return byClass
}

func sortedClasses(byClass map[int][]int) []int {
	classes := make([]int, 0, len(byClass))
	for class := range byClass {
		classes = append(classes, class)
	}
	sort.Ints(classes)
	return classes
}
