package ml

import (
	"errors"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// SMOTE oversamples every minority class up to the majority class count by
// interpolating between a sample and one of its K nearest same-class
// neighbours.
type SMOTE struct {
	K    int
	Seed int64
}

// NewSMOTE returns an oversampler with k neighbours.
func NewSMOTE(k int, seed int64) *SMOTE {
	if k <= 0 {
		k = 5
	}
	return &SMOTE{K: k, Seed: seed}
}

// FitResample returns the original samples followed by the synthetic ones.
func (s *SMOTE) FitResample(features [][]float64, labels []int) ([][]float64, []int, error) {
	if len(features) == 0 || len(features) != len(labels) {
		return nil, nil, errors.New("features and labels must be non-empty and aligned")
	}
	byClass := make(map[int][]int)
	for i, label := range labels {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	majority := 0
	for class, members := range byClass {
		classes = append(classes, class)
		if len(members) > majority {
			majority = len(members)
		}
	}
	sort.Ints(classes)

	outX := make([][]float64, len(features), len(features)+majority*len(classes))
	copy(outX, features)
	outY := append(make([]int, 0, cap(outX)), labels...)

	rng := rand.New(rand.NewSource(s.Seed))
	for _, class := range classes {
		members := byClass[class]
		need := majority - len(members)
		if need <= 0 {
			continue
		}
		if len(members) < 2 {
			return nil, nil, errors.New("smote: a minority class needs at least 2 samples")
		}
		k := s.K
		if k > len(members)-1 {
			k = len(members) - 1
		}
		neighbours := nearestNeighbours(features, members, k)
		for n := 0; n < need; n++ {
			pick := rng.Intn(len(members))
			base := features[members[pick]]
			nn := features[neighbours[pick][rng.Intn(k)]]
			gap := rng.Float64()
			synthetic := make([]float64, len(base))
			for j := range base {
				synthetic[j] = base[j] + gap*(nn[j]-base[j])
			}
			outX = append(outX, synthetic)
			outY = append(outY, class)
		}
	}
	return outX, outY, nil
}

// nearestNeighbours returns, for each member, the indices of its k closest
// other members by Euclidean distance.
func nearestNeighbours(features [][]float64, members []int, k int) [][]int {
	result := make([][]int, len(members))
	type candidate struct {
		idx  int
		dist float64
	}
	candidates := make([]candidate, 0, len(members)-1)
	for i, a := range members {
		candidates = candidates[:0]
		for j, b := range members {
			if i == j {
				continue
			}
			candidates = append(candidates, candidate{idx: b, dist: floats.Distance(features[a], features[b], 2)})
		}
		sort.Slice(candidates, func(x, y int) bool {
			if candidates[x].dist == candidates[y].dist {
				return candidates[x].idx < candidates[y].idx
			}
			return candidates[x].dist < candidates[y].dist
		})
		nn := make([]int, k)
		for n := 0; n < k; n++ {
			nn[n] = candidates[n].idx
		}
		result[i] = nn
	}
	return result
}
