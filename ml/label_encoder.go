package ml

import (
	"errors"
	"fmt"
	"sort"
)

// LabelEncoder maps class names to contiguous integers in sorted order.
type LabelEncoder struct {
	Classes []string

	index map[string]int
}

// Fit learns the sorted set of distinct labels.
func (e *LabelEncoder) Fit(labels []string) error {
	if len(labels) == 0 {
		return errors.New("labels is empty")
	}
	seen := make(map[string]struct{})
	for _, label := range labels {
		seen[label] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for label := range seen {
		classes = append(classes, label)
	}
	sort.Strings(classes)
	e.Classes = classes
	e.index = nil
	return nil
}

// FitTransform fits the encoder and encodes labels.
func (e *LabelEncoder) FitTransform(labels []string) ([]int, error) {
	if err := e.Fit(labels); err != nil {
		return nil, err
	}
	return e.Transform(labels)
}

// Transform encodes labels; unseen labels are an error.
func (e *LabelEncoder) Transform(labels []string) ([]int, error) {
	if len(e.Classes) == 0 {
		return nil, ErrNotFitted
	}
	if e.index == nil {
		e.index = make(map[string]int, len(e.Classes))
		for i, class := range e.Classes {
			e.index[class] = i
		}
	}
	out := make([]int, len(labels))
	for i, label := range labels {
		code, ok := e.index[label]
		if !ok {
			return nil, fmt.Errorf("unseen label %q", label)
		}
		out[i] = code
	}
	return out, nil
}

// InverseTransform decodes a single class index.
func (e *LabelEncoder) InverseTransform(code int) (string, error) {
	if code < 0 || code >= len(e.Classes) {
		return "", fmt.Errorf("class index %d out of range [0,%d)", code, len(e.Classes))
	}
	return e.Classes[code], nil
}

// NumClasses returns the number of fitted classes.
func (e *LabelEncoder) NumClasses() int {
	return len(e.Classes)
}
