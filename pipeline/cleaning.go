package pipeline

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"exovision/logger"
	"exovision/ml"
)

// CleaningRule inspects one dataset row and returns an error when the row
// must be rejected.
type CleaningRule interface {
	Apply(ds *ml.Dataset, row int) error
	Name() string
}

// QualityIssue describes one rejected row.
type QualityIssue struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
	Source  string `json:"source"`
	Row     int    `json:"row"`
}

// CleaningStats counts rows seen by a cleaner over its lifetime.
type CleaningStats struct {
	Processed int            `json:"processed"`
	Kept      int            `json:"kept"`
	Dropped   int            `json:"dropped"`
	ByRule    map[string]int `json:"by_rule"`
}

// DataCleaner filters training rows through an ordered list of rules.
type DataCleaner struct {
	rules []CleaningRule

	mu    sync.Mutex
	stats CleaningStats
}

// NewDataCleaner returns a cleaner with the default rules for the given
// features and target column.
func NewDataCleaner(features []string, target string) *DataCleaner {
	cleaner := &DataCleaner{stats: CleaningStats{ByRule: map[string]int{}}}
	cleaner.AddRule(NewFeatureValidationRule(features))
	cleaner.AddRule(NewTargetValidationRule(target))
	cleaner.AddRule(NewDuplicateDetectionRule(append(append([]string(nil), features...), target)))
	return cleaner
}

// AddRule appends a rule; rules run in insertion order.
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	logger.L().Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean returns a dataset holding only the rows that passed every rule,
// together with one issue per rejected row, from the first rule that
// rejected it. Row numbers are 1-based data rows of ds.
func (dc *DataCleaner) Clean(ds *ml.Dataset) (*ml.Dataset, []QualityIssue) {
	cleaned := &ml.Dataset{Source: ds.Source, Columns: append([]string(nil), ds.Columns...)}
	var issues []QualityIssue

	dc.mu.Lock()
	defer dc.mu.Unlock()

	for i := range ds.Rows {
		dc.stats.Processed++
		if issue, rejected := dc.check(ds, i); rejected {
			dc.stats.Dropped++
			dc.stats.ByRule[issue.Rule]++
			issues = append(issues, issue)
			continue
		}
		dc.stats.Kept++
		cleaned.Rows = append(cleaned.Rows, ds.Rows[i])
	}
	return cleaned, issues
}

func (dc *DataCleaner) check(ds *ml.Dataset, row int) (QualityIssue, bool) {
	for _, rule := range dc.rules {
		if err := rule.Apply(ds, row); err != nil {
			return QualityIssue{Rule: rule.Name(), Message: err.Error(), Source: ds.Source, Row: row + 1}, true
		}
	}
	return QualityIssue{}, false
}

// Stats returns a copy of the counters.
func (dc *DataCleaner) Stats() CleaningStats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	stats := dc.stats
	stats.ByRule = make(map[string]int, len(dc.stats.ByRule))
	for k, v := range dc.stats.ByRule {
		stats.ByRule[k] = v
	}
	return stats
}

// FeatureValidationRule rejects rows whose features are empty, non-numeric
// or non-finite.
type FeatureValidationRule struct {
	Features []string
}

func NewFeatureValidationRule(features []string) *FeatureValidationRule {
	return &FeatureValidationRule{Features: features}
}

func (r *FeatureValidationRule) Name() string {
	return "feature_validation"
}

func (r *FeatureValidationRule) Apply(ds *ml.Dataset, row int) error {
	if _, invalid := ds.Record(row, r.Features); len(invalid) > 0 {
		return fmt.Errorf("missing or invalid values for %s", strings.Join(invalid, ", "))
	}
	return nil
}

// TargetValidationRule rejects rows with an empty target label.
type TargetValidationRule struct {
	Target string
}

func NewTargetValidationRule(target string) *TargetValidationRule {
	return &TargetValidationRule{Target: target}
}

func (r *TargetValidationRule) Name() string {
	return "target_validation"
}

func (r *TargetValidationRule) Apply(ds *ml.Dataset, row int) error {
	label, ok := ds.Value(row, r.Target)
	if !ok || label == "" {
		return fmt.Errorf("empty %s", r.Target)
	}
	return nil
}

// DuplicateDetectionRule rejects rows whose key columns repeat an earlier
// row. The seen set persists across Clean calls on the same cleaner, so a
// row repeated in a second uploaded file is dropped too.
type DuplicateDetectionRule struct {
	Columns []string
	seen    map[string]struct{}
	mu      sync.Mutex
}

func NewDuplicateDetectionRule(columns []string) *DuplicateDetectionRule {
	return &DuplicateDetectionRule{
		Columns: columns,
		seen:    make(map[string]struct{}),
	}
}

func (r *DuplicateDetectionRule) Name() string {
	return "duplicate_detection"
}

func (r *DuplicateDetectionRule) Apply(ds *ml.Dataset, row int) error {
	var key strings.Builder
	for _, col := range r.Columns {
		v, _ := ds.Value(row, col)
		key.WriteString(v)
		key.WriteByte(0x1f)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.seen[key.String()]; exists {
		return fmt.Errorf("duplicate row in %s", ds.Source)
	}
	r.seen[key.String()] = struct{}{}
	return nil
}
