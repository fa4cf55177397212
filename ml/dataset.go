package ml

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Dataset is a parsed CSV table. Cells are kept as text until a matrix is
// extracted so that the target column can stay categorical.
type Dataset struct {
	Source  string
	Columns []string
	Rows    [][]string

	index map[string]int
}

// MissingColumnsError reports required columns absent from a dataset.
type MissingColumnsError struct {
	Source  string
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	if e.Source == "" {
		return "missing required features: " + strings.Join(e.Missing, ", ")
	}
	return fmt.Sprintf("file %s is missing features: %s", e.Source, strings.Join(e.Missing, ", "))
}

// ReadCSV parses a CSV stream. Lines starting with '#' are skipped and a
// UTF-8 or UTF-16 byte order mark is honoured.
func ReadCSV(r io.Reader, source string) (*Dataset, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	reader := csv.NewReader(decoded)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty csv", source)
		}
		return nil, fmt.Errorf("%s: read header: %w", source, err)
	}
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(name)
	}

	ds := &Dataset{Source: source, Columns: columns}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		if isBlankRecord(record) {
			continue
		}
		row := make([]string, len(columns))
		copy(row, record)
		ds.Rows = append(ds.Rows, row)
	}
	ds.buildIndex()
	return ds, nil
}

// ReadCSVBytes is ReadCSV over an in-memory upload.
func ReadCSVBytes(data []byte, source string) (*Dataset, error) {
	return ReadCSV(bytes.NewReader(data), source)
}

// LoadCSV reads a dataset from disk.
func LoadCSV(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadCSV(file, path)
}

func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func (d *Dataset) buildIndex() {
	d.index = make(map[string]int, len(d.Columns))
	for i, name := range d.Columns {
		if _, exists := d.index[name]; !exists {
			d.index[name] = i
		}
	}
}

// Len returns the number of data rows.
func (d *Dataset) Len() int {
	return len(d.Rows)
}

// HasColumn reports whether name is one of the dataset columns.
func (d *Dataset) HasColumn(name string) bool {
	if d.index == nil {
		d.buildIndex()
	}
	_, ok := d.index[name]
	return ok
}

// Value returns the raw cell of row i for the named column.
func (d *Dataset) Value(i int, column string) (string, bool) {
	if d.index == nil {
		d.buildIndex()
	}
	idx, ok := d.index[column]
	if !ok || i < 0 || i >= len(d.Rows) {
		return "", false
	}
	return strings.TrimSpace(d.Rows[i][idx]), true
}

// Float parses a cell as float64. Empty cells and unparsable text yield NaN
// with ok=false.
func (d *Dataset) Float(i int, column string) (float64, bool) {
	raw, ok := d.Value(i, column)
	if !ok || raw == "" {
		return math.NaN(), false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN(), false
	}
	return v, true
}

// Missing lists the required columns absent from the dataset, sorted.
func (d *Dataset) Missing(required []string) []string {
	var missing []string
	for _, name := range required {
		if !d.HasColumn(name) {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Require fails with a MissingColumnsError when any column is absent.
func (d *Dataset) Require(required []string) error {
	if missing := d.Missing(required); len(missing) > 0 {
		return &MissingColumnsError{Source: d.Source, Missing: missing}
	}
	return nil
}

// Record returns the numeric values of the requested features for row i and
// the names of features whose cell is empty or not a number.
func (d *Dataset) Record(i int, features []string) ([]float64, []string) {
	vector := make([]float64, len(features))
	var invalid []string
	for j, name := range features {
		v, ok := d.Float(i, name)
		if !ok {
			invalid = append(invalid, name)
		}
		vector[j] = v
	}
	return vector, invalid
}

// Select projects the dataset onto the given columns, in that order.
func (d *Dataset) Select(columns []string) (*Dataset, error) {
	if err := d.Require(columns); err != nil {
		return nil, err
	}
	out := &Dataset{Source: d.Source, Columns: append([]string(nil), columns...)}
	out.Rows = make([][]string, len(d.Rows))
	for i := range d.Rows {
		row := make([]string, len(columns))
		for j, name := range columns {
			row[j], _ = d.Value(i, name)
		}
		out.Rows[i] = row
	}
	out.buildIndex()
	return out, nil
}

// Concat stacks datasets that share the given columns. The result keeps
// only those columns, ordered as given.
func Concat(columns []string, datasets ...*Dataset) (*Dataset, error) {
	if len(datasets) == 0 {
		return nil, errors.New("no datasets to merge")
	}
	sources := make([]string, 0, len(datasets))
	merged := &Dataset{Columns: append([]string(nil), columns...)}
	for _, ds := range datasets {
		selected, err := ds.Select(columns)
		if err != nil {
			return nil, err
		}
		merged.Rows = append(merged.Rows, selected.Rows...)
		sources = append(sources, ds.Source)
	}
	merged.Source = strings.Join(sources, ",")
	merged.buildIndex()
	return merged, nil
}
