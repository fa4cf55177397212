package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"exovision/logger"
	"exovision/ml"
)

// ErrNotCSV is returned for uploads without a .csv extension.
var ErrNotCSV = errors.New("only .csv files are accepted")

// ErrFileTooLarge is returned when an upload exceeds MaxFileBytes.
var ErrFileTooLarge = errors.New("file too large")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// IngestionConfig configures where uploaded datasets are kept.
type IngestionConfig struct {
	Dir          string `yaml:"dir"`
	MaxFileBytes int64  `yaml:"max_file_bytes"`
}

// IngestionStats counts ingested files.
type IngestionStats struct {
	Files         int64     `json:"files"`
	Rows          int64     `json:"rows"`
	Bytes         int64     `json:"bytes"`
	Failed        int64     `json:"failed"`
	LastIngestion time.Time `json:"last_ingestion"`
}

// DataIngester stores uploaded training CSVs in the dataset directory and
// parses them.
type DataIngester struct {
	config IngestionConfig

	stats     IngestionStats
	statsLock sync.RWMutex
}

// NewDataIngester creates the dataset directory when needed.
func NewDataIngester(config IngestionConfig) (*DataIngester, error) {
	if config.Dir == "" {
		config.Dir = "data"
	}
	if config.MaxFileBytes <= 0 {
		config.MaxFileBytes = 50 << 20
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}
	return &DataIngester{config: config}, nil
}

// Dir returns the dataset directory.
func (di *DataIngester) Dir() string {
	return di.config.Dir
}

// SanitizeFilename reduces an uploaded name to a safe base name.
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.TrimLeft(base, ".")
	if base == "" {
		base = "dataset.csv"
	}
	return base
}

// IsCSV reports whether name has a .csv extension.
func IsCSV(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}

// Ingest writes the upload to the dataset directory under a unique name and
// parses it. The returned dataset's Source is the original file name.
func (di *DataIngester) Ingest(name string, r io.Reader) (*ml.Dataset, string, error) {
	if !IsCSV(name) {
		di.recordFailure()
		return nil, "", fmt.Errorf("%s: %w", name, ErrNotCSV)
	}

	data, err := io.ReadAll(io.LimitReader(r, di.config.MaxFileBytes+1))
	if err != nil {
		di.recordFailure()
		return nil, "", fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(data)) > di.config.MaxFileBytes {
		di.recordFailure()
		return nil, "", fmt.Errorf("%s: %w (limit %s)", name, ErrFileTooLarge,
			humanize.IBytes(uint64(di.config.MaxFileBytes)))
	}

	ds, err := ml.ReadCSVBytes(data, name)
	if err != nil {
		di.recordFailure()
		return nil, "", err
	}

	stored := fmt.Sprintf("%s_%s_%s", time.Now().UTC().Format("20060102T150405"),
		uuid.NewString()[:8], SanitizeFilename(name))
	path := filepath.Join(di.config.Dir, stored)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		di.recordFailure()
		return nil, "", fmt.Errorf("save %s: %w", name, err)
	}

	di.statsLock.Lock()
	di.stats.Files++
	di.stats.Rows += int64(ds.Len())
	di.stats.Bytes += int64(len(data))
	di.stats.LastIngestion = time.Now()
	di.statsLock.Unlock()

	logger.L().Info("dataset ingested",
		zap.String("file", name),
		zap.String("path", path),
		zap.Int("rows", ds.Len()),
		zap.String("size", humanize.Bytes(uint64(len(data)))))
	return ds, path, nil
}

// List returns the CSV files in the dataset directory, sorted by name.
func (di *DataIngester) List() ([]string, error) {
	entries, err := os.ReadDir(di.config.Dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !IsCSV(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(di.config.Dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// GetStats returns a snapshot of the counters.
func (di *DataIngester) GetStats() IngestionStats {
	di.statsLock.RLock()
	defer di.statsLock.RUnlock()
	return di.stats
}

func (di *DataIngester) recordFailure() {
	di.statsLock.Lock()
	di.stats.Failed++
	di.statsLock.Unlock()
}
