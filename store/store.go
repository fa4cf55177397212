// Package store keeps the directory of serialized models loaded in memory.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"exovision/logger"
	"exovision/ml"
)

var (
	ErrModelNotFound = errors.New("model not found")
	ErrInvalidName   = errors.New("model name must be 1-64 letters, digits, '_' or '-'")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidName reports whether name can be used as a model file name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Options tune a Store.
type Options struct {
	// CacheSize is the number of cached predictions; 0 disables caching.
	CacheSize int
	// Debounce delays reloads triggered by the watcher.
	Debounce time.Duration
	// OnReload is called with the loaded names after every reload.
	OnReload func(names []string)
}

// Store is an in-memory view of a model directory. Lookups run under a read
// lock; a reload builds a complete new set before swapping it in.
type Store struct {
	dir  string
	opts Options
	log  *zap.Logger

	mu     sync.RWMutex
	models map[string]*ml.Predictor
	// gen counts reloads; cache keys carry it so answers computed by a
	// replaced predictor are never served for its successor.
	gen uint64

	reloadMu sync.Mutex
	cache    *lru.Cache[string, ml.Disposition]
}

// Open creates dir if needed and loads every model in it. Models that fail
// to load are logged and skipped.
func Open(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	s := &Store{
		dir:    dir,
		opts:   opts,
		log:    logger.L().With(zap.String("component", "store"), zap.String("dir", dir)),
		models: map[string]*ml.Predictor{},
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, ml.Disposition](opts.CacheSize)
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the model directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path used for a model name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+ml.ArtifactExt)
}

// Names returns the loaded model names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.models))
	for name := range s.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of loaded models.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.models)
}

// Get returns the predictor for name.
func (s *Store) Get(name string) (*ml.Predictor, error) {
	p, _, err := s.lookup(name)
	return p, err
}

func (s *Store) lookup(name string) (*ml.Predictor, uint64, error) {
	s.mu.RLock()
	p, ok := s.models[name]
	gen := s.gen
	s.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return p, gen, nil
}

// Reload rescans the directory and swaps in the new set.
func (s *Store) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scan model dir: %w", err)
	}

	loaded := make(map[string]*ml.Predictor)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ml.ArtifactExt {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ml.ArtifactExt)
		path := filepath.Join(s.dir, entry.Name())
		artifact, err := ml.LoadArtifact(path)
		if err != nil {
			s.log.Warn("skipping unloadable model", zap.String("model", name), zap.Error(err))
			continue
		}
		p, err := ml.NewPredictor(name, artifact)
		if err != nil {
			s.log.Warn("skipping invalid model", zap.String("model", name), zap.Error(err))
			continue
		}
		s.log.Debug("model ready", zap.Stringer("predictor", p))
		loaded[name] = p
	}

	s.mu.Lock()
	s.models = loaded
	s.gen++
	if s.cache != nil {
		s.cache.Purge()
	}
	s.mu.Unlock()

	names := s.Names()
	s.log.Info("models loaded", zap.Strings("models", names))
	if s.opts.OnReload != nil {
		s.opts.OnReload(names)
	}
	return nil
}

// Save writes the artifact under name and reloads the store.
func (s *Store) Save(name string, artifact *ml.Artifact) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	if err := ml.SaveArtifact(s.Path(name), artifact); err != nil {
		return fmt.Errorf("save model %s: %w", name, err)
	}
	return s.Reload()
}

// Predict classifies vector with the named model, using the cache.
func (s *Store) Predict(name string, vector []float64) (ml.Disposition, error) {
	p, gen, err := s.lookup(name)
	if err != nil {
		return ml.Disposition{}, err
	}
	if s.cache == nil {
		return p.Predict(vector)
	}
	key := cacheKey(gen, name, vector)
	if d, ok := s.cache.Get(key); ok {
		return d, nil
	}
	d, err := p.Predict(vector)
	if err != nil {
		return ml.Disposition{}, err
	}
	s.cache.Add(key, d)
	return d, nil
}

func cacheKey(gen uint64, name string, vector []float64) string {
	buf := make([]byte, 0, 8+len(name)+1+8*len(vector))
	buf = binary.LittleEndian.AppendUint64(buf, gen)
	buf = append(buf, name...)
	buf = append(buf, 0)
	for _, v := range vector {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return string(buf)
}
