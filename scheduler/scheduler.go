// Package scheduler retrains a model on a cron schedule from every dataset
// that has been uploaded.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"exovision/logger"
	"exovision/training"
)

// JobRunner runs one training job.
type JobRunner interface {
	Run(ctx context.Context, job training.Job) (*training.Result, error)
}

// DatasetLister returns the CSV paths to train on.
type DatasetLister interface {
	List() ([]string, error)
}

// Stats summarises the scheduler's history.
type Stats struct {
	Running        bool      `json:"running"`
	Spec           string    `json:"spec"`
	Model          string    `json:"model"`
	ExecutionCount int64     `json:"execution_count"`
	FailureCount   int64     `json:"failure_count"`
	SkippedCount   int64     `json:"skipped_count"`
	LastExecution  time.Time `json:"last_execution,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	NextExecution  time.Time `json:"next_execution,omitempty"`
}

// Scheduler triggers retraining of one model on a cron spec.
type Scheduler struct {
	mu       sync.RWMutex
	cron     *cron.Cron
	entry    cron.EntryID
	spec     string
	model    string
	runner   JobRunner
	datasets DatasetLister
	running  bool
	stats    Stats

	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

// New validates spec (standard five-field cron syntax) and returns a
// stopped scheduler.
func New(spec, model string, runner JobRunner, datasets DatasetLister) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	if model == "" {
		return nil, errors.New("scheduled model name is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		spec:     spec,
		model:    model,
		runner:   runner,
		datasets: datasets,
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.L().With(zap.String("component", "scheduler"), zap.String("model", model)),
	}, nil
}

// Start registers the cron entry and starts the cron goroutine.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler is already running")
	}

	c := cron.New()
	entry, err := c.AddFunc(s.spec, func() {
		if err := s.RunNow(s.ctx); err != nil {
			s.log.Warn("scheduled retrain did not complete", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	c.Start()

	s.cron = c
	s.entry = entry
	s.running = true
	s.log.Info("scheduler started", zap.String("spec", s.spec), zap.Time("next", c.Entry(entry).Next))
	return nil
}

// Stop cancels an in-flight retrain and waits for the cron goroutine.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errors.New("scheduler is not running")
	}
	s.running = false
	c := s.cron
	s.mu.Unlock()

	s.cancel()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

// RunNow retrains immediately from every listed dataset. A busy runner or an
// empty dataset directory counts as a skip, not a failure.
func (s *Scheduler) RunNow(ctx context.Context) error {
	paths, err := s.datasets.List()
	if err != nil {
		s.finish(err, false)
		return err
	}
	if len(paths) == 0 {
		s.log.Info("no datasets uploaded yet, skipping retrain")
		s.finish(nil, true)
		return nil
	}

	_, err = s.runner.Run(ctx, training.Job{
		Model:       s.model,
		Trigger:     "schedule",
		Description: fmt.Sprintf("Scheduled retrain on %d dataset(s)", len(paths)),
		Paths:       paths,
	})
	if errors.Is(err, training.ErrTrainingBusy) {
		s.log.Info("training already in progress, skipping retrain")
		s.finish(nil, true)
		return nil
	}
	s.finish(err, false)
	return err
}

func (s *Scheduler) finish(err error, skipped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.LastExecution = time.Now()
	switch {
	case skipped:
		s.stats.SkippedCount++
	case err != nil:
		s.stats.FailureCount++
		s.stats.LastError = err.Error()
	default:
		s.stats.ExecutionCount++
		s.stats.LastError = ""
	}
}

// GetStats returns a snapshot of the counters.
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := s.stats
	stats.Running = s.running
	stats.Spec = s.spec
	stats.Model = s.model
	if s.running && s.cron != nil {
		stats.NextExecution = s.cron.Entry(s.entry).Next
	}
	return stats
}
