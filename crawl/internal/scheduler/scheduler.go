// Package scheduler polls for due sources and hands them to a batch runner.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
)

// Config configures the scheduler.
type Config struct {
	// CheckInterval is how often to poll for due sources. Default: 1 minute.
	CheckInterval time.Duration `yaml:"check_interval"`
	// MaxBatch caps the sources handed to one batch; the rest wait for the
	// next tick. Default: 0 (no cap).
	MaxBatch int `yaml:"max_batch"`
}

func (c *Config) defaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Minute
	}
}

// DueLister returns enabled sources whose cadence has elapsed at now.
type DueLister interface {
	DueSources(ctx context.Context, now int64) ([]*store.Source, error)
}

// BatchRunner runs due sources to completion.
type BatchRunner func(ctx context.Context, sources []*store.Source) error

// Scheduler periodically runs due sources. Batches never overlap: a tick
// that fires while a batch is running is dropped.
type Scheduler struct {
	due    DueLister
	run    BatchRunner
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Scheduler.
func New(due DueLister, run BatchRunner, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		due:    due,
		run:    run,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Run polls for due sources on a ticker. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler: started", "interval", s.config.CheckInterval)

	// Run once immediately on start.
	s.runDueSources(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: stopped")
			return
		case <-ticker.C:
			s.runDueSources(ctx)
		}
	}
}

// runDueSources runs one batch of due sources and reports how many it ran.
func (s *Scheduler) runDueSources(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	due, err := s.due.DueSources(ctx, s.now().UnixMilli())
	if err != nil {
		s.logger.Error("scheduler: due sources", "error", err)
		return 0
	}
	if len(due) == 0 {
		return 0
	}
	if s.config.MaxBatch > 0 && len(due) > s.config.MaxBatch {
		s.logger.Debug("scheduler: batch capped", "due", len(due), "max", s.config.MaxBatch)
		due = due[:s.config.MaxBatch]
	}

	s.logger.Debug("scheduler: running", "sources", len(due))
	if err := s.run(ctx, due); err != nil {
		s.logger.Error("scheduler: batch", "sources", len(due), "error", err)
	}
	return len(due)
}
