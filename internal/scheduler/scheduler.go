// Package scheduler periodically fans billing and instance-count tasks out
// over every account.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zgpcy/cloudspend/internal/logger"
	"github.com/zgpcy/cloudspend/internal/tasks"
)

// Submitter is the part of tasks.Service the scheduler drives
type Submitter interface {
	GetAllBilling(ctx context.Context) ([]string, error)
	GetInstanceCountAll(ctx context.Context) ([]string, error)
}

// Config holds schedule intervals. A zero interval disables that job.
type Config struct {
	BillingInterval time.Duration
	MetricsInterval time.Duration
}

// Scheduler runs the fan-out jobs on fixed intervals
type Scheduler struct {
	cfg     Config
	tasks   Submitter
	logger  *logger.Logger
	started atomic.Bool
	wg      sync.WaitGroup
}

// New creates a new scheduler
func New(cfg Config, s Submitter, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Discard()
	}
	return &Scheduler{cfg: cfg, tasks: s, logger: log}
}

// Start runs every enabled job once and then on its interval until ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Warn("Scheduler already started, skipping")
		return
	}
	s.every(ctx, "billing", s.cfg.BillingInterval, s.tasks.GetAllBilling)
	s.every(ctx, "instances", s.cfg.MetricsInterval, s.tasks.GetInstanceCountAll)
}

// Wait blocks until every job loop has exited
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) every(ctx context.Context, job string, interval time.Duration, fn func(context.Context) ([]string, error)) {
	if interval <= 0 {
		s.logger.Info("Scheduled job disabled", "job", job)
		return
	}
	s.fire(ctx, job, fn)

	ticker := time.NewTicker(interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Stopping scheduled job", "job", job)
				return
			case <-ticker.C:
				s.fire(ctx, job, fn)
			}
		}
	}()
}

func (s *Scheduler) fire(ctx context.Context, job string, fn func(context.Context) ([]string, error)) {
	ids, err := fn(ctx)
	switch {
	case errors.Is(err, tasks.ErrNoAccounts):
		s.logger.Debug("No accounts to schedule", "job", job)
	case err != nil:
		s.logger.Error("Failed to schedule tasks", "job", job, "error", err)
	default:
		s.logger.Debug("Scheduled tasks", "job", job, "count", len(ids))
	}
}
