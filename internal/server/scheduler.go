package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/disinfo-zone/voidwire-sub000/config"
	"github.com/disinfo-zone/voidwire-sub000/internal/pipeline"
)

// Scheduler fires the daily pipeline on a cron spec. A manual run that is
// already holding the date lock just turns the tick into a logged no-op.
type Scheduler struct {
	cfg    config.SchedulerConfig
	orch   *pipeline.Orchestrator
	logger *log.Logger
	stop   chan struct{}
}

// NewScheduler builds the scheduler; Start launches its loop.
func NewScheduler(cfg config.SchedulerConfig, orch *pipeline.Orchestrator, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	return &Scheduler{cfg: cfg, orch: orch, logger: logger, stop: make(chan struct{})}
}

// Start runs the cron loop in a goroutine until Stop is called.
func (s *Scheduler) Start() {
	expr, err := cronexpr.Parse(s.cfg.CronSpec)
	if err != nil {
		s.logger.Printf("invalid cron spec %q, scheduler disabled: %v", s.cfg.CronSpec, err)
		return
	}
	go func() {
		for {
			next := expr.Next(time.Now())
			if next.IsZero() {
				s.logger.Printf("cron spec %q yields no future run, scheduler stopping", s.cfg.CronSpec)
				return
			}
			select {
			case <-s.stop:
				return
			case <-time.After(time.Until(next)):
				s.fire()
			}
		}
	}()
}

// Stop terminates the loop; an in-flight run finishes on its own.
func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) fire() {
	runID, err := s.orch.Run(context.Background(), pipeline.RunOptions{})
	switch {
	case errors.Is(err, pipeline.ErrLockConflict):
		s.logger.Printf("scheduled run skipped, date lock already held")
	case err != nil:
		s.logger.Printf("scheduled run %s failed: %v", runID, err)
	default:
		s.logger.Printf("scheduled run %s completed", runID)
	}
}
