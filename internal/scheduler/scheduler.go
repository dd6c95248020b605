// Package scheduler runs named maintenance jobs on cron schedules.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps a seconds-precision cron with named jobs.
type Scheduler struct {
	Cron *cron.Cron
	log  *slog.Logger

	mu   sync.Mutex
	jobs map[string]func() error

	// OnRun is called after every job run (optional).
	OnRun func(name string, took time.Duration, err error)
}

// New creates a scheduler. Specs take six fields, seconds first.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Cron: cron.New(cron.WithSeconds()),
		log:  logger,
		jobs: make(map[string]func() error),
	}
}

// Add registers fn under name on the cron schedule spec.
func (s *Scheduler) Add(name, spec string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}
	if _, err := s.Cron.AddFunc(spec, func() { s.run(name, fn) }); err != nil {
		return fmt.Errorf("scheduler: register %s (%q): %w", name, spec, err)
	}
	s.jobs[name] = fn
	return nil
}

// RunNow runs the named job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	fn, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	return s.run(name, fn)
}

func (s *Scheduler) run(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	took := time.Since(start)
	if err != nil {
		s.log.Error("scheduled job failed", slog.String("job", name), slog.Any("err", err))
	} else {
		s.log.Info("scheduled job done", slog.String("job", name), slog.Duration("took", took))
	}
	if s.OnRun != nil {
		s.OnRun(name, took, err)
	}
	return err
}

// Start starts the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info("scheduler started", slog.Int("jobs", len(s.Cron.Entries())))
}

// Stop stops the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info("scheduler stopped")
}
