package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Scheduler is a background worker that calls Runner.RunOnce on a fixed
// interval and on manual triggers.
type Scheduler struct {
	runner     *Runner
	logger     *slog.Logger
	interval   time.Duration
	runOnStart bool

	triggerCh chan string
	stopCh    chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a scheduler. If runOnStart is set the first run starts right
// after Start instead of one interval later.
func New(runner *Runner, interval time.Duration, runOnStart bool, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		logger:     logger,
		interval:   interval,
		runOnStart: runOnStart,
		triggerCh:  make(chan string, 1),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the background loop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("sync scheduler started",
		"interval", s.interval,
		"run_on_start", s.runOnStart)
}

// Stop cancels an in-flight run and waits for the loop to exit. Entities
// already written stay written; the next start resumes from there.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("sync scheduler stopped")
}

// Trigger queues a manual run. It returns ErrRunInProgress when a run is
// already executing or queued.
func (s *Scheduler) Trigger() error {
	if s.runner.Running() {
		return ErrRunInProgress
	}
	select {
	case s.triggerCh <- "manual":
		return nil
	default:
		return ErrRunInProgress
	}
}

// LastRun returns the summary of the most recent run.
func (s *Scheduler) LastRun(ctx context.Context) (*RunSummary, bool, error) {
	return s.runner.LastRun(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.runOnStart {
		s.execute(ctx, "startup")
	}

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.execute(ctx, "schedule")
		case trigger := <-s.triggerCh:
			s.execute(ctx, trigger)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, trigger string) {
	_, err := s.runner.RunOnce(ctx, trigger)
	switch {
	case err == nil, errors.Is(err, ErrRunInProgress):
	default:
		s.logger.Error("sync run failed", "trigger", trigger, "error", err)
	}
}
