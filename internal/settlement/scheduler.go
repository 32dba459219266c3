package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"hotwallet-settlement/internal/logging"
)

// Scheduler runs settlement cycles on a cron schedule
type Scheduler struct {
	service  *Service
	schedule string
	cron     *cron.Cron
	log      *logging.Logger

	mu      sync.Mutex
	running bool
	entryID cron.EntryID
}

// NewScheduler creates a scheduler for the given cron expression
func NewScheduler(service *Service, schedule string) *Scheduler {
	return &Scheduler{
		service:  service,
		schedule: schedule,
		log:      logging.Default().WithComponent("scheduler"),
	}
}

// Start begins scheduling settlement cycles
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("settlement scheduler already running")
	}

	s.cron = cron.New()
	entryID, err := s.cron.AddFunc(s.schedule, s.runScheduledCycle)
	if err != nil {
		return fmt.Errorf("invalid settlement schedule %q: %w", s.schedule, err)
	}
	s.entryID = entryID
	s.cron.Start()
	s.running = true

	s.log.Info("Settlement scheduler started", "schedule", s.schedule)
	return nil
}

// Stop halts scheduling and waits for a running cycle to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("settlement scheduler not running")
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false

	s.log.Info("Settlement scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled cycle time, zero when stopped
func (s *Scheduler) NextRun() (next string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ""
	}
	return s.cron.Entry(s.entryID).Next.Format("2006-01-02 15:04:05 MST")
}

// runScheduledCycle executes one cycle from the cron thread. An
// already-running cycle is skipped rather than queued; the next tick
// picks up the work.
func (s *Scheduler) runScheduledCycle() {
	report, err := s.service.RunCycle(context.Background())
	if err != nil {
		if errors.Is(err, ErrCycleInProgress) {
			s.log.Warn("Skipping scheduled cycle, previous cycle still running")
			return
		}
		s.log.Error("Scheduled settlement cycle failed", "error", err)
		return
	}
	s.log.Info("Scheduled settlement cycle completed",
		"cycle", report.CycleID, "transfers", report.Transfers, "matched", report.Matched)
}
