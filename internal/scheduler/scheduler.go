// Package scheduler runs delayed one-shot tasks and recurring sweeps in-process.
package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// Scheduler wraps a gocron scheduler.
type Scheduler struct {
	s gocron.Scheduler
}

// New creates and starts a scheduler.
func New() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s.Start()
	return &Scheduler{s: s}, nil
}

// After runs fn once, d from now. Work scheduled here is lost if the process exits;
// callers rely on the store to make a missed run recoverable.
func (s *Scheduler) After(d time.Duration, name string, fn func()) error {
	start := gocron.OneTimeJobStartImmediately()
	if d > 0 {
		start = gocron.OneTimeJobStartDateTime(time.Now().Add(d))
	}
	_, err := s.s.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(fn),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Every runs fn at a fixed interval. A run that overlaps the previous one is skipped.
func (s *Scheduler) Every(d time.Duration, name string, fn func()) error {
	_, err := s.s.NewJob(
		gocron.DurationJob(d),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	log.Info().Str("job", name).Dur("interval", d).Msg("Recurring job scheduled")
	return nil
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.s.Shutdown()
}
