package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Runner performs one full run.
type Runner interface {
	Run(context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

var ErrRunAlreadyActive = errors.New("run already in progress")

// Scheduler starts runs at fixed times of day and on demand, never two
// at once.
type Scheduler struct {
	daily  []string
	runner Runner
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	state   RunState
}

type RunState struct {
	Running         bool      `json:"running"`
	CurrentSource   string    `json:"current_source"`
	StartedAt       time.Time `json:"started_at"`
	NextRun         time.Time `json:"next_run"`
	LastCompletedAt time.Time `json:"last_completed_at"`
	LastDurationMS  int64     `json:"last_duration_ms"`
	LastError       string    `json:"last_error"`
	LastSource      string    `json:"last_source"`
}

// New creates a scheduler for the given HH:MM times.
func New(daily []string, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, hhmm := range daily {
		if _, err := nextRun(time.Now(), hhmm); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", hhmm, err)
		}
	}
	return &Scheduler{daily: daily, runner: runner, logger: logger}, nil
}

// Start runs the schedule until ctx is done. Without configured times it
// does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	if len(s.daily) == 0 {
		return
	}
	go func() {
		for {
			next := s.next(time.Now())
			s.mu.Lock()
			s.state.NextRun = next
			s.mu.Unlock()

			s.logger.Info("scheduler: next run", "at", next.Format(time.RFC3339))
			timer := time.NewTimer(max(time.Until(next), 0))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if err := s.run(ctx, "scheduled"); err != nil {
				s.logger.Error("scheduler: run error", "error", err)
			}
		}
	}()
}

// RunNow starts a run immediately and waits for it.
func (s *Scheduler) RunNow(ctx context.Context) error {
	return s.run(ctx, "manual")
}

func (s *Scheduler) run(ctx context.Context, source string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunAlreadyActive
	}
	s.running = true
	s.state.Running = true
	s.state.CurrentSource = source
	s.state.StartedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("scheduler: run started", "source", source)
	start := time.Now()
	err := s.runner.Run(ctx)

	s.mu.Lock()
	s.running = false
	s.state.Running = false
	s.state.CurrentSource = ""
	s.state.LastCompletedAt = time.Now()
	s.state.LastDurationMS = time.Since(start).Milliseconds()
	s.state.LastSource = source
	s.state.LastError = ""
	if err != nil {
		s.state.LastError = err.Error()
	}
	s.mu.Unlock()

	took := time.Since(start).Round(time.Millisecond)
	if err != nil {
		s.logger.Error("scheduler: run finished with error", "source", source, "took", took, "error", err)
		return err
	}
	s.logger.Info("scheduler: run finished", "source", source, "took", took)
	return nil
}

// Snapshot returns the current run state.
func (s *Scheduler) Snapshot() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) next(now time.Time) time.Time {
	var earliest time.Time
	for _, hhmm := range s.daily {
		t, err := nextRun(now, hhmm)
		if err != nil {
			continue
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	return earliest
}

func nextRun(now time.Time, hhmm string) (time.Time, error) {
	parts := strings.Split(hhmm, ":")
	if len(parts) != 2 {
		return time.Time{}, errors.New("daily time must be HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return time.Time{}, errors.New("invalid hour")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return time.Time{}, errors.New("invalid minute")
	}
	t := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}
