// Package scheduler runs collection cycles on a fixed, drift-free interval,
// one at a time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/gather/internal/collector"
	"github.com/hpungsan/gather/internal/errors"
)

// DefaultInterval is the time between cycle starts.
const DefaultInterval = 5 * time.Minute

// State is the scheduler's cycle state.
type State int

const (
	Idle State = iota
	Running
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Runner runs one cycle.
type Runner interface {
	RunCycle(ctx context.Context) *collector.Outcome
}

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	State       State
	Interval    time.Duration
	Runs        int64
	Skipped     int64
	LastStart   time.Time
	NextTrigger time.Time
	LastOutcome *collector.Outcome
}

// Scheduler triggers cycles every interval, anchored to the first trigger so cycle
// starts never drift. A trigger that finds a cycle still running is skipped, never queued.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *zap.Logger

	// OnOutcome, if set, is called after every cycle from the cycle goroutine.
	OnOutcome func(*collector.Outcome)

	mu          sync.Mutex
	busy        bool
	state       State
	runs        int64
	skipped     int64
	lastStart   time.Time
	nextTrigger time.Time
	last        *collector.Outcome

	wg sync.WaitGroup
}

// New creates a Scheduler.
func New(runner Runner, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Run fires the first cycle immediately, then one per interval until ctx is done.
// On shutdown it waits for the in-flight cycle, which stops at its next page
// boundary, and returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	next := time.Now()
	for {
		// A timer that fired alongside cancellation must not start a cycle.
		if ctx.Err() != nil {
			return s.stop()
		}
		s.trigger(ctx)

		next = s.advance(next, time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return s.stop()
		case <-timer.C:
		}
	}
}

// stop waits for the running cycle, if any.
func (s *Scheduler) stop() error {
	s.logger.Info("scheduler stopping, waiting for running cycle")
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// advance returns the next grid point after now. Grid points missed entirely
// (process suspended, clock jump) are dropped rather than replayed.
func (s *Scheduler) advance(prev, now time.Time) time.Time {
	next := prev.Add(s.interval)
	if !next.After(now) {
		missed := now.Sub(next)/s.interval + 1
		next = next.Add(missed * s.interval)
		s.logger.Warn("scheduler fell behind, dropping missed triggers", zap.Int64("missed", int64(missed)))
	}

	s.mu.Lock()
	s.nextTrigger = next
	s.mu.Unlock()
	return next
}

// trigger starts a cycle unless one is still running.
func (s *Scheduler) trigger(ctx context.Context) {
	s.mu.Lock()
	if s.busy {
		s.skipped++
		started := s.lastStart
		s.mu.Unlock()

		s.logger.Warn("previous cycle still running, skipping trigger",
			zap.Time("running_since", started),
		)
		return
	}
	s.busy = true
	s.state = Running
	s.runs++
	s.lastStart = time.Now()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runCycle(ctx)
}

func (s *Scheduler) runCycle(ctx context.Context) {
	defer s.wg.Done()

	out := s.safeRun(ctx)

	final := Succeeded
	if !out.Succeeded() {
		final = Failed
	}

	s.mu.Lock()
	s.state = final
	s.last = out
	s.mu.Unlock()

	if s.OnOutcome != nil {
		s.OnOutcome(out)
	}

	s.mu.Lock()
	s.state = Idle
	s.busy = false
	s.mu.Unlock()
}

// safeRun runs the cycle, converting a panic into a failed outcome.
func (s *Scheduler) safeRun(ctx context.Context) (out *collector.Outcome) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
			out = &collector.Outcome{
				StartedAt:  started,
				FinishedAt: time.Now(),
				Err:        errors.NewInternal(fmt.Errorf("cycle panicked: %v", r)),
			}
		}
	}()

	out = s.runner.RunCycle(ctx)
	if out == nil {
		out = &collector.Outcome{
			StartedAt:  started,
			FinishedAt: time.Now(),
			Err:        errors.NewInternal(fmt.Errorf("cycle returned no outcome")),
		}
	}
	return out
}

// Snapshot returns the current state and counters.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:       s.state,
		Interval:    s.interval,
		Runs:        s.runs,
		Skipped:     s.skipped,
		LastStart:   s.lastStart,
		NextTrigger: s.nextTrigger,
		LastOutcome: s.last,
	}
}
