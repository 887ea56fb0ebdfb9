// Package scheduler fires reconciliation tasks on cron-style cadences, each
// firing guarded by a fleet-wide task reservation so that only one process
// instance executes a given tick. The reconciliation functions themselves
// are plain funcs with no scheduling types, so they stay independently
// testable.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/racewatch/racewatch/internal/lock"
)

// TaskFunc is a single reconciliation pass.
type TaskFunc func(ctx context.Context) error

// Cadence describes one scheduled task.
type Cadence struct {
	// Name identifies the task type, e.g. "race-sync".
	Name string

	// Connector scopes the lock key so unrelated connectors never
	// contend.
	Connector string

	// Spec is a standard 5-field cron expression.
	Spec string

	// Task is the reconciliation pass to run when the tick is won.
	Task TaskFunc

	// LockTTL bounds how long a crashed holder blocks the task key.
	LockTTL time.Duration

	// ReleaseGrace delays the lock release after completion, absorbing
	// clock skew between instances so an adjacent instance cannot re-fire
	// the same logical tick. Zero releases immediately.
	ReleaseGrace time.Duration
}

// LockKey returns the reservation key for this cadence.
func (c Cadence) LockKey() string {
	return fmt.Sprintf("racewatch:lock:%s:%s", c.Name, c.Connector)
}

// Scheduler runs cadences for one execution unit.
type Scheduler struct {
	locks     *lock.Service
	cron      *cron.Cron
	now       func() time.Time
	onFailure func(error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithFailureHandler registers a callback invoked whenever a guarded run's
// task returns an error, after the failure has been logged.
func WithFailureHandler(fn func(error)) Option {
	return func(s *Scheduler) {
		s.onFailure = fn
	}
}

// New creates a scheduler. A tick of a cadence that fires while that
// cadence's previous run is still in flight is skipped, not queued; stacking
// runs behind a slow pass would only pile up work the next tick repeats
// anyway.
func New(locks *lock.Service, opts ...Option) *Scheduler {
	s := &Scheduler{
		locks: locks,
		cron:  cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a cadence. It returns an error for an invalid cron spec.
func (s *Scheduler) Add(ctx context.Context, cadence Cadence) error {
	if cadence.Task == nil {
		return fmt.Errorf("cadence %s: task is required", cadence.Name)
	}
	_, err := s.cron.AddFunc(cadence.Spec, func() {
		s.RunGuarded(ctx, cadence)
	})
	if err != nil {
		return fmt.Errorf("cadence %s: invalid cron spec %q: %w", cadence.Name, cadence.Spec, err)
	}
	return nil
}

// RunGuarded executes one tick of the cadence under its task reservation.
// Losing the reservation is a normal "another instance owns this tick"
// outcome, not an error. A failing task is logged and abandoned; recovery
// is purely schedule-driven.
func (s *Scheduler) RunGuarded(ctx context.Context, cadence Cadence) {
	key := cadence.LockKey()
	if !s.locks.TryReserveTask(ctx, key, cadence.LockTTL) {
		slog.Debug("Tick already owned by another instance",
			"task", cadence.Name,
			"connector", cadence.Connector)
		return
	}

	started := s.now()
	err := cadence.Task(ctx)
	if err != nil {
		slog.Error("Scheduled task failed, abandoning tick",
			"task", cadence.Name,
			"connector", cadence.Connector,
			"duration", s.now().Sub(started),
			"error", err)
		if s.onFailure != nil {
			s.onFailure(err)
		}
	} else {
		slog.Debug("Scheduled task completed",
			"task", cadence.Name,
			"connector", cadence.Connector,
			"duration", s.now().Sub(started))
	}

	if cadence.ReleaseGrace > 0 {
		// Released asynchronously so the cadence callback returns
		// promptly; the TTL still bounds the worst case if the process
		// dies during the grace period.
		time.AfterFunc(cadence.ReleaseGrace, func() {
			s.locks.FreeTask(context.WithoutCancel(ctx), key)
		})
		return
	}
	s.locks.FreeTask(ctx, key)
}

// Start begins firing cadences.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops new firings and returns a context that is done once in-flight
// callbacks have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
