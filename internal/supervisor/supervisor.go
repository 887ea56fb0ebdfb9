// Package supervisor runs the per-task execution units and owns the
// process lifecycle: it starts every unit, watches for termination signals,
// and drives the two-phase shutdown handshake.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Unit is one independently scheduled execution unit, typically the
// scheduler for a single task and connector pair.
type Unit interface {
	// Name identifies the unit in logs.
	Name() string

	// Start begins the unit's scheduled work. It must not block.
	Start()

	// Stop prevents further work from starting and returns a context
	// that is done once in-flight work has drained.
	Stop() context.Context
}

// Supervisor owns a set of units.
type Supervisor struct {
	units        []Unit
	drainTimeout time.Duration

	mu        sync.Mutex
	unhealthy map[string]error

	shutdownOnce sync.Once
	done         chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithDrainTimeout bounds how long shutdown waits for in-flight work.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.drainTimeout = d
	}
}

// New creates a supervisor over the given units.
func New(units []Unit, opts ...Option) *Supervisor {
	s := &Supervisor{
		units:        units,
		drainTimeout: 30 * time.Second,
		unhealthy:    make(map[string]error),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MarkUnhealthy records a unit failure. Failed units are not restarted;
// the mark surfaces in logs and health reporting so operators can act.
func (s *Supervisor) MarkUnhealthy(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unhealthy[name] = err
	slog.Error("Unit marked unhealthy", "unit", name, "error", err)
}

// Healthy reports whether no unit has been marked unhealthy.
func (s *Supervisor) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unhealthy) == 0
}

// Run starts every unit and blocks until a termination signal arrives or
// ctx is cancelled, then performs shutdown. It is safe against repeated
// signals: the first one wins and the handshake runs exactly once.
func (s *Supervisor) Run(ctx context.Context) error {
	for _, u := range s.units {
		slog.Info("Starting unit", "unit", u.Name())
		u.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down")
	}

	s.Shutdown()
	return nil
}

// Shutdown runs the two-phase handshake: first every unit stops accepting
// new work, then the supervisor waits for in-flight work to drain, bounded
// by the drain timeout. Calling it more than once is a no-op.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		defer close(s.done)

		// Phase one: no unit starts new work after this point.
		drains := make([]context.Context, 0, len(s.units))
		for _, u := range s.units {
			slog.Debug("Stopping unit", "unit", u.Name())
			drains = append(drains, u.Stop())
		}

		// Phase two: wait for in-flight work, bounded.
		deadline := time.NewTimer(s.drainTimeout)
		defer deadline.Stop()
		for i, drain := range drains {
			select {
			case <-drain.Done():
			case <-deadline.C:
				slog.Warn("Drain timeout reached, abandoning in-flight work",
					"unit", s.units[i].Name())
				return
			}
		}
		slog.Info("All units drained")
	})
	<-s.done
}
