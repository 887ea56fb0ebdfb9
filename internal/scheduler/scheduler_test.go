package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racewatch/racewatch/internal/lock"
)

func TestCadenceLockKey(t *testing.T) {
	t.Parallel()

	cadence := Cadence{Name: "race-sync", Connector: "racetime"}
	assert.Equal(t, "racewatch:lock:race-sync:racetime", cadence.LockKey())
}

func TestAdd(t *testing.T) {
	t.Parallel()

	locks := lock.NewService(lock.NewMemoryStore(), "instance-1")
	s := New(locks)
	ctx := context.Background()

	t.Run("valid cadence", func(t *testing.T) {
		err := s.Add(ctx, Cadence{
			Name:      "race-sync",
			Connector: "racetime",
			Spec:      "* * * * *",
			Task:      func(context.Context) error { return nil },
			LockTTL:   time.Minute,
		})
		assert.NoError(t, err)
	})

	t.Run("invalid cron spec", func(t *testing.T) {
		err := s.Add(ctx, Cadence{
			Name:      "race-sync",
			Connector: "racetime",
			Spec:      "not a cron spec",
			Task:      func(context.Context) error { return nil },
		})
		assert.Error(t, err)
	})

	t.Run("missing task", func(t *testing.T) {
		err := s.Add(ctx, Cadence{Name: "race-sync", Spec: "* * * * *"})
		assert.Error(t, err)
	})
}

func TestRunGuarded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cadence := func(task TaskFunc, grace time.Duration) Cadence {
		return Cadence{
			Name:         "race-sync",
			Connector:    "racetime",
			Spec:         "* * * * *",
			Task:         task,
			LockTTL:      time.Minute,
			ReleaseGrace: grace,
		}
	}

	t.Run("runs the task and releases the reservation", func(t *testing.T) {
		t.Parallel()

		store := lock.NewMemoryStore()
		s := New(lock.NewService(store, "instance-1"))

		var runs atomic.Int32
		c := cadence(func(context.Context) error {
			runs.Add(1)
			return nil
		}, 0)

		s.RunGuarded(ctx, c)
		s.RunGuarded(ctx, c)
		assert.Equal(t, int32(2), runs.Load())
	})

	t.Run("lost reservation skips the tick", func(t *testing.T) {
		t.Parallel()

		store := lock.NewMemoryStore()
		other := lock.NewService(store, "instance-2")
		s := New(lock.NewService(store, "instance-1"))

		c := cadence(func(context.Context) error {
			t.Error("task must not run while another instance holds the reservation")
			return nil
		}, 0)
		require.True(t, other.TryReserveTask(ctx, c.LockKey(), time.Minute))

		s.RunGuarded(ctx, c)
	})

	t.Run("failing task still releases the reservation", func(t *testing.T) {
		t.Parallel()

		store := lock.NewMemoryStore()
		s := New(lock.NewService(store, "instance-1"))

		var runs atomic.Int32
		c := cadence(func(context.Context) error {
			runs.Add(1)
			return errors.New("upstream down")
		}, 0)

		s.RunGuarded(ctx, c)
		s.RunGuarded(ctx, c)
		assert.Equal(t, int32(2), runs.Load())
	})

	t.Run("failing task reports through the failure handler", func(t *testing.T) {
		t.Parallel()

		store := lock.NewMemoryStore()
		var reported []error
		s := New(lock.NewService(store, "instance-1"), WithFailureHandler(func(err error) {
			reported = append(reported, err)
		}))

		taskErr := errors.New("upstream down")
		fail := cadence(func(context.Context) error { return taskErr }, 0)
		ok := cadence(func(context.Context) error { return nil }, 0)

		s.RunGuarded(ctx, fail)
		s.RunGuarded(ctx, ok)

		require.Len(t, reported, 1)
		assert.ErrorIs(t, reported[0], taskErr)
	})

	t.Run("release grace defers the release", func(t *testing.T) {
		t.Parallel()

		store := lock.NewMemoryStore()
		s := New(lock.NewService(store, "instance-1"))
		other := lock.NewService(store, "instance-2")

		c := cadence(func(context.Context) error { return nil }, 20*time.Millisecond)
		s.RunGuarded(ctx, c)

		// Immediately after the tick the reservation is still held.
		assert.False(t, other.TryReserveTask(ctx, c.LockKey(), time.Minute))

		// Once the grace elapses the key frees up.
		assert.Eventually(t, func() bool {
			return other.TryReserveTask(ctx, c.LockKey(), time.Minute)
		}, time.Second, 5*time.Millisecond)
	})
}
