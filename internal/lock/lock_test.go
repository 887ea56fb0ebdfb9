package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type failingStore struct {
	err error
}

func (f *failingStore) SetIfAbsent(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	return false, f.err
}

func (f *failingStore) CompareAndDelete(_ context.Context, _, _ string) (bool, error) {
	return false, f.err
}

func TestTryReserveTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("first caller wins", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		first := NewService(store, "instance-1")
		second := NewService(store, "instance-2")

		assert.True(t, first.TryReserveTask(ctx, "task", time.Minute))
		assert.False(t, second.TryReserveTask(ctx, "task", time.Minute))
	})

	t.Run("holder cannot re-reserve its own task", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		svc := NewService(store, "instance-1")

		assert.True(t, svc.TryReserveTask(ctx, "task", time.Minute))
		assert.False(t, svc.TryReserveTask(ctx, "task", time.Minute))
	})

	t.Run("distinct tasks never contend", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		first := NewService(store, "instance-1")
		second := NewService(store, "instance-2")

		assert.True(t, first.TryReserveTask(ctx, "race-sync:racetime", time.Minute))
		assert.True(t, second.TryReserveTask(ctx, "announce:racetime", time.Minute))
	})

	t.Run("store error fails closed", func(t *testing.T) {
		t.Parallel()

		svc := NewService(&failingStore{err: errors.New("connection refused")}, "instance-1")
		assert.False(t, svc.TryReserveTask(ctx, "task", time.Minute))
	})
}

func TestFreeTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("released task can be reserved again", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		first := NewService(store, "instance-1")
		second := NewService(store, "instance-2")

		assert.True(t, first.TryReserveTask(ctx, "task", time.Minute))
		first.FreeTask(ctx, "task")
		assert.True(t, second.TryReserveTask(ctx, "task", time.Minute))
	})

	t.Run("non-holder cannot release", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		first := NewService(store, "instance-1")
		second := NewService(store, "instance-2")

		assert.True(t, first.TryReserveTask(ctx, "task", time.Minute))
		second.FreeTask(ctx, "task")
		assert.False(t, second.TryReserveTask(ctx, "task", time.Minute))
	})
}

func TestMemoryStoreExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	now := time.Now()
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	ok, err := store.SetIfAbsent(ctx, "task", "instance-1", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)

	// Still held before the TTL elapses.
	now = now.Add(30 * time.Second)
	ok, err = store.SetIfAbsent(ctx, "task", "instance-2", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)

	// Expired entries are claimable by another owner.
	now = now.Add(31 * time.Second)
	ok, err = store.SetIfAbsent(ctx, "task", "instance-2", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)

	// The original owner's release must not remove the new reservation.
	removed, err := store.CompareAndDelete(ctx, "task", "instance-1")
	assert.NoError(t, err)
	assert.False(t, removed)

	removed, err = store.CompareAndDelete(ctx, "task", "instance-2")
	assert.NoError(t, err)
	assert.True(t, removed)
}
