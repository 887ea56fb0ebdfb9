// Package lock provides fleet-wide mutual exclusion for named, TTL-bounded
// tasks. Reservation is a single atomic set-if-absent-with-expiry against a
// shared store; release only succeeds when the recorded owner still matches,
// so an expired holder can never free a lock re-acquired by another
// instance.
package lock

import (
	"context"
	"log/slog"
	"time"
)

// Store is the shared key-value store the lock service runs against.
type Store interface {
	// SetIfAbsent atomically stores value under key with the given TTL if
	// and only if the key does not exist. It reports whether the key was
	// set.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndDelete removes key only if its current value equals value.
	// It reports whether the key was removed.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// Service hands out task reservations on behalf of one process instance.
type Service struct {
	store   Store
	ownerID string
}

// NewService creates a lock service. ownerID identifies this process
// instance and must be distinct across the fleet.
func NewService(store Store, ownerID string) *Service {
	return &Service{store: store, ownerID: ownerID}
}

// OwnerID returns the identity this service reserves tasks under.
func (s *Service) OwnerID() string {
	return s.ownerID
}

// TryReserveTask attempts to acquire exclusive ownership of taskKey for the
// TTL. A store error fails closed: the task is treated as not reserved
// rather than silently granting exclusivity.
func (s *Service) TryReserveTask(ctx context.Context, taskKey string, ttl time.Duration) bool {
	acquired, err := s.store.SetIfAbsent(ctx, taskKey, s.ownerID, ttl)
	if err != nil {
		slog.Error("Lock store unreachable, treating task as not reserved",
			"task", taskKey,
			"error", err)
		return false
	}
	return acquired
}

// FreeTask releases the reservation for taskKey if this instance still holds
// it. Releasing a lock that has already expired and been re-acquired by a
// different owner is a no-op.
func (s *Service) FreeTask(ctx context.Context, taskKey string) {
	released, err := s.store.CompareAndDelete(ctx, taskKey, s.ownerID)
	if err != nil {
		slog.Error("Failed to release task reservation",
			"task", taskKey,
			"error", err)
		return
	}
	if !released {
		slog.Debug("Task reservation no longer held by this instance",
			"task", taskKey,
			"owner", s.ownerID)
	}
}
