// Package repository defines typed persistence contracts for the racewatch
// entities. The reconcilers depend only on these interfaces; concrete
// implementations live in the inmemory and postgres subpackages.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/racewatch/racewatch/internal/models"
)

// ErrNotFound is returned when a record can't be found.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when an insert would violate a uniqueness rule,
// such as a second active tracker for the same channel and game.
var ErrDuplicate = errors.New("record already exists")

// Games provides access to Game records. Games are upserted by
// (connector, identifier) and never deleted.
type Games interface {
	// Upsert inserts the game or updates its display fields, keyed by
	// (connector, identifier). The stored record is returned with its ID
	// populated.
	Upsert(ctx context.Context, game *models.Game) (*models.Game, error)

	// GetByConnectorID looks up a game by (connector, identifier).
	GetByConnectorID(ctx context.Context, connector, identifier string) (*models.Game, error)

	// GetByID looks up a game by primary key.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Game, error)
}

// Racers provides access to Racer records, upserted by
// (connector, identifier) where the identifier is the lower-cased display
// name.
type Racers interface {
	Upsert(ctx context.Context, racer *models.Racer) (*models.Racer, error)
	GetByConnectorID(ctx context.Context, connector, identifier string) (*models.Racer, error)
}

// Races provides access to Race records. Identifier uniqueness is scoped by
// a recency window because upstream identifiers can be reused after expiry.
type Races interface {
	// FindCurrent looks up the race with the given (connector, identifier)
	// created at or after createdAfter. Older same-identifier races are
	// treated as unrelated prior events.
	FindCurrent(ctx context.Context, connector, identifier string, createdAfter time.Time) (*models.Race, error)

	// Create inserts a new race and returns it with its ID populated.
	Create(ctx context.Context, race *models.Race) (*models.Race, error)

	// Update persists changes to an existing race.
	Update(ctx context.Context, race *models.Race) error

	// ListSyncedSince returns races for the connector whose LastSyncAt is
	// at or after the given time.
	ListSyncedSince(ctx context.Context, connector string, since time.Time) ([]*models.Race, error)

	// ListRecoverable returns races for the connector that are not in a
	// terminal status and were created at or after createdAfter.
	ListRecoverable(ctx context.Context, connector string, createdAfter time.Time) ([]*models.Race, error)
}

// Entrants provides access to the Entrant rows of a race. The stored set
// mirrors the upstream entrant list exactly after each sync pass.
type Entrants interface {
	ListByRace(ctx context.Context, raceID uuid.UUID) ([]*models.Entrant, error)
	Upsert(ctx context.Context, entrant *models.Entrant) error

	// Delete removes the entrant rows for the given racers from the race.
	Delete(ctx context.Context, raceID uuid.UUID, racerIDs []uuid.UUID) error
}

// Channels provides access to CommunicationChannel records.
type Channels interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	GetByConnectorID(ctx context.Context, connector, identifier string) (*models.Channel, error)
	Save(ctx context.Context, channel *models.Channel) (*models.Channel, error)
}

// Trackers provides access to Tracker records.
type Trackers interface {
	Create(ctx context.Context, tracker *models.Tracker) (*models.Tracker, error)

	GetByID(ctx context.Context, id uuid.UUID) (*models.Tracker, error)

	// ListActiveByGame returns the active trackers for a game.
	ListActiveByGame(ctx context.Context, gameID uuid.UUID) ([]*models.Tracker, error)

	// Deactivate marks a tracker inactive. Past announcements are kept.
	Deactivate(ctx context.Context, id uuid.UUID) error

	// DeactivateByServerAndGame deactivates any active tracker for the
	// given game whose channel belongs to the given server, ahead of a
	// replacement tracker being created.
	DeactivateByServerAndGame(ctx context.Context, connector, serverIdentifier string, gameID uuid.UUID) error
}

// Announcements provides access to Announcement records. Announcements are
// created once per (tracker, race) and updated in place, never deleted.
type Announcements interface {
	ListByRace(ctx context.Context, raceID uuid.UUID) ([]*models.Announcement, error)
	Create(ctx context.Context, ann *models.Announcement) (*models.Announcement, error)
	Update(ctx context.Context, ann *models.Announcement) error
}

// Store bundles the per-entity repositories handed to the reconcilers.
type Store struct {
	Games         Games
	Racers        Racers
	Races         Races
	Entrants      Entrants
	Channels      Channels
	Trackers      Trackers
	Announcements Announcements
}
