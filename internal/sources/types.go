// Package sources defines the contract a source connector implements to
// feed race data into the reconcilers, together with the normalized upstream
// shapes it returns.
package sources

import (
	"context"
	"time"

	"github.com/racewatch/racewatch/internal/models"
)

// Game is a game category as reported by the upstream service.
type Game struct {
	Identifier   string
	Name         string
	Abbreviation string
}

// Entrant is one participant in an upstream race.
type Entrant struct {
	Name       string
	Status     models.EntrantStatus
	FinishTime *time.Duration
}

// Race is one race as reported by the upstream service.
type Race struct {
	Identifier     string
	GameIdentifier string
	Goal           string
	Status         models.RaceStatus
	URL            string
	Entrants       []Entrant
}

// Connector fetches race data from one upstream race-hosting service.
type Connector interface {
	// Name returns the connector tag scoping all records this connector
	// produces.
	Name() string

	// ListGames fetches the full upstream game catalog.
	ListGames(ctx context.Context) ([]Game, error)

	// GetActiveRaces fetches the races the upstream currently lists as
	// active. The listing may omit races that finished recently or exceed
	// the upstream's listing cap.
	GetActiveRaces(ctx context.Context) ([]Race, error)

	// GetRaceByID fetches a single race by upstream identifier. It
	// returns nil with no error when the upstream does not know the race.
	GetRaceByID(ctx context.Context, identifier string) (*Race, error)
}
