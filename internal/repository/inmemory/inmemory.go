// Package inmemory provides map-backed repository implementations. They are
// used by tests and by single-node development deployments where a database
// is not worth running.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/racewatch/racewatch/internal/models"
	"github.com/racewatch/racewatch/internal/repository"
)

// NewStore returns a repository.Store backed entirely by in-process maps.
func NewStore() *repository.Store {
	chans := &channels{byID: map[uuid.UUID]models.Channel{}}
	return &repository.Store{
		Games:         &games{byID: map[uuid.UUID]models.Game{}},
		Racers:        &racers{byID: map[uuid.UUID]models.Racer{}},
		Races:         &races{byID: map[uuid.UUID]models.Race{}},
		Entrants:      &entrants{rows: map[entrantKey]models.Entrant{}},
		Channels:      chans,
		Trackers:      &trackers{byID: map[uuid.UUID]models.Tracker{}, channels: chans},
		Announcements: &announcements{byID: map[uuid.UUID]models.Announcement{}},
	}
}

type games struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]models.Game
}

func (g *games) Upsert(_ context.Context, game *models.Game) (*models.Game, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, existing := range g.byID {
		if existing.Connector == game.Connector && existing.Identifier == game.Identifier {
			existing.Name = game.Name
			existing.Abbreviation = game.Abbreviation
			g.byID[id] = existing
			return &existing, nil
		}
	}

	stored := *game
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	g.byID[stored.ID] = stored
	return &stored, nil
}

func (g *games) GetByConnectorID(_ context.Context, connector, identifier string) (*models.Game, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, existing := range g.byID {
		if existing.Connector == connector && existing.Identifier == identifier {
			found := existing
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (g *games) GetByID(_ context.Context, id uuid.UUID) (*models.Game, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	existing, ok := g.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &existing, nil
}

type racers struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]models.Racer
}

func (r *racers) Upsert(_ context.Context, racer *models.Racer) (*models.Racer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, existing := range r.byID {
		if existing.Connector == racer.Connector && existing.Identifier == racer.Identifier {
			existing.Name = racer.Name
			r.byID[id] = existing
			return &existing, nil
		}
	}

	stored := *racer
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	r.byID[stored.ID] = stored
	return &stored, nil
}

func (r *racers) GetByConnectorID(_ context.Context, connector, identifier string) (*models.Racer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, existing := range r.byID {
		if existing.Connector == connector && existing.Identifier == identifier {
			found := existing
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

type races struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]models.Race
}

func (r *races) FindCurrent(_ context.Context, connector, identifier string, createdAfter time.Time) (*models.Race, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var newest *models.Race
	for _, existing := range r.byID {
		if existing.Connector != connector || existing.Identifier != identifier {
			continue
		}
		if existing.CreatedAt.Before(createdAfter) {
			continue
		}
		if newest == nil || existing.CreatedAt.After(newest.CreatedAt) {
			found := existing
			newest = &found
		}
	}
	if newest == nil {
		return nil, repository.ErrNotFound
	}
	return newest, nil
}

func (r *races) Create(_ context.Context, race *models.Race) (*models.Race, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *race
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	r.byID[stored.ID] = stored
	return &stored, nil
}

func (r *races) Update(_ context.Context, race *models.Race) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[race.ID]; !ok {
		return repository.ErrNotFound
	}
	r.byID[race.ID] = *race
	return nil
}

func (r *races) ListSyncedSince(_ context.Context, connector string, since time.Time) ([]*models.Race, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Race
	for _, existing := range r.byID {
		if existing.Connector == connector && !existing.LastSyncAt.Before(since) {
			found := existing
			out = append(out, &found)
		}
	}
	sortRaces(out)
	return out, nil
}

func (r *races) ListRecoverable(_ context.Context, connector string, createdAfter time.Time) ([]*models.Race, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Race
	for _, existing := range r.byID {
		if existing.Connector != connector || existing.Status.IsTerminal() {
			continue
		}
		if existing.CreatedAt.Before(createdAfter) {
			continue
		}
		found := existing
		out = append(out, &found)
	}
	sortRaces(out)
	return out, nil
}

// sortRaces gives list results a stable order so reconciliation passes are
// deterministic.
func sortRaces(out []*models.Race) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Identifier < out[j].Identifier
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}

type entrantKey struct {
	raceID  uuid.UUID
	racerID uuid.UUID
}

type entrants struct {
	mu   sync.RWMutex
	rows map[entrantKey]models.Entrant
}

func (e *entrants) ListByRace(_ context.Context, raceID uuid.UUID) ([]*models.Entrant, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*models.Entrant
	for key, row := range e.rows {
		if key.raceID == raceID {
			found := row
			out = append(out, &found)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RacerID.String() < out[j].RacerID.String()
	})
	return out, nil
}

func (e *entrants) Upsert(_ context.Context, entrant *models.Entrant) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rows[entrantKey{raceID: entrant.RaceID, racerID: entrant.RacerID}] = *entrant
	return nil
}

func (e *entrants) Delete(_ context.Context, raceID uuid.UUID, racerIDs []uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, racerID := range racerIDs {
		delete(e.rows, entrantKey{raceID: raceID, racerID: racerID})
	}
	return nil
}

type channels struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]models.Channel
}

func (c *channels) GetByID(_ context.Context, id uuid.UUID) (*models.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	existing, ok := c.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &existing, nil
}

func (c *channels) GetByConnectorID(_ context.Context, connector, identifier string) (*models.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, existing := range c.byID {
		if existing.Connector == connector && existing.Identifier == identifier {
			found := existing
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (c *channels) Save(_ context.Context, channel *models.Channel) (*models.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *channel
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	c.byID[stored.ID] = stored
	return &stored, nil
}

type trackers struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]models.Tracker

	// channel lookup for DeactivateByServerAndGame
	channels *channels
}

func (t *trackers) Create(_ context.Context, tracker *models.Tracker) (*models.Tracker, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// At most one active tracker per (channel, game); mirrors the partial
	// unique index the database schema enforces.
	if tracker.Active {
		for _, existing := range t.byID {
			if existing.Active && existing.ChannelID == tracker.ChannelID && existing.GameID == tracker.GameID {
				return nil, repository.ErrDuplicate
			}
		}
	}

	stored := *tracker
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	t.byID[stored.ID] = stored
	return &stored, nil
}

func (t *trackers) GetByID(_ context.Context, id uuid.UUID) (*models.Tracker, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	existing, ok := t.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &existing, nil
}

func (t *trackers) ListActiveByGame(_ context.Context, gameID uuid.UUID) ([]*models.Tracker, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*models.Tracker
	for _, existing := range t.byID {
		if existing.GameID == gameID && existing.Active {
			found := existing
			out = append(out, &found)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *trackers) Deactivate(_ context.Context, id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	existing.Active = false
	t.byID[id] = existing
	return nil
}

func (t *trackers) DeactivateByServerAndGame(ctx context.Context, connector, serverIdentifier string, gameID uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, existing := range t.byID {
		if !existing.Active || existing.GameID != gameID {
			continue
		}
		if t.channels == nil {
			continue
		}
		channel, err := t.channels.GetByID(ctx, existing.ChannelID)
		if err != nil {
			continue
		}
		if channel.Connector == connector && channel.ServerIdentifier == serverIdentifier {
			existing.Active = false
			t.byID[id] = existing
		}
	}
	return nil
}

type announcements struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]models.Announcement
}

func (a *announcements) ListByRace(_ context.Context, raceID uuid.UUID) ([]*models.Announcement, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []*models.Announcement
	for _, existing := range a.byID {
		if existing.RaceID == raceID {
			found := existing
			out = append(out, &found)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TrackerID.String() < out[j].TrackerID.String()
	})
	return out, nil
}

func (a *announcements) Create(_ context.Context, ann *models.Announcement) (*models.Announcement, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stored := *ann
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	a.byID[stored.ID] = stored
	return &stored, nil
}

func (a *announcements) Update(_ context.Context, ann *models.Announcement) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.byID[ann.ID]; !ok {
		return repository.ErrNotFound
	}
	a.byID[ann.ID] = *ann
	return nil
}
