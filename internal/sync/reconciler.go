// Package sync reconciles locally stored race and entrant state against one
// upstream source connector. Each pass upserts games, races, and racers,
// mirrors entrant sets, and derives the per-race change counter the
// announcement reconciler consumes.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/racewatch/racewatch/internal/models"
	"github.com/racewatch/racewatch/internal/repository"
	"github.com/racewatch/racewatch/internal/sources"
	"github.com/racewatch/racewatch/internal/telemetry"
)

// Reconciler is the source reconciler for one connector.
type Reconciler struct {
	source sources.Connector
	store  *repository.Store

	// raceRecency scopes identifier uniqueness: a stored race older than
	// this window never matches an upstream race with the same
	// identifier.
	raceRecency time.Duration

	// raceLookback bounds dropped-race recovery.
	raceLookback time.Duration

	metrics *telemetry.SyncMetrics
	now     func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithMetrics attaches sync pass instruments. A nil value disables them.
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(r *Reconciler) {
		r.metrics = metrics
	}
}

// New creates a source reconciler.
func New(source sources.Connector, store *repository.Store, raceRecency, raceLookback time.Duration, opts ...Option) *Reconciler {
	r := &Reconciler{
		source:       source,
		store:        store,
		raceRecency:  raceRecency,
		raceLookback: raceLookback,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SyncGames fetches the upstream game catalog and upserts every entry by
// (connector, identifier).
func (r *Reconciler) SyncGames(ctx context.Context) error {
	games, err := r.source.ListGames(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch game catalog: %w", err)
	}

	for _, game := range games {
		_, err := r.store.Games.Upsert(ctx, &models.Game{
			Connector:    r.source.Name(),
			Identifier:   game.Identifier,
			Name:         game.Name,
			Abbreviation: game.Abbreviation,
		})
		if err != nil {
			slog.Warn("Failed to upsert game",
				"connector", r.source.Name(),
				"game", game.Identifier,
				"error", err)
		}
	}

	slog.Info("Game catalog synced",
		"connector", r.source.Name(),
		"games", len(games))
	return nil
}

// SyncRaces fetches the upstream active race listing, reconciles every race
// in it, and then recovers races that vanished from the listing before
// reaching a terminal status.
func (r *Reconciler) SyncRaces(ctx context.Context) error {
	started := r.now()
	upstream, err := r.source.GetActiveRaces(ctx)
	if err != nil {
		r.metrics.RecordPassDuration(ctx, r.source.Name(), r.now().Sub(started), false)
		return fmt.Errorf("failed to fetch active races: %w", err)
	}

	seen := make(map[string]struct{}, len(upstream))
	for i := range upstream {
		race := &upstream[i]
		seen[race.Identifier] = struct{}{}
		if err := r.reconcileRace(ctx, race); err != nil {
			// One bad race never aborts the rest of the pass.
			slog.Warn("Failed to reconcile race",
				"connector", r.source.Name(),
				"race", race.Identifier,
				"error", err)
		}
	}

	r.recoverDroppedRaces(ctx, seen)

	r.metrics.RecordRacesTracked(ctx, r.source.Name(), int64(len(upstream)))
	r.metrics.RecordPassDuration(ctx, r.source.Name(), r.now().Sub(started), true)
	return nil
}

// recoverDroppedRaces fetches, one by one, local races that are missing
// from the bulk listing but are neither terminal nor older than the
// lookback window. Upstream services drop finished races from their listing
// immediately or cap how many they expose, so a race can vanish before its
// terminal state was observed.
func (r *Reconciler) recoverDroppedRaces(ctx context.Context, seen map[string]struct{}) {
	createdAfter := r.now().Add(-r.raceLookback)
	candidates, err := r.store.Races.ListRecoverable(ctx, r.source.Name(), createdAfter)
	if err != nil {
		slog.Error("Failed to list recoverable races",
			"connector", r.source.Name(),
			"error", err)
		return
	}

	for _, race := range candidates {
		if _, ok := seen[race.Identifier]; ok {
			continue
		}

		upstream, err := r.source.GetRaceByID(ctx, race.Identifier)
		if err != nil {
			slog.Warn("Failed to fetch dropped race, leaving for next cycle",
				"connector", r.source.Name(),
				"race", race.Identifier,
				"error", err)
			continue
		}
		if upstream == nil {
			slog.Debug("Dropped race not found upstream",
				"connector", r.source.Name(),
				"race", race.Identifier)
			continue
		}

		if err := r.reconcileRace(ctx, upstream); err != nil {
			slog.Warn("Failed to reconcile recovered race",
				"connector", r.source.Name(),
				"race", race.Identifier,
				"error", err)
		}
	}
}

// reconcileRace applies one upstream race to local state: race fields,
// racer identities, and the entrant set. The change counter advances only
// when a material change is detected against an existing race; `lastSyncAt`
// is stamped regardless.
func (r *Reconciler) reconcileRace(ctx context.Context, upstream *sources.Race) error {
	game, err := r.store.Games.GetByConnectorID(ctx, r.source.Name(), upstream.GameIdentifier)
	if errors.Is(err, repository.ErrNotFound) {
		// Races of untracked games are expected and not an error.
		slog.Debug("Skipping race of unknown game",
			"connector", r.source.Name(),
			"race", upstream.Identifier,
			"game", upstream.GameIdentifier)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve game %s: %w", upstream.GameIdentifier, err)
	}

	now := r.now()
	createdAfter := now.Add(-r.raceRecency)

	race, err := r.store.Races.FindCurrent(ctx, r.source.Name(), upstream.Identifier, createdAfter)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to look up race %s: %w", upstream.Identifier, err)
	}

	if race == nil {
		race, err = r.store.Races.Create(ctx, &models.Race{
			Connector:  r.source.Name(),
			Identifier: upstream.Identifier,
			GameID:     game.ID,
			Goal:       upstream.Goal,
			Status:     upstream.Status,
			URL:        upstream.URL,
			CreatedAt:  now,
			LastSyncAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to create race %s: %w", upstream.Identifier, err)
		}
		// The creation pass mirrors entrants but does not advance the
		// change counter; a fresh race has nothing to be stale against.
		if _, err := r.mirrorEntrants(ctx, race, upstream.Entrants); err != nil {
			return err
		}
		slog.Info("New race tracked",
			"connector", r.source.Name(),
			"race", race.Identifier,
			"game", game.Identifier)
		return nil
	}

	raceChanged := race.Goal != upstream.Goal ||
		race.Status != upstream.Status ||
		race.URL != upstream.URL

	race.Goal = upstream.Goal
	race.Status = upstream.Status
	race.URL = upstream.URL

	entrantsChanged, err := r.mirrorEntrants(ctx, race, upstream.Entrants)
	if err != nil {
		return err
	}

	if raceChanged || entrantsChanged {
		race.ChangeCounter++
	}
	race.LastSyncAt = now

	if err := r.store.Races.Update(ctx, race); err != nil {
		return fmt.Errorf("failed to update race %s: %w", race.Identifier, err)
	}
	return nil
}

// mirrorEntrants makes the stored entrant set for the race exactly match
// the upstream list: missing rows are added, changed rows updated, and
// extras deleted by identifier set subtraction. It reports whether the set
// differed.
func (r *Reconciler) mirrorEntrants(ctx context.Context, race *models.Race, upstream []sources.Entrant) (bool, error) {
	existing, err := r.store.Entrants.ListByRace(ctx, race.ID)
	if err != nil {
		return false, fmt.Errorf("failed to list entrants: %w", err)
	}
	existingByRacer := make(map[uuid.UUID]*models.Entrant, len(existing))
	for _, entrant := range existing {
		existingByRacer[entrant.RacerID] = entrant
	}

	changed := false
	wanted := make(map[uuid.UUID]struct{}, len(upstream))

	for i := range upstream {
		upstreamEntrant := &upstream[i]

		// A display name colliding with an existing racer id merges into
		// that racer; the identifier is the lower-cased name.
		racer, err := r.store.Racers.Upsert(ctx, &models.Racer{
			Connector:  r.source.Name(),
			Identifier: strings.ToLower(upstreamEntrant.Name),
			Name:       upstreamEntrant.Name,
		})
		if err != nil {
			return changed, fmt.Errorf("failed to upsert racer %s: %w", upstreamEntrant.Name, err)
		}
		wanted[racer.ID] = struct{}{}

		current, ok := existingByRacer[racer.ID]
		if ok && current.Status == upstreamEntrant.Status && equalFinishTimes(current.FinishTime, upstreamEntrant.FinishTime) {
			continue
		}

		err = r.store.Entrants.Upsert(ctx, &models.Entrant{
			RaceID:     race.ID,
			RacerID:    racer.ID,
			Status:     upstreamEntrant.Status,
			FinishTime: upstreamEntrant.FinishTime,
		})
		if err != nil {
			return changed, fmt.Errorf("failed to upsert entrant %s: %w", upstreamEntrant.Name, err)
		}
		changed = true
	}

	var extras []uuid.UUID
	for racerID := range existingByRacer {
		if _, ok := wanted[racerID]; !ok {
			extras = append(extras, racerID)
		}
	}
	if len(extras) > 0 {
		if err := r.store.Entrants.Delete(ctx, race.ID, extras); err != nil {
			return changed, fmt.Errorf("failed to delete entrants: %w", err)
		}
		changed = true
	}

	return changed, nil
}

func equalFinishTimes(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
