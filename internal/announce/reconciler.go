// Package announce reconciles announcement state against the per-race
// change signal: it updates stale announcement messages in place, creates
// announcements for newly eligible (tracker, race) pairs, and abandons
// announcements whose update attempts keep failing.
package announce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/racewatch/racewatch/internal/destinations"
	"github.com/racewatch/racewatch/internal/models"
	"github.com/racewatch/racewatch/internal/repository"
	"github.com/racewatch/racewatch/internal/telemetry"
)

// Reconciler is the announcement reconciler for one source connector.
type Reconciler struct {
	sourceConnector string
	dest            destinations.Connector
	store           *repository.Store

	// window bounds which races are reconsidered each tick; races synced
	// longer ago are dormant.
	window time.Duration

	// maxFailedUpdates is the failed-attempt count past which an
	// announcement is abandoned for good.
	maxFailedUpdates int

	// maxNewChanges caps the race change counter beyond which no new
	// announcement is created, keeping a backlog or upstream anomaly from
	// bursting out late announcements.
	maxNewChanges int

	metrics *telemetry.AnnounceMetrics
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

// WithMetrics attaches announcement instruments. A nil value disables them.
func WithMetrics(metrics *telemetry.AnnounceMetrics) Option {
	return func(r *Reconciler) {
		r.metrics = metrics
	}
}

// New creates an announcement reconciler.
func New(
	sourceConnector string,
	dest destinations.Connector,
	store *repository.Store,
	window time.Duration,
	maxFailedUpdates int,
	maxNewChanges int,
	opts ...Option,
) *Reconciler {
	r := &Reconciler{
		sourceConnector:  sourceConnector,
		dest:             dest,
		store:            store,
		window:           window,
		maxFailedUpdates: maxFailedUpdates,
		maxNewChanges:    maxNewChanges,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UpdateAnnouncements runs one reconciliation pass over all recently synced
// races.
func (r *Reconciler) UpdateAnnouncements(ctx context.Context) error {
	since := r.now().Add(-r.window)
	races, err := r.store.Races.ListSyncedSince(ctx, r.sourceConnector, since)
	if err != nil {
		return fmt.Errorf("failed to list recently synced races: %w", err)
	}

	for _, race := range races {
		if err := r.reconcileRace(ctx, race); err != nil {
			// One bad race never aborts the rest of the pass.
			slog.Warn("Failed to reconcile announcements for race",
				"connector", r.sourceConnector,
				"race", race.Identifier,
				"error", err)
		}
	}
	return nil
}

func (r *Reconciler) reconcileRace(ctx context.Context, race *models.Race) error {
	announcements, err := r.store.Announcements.ListByRace(ctx, race.ID)
	if err != nil {
		return fmt.Errorf("failed to list announcements: %w", err)
	}

	entrants, err := r.store.Entrants.ListByRace(ctx, race.ID)
	if err != nil {
		return fmt.Errorf("failed to list entrants: %w", err)
	}

	announced := make(map[uuid.UUID]struct{}, len(announcements))
	for _, ann := range announcements {
		announced[ann.TrackerID] = struct{}{}
		r.updateExisting(ctx, race, entrants, ann)
	}

	r.createMissing(ctx, race, entrants, announced)
	return nil
}

// updateExisting brings one existing announcement in line with the race's
// current change counter. Failures increment the announcement's attempt
// count and are retried on the next tick only.
func (r *Reconciler) updateExisting(
	ctx context.Context, race *models.Race, entrants []*models.Entrant, ann *models.Announcement,
) {
	if ann.FailedUpdateAttempts > r.maxFailedUpdates {
		// Abandoned, permanently.
		return
	}
	if ann.ChangeSnapshot == race.ChangeCounter {
		// In sync, nothing new to show.
		return
	}

	channel, ok := r.resolveChannel(ctx, ann.TrackerID)
	if !ok {
		return
	}
	if !r.dest.BotHasRequiredPermissions(ctx, channel) {
		// Not the announcement's fault; skip without counting a failure.
		slog.Debug("Skipping announcement update, missing permissions",
			"channel", channel.Identifier,
			"race", race.Identifier)
		return
	}

	ref, err := r.dest.UpdateRaceMessage(ctx, destinations.MessageRef(ann.MessageRef), race, entrants)
	if err != nil {
		ann.FailedUpdateAttempts++
		r.metrics.RecordUpdateFailure(ctx, r.dest.Name())
		slog.Warn("Failed to update announcement message",
			"race", race.Identifier,
			"channel", channel.Identifier,
			"attempts", ann.FailedUpdateAttempts,
			"error", err)
		if saveErr := r.store.Announcements.Update(ctx, ann); saveErr != nil {
			slog.Error("Failed to persist announcement failure count",
				"race", race.Identifier,
				"error", saveErr)
		}
		return
	}

	ann.ChangeSnapshot = race.ChangeCounter
	ann.FailedUpdateAttempts = 0
	ann.MessageRef = string(ref)
	ann.LastUpdatedAt = r.now()
	r.metrics.RecordUpdated(ctx, r.dest.Name())
	if err := r.store.Announcements.Update(ctx, ann); err != nil {
		slog.Error("Failed to persist updated announcement",
			"race", race.Identifier,
			"error", err)
	}
}

// createMissing posts fresh announcements for active trackers that have
// none yet, subject to the new-announcement guard: the race must still be
// in an announceable status and must not have accumulated more change
// events than the configured threshold.
func (r *Reconciler) createMissing(
	ctx context.Context, race *models.Race, entrants []*models.Entrant, announced map[uuid.UUID]struct{},
) {
	if !race.Status.IsAnnounceable() {
		return
	}
	if race.ChangeCounter > int64(r.maxNewChanges) {
		return
	}

	trackers, err := r.store.Trackers.ListActiveByGame(ctx, race.GameID)
	if err != nil {
		slog.Error("Failed to list trackers",
			"race", race.Identifier,
			"error", err)
		return
	}

	for _, tracker := range trackers {
		if _, ok := announced[tracker.ID]; ok {
			continue
		}

		channel, err := r.store.Channels.GetByID(ctx, tracker.ChannelID)
		if err != nil {
			slog.Warn("Failed to resolve tracker channel",
				"tracker", tracker.ID,
				"error", err)
			continue
		}
		if !channel.Active {
			continue
		}
		if !r.dest.BotHasRequiredPermissions(ctx, channel) {
			slog.Debug("Skipping new announcement, missing permissions",
				"channel", channel.Identifier,
				"race", race.Identifier)
			continue
		}

		ref, err := r.dest.PostRaceMessage(ctx, channel, race, entrants)
		if err != nil {
			slog.Warn("Failed to post announcement message",
				"race", race.Identifier,
				"channel", channel.Identifier,
				"error", err)
			continue
		}

		_, err = r.store.Announcements.Create(ctx, &models.Announcement{
			TrackerID:            tracker.ID,
			RaceID:               race.ID,
			ChangeSnapshot:       race.ChangeCounter,
			FailedUpdateAttempts: 0,
			MessageRef:           string(ref),
			LastUpdatedAt:        r.now(),
		})
		if err != nil {
			slog.Error("Failed to persist new announcement",
				"race", race.Identifier,
				"tracker", tracker.ID,
				"error", err)
			continue
		}

		r.metrics.RecordPosted(ctx, r.dest.Name())
		slog.Info("Announcement posted",
			"race", race.Identifier,
			"channel", channel.Identifier)
	}
}

// resolveChannel loads the channel behind a tracker, reporting false when
// the tracker or channel is gone or inactive.
func (r *Reconciler) resolveChannel(ctx context.Context, trackerID uuid.UUID) (*models.Channel, bool) {
	tracker, err := r.store.Trackers.GetByID(ctx, trackerID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("Failed to load tracker", "tracker", trackerID, "error", err)
		}
		return nil, false
	}

	channel, err := r.store.Channels.GetByID(ctx, tracker.ChannelID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("Failed to load channel", "channel", tracker.ChannelID, "error", err)
		}
		return nil, false
	}
	if !channel.Active {
		return nil, false
	}
	return channel, true
}
