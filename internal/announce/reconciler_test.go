package announce

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racewatch/racewatch/internal/destinations"
	"github.com/racewatch/racewatch/internal/models"
	"github.com/racewatch/racewatch/internal/repository"
	"github.com/racewatch/racewatch/internal/repository/inmemory"
)

type fakeDest struct {
	permissions bool
	postErr     error
	updateErr   error

	postCalls   int
	updateCalls int
}

func (f *fakeDest) Name() string { return "telegram" }

func (f *fakeDest) FindChannel(_ context.Context, _ string) (*models.Channel, error) {
	return nil, nil
}

func (f *fakeDest) BotHasRequiredPermissions(_ context.Context, _ *models.Channel) bool {
	return f.permissions
}

func (f *fakeDest) PostRaceMessage(_ context.Context, channel *models.Channel, race *models.Race, _ []*models.Entrant) (destinations.MessageRef, error) {
	f.postCalls++
	if f.postErr != nil {
		return "", f.postErr
	}
	return destinations.MessageRef(fmt.Sprintf("msg-%s-%d", channel.Identifier, f.postCalls)), nil
}

func (f *fakeDest) UpdateRaceMessage(_ context.Context, previous destinations.MessageRef, _ *models.Race, _ []*models.Entrant) (destinations.MessageRef, error) {
	f.updateCalls++
	if f.updateErr != nil {
		return "", f.updateErr
	}
	return previous, nil
}

type fixture struct {
	reconciler *Reconciler
	store      *repository.Store
	dest       *fakeDest
	now        time.Time

	game    *models.Game
	race    *models.Race
	channel *models.Channel
	tracker *models.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	now := time.Now()
	store := inmemory.NewStore()
	dest := &fakeDest{permissions: true}

	game, err := store.Games.Upsert(ctx, &models.Game{
		Connector: "racetime", Identifier: "oot", Name: "Ocarina of Time",
	})
	require.NoError(t, err)

	race, err := store.Races.Create(ctx, &models.Race{
		Connector:  "racetime",
		Identifier: "oot/race-1",
		GameID:     game.ID,
		Goal:       "any%",
		Status:     models.RaceStatusEntryOpen,
		CreatedAt:  now,
		LastSyncAt: now,
	})
	require.NoError(t, err)

	channel, err := store.Channels.Save(ctx, &models.Channel{
		Connector: "telegram", Identifier: "chan-1", Active: true,
	})
	require.NoError(t, err)

	tracker, err := store.Trackers.Create(ctx, &models.Tracker{
		ChannelID: channel.ID, GameID: game.ID, Active: true,
	})
	require.NoError(t, err)

	r := New("racetime", dest, store, 6*time.Hour, 5, 3,
		WithClock(func() time.Time { return now }))

	return &fixture{
		reconciler: r,
		store:      store,
		dest:       dest,
		now:        now,
		game:       game,
		race:       race,
		channel:    channel,
		tracker:    tracker,
	}
}

func (f *fixture) announcements(t *testing.T) []*models.Announcement {
	t.Helper()
	out, err := f.store.Announcements.ListByRace(context.Background(), f.race.ID)
	require.NoError(t, err)
	return out
}

func TestCreateAnnouncements(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("posts for active tracker and snapshots the counter", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.race.ChangeCounter = 2
		require.NoError(t, f.store.Races.Update(ctx, f.race))

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))

		anns := f.announcements(t)
		require.Len(t, anns, 1)
		assert.Equal(t, f.tracker.ID, anns[0].TrackerID)
		assert.Equal(t, int64(2), anns[0].ChangeSnapshot)
		assert.Zero(t, anns[0].FailedUpdateAttempts)
		assert.NotEmpty(t, anns[0].MessageRef)
		assert.Equal(t, 1, f.dest.postCalls)
	})

	t.Run("second pass does not post again", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))

		assert.Len(t, f.announcements(t), 1)
		assert.Equal(t, 1, f.dest.postCalls)
	})

	t.Run("change counter at the threshold still announces", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.race.ChangeCounter = 3
		require.NoError(t, f.store.Races.Update(ctx, f.race))

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		assert.Len(t, f.announcements(t), 1)
	})

	t.Run("change counter past the threshold suppresses new announcements", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.race.ChangeCounter = 4
		require.NoError(t, f.store.Races.Update(ctx, f.race))

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		assert.Empty(t, f.announcements(t))
		assert.Zero(t, f.dest.postCalls)
	})

	t.Run("non-announceable race gets no new announcement", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.race.Status = models.RaceStatusFinished
		require.NoError(t, f.store.Races.Update(ctx, f.race))

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		assert.Empty(t, f.announcements(t))
	})

	t.Run("inactive tracker is skipped", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		require.NoError(t, f.store.Trackers.Deactivate(ctx, f.tracker.ID))

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		assert.Empty(t, f.announcements(t))
	})

	t.Run("inactive channel is skipped", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.channel.Active = false
		_, err := f.store.Channels.Save(ctx, f.channel)
		require.NoError(t, err)

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		assert.Empty(t, f.announcements(t))
	})

	t.Run("missing permissions skip without recording anything", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.dest.permissions = false

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		assert.Empty(t, f.announcements(t))
		assert.Zero(t, f.dest.postCalls)

		// Permissions granted later: the next pass announces normally.
		f.dest.permissions = true
		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		assert.Len(t, f.announcements(t), 1)
	})

	t.Run("post failure leaves no announcement record", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.dest.postErr = errors.New("rate limited")

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		assert.Empty(t, f.announcements(t))

		f.dest.postErr = nil
		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		assert.Len(t, f.announcements(t), 1)
	})

	t.Run("race outside the announce window is dormant", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.race.LastSyncAt = f.now.Add(-7 * time.Hour)
		require.NoError(t, f.store.Races.Update(ctx, f.race))

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		assert.Empty(t, f.announcements(t))
	})
}

func TestUpdateExistingAnnouncements(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// seedAnnouncement stores an announcement as if a previous pass posted
	// it at the given snapshot.
	seedAnnouncement := func(t *testing.T, f *fixture, tracker *models.Tracker, snapshot int64, attempts int) *models.Announcement {
		t.Helper()
		ann, err := f.store.Announcements.Create(ctx, &models.Announcement{
			TrackerID:            tracker.ID,
			RaceID:               f.race.ID,
			ChangeSnapshot:       snapshot,
			FailedUpdateAttempts: attempts,
			MessageRef:           "msg-seeded",
			LastUpdatedAt:        f.now,
		})
		require.NoError(t, err)
		return ann
	}

	t.Run("stale announcement is edited and resynced", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		seedAnnouncement(t, f, f.tracker, 0, 0)
		f.race.ChangeCounter = 2
		require.NoError(t, f.store.Races.Update(ctx, f.race))

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))

		anns := f.announcements(t)
		require.Len(t, anns, 1)
		assert.Equal(t, int64(2), anns[0].ChangeSnapshot)
		assert.Equal(t, 1, f.dest.updateCalls)
		assert.Zero(t, f.dest.postCalls)
	})

	t.Run("in-sync announcement is not touched", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.race.ChangeCounter = 2
		require.NoError(t, f.store.Races.Update(ctx, f.race))
		seedAnnouncement(t, f, f.tracker, 2, 0)

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		assert.Zero(t, f.dest.updateCalls)
	})

	t.Run("failed edit increments the attempt count", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		seedAnnouncement(t, f, f.tracker, 0, 0)
		f.race.ChangeCounter = 1
		require.NoError(t, f.store.Races.Update(ctx, f.race))
		f.dest.updateErr = errors.New("rate limited")

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))

		anns := f.announcements(t)
		require.Len(t, anns, 1)
		assert.Equal(t, 1, anns[0].FailedUpdateAttempts)
		// The snapshot stays behind so the next pass retries.
		assert.Zero(t, anns[0].ChangeSnapshot)
	})

	t.Run("success after failures resets the attempt count", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		seedAnnouncement(t, f, f.tracker, 0, 4)
		f.race.ChangeCounter = 1
		require.NoError(t, f.store.Races.Update(ctx, f.race))

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))

		anns := f.announcements(t)
		require.Len(t, anns, 1)
		assert.Zero(t, anns[0].FailedUpdateAttempts)
		assert.Equal(t, int64(1), anns[0].ChangeSnapshot)
	})

	t.Run("announcement past the retry bound is abandoned", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		seedAnnouncement(t, f, f.tracker, 0, 0)
		f.race.ChangeCounter = 1
		require.NoError(t, f.store.Races.Update(ctx, f.race))
		f.dest.updateErr = errors.New("rate limited")

		// Six failing passes exhaust the bound of five.
		for i := 0; i < 6; i++ {
			require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		}
		assert.Equal(t, 6, f.dest.updateCalls)

		// Even a working destination no longer reaches the abandoned
		// announcement.
		f.dest.updateErr = nil
		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		assert.Equal(t, 6, f.dest.updateCalls)

		anns := f.announcements(t)
		require.Len(t, anns, 1)
		assert.Equal(t, 6, anns[0].FailedUpdateAttempts)
	})

	t.Run("abandoned announcement does not block its siblings", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)

		otherChannel, err := f.store.Channels.Save(ctx, &models.Channel{
			Connector: "telegram", Identifier: "chan-2", Active: true,
		})
		require.NoError(t, err)
		otherTracker, err := f.store.Trackers.Create(ctx, &models.Tracker{
			ChannelID: otherChannel.ID, GameID: f.game.ID, Active: true,
		})
		require.NoError(t, err)

		seedAnnouncement(t, f, f.tracker, 0, 6)
		healthy := seedAnnouncement(t, f, otherTracker, 0, 0)
		f.race.ChangeCounter = 1
		require.NoError(t, f.store.Races.Update(ctx, f.race))

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		assert.Equal(t, 1, f.dest.updateCalls)

		for _, ann := range f.announcements(t) {
			if ann.ID == healthy.ID {
				assert.Equal(t, int64(1), ann.ChangeSnapshot)
			} else {
				assert.Zero(t, ann.ChangeSnapshot)
			}
		}
	})

	t.Run("permission loss skips the edit without counting a failure", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		seedAnnouncement(t, f, f.tracker, 0, 0)
		f.race.ChangeCounter = 1
		require.NoError(t, f.store.Races.Update(ctx, f.race))
		f.dest.permissions = false

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))

		anns := f.announcements(t)
		require.Len(t, anns, 1)
		assert.Zero(t, anns[0].FailedUpdateAttempts)
		assert.Zero(t, f.dest.updateCalls)
	})

	t.Run("deactivated tracker still gets its announcement updated", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		seedAnnouncement(t, f, f.tracker, 0, 0)
		require.NoError(t, f.store.Trackers.Deactivate(ctx, f.tracker.ID))
		f.race.ChangeCounter = 1
		require.NoError(t, f.store.Races.Update(ctx, f.race))

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))

		anns := f.announcements(t)
		require.Len(t, anns, 1)
		assert.Equal(t, int64(1), anns[0].ChangeSnapshot)
	})

	t.Run("missing tracker record skips the announcement", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		_, err := f.store.Announcements.Create(ctx, &models.Announcement{
			TrackerID:     uuid.New(),
			RaceID:        f.race.ID,
			MessageRef:    "msg-orphan",
			LastUpdatedAt: f.now,
		})
		require.NoError(t, err)
		f.race.ChangeCounter = 1
		require.NoError(t, f.store.Races.Update(ctx, f.race))

		require.NoError(t, f.reconciler.UpdateAnnouncements(ctx))
		assert.Zero(t, f.dest.updateCalls)
	})
}
