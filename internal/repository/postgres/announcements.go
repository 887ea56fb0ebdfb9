package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/racewatch/racewatch/internal/models"
)

type trackers struct {
	pool *pgxpool.Pool
}

const trackerColumns = `id, channel_id, game_id, active, created_at`

func (t *trackers) Create(ctx context.Context, tracker *models.Tracker) (*models.Tracker, error) {
	row := t.pool.QueryRow(ctx, `
		INSERT INTO trackers (`+trackerColumns+`)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
		RETURNING `+trackerColumns,
		newID(tracker.ID), tracker.ChannelID, tracker.GameID, tracker.Active,
		nullableTime(tracker.CreatedAt))
	return scanTracker(row)
}

func (t *trackers) GetByID(ctx context.Context, id uuid.UUID) (*models.Tracker, error) {
	row := t.pool.QueryRow(ctx, `
		SELECT `+trackerColumns+`
		FROM trackers WHERE id = $1`, id)
	return scanTracker(row)
}

func (t *trackers) ListActiveByGame(ctx context.Context, gameID uuid.UUID) ([]*models.Tracker, error) {
	rows, err := t.pool.Query(ctx, `
		SELECT `+trackerColumns+`
		FROM trackers
		WHERE game_id = $1 AND active
		ORDER BY created_at`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Tracker
	for rows.Next() {
		tracker, err := scanTracker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tracker)
	}
	return out, rows.Err()
}

func (t *trackers) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := t.pool.Exec(ctx, `UPDATE trackers SET active = false WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tracker %s: %w", id, errNoRowsUpdated)
	}
	return nil
}

func (t *trackers) DeactivateByServerAndGame(ctx context.Context, connector, serverIdentifier string, gameID uuid.UUID) error {
	_, err := t.pool.Exec(ctx, `
		UPDATE trackers SET active = false
		WHERE game_id = $1
			AND active
			AND channel_id IN (
				SELECT id FROM channels
				WHERE connector = $2 AND server_identifier = $3
			)`,
		gameID, connector, serverIdentifier)
	return err
}

func scanTracker(row pgx.Row) (*models.Tracker, error) {
	var tracker models.Tracker
	err := row.Scan(&tracker.ID, &tracker.ChannelID, &tracker.GameID, &tracker.Active, &tracker.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &tracker, nil
}

type announcements struct {
	pool *pgxpool.Pool
}

const announcementColumns = `id, tracker_id, race_id, change_snapshot, failed_update_attempts, message_ref, last_updated_at`

func (a *announcements) ListByRace(ctx context.Context, raceID uuid.UUID) ([]*models.Announcement, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT `+announcementColumns+`
		FROM announcements
		WHERE race_id = $1
		ORDER BY tracker_id`, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Announcement
	for rows.Next() {
		ann, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ann)
	}
	return out, rows.Err()
}

func (a *announcements) Create(ctx context.Context, ann *models.Announcement) (*models.Announcement, error) {
	row := a.pool.QueryRow(ctx, `
		INSERT INTO announcements (`+announcementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+announcementColumns,
		newID(ann.ID), ann.TrackerID, ann.RaceID, ann.ChangeSnapshot,
		ann.FailedUpdateAttempts, ann.MessageRef, ann.LastUpdatedAt)
	return scanAnnouncement(row)
}

func (a *announcements) Update(ctx context.Context, ann *models.Announcement) error {
	tag, err := a.pool.Exec(ctx, `
		UPDATE announcements
		SET change_snapshot = $2,
			failed_update_attempts = $3,
			message_ref = $4,
			last_updated_at = $5
		WHERE id = $1`,
		ann.ID, ann.ChangeSnapshot, ann.FailedUpdateAttempts, ann.MessageRef, ann.LastUpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("announcement %s: %w", ann.ID, errNoRowsUpdated)
	}
	return nil
}

func scanAnnouncement(row pgx.Row) (*models.Announcement, error) {
	var ann models.Announcement
	err := row.Scan(&ann.ID, &ann.TrackerID, &ann.RaceID, &ann.ChangeSnapshot,
		&ann.FailedUpdateAttempts, &ann.MessageRef, &ann.LastUpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &ann, nil
}
