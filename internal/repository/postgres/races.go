package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/racewatch/racewatch/internal/models"
)

type races struct {
	pool *pgxpool.Pool
}

const raceColumns = `id, connector, identifier, game_id, goal, status, url, change_counter, created_at, last_sync_at`

func (r *races) FindCurrent(ctx context.Context, connector, identifier string, createdAfter time.Time) (*models.Race, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+raceColumns+`
		FROM races
		WHERE connector = $1 AND identifier = $2 AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1`,
		connector, identifier, createdAfter)
	return scanRace(row)
}

func (r *races) Create(ctx context.Context, race *models.Race) (*models.Race, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO races (`+raceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+raceColumns,
		newID(race.ID), race.Connector, race.Identifier, race.GameID, race.Goal,
		string(race.Status), race.URL, race.ChangeCounter, race.CreatedAt, race.LastSyncAt)
	return scanRace(row)
}

func (r *races) Update(ctx context.Context, race *models.Race) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE races
		SET goal = $2, status = $3, url = $4, change_counter = $5, last_sync_at = $6
		WHERE id = $1`,
		race.ID, race.Goal, string(race.Status), race.URL, race.ChangeCounter, race.LastSyncAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("race %s: %w", race.ID, errNoRowsUpdated)
	}
	return nil
}

func (r *races) ListSyncedSince(ctx context.Context, connector string, since time.Time) ([]*models.Race, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+raceColumns+`
		FROM races
		WHERE connector = $1 AND last_sync_at >= $2
		ORDER BY created_at, identifier`,
		connector, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRaces(rows)
}

func (r *races) ListRecoverable(ctx context.Context, connector string, createdAfter time.Time) ([]*models.Race, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+raceColumns+`
		FROM races
		WHERE connector = $1
			AND created_at >= $2
			AND status NOT IN ($3, $4)
		ORDER BY created_at, identifier`,
		connector, createdAfter,
		string(models.RaceStatusFinished), string(models.RaceStatusOver))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRaces(rows)
}

func collectRaces(rows pgx.Rows) ([]*models.Race, error) {
	var out []*models.Race
	for rows.Next() {
		race, err := scanRace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, race)
	}
	return out, rows.Err()
}

func scanRace(row pgx.Row) (*models.Race, error) {
	var race models.Race
	var status string
	err := row.Scan(&race.ID, &race.Connector, &race.Identifier, &race.GameID, &race.Goal,
		&status, &race.URL, &race.ChangeCounter, &race.CreatedAt, &race.LastSyncAt)
	if err != nil {
		return nil, mapError(err)
	}
	race.Status = models.RaceStatus(status)
	return &race, nil
}

type entrants struct {
	pool *pgxpool.Pool
}

func (e *entrants) ListByRace(ctx context.Context, raceID uuid.UUID) ([]*models.Entrant, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT race_id, racer_id, status, finish_time_ms
		FROM entrants
		WHERE race_id = $1
		ORDER BY racer_id`, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Entrant
	for rows.Next() {
		var entrant models.Entrant
		var status string
		var finishMs *int64
		if err := rows.Scan(&entrant.RaceID, &entrant.RacerID, &status, &finishMs); err != nil {
			return nil, err
		}
		entrant.Status = models.EntrantStatus(status)
		if finishMs != nil {
			finish := time.Duration(*finishMs) * time.Millisecond
			entrant.FinishTime = &finish
		}
		out = append(out, &entrant)
	}
	return out, rows.Err()
}

func (e *entrants) Upsert(ctx context.Context, entrant *models.Entrant) error {
	var finishMs *int64
	if entrant.FinishTime != nil {
		ms := entrant.FinishTime.Milliseconds()
		finishMs = &ms
	}
	_, err := e.pool.Exec(ctx, `
		INSERT INTO entrants (race_id, racer_id, status, finish_time_ms)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (race_id, racer_id)
		DO UPDATE SET status = EXCLUDED.status, finish_time_ms = EXCLUDED.finish_time_ms`,
		entrant.RaceID, entrant.RacerID, string(entrant.Status), finishMs)
	return err
}

func (e *entrants) Delete(ctx context.Context, raceID uuid.UUID, racerIDs []uuid.UUID) error {
	if len(racerIDs) == 0 {
		return nil
	}
	_, err := e.pool.Exec(ctx, `
		DELETE FROM entrants
		WHERE race_id = $1 AND racer_id = ANY($2)`,
		raceID, racerIDs)
	return err
}
