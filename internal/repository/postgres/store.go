package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/racewatch/racewatch/internal/models"
	"github.com/racewatch/racewatch/internal/repository"
)

// NewStore returns a repository.Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *repository.Store {
	return &repository.Store{
		Games:         &games{pool: pool},
		Racers:        &racers{pool: pool},
		Races:         &races{pool: pool},
		Entrants:      &entrants{pool: pool},
		Channels:      &channels{pool: pool},
		Trackers:      &trackers{pool: pool},
		Announcements: &announcements{pool: pool},
	}
}

type games struct {
	pool *pgxpool.Pool
}

func (g *games) Upsert(ctx context.Context, game *models.Game) (*models.Game, error) {
	row := g.pool.QueryRow(ctx, `
		INSERT INTO games (id, connector, identifier, name, abbreviation)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (connector, identifier)
		DO UPDATE SET name = EXCLUDED.name, abbreviation = EXCLUDED.abbreviation
		RETURNING id, connector, identifier, name, abbreviation`,
		newID(game.ID), game.Connector, game.Identifier, game.Name, game.Abbreviation)
	return scanGame(row)
}

func (g *games) GetByConnectorID(ctx context.Context, connector, identifier string) (*models.Game, error) {
	row := g.pool.QueryRow(ctx, `
		SELECT id, connector, identifier, name, abbreviation
		FROM games WHERE connector = $1 AND identifier = $2`,
		connector, identifier)
	return scanGame(row)
}

func (g *games) GetByID(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	row := g.pool.QueryRow(ctx, `
		SELECT id, connector, identifier, name, abbreviation
		FROM games WHERE id = $1`, id)
	return scanGame(row)
}

func scanGame(row pgx.Row) (*models.Game, error) {
	var game models.Game
	err := row.Scan(&game.ID, &game.Connector, &game.Identifier, &game.Name, &game.Abbreviation)
	if err != nil {
		return nil, mapError(err)
	}
	return &game, nil
}

type racers struct {
	pool *pgxpool.Pool
}

func (r *racers) Upsert(ctx context.Context, racer *models.Racer) (*models.Racer, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO racers (id, connector, identifier, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (connector, identifier)
		DO UPDATE SET name = EXCLUDED.name
		RETURNING id, connector, identifier, name`,
		newID(racer.ID), racer.Connector, racer.Identifier, racer.Name)
	return scanRacer(row)
}

func (r *racers) GetByConnectorID(ctx context.Context, connector, identifier string) (*models.Racer, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, connector, identifier, name
		FROM racers WHERE connector = $1 AND identifier = $2`,
		connector, identifier)
	return scanRacer(row)
}

func scanRacer(row pgx.Row) (*models.Racer, error) {
	var racer models.Racer
	if err := row.Scan(&racer.ID, &racer.Connector, &racer.Identifier, &racer.Name); err != nil {
		return nil, mapError(err)
	}
	return &racer, nil
}

type channels struct {
	pool *pgxpool.Pool
}

func (c *channels) GetByID(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT id, connector, identifier, server_identifier, name, active, permissions_ok
		FROM channels WHERE id = $1`, id)
	return scanChannel(row)
}

func (c *channels) GetByConnectorID(ctx context.Context, connector, identifier string) (*models.Channel, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT id, connector, identifier, server_identifier, name, active, permissions_ok
		FROM channels WHERE connector = $1 AND identifier = $2`,
		connector, identifier)
	return scanChannel(row)
}

func (c *channels) Save(ctx context.Context, channel *models.Channel) (*models.Channel, error) {
	row := c.pool.QueryRow(ctx, `
		INSERT INTO channels (id, connector, identifier, server_identifier, name, active, permissions_ok)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (connector, identifier)
		DO UPDATE SET server_identifier = EXCLUDED.server_identifier,
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			permissions_ok = EXCLUDED.permissions_ok
		RETURNING id, connector, identifier, server_identifier, name, active, permissions_ok`,
		newID(channel.ID), channel.Connector, channel.Identifier, channel.ServerIdentifier,
		channel.Name, channel.Active, channel.PermissionsOK)
	return scanChannel(row)
}

func scanChannel(row pgx.Row) (*models.Channel, error) {
	var channel models.Channel
	err := row.Scan(&channel.ID, &channel.Connector, &channel.Identifier,
		&channel.ServerIdentifier, &channel.Name, &channel.Active, &channel.PermissionsOK)
	if err != nil {
		return nil, mapError(err)
	}
	return &channel, nil
}

// newID keeps caller-provided IDs but never sends a nil UUID to the
// database.
func newID(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}

// nullableTime lets zero times fall through to column defaults.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var errNoRowsUpdated = errors.New("no rows updated")

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return repository.ErrDuplicate
	}
	return err
}
