// Package racetime implements a sources.Connector against a racetime-style
// HTTP API exposing /games, /races, and /races/{id} JSON endpoints.
package racetime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/racewatch/racewatch/internal/httpclient"
	"github.com/racewatch/racewatch/internal/models"
	"github.com/racewatch/racewatch/internal/sources"
)

// Connector fetches race data from a racetime-style API.
type Connector struct {
	name    string
	baseURL string
	client  httpclient.Client
}

// New creates a connector for the given base URL. A nil client uses the
// default HTTP client.
func New(name, baseURL string, client httpclient.Client) *Connector {
	if client == nil {
		client = httpclient.NewDefaultClient(0)
	}
	return &Connector{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Name implements sources.Connector.
func (c *Connector) Name() string {
	return c.name
}

type gamePayload struct {
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
}

type entrantPayload struct {
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	FinishTime *string `json:"finish_time"`
}

type racePayload struct {
	Slug     string           `json:"slug"`
	Game     gamePayload      `json:"game"`
	Goal     string           `json:"goal"`
	Status   string           `json:"status"`
	URL      string           `json:"url"`
	Entrants []entrantPayload `json:"entrants"`
}

// ListGames implements sources.Connector.
func (c *Connector) ListGames(ctx context.Context) ([]sources.Game, error) {
	body, err := c.client.Get(ctx, c.baseURL+"/games")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch game catalog: %w", err)
	}

	var payload struct {
		Games []gamePayload `json:"games"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse game catalog: %w", err)
	}

	games := make([]sources.Game, 0, len(payload.Games))
	for _, game := range payload.Games {
		games = append(games, sources.Game{
			Identifier:   game.Slug,
			Name:         game.Name,
			Abbreviation: game.Abbreviation,
		})
	}
	return games, nil
}

// GetActiveRaces implements sources.Connector.
func (c *Connector) GetActiveRaces(ctx context.Context) ([]sources.Race, error) {
	body, err := c.client.Get(ctx, c.baseURL+"/races")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active races: %w", err)
	}

	var payload struct {
		Races []racePayload `json:"races"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse race listing: %w", err)
	}

	races := make([]sources.Race, 0, len(payload.Races))
	for _, race := range payload.Races {
		races = append(races, mapRace(race))
	}
	return races, nil
}

// GetRaceByID implements sources.Connector. A 404 from the upstream means
// the race is unknown and returns nil without an error.
func (c *Connector) GetRaceByID(ctx context.Context, identifier string) (*sources.Race, error) {
	body, err := c.client.Get(ctx, c.baseURL+"/races/"+identifier)
	if err != nil {
		if httpclient.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch race %s: %w", identifier, err)
	}

	var payload racePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse race %s: %w", identifier, err)
	}

	race := mapRace(payload)
	return &race, nil
}

func mapRace(payload racePayload) sources.Race {
	entrants := make([]sources.Entrant, 0, len(payload.Entrants))
	for _, entrant := range payload.Entrants {
		entrants = append(entrants, sources.Entrant{
			Name:       entrant.Name,
			Status:     mapEntrantStatus(entrant.Status),
			FinishTime: parseFinishTime(entrant.FinishTime),
		})
	}

	return sources.Race{
		Identifier:     payload.Slug,
		GameIdentifier: payload.Game.Slug,
		Goal:           payload.Goal,
		Status:         mapRaceStatus(payload.Status),
		URL:            payload.URL,
		Entrants:       entrants,
	}
}

func mapRaceStatus(value string) models.RaceStatus {
	switch value {
	case "open":
		return models.RaceStatusEntryOpen
	case "invitational":
		return models.RaceStatusInvitational
	case "pending":
		return models.RaceStatusEntryClosed
	case "in_progress":
		return models.RaceStatusInProgress
	case "finished":
		return models.RaceStatusFinished
	case "cancelled":
		return models.RaceStatusCancelled
	default:
		return models.RaceStatusUnknown
	}
}

func mapEntrantStatus(value string) models.EntrantStatus {
	switch value {
	case "requested", "joined":
		return models.EntrantStatusEntered
	case "ready":
		return models.EntrantStatusReady
	case "dnf":
		return models.EntrantStatusForfeit
	case "done":
		return models.EntrantStatusDone
	case "dq":
		return models.EntrantStatusDisqualified
	case "invited":
		return models.EntrantStatusInvited
	default:
		return models.EntrantStatusUnknown
	}
}

// parseFinishTime accepts Go duration strings ("1h2m3s") and H:MM:SS.fff
// clock strings, the two formats seen from racetime-style services.
func parseFinishTime(raw *string) *time.Duration {
	if raw == nil || *raw == "" {
		return nil
	}

	if parsed, err := time.ParseDuration(*raw); err == nil {
		return &parsed
	}

	if strings.Count(*raw, ":") != 2 {
		return nil
	}
	var hours, minutes int
	var seconds float64
	if _, err := fmt.Sscanf(*raw, "%d:%d:%f", &hours, &minutes, &seconds); err != nil {
		return nil
	}
	total := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return &total
}
