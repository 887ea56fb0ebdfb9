package racetime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racewatch/racewatch/internal/models"
)

func newTestServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestListGames(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, map[string]string{
		"/games": `{"games": [
			{"slug": "oot", "name": "Ocarina of Time", "abbreviation": "oot"},
			{"slug": "smw", "name": "Super Mario World", "abbreviation": "smw"}
		]}`,
	})
	c := New("racetime", server.URL, nil)

	games, err := c.ListGames(context.Background())
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, "oot", games[0].Identifier)
	assert.Equal(t, "Ocarina of Time", games[0].Name)
}

func TestGetActiveRaces(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, map[string]string{
		"/races": `{"races": [{
			"slug": "oot/banzai-bongo-1234",
			"game": {"slug": "oot", "name": "Ocarina of Time"},
			"goal": "any%",
			"status": "in_progress",
			"url": "https://racetime.gg/oot/banzai-bongo-1234",
			"entrants": [
				{"name": "Player1", "status": "done", "finish_time": "1:32:17.5"},
				{"name": "Player2", "status": "dnf", "finish_time": null}
			]
		}]}`,
	})
	c := New("racetime", server.URL, nil)

	races, err := c.GetActiveRaces(context.Background())
	require.NoError(t, err)
	require.Len(t, races, 1)

	race := races[0]
	assert.Equal(t, "oot/banzai-bongo-1234", race.Identifier)
	assert.Equal(t, "oot", race.GameIdentifier)
	assert.Equal(t, models.RaceStatusInProgress, race.Status)

	require.Len(t, race.Entrants, 2)
	assert.Equal(t, models.EntrantStatusDone, race.Entrants[0].Status)
	require.NotNil(t, race.Entrants[0].FinishTime)
	assert.Equal(t, time.Hour+32*time.Minute+17*time.Second+500*time.Millisecond, *race.Entrants[0].FinishTime)
	assert.Equal(t, models.EntrantStatusForfeit, race.Entrants[1].Status)
	assert.Nil(t, race.Entrants[1].FinishTime)
}

func TestGetRaceByID(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, map[string]string{
		"/races/oot/race-1": `{
			"slug": "oot/race-1",
			"game": {"slug": "oot"},
			"status": "finished",
			"entrants": []
		}`,
	})
	c := New("racetime", server.URL, nil)

	t.Run("known race", func(t *testing.T) {
		t.Parallel()

		race, err := c.GetRaceByID(context.Background(), "oot/race-1")
		require.NoError(t, err)
		require.NotNil(t, race)
		assert.Equal(t, models.RaceStatusFinished, race.Status)
	})

	t.Run("unknown race returns nil without error", func(t *testing.T) {
		t.Parallel()

		race, err := c.GetRaceByID(context.Background(), "oot/never-existed")
		require.NoError(t, err)
		assert.Nil(t, race)
	})
}

func TestMapRaceStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw      string
		expected models.RaceStatus
	}{
		{"open", models.RaceStatusEntryOpen},
		{"invitational", models.RaceStatusInvitational},
		{"pending", models.RaceStatusEntryClosed},
		{"in_progress", models.RaceStatusInProgress},
		{"finished", models.RaceStatusFinished},
		{"cancelled", models.RaceStatusCancelled},
		{"something-new", models.RaceStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, mapRaceStatus(tt.raw))
		})
	}
}

func TestParseFinishTime(t *testing.T) {
	t.Parallel()

	strp := func(s string) *string { return &s }
	durp := func(d time.Duration) *time.Duration { return &d }

	tests := []struct {
		name     string
		raw      *string
		expected *time.Duration
	}{
		{name: "nil", raw: nil, expected: nil},
		{name: "empty", raw: strp(""), expected: nil},
		{name: "go duration", raw: strp("1h2m3s"), expected: durp(time.Hour + 2*time.Minute + 3*time.Second)},
		{name: "clock format", raw: strp("0:58:30"), expected: durp(58*time.Minute + 30*time.Second)},
		{name: "clock format with fraction", raw: strp("1:00:00.250"), expected: durp(time.Hour + 250*time.Millisecond)},
		{name: "garbage", raw: strp("soon"), expected: nil},
		{name: "wrong number of colons", raw: strp("58:30"), expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := parseFinishTime(tt.raw)
			if tt.expected == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.expected, *got)
		})
	}
}
