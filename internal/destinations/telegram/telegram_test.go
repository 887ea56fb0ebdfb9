package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racewatch/racewatch/internal/models"
)

func TestMessageRefRoundTrip(t *testing.T) {
	t.Parallel()

	ref, err := EncodeRef(-1001234567890, 42)
	require.NoError(t, err)

	chatID, messageID, err := DecodeRef(ref)
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234567890), chatID)
	assert.Equal(t, 42, messageID)
}

func TestDecodeRefInvalid(t *testing.T) {
	t.Parallel()

	_, _, err := DecodeRef("not json")
	assert.Error(t, err)
}

func TestRenderRace(t *testing.T) {
	t.Parallel()

	race := &models.Race{
		Goal:   "any%",
		Status: models.RaceStatusInProgress,
		URL:    "https://racetime.gg/oot/race-1",
	}
	entrants := []*models.Entrant{{}, {}}

	body := renderRace(race, entrants)
	assert.Contains(t, body, "any%")
	assert.Contains(t, body, "in_progress")
	assert.Contains(t, body, "Entrants: 2")
	assert.Contains(t, body, "https://racetime.gg/oot/race-1")

	// The URL line is omitted when there is none to share.
	race.URL = ""
	assert.NotContains(t, renderRace(race, nil), "https://")
}
