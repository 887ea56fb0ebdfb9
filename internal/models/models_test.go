package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRaceStatusIsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, RaceStatusFinished.IsTerminal())
	assert.True(t, RaceStatusOver.IsTerminal())

	assert.False(t, RaceStatusEntryOpen.IsTerminal())
	assert.False(t, RaceStatusInProgress.IsTerminal())

	// Cancelled races stay recoverable: an upstream can revive or
	// restate them within the lookback window.
	assert.False(t, RaceStatusCancelled.IsTerminal())
}

func TestRaceStatusIsAnnounceable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   RaceStatus
		expected bool
	}{
		{RaceStatusEntryOpen, true},
		{RaceStatusEntryClosed, true},
		{RaceStatusInProgress, true},
		{RaceStatusInvitational, true},
		{RaceStatusFinished, false},
		{RaceStatusOver, false},
		{RaceStatusCancelled, false},
		{RaceStatusUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.status.IsAnnounceable())
		})
	}
}
