// Package destinations defines the contract a destination connector
// implements to post and maintain announcement messages on a chat platform.
package destinations

import (
	"context"

	"github.com/racewatch/racewatch/internal/models"
)

// MessageRef is an opaque, serialized reference to a previously posted
// message. The reconcilers store it verbatim and hand it back on update;
// only the connector that produced it can interpret it.
type MessageRef string

// Connector posts race announcements to one chat platform.
type Connector interface {
	// Name returns the connector tag.
	Name() string

	// FindChannel resolves a channel by platform identifier. It returns
	// nil with no error when the channel does not exist.
	FindChannel(ctx context.Context, identifier string) (*models.Channel, error)

	// BotHasRequiredPermissions reports whether the bot can post and edit
	// messages in the channel.
	BotHasRequiredPermissions(ctx context.Context, channel *models.Channel) bool

	// PostRaceMessage posts a new announcement message for the race and
	// returns a reference to it.
	PostRaceMessage(ctx context.Context, channel *models.Channel, race *models.Race, entrants []*models.Entrant) (MessageRef, error)

	// UpdateRaceMessage edits a previously posted message in place and
	// returns the (possibly unchanged) reference.
	UpdateRaceMessage(ctx context.Context, previous MessageRef, race *models.Race, entrants []*models.Entrant) (MessageRef, error)
}
