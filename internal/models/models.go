// Package models defines the persistent entities shared by the reconcilers
// and the repository layer.
package models

import (
	"time"

	"github.com/google/uuid"
)

// RaceStatus is the lifecycle state of a race as reported by a source
// connector.
type RaceStatus string

// Race statuses. Unrecognized upstream values map to RaceStatusUnknown.
const (
	RaceStatusUnknown      RaceStatus = "unknown"
	RaceStatusEntryOpen    RaceStatus = "entry_open"
	RaceStatusEntryClosed  RaceStatus = "entry_closed"
	RaceStatusInProgress   RaceStatus = "in_progress"
	RaceStatusFinished     RaceStatus = "finished"
	RaceStatusOver         RaceStatus = "over"
	RaceStatusCancelled    RaceStatus = "cancelled"
	RaceStatusInvitational RaceStatus = "invitational"
)

// IsTerminal reports whether the race has reached a state from which the
// source will never report further progress.
func (s RaceStatus) IsTerminal() bool {
	return s == RaceStatusFinished || s == RaceStatusOver
}

// IsAnnounceable reports whether a race in this status is still a candidate
// for a freshly created announcement.
func (s RaceStatus) IsAnnounceable() bool {
	switch s {
	case RaceStatusEntryOpen, RaceStatusEntryClosed, RaceStatusInProgress, RaceStatusInvitational:
		return true
	default:
		return false
	}
}

// EntrantStatus is the per-race state of a single participant.
type EntrantStatus string

// Entrant statuses.
const (
	EntrantStatusUnknown      EntrantStatus = "unknown"
	EntrantStatusEntered      EntrantStatus = "entered"
	EntrantStatusReady        EntrantStatus = "ready"
	EntrantStatusForfeit      EntrantStatus = "forfeit"
	EntrantStatusDone         EntrantStatus = "done"
	EntrantStatusDisqualified EntrantStatus = "disqualified"
	EntrantStatusInvited      EntrantStatus = "invited"
)

// Game is a game category known to a source connector. Games are created on
// first sighting and never deleted.
type Game struct {
	ID           uuid.UUID
	Connector    string
	Identifier   string
	Name         string
	Abbreviation string
}

// Racer is a participant identity scoped to a source connector, independent
// of any single race. The identifier is the lower-cased display name.
type Racer struct {
	ID         uuid.UUID
	Connector  string
	Identifier string
	Name       string
}

// Race is one tracked race. ChangeCounter only ever increases; it is the
// single signal the announcement reconciler reads to detect staleness.
type Race struct {
	ID            uuid.UUID
	Connector     string
	Identifier    string
	GameID        uuid.UUID
	Goal          string
	Status        RaceStatus
	URL           string
	ChangeCounter int64
	CreatedAt     time.Time
	LastSyncAt    time.Time
}

// Entrant joins a Racer to a Race. The entrant set of a race mirrors the
// upstream entrant list exactly after every sync pass.
type Entrant struct {
	RaceID     uuid.UUID
	RacerID    uuid.UUID
	Status     EntrantStatus
	FinishTime *time.Duration
}

// Channel is a chat channel on a destination connector.
type Channel struct {
	ID               uuid.UUID
	Connector        string
	Identifier       string
	ServerIdentifier string
	Name             string
	Active           bool
	PermissionsOK    bool
}

// Tracker subscribes one channel to announcements for one game. At most one
// active tracker exists per (channel, game).
type Tracker struct {
	ID        uuid.UUID
	ChannelID uuid.UUID
	GameID    uuid.UUID
	Active    bool
	CreatedAt time.Time
}

// Announcement records the message posted for a (tracker, race) pair.
// ChangeSnapshot holds the race change counter as of the last successful
// post or edit; the announcement is in sync iff it equals the race's current
// counter. Announcements are never deleted, only abandoned once
// FailedUpdateAttempts exceeds the configured bound.
type Announcement struct {
	ID                   uuid.UUID
	TrackerID            uuid.UUID
	RaceID               uuid.UUID
	ChangeSnapshot       int64
	FailedUpdateAttempts int
	MessageRef           string
	LastUpdatedAt        time.Time
}
