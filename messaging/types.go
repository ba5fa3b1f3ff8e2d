// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/palaver-im/palaver/lib/ref"
)

// serverVersionsResponse is the wire form of GET /_matrix/client/versions.
type serverVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// Versions describes the spec versions and unstable features a
// homeserver advertises. It is an immutable snapshot computed when the
// response is decoded; accessors never re-derive anything from wire
// data.
type Versions struct {
	all      []string
	latest   string
	features FeatureSet
}

func newVersions(wire serverVersionsResponse) *Versions {
	all := slices.Clone(wire.Versions)
	latest := ""
	if len(all) > 0 {
		latest = all[len(all)-1]
	}
	return &Versions{
		all:      all,
		latest:   latest,
		features: FeatureSet{enabled: maps.Clone(wire.UnstableFeatures)},
	}
}

// All returns every advertised spec version, in the server's order
// (oldest first by convention).
func (v *Versions) All() []string { return slices.Clone(v.all) }

// Latest returns the newest advertised spec version, or "" if the
// server advertised none.
func (v *Versions) Latest() string { return v.latest }

// Features returns the server's unstable feature flags.
func (v *Versions) Features() FeatureSet { return v.features }

// FeatureSet holds a server's advertised unstable features.
type FeatureSet struct {
	enabled map[string]bool
}

// Has reports whether the server advertises the feature as enabled.
// Absent features report false.
func (f FeatureSet) Has(feature string) bool { return f.enabled[feature] }

// whoAmIResponse is the wire form of GET /_matrix/client/v3/account/whoami.
type whoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// SyncPayload is one complete sync response: the room, presence, and
// account-data deltas since the previous payload, plus the next_batch
// position. Over the streaming transport each server-sent event
// carries exactly one SyncPayload.
type SyncPayload struct {
	NextBatch   string          `json:"next_batch"`
	Presence    PresenceSection `json:"presence,omitzero"`
	AccountData EventsSection   `json:"account_data,omitzero"`
	Rooms       RoomsSection    `json:"rooms,omitzero"`
}

// PresenceSection carries presence events for users the session shares
// a room with.
type PresenceSection struct {
	Events []PresenceEvent `json:"events,omitempty"`
}

// PresenceEvent is a single presence update.
type PresenceEvent struct {
	Type    string               `json:"type"`
	Sender  ref.UserID           `json:"sender"`
	Content PresenceEventContent `json:"content"`
}

// PresenceEventContent is the body of a presence event.
type PresenceEventContent struct {
	Presence        string `json:"presence"`
	LastActiveAgo   int64  `json:"last_active_ago,omitempty"`
	CurrentlyActive bool   `json:"currently_active,omitempty"`
	StatusMsg       string `json:"status_msg,omitempty"`
}

// EventsSection is a bare list of events, used for account data and
// ephemeral sections.
type EventsSection struct {
	Events []Event `json:"events,omitempty"`
}

// RoomsSection groups the sync delta by the session's relationship to
// each room. Keys are validated room IDs; a payload with a malformed
// room ID fails to decode rather than leaking bad identifiers into
// the handler.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom is the delta for a room the user is joined to.
type JoinedRoom struct {
	State     StateSection    `json:"state,omitzero"`
	Timeline  TimelineSection `json:"timeline,omitzero"`
	Ephemeral EventsSection   `json:"ephemeral,omitzero"`
}

// InvitedRoom is the delta for a room the user has a pending invite
// to. Invite state is the stripped-down subset the server shares with
// non-members.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state,omitzero"`
}

// LeftRoom is the final delta for a room the user has left.
type LeftRoom struct {
	State    StateSection    `json:"state,omitzero"`
	Timeline TimelineSection `json:"timeline,omitzero"`
}

// StateSection holds state events (membership, room name, topic, ...).
type StateSection struct {
	Events []Event `json:"events,omitempty"`
}

// TimelineSection holds message and state events in timeline order.
type TimelineSection struct {
	Events []Event `json:"events,omitempty"`
	// Limited indicates the server truncated the timeline; PrevBatch
	// can be used with the messages API to back-paginate the gap.
	Limited   bool   `json:"limited,omitempty"`
	PrevBatch string `json:"prev_batch,omitempty"`
}

// Event is a single Matrix room event as delivered in a sync payload.
// Content stays as raw JSON — event types are open-ended and callers
// decode the types they care about.
type Event struct {
	EventID        ref.EventID     `json:"event_id"`
	Type           ref.EventType   `json:"type"`
	Sender         ref.UserID      `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
	// StateKey is non-nil for state events ("" is a meaningful state
	// key, so absence must be distinguishable).
	StateKey *string        `json:"state_key,omitempty"`
	Unsigned *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned carries server-added metadata about an event.
type EventUnsigned struct {
	Age int64 `json:"age,omitempty"`
	// TransactionID echoes the client-chosen ID for events this
	// session sent itself.
	TransactionID string `json:"transaction_id,omitempty"`
}

// decodeSyncPayload decodes one server-sent event's data into a
// SyncPayload. A decode failure is an UnexpectedResponseError: the
// server spoke, but not the protocol.
func decodeSyncPayload(data string) (*SyncPayload, error) {
	var payload SyncPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, &UnexpectedResponseError{
			Message: "malformed streaming sync payload",
			Err:     err,
		}
	}
	return &payload, nil
}
