// Copyright 2024 The Matrix.org Foundation C.I.C.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"encoding/json"
	"errors"
)

// RuleEventType is the state event type moderation rules are stored as.
// The state key is the rule's entity pattern.
const RuleEventType = "org.matrix.warden.rule"

// ErrNotFound is returned by ProtocolAPI implementations when the requested
// piece of room state does not exist.
var ErrNotFound = errors.New("not found")

// StateEvent is a single piece of room state as returned by the homeserver.
type StateEvent struct {
	Type     string          `json:"type"`
	StateKey string          `json:"state_key"`
	Sender   string          `json:"sender"`
	EventID  string          `json:"event_id"`
	Content  json.RawMessage `json:"content"`
}

// ProtocolAPI is everything the moderation engine needs from a Matrix
// client. Implementations must be safe for concurrent use.
type ProtocolAPI interface {
	// UserID returns the bot's own user ID.
	UserID() string
	// RoomState returns all state events of the given type in the room.
	RoomState(ctx context.Context, roomID, eventType string) ([]StateEvent, error)
	// SendStateEvent writes a single piece of room state.
	SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content interface{}) error
	// SendNotice sends a notice to the room, optionally as a reply to inReplyTo.
	SendNotice(ctx context.Context, roomID, body, formattedBody, inReplyTo string) error
	Ban(ctx context.Context, roomID, userID, reason string) error
	Kick(ctx context.Context, roomID, userID, reason string) error
	// PowerLevels returns the raw content of the room's m.room.power_levels
	// event, or ErrNotFound if the room has none.
	PowerLevels(ctx context.Context, roomID string) ([]byte, error)
	SetPowerLevels(ctx context.Context, roomID string, content []byte) error
	// Membership returns the membership of the user in the room, e.g. "join"
	// or "ban", or ErrNotFound if the user has never been in the room.
	Membership(ctx context.Context, roomID, userID string) (string, error)
	// JoinedMembers returns the user IDs currently joined to the room.
	JoinedMembers(ctx context.Context, roomID string) ([]string, error)
	// JoinRoom joins a room, which also accepts a pending invite to it.
	JoinRoom(ctx context.Context, roomID string) error
}
