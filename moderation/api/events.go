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

// EventKind tags which payload an InboundEvent carries.
type EventKind string

const (
	KindMembership EventKind = "membership"
	KindMessage    EventKind = "message"
	KindInvite     EventKind = "invite"
)

// InboundEvent is an event received from the homeserver, reduced to the
// fields the moderation engine reacts to. Exactly one of the payload
// pointers is set, matching Kind.
type InboundEvent struct {
	Kind    EventKind `json:"kind"`
	RoomID  string    `json:"room_id"`
	EventID string    `json:"event_id"`
	Sender  string    `json:"sender"`

	Membership *MembershipEvent `json:"membership,omitempty"`
	Message    *MessageEvent    `json:"message,omitempty"`
	Invite     *InviteEvent     `json:"invite,omitempty"`
}

// MembershipEvent is an m.room.member change.
type MembershipEvent struct {
	// The user whose membership changed.
	UserID string `json:"user_id"`
	// The new membership, e.g. "join".
	Membership string `json:"membership"`
}

// MessageEvent is an m.room.message with a text body.
type MessageEvent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// InviteEvent is an invite of the bot itself to a room.
type InviteEvent struct {
	// The invited user, always the bot.
	Invitee string `json:"invitee"`
}

// NewMembershipEvent builds a membership InboundEvent.
func NewMembershipEvent(roomID, eventID, sender, userID, membership string) InboundEvent {
	return InboundEvent{
		Kind:    KindMembership,
		RoomID:  roomID,
		EventID: eventID,
		Sender:  sender,
		Membership: &MembershipEvent{
			UserID:     userID,
			Membership: membership,
		},
	}
}

// NewMessageEvent builds a message InboundEvent.
func NewMessageEvent(roomID, eventID, sender, msgType, body string) InboundEvent {
	return InboundEvent{
		Kind:    KindMessage,
		RoomID:  roomID,
		EventID: eventID,
		Sender:  sender,
		Message: &MessageEvent{
			MsgType: msgType,
			Body:    body,
		},
	}
}

// NewInviteEvent builds an invite InboundEvent.
func NewInviteEvent(roomID, eventID, sender, invitee string) InboundEvent {
	return InboundEvent{
		Kind:    KindInvite,
		RoomID:  roomID,
		EventID: eventID,
		Sender:  sender,
		Invite: &InviteEvent{
			Invitee: invitee,
		},
	}
}

// Valid reports whether the payload matches the kind.
func (e *InboundEvent) Valid() bool {
	switch e.Kind {
	case KindMembership:
		return e.Membership != nil
	case KindMessage:
		return e.Message != nil
	case KindInvite:
		return e.Invite != nil
	}
	return false
}
