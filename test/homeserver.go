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

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/matrix-org/gomatrixserverlib/spec"

	"github.com/matrix-org/warden/moderation/api"
)

// Call records a single mutating call made against a Homeserver.
type Call struct {
	Method  string
	RoomID  string
	UserID  string
	Reason  string
	Content string
}

// Homeserver is an in-memory api.ProtocolAPI. Room state is kept per room,
// per event type, per state key. Mutating calls are recorded in Calls.
type Homeserver struct {
	mu      sync.Mutex
	userID  string
	state   map[string]map[string]map[string]json.RawMessage
	calls   []Call
	eventID int

	// Failures makes calls fail. The key is the method name followed by the
	// room ID, e.g. "Ban !room:test", or just the method name for all rooms.
	Failures map[string]error
	// JoinFailures is the number of times JoinRoom fails before it succeeds.
	JoinFailures int
}

func NewHomeserver(botUserID string) *Homeserver {
	return &Homeserver{
		userID:   botUserID,
		state:    make(map[string]map[string]map[string]json.RawMessage),
		Failures: make(map[string]error),
	}
}

// Fail makes every call to method in roomID fail with err. An empty roomID
// fails the method in every room.
func (h *Homeserver) Fail(method, roomID string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Failures[failureKey(method, roomID)] = err
}

func failureKey(method, roomID string) string {
	if roomID == "" {
		return method
	}
	return method + " " + roomID
}

func (h *Homeserver) failure(method, roomID string) error {
	if err, ok := h.Failures[failureKey(method, roomID)]; ok {
		return err
	}
	return h.Failures[method]
}

// CreateRoom creates an empty room. If powerLevels is non-nil it is stored as
// the room's m.room.power_levels content.
func (h *Homeserver) CreateRoom(roomID string, powerLevels interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state[roomID] = make(map[string]map[string]json.RawMessage)
	if powerLevels != nil {
		h.setState(roomID, spec.MRoomPowerLevels, "", mustJSON(powerLevels))
	}
}

// SetMembership sets a user's membership in a room without recording a call.
func (h *Homeserver) SetMembership(roomID, userID, membership string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setState(roomID, spec.MRoomMember, userID, mustJSON(map[string]string{"membership": membership}))
}

// SetState stores a raw piece of state without recording a call.
func (h *Homeserver) SetState(roomID, eventType, stateKey string, content interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setState(roomID, eventType, stateKey, mustJSON(content))
}

// State returns a piece of state, or nil if it does not exist.
func (h *Homeserver) State(roomID, eventType, stateKey string) json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state[roomID][eventType][stateKey]
}

// Calls returns the mutating calls made so far.
func (h *Homeserver) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// CallsTo returns the mutating calls made to the given method.
func (h *Homeserver) CallsTo(method string) []Call {
	var calls []Call
	for _, c := range h.Calls() {
		if c.Method == method {
			calls = append(calls, c)
		}
	}
	return calls
}

func (h *Homeserver) setState(roomID, eventType, stateKey string, content json.RawMessage) {
	room, ok := h.state[roomID]
	if !ok {
		room = make(map[string]map[string]json.RawMessage)
		h.state[roomID] = room
	}
	if room[eventType] == nil {
		room[eventType] = make(map[string]json.RawMessage)
	}
	room[eventType][stateKey] = content
}

func (h *Homeserver) record(c Call) {
	h.calls = append(h.calls, c)
}

func (h *Homeserver) UserID() string {
	return h.userID
}

func (h *Homeserver) RoomState(ctx context.Context, roomID, eventType string) ([]api.StateEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failure("RoomState", roomID); err != nil {
		return nil, err
	}
	room, ok := h.state[roomID]
	if !ok {
		return nil, fmt.Errorf("not joined to %s", roomID)
	}
	keys := make([]string, 0, len(room[eventType]))
	for k := range room[eventType] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	events := make([]api.StateEvent, 0, len(keys))
	for _, k := range keys {
		h.eventID++
		events = append(events, api.StateEvent{
			Type:     eventType,
			StateKey: k,
			EventID:  fmt.Sprintf("$state%d", h.eventID),
			Content:  room[eventType][k],
		})
	}
	return events, nil
}

func (h *Homeserver) SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failure("SendStateEvent", roomID); err != nil {
		return err
	}
	if _, ok := h.state[roomID]; !ok {
		return fmt.Errorf("not joined to %s", roomID)
	}
	raw := mustJSON(content)
	h.setState(roomID, eventType, stateKey, raw)
	h.record(Call{Method: "SendStateEvent", RoomID: roomID, UserID: stateKey, Content: string(raw)})
	return nil
}

func (h *Homeserver) SendNotice(ctx context.Context, roomID, body, formattedBody, inReplyTo string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failure("SendNotice", roomID); err != nil {
		return err
	}
	h.record(Call{Method: "SendNotice", RoomID: roomID, Content: body})
	return nil
}

func (h *Homeserver) Ban(ctx context.Context, roomID, userID, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failure("Ban", roomID); err != nil {
		return err
	}
	h.setState(roomID, spec.MRoomMember, userID, mustJSON(map[string]string{"membership": spec.Ban, "reason": reason}))
	h.record(Call{Method: "Ban", RoomID: roomID, UserID: userID, Reason: reason})
	return nil
}

func (h *Homeserver) Kick(ctx context.Context, roomID, userID, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failure("Kick", roomID); err != nil {
		return err
	}
	h.setState(roomID, spec.MRoomMember, userID, mustJSON(map[string]string{"membership": spec.Leave, "reason": reason}))
	h.record(Call{Method: "Kick", RoomID: roomID, UserID: userID, Reason: reason})
	return nil
}

func (h *Homeserver) PowerLevels(ctx context.Context, roomID string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failure("PowerLevels", roomID); err != nil {
		return nil, err
	}
	content, ok := h.state[roomID][spec.MRoomPowerLevels][""]
	if !ok {
		return nil, api.ErrNotFound
	}
	return append([]byte(nil), content...), nil
}

func (h *Homeserver) SetPowerLevels(ctx context.Context, roomID string, content []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failure("SetPowerLevels", roomID); err != nil {
		return err
	}
	if !json.Valid(content) {
		return fmt.Errorf("invalid power levels JSON")
	}
	h.setState(roomID, spec.MRoomPowerLevels, "", append(json.RawMessage(nil), content...))
	h.record(Call{Method: "SetPowerLevels", RoomID: roomID, Content: string(content)})
	return nil
}

func (h *Homeserver) Membership(ctx context.Context, roomID, userID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failure("Membership", roomID); err != nil {
		return "", err
	}
	content, ok := h.state[roomID][spec.MRoomMember][userID]
	if !ok {
		return "", api.ErrNotFound
	}
	var member struct {
		Membership string `json:"membership"`
	}
	if err := json.Unmarshal(content, &member); err != nil {
		return "", err
	}
	return member.Membership, nil
}

func (h *Homeserver) JoinedMembers(ctx context.Context, roomID string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failure("JoinedMembers", roomID); err != nil {
		return nil, err
	}
	var joined []string
	for userID, content := range h.state[roomID][spec.MRoomMember] {
		var member struct {
			Membership string `json:"membership"`
		}
		if err := json.Unmarshal(content, &member); err == nil && member.Membership == spec.Join {
			joined = append(joined, userID)
		}
	}
	sort.Strings(joined)
	return joined, nil
}

func (h *Homeserver) JoinRoom(ctx context.Context, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(Call{Method: "JoinRoom", RoomID: roomID})
	if h.JoinFailures > 0 {
		h.JoinFailures--
		return fmt.Errorf("join of %s failed", roomID)
	}
	if err := h.failure("JoinRoom", roomID); err != nil {
		return err
	}
	h.setState(roomID, spec.MRoomMember, h.userID, mustJSON(map[string]string{"membership": spec.Join}))
	return nil
}

func mustJSON(v interface{}) json.RawMessage {
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	if raw, ok := v.([]byte); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

var _ api.ProtocolAPI = (*Homeserver)(nil)
