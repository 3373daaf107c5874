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

package enforce

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/matrix-org/warden/moderation/api"
	"github.com/matrix-org/warden/test"
)

const roomID = "!protected:test"

type memoryHistory struct {
	mu      sync.Mutex
	records []*api.EnforcementRecord
}

func (h *memoryHistory) RecordAction(ctx context.Context, record *api.EnforcementRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record)
	return nil
}

func defaultPowerLevels() map[string]interface{} {
	return map[string]interface{}{
		"users":          map[string]interface{}{test.BotUserID: 100},
		"users_default":  0,
		"events":         map[string]interface{}{"m.room.name": 50},
		"events_default": 0,
	}
}

func TestBan(t *testing.T) {
	ctx := context.Background()
	hs := test.NewHomeserver(test.BotUserID)
	hs.CreateRoom(roomID, defaultPowerLevels())
	spammer := test.NewIdentity(t, "@spam:evil.tld")
	hs.SetMembership(roomID, spammer.UserID, spec.Join)
	history := &memoryHistory{}

	applier := NewApplier(hs, history, nil)
	err := applier.Enforce(ctx, roomID, spammer, api.Rule{Entity: "*.tld", Action: api.ActionBan, Reason: "spam"}, api.TriggerMembership)
	require.NoError(t, err)

	bans := hs.CallsTo("Ban")
	require.Len(t, bans, 1)
	assert.Equal(t, test.Call{Method: "Ban", RoomID: roomID, UserID: spammer.UserID, Reason: "spam"}, bans[0])

	require.Len(t, history.records, 1)
	rec := history.records[0]
	assert.Equal(t, roomID, rec.RoomID)
	assert.Equal(t, spammer.UserID, rec.UserID)
	assert.Equal(t, api.ActionBan, rec.Action)
	assert.Equal(t, "*.tld", rec.Entity)
	assert.Equal(t, api.TriggerMembership, rec.Trigger)
	assert.NotEmpty(t, rec.ID)
}

func TestBanAlreadyBanned(t *testing.T) {
	hs := test.NewHomeserver(test.BotUserID)
	hs.CreateRoom(roomID, defaultPowerLevels())
	spammer := test.NewIdentity(t, "@spam:evil.tld")
	hs.SetMembership(roomID, spammer.UserID, spec.Ban)
	hs.Fail("Ban", roomID, errors.New("M_FORBIDDEN"))
	history := &memoryHistory{}

	err := NewApplier(hs, history, nil).Enforce(context.Background(), roomID, spammer, api.Rule{Action: api.ActionBan}, api.TriggerMembership)
	assert.ErrorIs(t, err, ErrAlreadyApplied)
	assert.Empty(t, history.records)
}

func TestBanFailure(t *testing.T) {
	hs := test.NewHomeserver(test.BotUserID)
	hs.CreateRoom(roomID, defaultPowerLevels())
	spammer := test.NewIdentity(t, "@spam:evil.tld")
	hs.SetMembership(roomID, spammer.UserID, spec.Join)
	forbidden := errors.New("M_FORBIDDEN")
	hs.Fail("Ban", roomID, forbidden)

	err := NewApplier(hs, nil, nil).Apply(context.Background(), roomID, spammer, api.ActionBan, "")
	var eerr *EnforcementError
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, api.ActionBan, eerr.Action)
	assert.ErrorIs(t, err, forbidden)
}

func TestKick(t *testing.T) {
	ctx := context.Background()
	hs := test.NewHomeserver(test.BotUserID)
	hs.CreateRoom(roomID, defaultPowerLevels())
	spammer := test.NewIdentity(t, "@spam:evil.tld")
	hs.SetMembership(roomID, spammer.UserID, spec.Join)
	applier := NewApplier(hs, nil, nil)

	require.NoError(t, applier.Apply(ctx, roomID, spammer, api.ActionKick, "bye"))
	require.Len(t, hs.CallsTo("Kick"), 1)

	hs.Fail("Kick", roomID, errors.New("not in room"))
	assert.ErrorIs(t, applier.Apply(ctx, roomID, spammer, api.ActionKick, "bye"), ErrAlreadyApplied)

	hs.SetMembership(roomID, spammer.UserID, spec.Join)
	var eerr *EnforcementError
	assert.True(t, errors.As(applier.Apply(ctx, roomID, spammer, api.ActionKick, "bye"), &eerr))
}

func TestMute(t *testing.T) {
	tests := []struct {
		name        string
		powerLevels map[string]interface{}
		wantLevel   int64
	}{
		{
			name:        "events_default",
			powerLevels: defaultPowerLevels(),
			wantLevel:   -1,
		},
		{
			name: "message level",
			powerLevels: map[string]interface{}{
				"users":          map[string]interface{}{},
				"users_default":  20,
				"events":         map[string]interface{}{"m.room.message": 10},
				"events_default": 50,
			},
			wantLevel: -1,
		},
		{
			name: "negative required level",
			powerLevels: map[string]interface{}{
				"users":          map[string]interface{}{},
				"users_default":  -5,
				"events_default": -5,
			},
			wantLevel: -6,
		},
		{
			name:        "empty power levels",
			powerLevels: map[string]interface{}{},
			wantLevel:   -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := test.NewHomeserver(test.BotUserID)
			hs.CreateRoom(roomID, tt.powerLevels)
			spammer := test.NewIdentity(t, "@spam:evil.tld")

			err := NewApplier(hs, nil, nil).Apply(context.Background(), roomID, spammer, api.ActionMute, "")
			require.NoError(t, err)

			content := hs.State(roomID, spec.MRoomPowerLevels, "")
			assert.Equal(t, tt.wantLevel, UserLevel(content, spammer.UserID))
			assert.Less(t, UserLevel(content, spammer.UserID), RequiredToSpeak(content))
		})
	}
}

func TestMutePreservesOtherPowerLevels(t *testing.T) {
	hs := test.NewHomeserver(test.BotUserID)
	hs.CreateRoom(roomID, defaultPowerLevels())
	spammer := test.NewIdentity(t, "@spam:evil.tld")

	require.NoError(t, NewApplier(hs, nil, nil).Apply(context.Background(), roomID, spammer, api.ActionMute, ""))

	content := hs.State(roomID, spec.MRoomPowerLevels, "")
	assert.Equal(t, int64(100), UserLevel(content, test.BotUserID))
	assert.Equal(t, int64(50), gjson.GetBytes(content, "events."+gjson.Escape("m.room.name")).Int())
	assert.Len(t, gjson.GetBytes(content, "users").Map(), 2)
}

func TestMuteAlreadyMuted(t *testing.T) {
	hs := test.NewHomeserver(test.BotUserID)
	spammer := test.NewIdentity(t, "@spam:evil.tld")
	pl := defaultPowerLevels()
	pl["users"].(map[string]interface{})[spammer.UserID] = -1
	hs.CreateRoom(roomID, pl)

	err := NewApplier(hs, nil, nil).Apply(context.Background(), roomID, spammer, api.ActionMute, "")
	assert.ErrorIs(t, err, ErrAlreadyApplied)
	assert.Empty(t, hs.CallsTo("SetPowerLevels"))
}

func TestMuteMissingPowerLevels(t *testing.T) {
	hs := test.NewHomeserver(test.BotUserID)
	hs.CreateRoom(roomID, nil)
	var degraded []string

	applier := NewApplier(hs, nil, func(reason string) { degraded = append(degraded, reason) })
	err := applier.Apply(context.Background(), roomID, test.NewIdentity(t, "@spam:evil.tld"), api.ActionMute, "")
	var merr *MissingPowerLevelsError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, roomID, merr.RoomID)
	assert.Len(t, degraded, 1)
}

func TestMuteWriteFailure(t *testing.T) {
	hs := test.NewHomeserver(test.BotUserID)
	hs.CreateRoom(roomID, defaultPowerLevels())
	hs.Fail("SetPowerLevels", roomID, errors.New("M_FORBIDDEN"))

	err := NewApplier(hs, nil, nil).Apply(context.Background(), roomID, test.NewIdentity(t, "@spam:evil.tld"), api.ActionMute, "")
	var eerr *EnforcementError
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, api.ActionMute, eerr.Action)
}

func TestUserLevelEscapesUserID(t *testing.T) {
	content := []byte(`{"users":{"@a.b:c.d":20,"@a*:c":30},"users_default":5}`)
	assert.Equal(t, int64(20), UserLevel(content, "@a.b:c.d"))
	assert.Equal(t, int64(30), UserLevel(content, "@a*:c"))
	assert.Equal(t, int64(5), UserLevel(content, "@ab:c"))
}
