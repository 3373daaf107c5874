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
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/matrix-org/util"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/matrix-org/warden/moderation/api"
)

// ErrAlreadyApplied is returned when the action had no effect because the
// user is already banned, gone, or muted.
var ErrAlreadyApplied = errors.New("action already applied")

// EnforcementError wraps a protocol failure while applying an action.
type EnforcementError struct {
	RoomID string
	UserID string
	Action api.Action
	Err    error
}

func (e *EnforcementError) Error() string {
	return fmt.Sprintf("failed to %s %s in %s: %s", e.Action, e.UserID, e.RoomID, e.Err)
}

func (e *EnforcementError) Unwrap() error {
	return e.Err
}

// MissingPowerLevelsError is returned when a room has no m.room.power_levels
// event. Every Matrix room is created with one, so this means the room state
// is broken or not visible to the bot.
type MissingPowerLevelsError struct {
	RoomID string
}

func (e *MissingPowerLevelsError) Error() string {
	return fmt.Sprintf("room %s has no power levels", e.RoomID)
}

// HistoryRecorder stores applied actions.
type HistoryRecorder interface {
	RecordAction(ctx context.Context, record *api.EnforcementRecord) error
}

// Applier applies moderation actions in protected rooms.
type Applier struct {
	Protocol api.ProtocolAPI
	// History is optional. Failing to record an action is logged and does not
	// fail the action.
	History HistoryRecorder
	// Degraded is called when a room is found in a state that needs operator
	// attention. Optional.
	Degraded func(reason string)
}

func NewApplier(protocol api.ProtocolAPI, history HistoryRecorder, degraded func(reason string)) *Applier {
	return &Applier{
		Protocol: protocol,
		History:  history,
		Degraded: degraded,
	}
}

// Apply applies a single action to the user in the room. Ban and kick are a
// single protocol call. Mute is a read-modify-write of the room's power
// levels which is not atomic: a concurrent change to the power levels made
// between the read and the write is lost.
func (a *Applier) Apply(ctx context.Context, roomID string, identity api.Identity, action api.Action, reason string) error {
	var err error
	switch action {
	case api.ActionBan:
		err = a.ban(ctx, roomID, identity, reason)
	case api.ActionKick:
		err = a.kick(ctx, roomID, identity, reason)
	case api.ActionMute:
		err = a.mute(ctx, roomID, identity)
	default:
		return fmt.Errorf("unknown action %d", int(action))
	}
	switch {
	case err == nil:
		actionsTotal.WithLabelValues(action.String(), "applied").Inc()
	case errors.Is(err, ErrAlreadyApplied):
		actionsTotal.WithLabelValues(action.String(), "already_applied").Inc()
	default:
		actionsTotal.WithLabelValues(action.String(), "failed").Inc()
	}
	return err
}

// Enforce applies the rule's action and records it in the history.
func (a *Applier) Enforce(ctx context.Context, roomID string, identity api.Identity, rule api.Rule, trigger api.Trigger) error {
	if err := a.Apply(ctx, roomID, identity, rule.Action, rule.Reason); err != nil {
		return err
	}
	logger := util.GetLogger(ctx).WithFields(logrus.Fields{
		"room_id": roomID,
		"user_id": identity.UserID,
		"action":  rule.Action.String(),
		"entity":  rule.Entity,
	})
	logger.Info("Applied moderation action")
	if a.History == nil {
		return nil
	}
	record := &api.EnforcementRecord{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    identity.UserID,
		Action:    rule.Action,
		Reason:    rule.Reason,
		Entity:    rule.Entity,
		Trigger:   trigger,
		Timestamp: spec.AsTimestamp(time.Now()),
	}
	if err := a.History.RecordAction(ctx, record); err != nil {
		logger.WithError(err).Error("Failed to record moderation action")
	}
	return nil
}

func (a *Applier) ban(ctx context.Context, roomID string, identity api.Identity, reason string) error {
	err := a.Protocol.Ban(ctx, roomID, identity.UserID, reason)
	if err == nil {
		return nil
	}
	if membership, merr := a.Protocol.Membership(ctx, roomID, identity.UserID); merr == nil && membership == spec.Ban {
		return ErrAlreadyApplied
	}
	return &EnforcementError{RoomID: roomID, UserID: identity.UserID, Action: api.ActionBan, Err: err}
}

func (a *Applier) kick(ctx context.Context, roomID string, identity api.Identity, reason string) error {
	err := a.Protocol.Kick(ctx, roomID, identity.UserID, reason)
	if err == nil {
		return nil
	}
	if membership, merr := a.Protocol.Membership(ctx, roomID, identity.UserID); merr == nil {
		switch membership {
		case spec.Leave, spec.Ban:
			return ErrAlreadyApplied
		}
	}
	return &EnforcementError{RoomID: roomID, UserID: identity.UserID, Action: api.ActionKick, Err: err}
}

func (a *Applier) mute(ctx context.Context, roomID string, identity api.Identity) error {
	content, err := a.Protocol.PowerLevels(ctx, roomID)
	if errors.Is(err, api.ErrNotFound) {
		merr := &MissingPowerLevelsError{RoomID: roomID}
		util.GetLogger(ctx).WithError(merr).WithField("room_id", roomID).Error("Cannot mute without power levels")
		if a.Degraded != nil {
			a.Degraded(merr.Error())
		}
		return merr
	}
	if err != nil {
		return &EnforcementError{RoomID: roomID, UserID: identity.UserID, Action: api.ActionMute, Err: err}
	}

	required := RequiredToSpeak(content)
	if UserLevel(content, identity.UserID) < required {
		return ErrAlreadyApplied
	}
	level := required - 1
	if level > -1 {
		level = -1
	}
	updated, err := sjson.SetBytes(content, "users."+gjson.Escape(identity.UserID), level)
	if err != nil {
		return &EnforcementError{RoomID: roomID, UserID: identity.UserID, Action: api.ActionMute, Err: fmt.Errorf("sjson.SetBytes: %w", err)}
	}
	if err = a.Protocol.SetPowerLevels(ctx, roomID, updated); err != nil {
		return &EnforcementError{RoomID: roomID, UserID: identity.UserID, Action: api.ActionMute, Err: err}
	}
	return nil
}

// RequiredToSpeak returns the power level needed to send m.room.message
// events according to the power levels content.
func RequiredToSpeak(powerLevels []byte) int64 {
	if level := gjson.GetBytes(powerLevels, "events."+gjson.Escape("m.room.message")); level.Exists() {
		return level.Int()
	}
	return gjson.GetBytes(powerLevels, "events_default").Int()
}

// UserLevel returns the user's power level according to the power levels
// content.
func UserLevel(powerLevels []byte, userID string) int64 {
	if level := gjson.GetBytes(powerLevels, "users."+gjson.Escape(userID)); level.Exists() {
		return level.Int()
	}
	return gjson.GetBytes(powerLevels, "users_default").Int()
}
