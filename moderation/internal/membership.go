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

package internal

import (
	"context"
	"errors"

	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/matrix-org/util"
	"github.com/sirupsen/logrus"

	"github.com/matrix-org/warden/moderation/api"
	"github.com/matrix-org/warden/moderation/enforce"
	"github.com/matrix-org/warden/moderation/rules"
	"github.com/matrix-org/warden/setup/config"
)

// MembershipHandler evaluates users joining, being invited to or knocking on
// protected rooms against the rule lists.
type MembershipHandler struct {
	Cfg       *config.Moderation
	BotUserID string
	Rules     *rules.Aggregator
	Applier   *enforce.Applier
}

// Handle evaluates a single membership event. Errors are logged since there
// is nobody to report them to.
func (h *MembershipHandler) Handle(ctx context.Context, ev *api.InboundEvent) {
	if err := h.Evaluate(ctx, ev.RoomID, ev.Membership.UserID, ev.Membership.Membership); err != nil {
		util.GetLogger(ctx).WithError(err).WithFields(logrus.Fields{
			"room_id": ev.RoomID,
			"user_id": ev.Membership.UserID,
		}).Error("Failed to enforce rules on membership change")
	}
}

// Evaluate reads the rule lists afresh, resolves the rules matching the user
// and applies the winning action in the room. Users leaving or already
// banned, and rooms that are not protected, are ignored.
func (h *MembershipHandler) Evaluate(ctx context.Context, roomID, userID, membership string) error {
	if !h.Cfg.IsProtected(roomID) || userID == h.BotUserID {
		return nil
	}
	switch membership {
	case spec.Join, spec.Invite, spec.Knock:
	default:
		return nil
	}
	identity, err := api.NewIdentity(userID)
	if err != nil {
		return err
	}
	rule, ok := rules.Resolve(h.Rules.RulesFor(ctx, identity, h.Cfg.RuleRooms()))
	if !ok {
		return nil
	}
	err = h.Applier.Enforce(ctx, roomID, identity, rule, api.TriggerMembership)
	if errors.Is(err, enforce.ErrAlreadyApplied) {
		return nil
	}
	return err
}
