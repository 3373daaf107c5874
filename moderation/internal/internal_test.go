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
	"testing"

	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/matrix-org/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/warden/moderation/api"
	"github.com/matrix-org/warden/moderation/enforce"
	"github.com/matrix-org/warden/moderation/rules"
	"github.com/matrix-org/warden/setup/config"
	"github.com/matrix-org/warden/test"
)

const (
	protected = "!protected:test"
	ruleRoom  = "!rules:test"
)

func TestDispatchRoutesByKind(t *testing.T) {
	var got []api.EventKind
	record := func(ctx context.Context, ev *api.InboundEvent) {
		assert.NotNil(t, util.GetLogger(ctx))
		got = append(got, ev.Kind)
	}
	d := NewDispatcher(map[api.EventKind]Handler{
		api.KindMembership: record,
		api.KindMessage:    record,
	})

	events := []api.InboundEvent{
		api.NewMessageEvent(protected, "$1", "@mod:test", "m.text", "hi"),
		api.NewInviteEvent(protected, "$2", "@mod:test", test.BotUserID),
		api.NewMembershipEvent(protected, "$3", "@a:test", "@a:test", spec.Join),
		{Kind: api.KindMessage, RoomID: protected, EventID: "$4"},
	}
	for i := range events {
		d.Dispatch(context.Background(), &events[i])
	}
	assert.Equal(t, []api.EventKind{api.KindMessage, api.KindMembership}, got)
}

func newMembershipHandler(t *testing.T) (*MembershipHandler, *test.Homeserver) {
	t.Helper()
	cfg := &config.Moderation{}
	cfg.Defaults(false)
	cfg.ProtectedRooms = []string{protected}
	cfg.RuleLists = []config.RuleList{{Shortcode: "spam", RoomID: ruleRoom}}

	hs := test.NewHomeserver(test.BotUserID)
	hs.CreateRoom(protected, map[string]interface{}{})
	hs.CreateRoom(ruleRoom, nil)
	hs.SetState(ruleRoom, api.RuleEventType, "*.evil.tld", api.Rule{Entity: "*.evil.tld", Action: api.ActionBan, Reason: "spam"})
	hs.SetState(ruleRoom, api.RuleEventType, "@noisy:evil.tld", api.Rule{Entity: "@noisy:evil.tld", Action: api.ActionMute})

	return &MembershipHandler{
		Cfg:       cfg,
		BotUserID: test.BotUserID,
		Rules:     rules.NewAggregator(hs),
		Applier:   enforce.NewApplier(hs, nil, nil),
	}, hs
}

func TestEvaluateEnforcesOnJoinInviteKnock(t *testing.T) {
	for _, membership := range []string{spec.Join, spec.Invite, spec.Knock} {
		t.Run(membership, func(t *testing.T) {
			h, hs := newMembershipHandler(t)
			hs.SetMembership(protected, "@noisy:evil.tld", membership)
			require.NoError(t, h.Evaluate(context.Background(), protected, "@noisy:evil.tld", membership))

			bans := hs.CallsTo("Ban")
			require.Len(t, bans, 1, "ban outranks mute")
			assert.Equal(t, "spam", bans[0].Reason)
			assert.Empty(t, hs.CallsTo("SetPowerLevels"))
		})
	}
}

func TestEvaluateSkips(t *testing.T) {
	tests := []struct {
		name       string
		roomID     string
		userID     string
		membership string
	}{
		{"leave", protected, "@spam:evil.tld", spec.Leave},
		{"ban", protected, "@spam:evil.tld", spec.Ban},
		{"unprotected room", "!other:test", "@spam:evil.tld", spec.Join},
		{"bot itself", protected, test.BotUserID, spec.Join},
		{"no matching rule", protected, "@friend:good.tld", spec.Join},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, hs := newMembershipHandler(t)
			require.NoError(t, h.Evaluate(context.Background(), tt.roomID, tt.userID, tt.membership))
			assert.Empty(t, hs.Calls())
		})
	}
}

func TestEvaluateAlreadyBanned(t *testing.T) {
	h, hs := newMembershipHandler(t)
	hs.Fail("Ban", protected, errors.New("forbidden"))
	hs.SetMembership(protected, "@spam:evil.tld", spec.Ban)
	assert.NoError(t, h.Evaluate(context.Background(), protected, "@spam:evil.tld", spec.Join))
}

func TestEvaluateReportsFailures(t *testing.T) {
	h, hs := newMembershipHandler(t)
	hs.Fail("Ban", protected, errors.New("forbidden"))
	hs.SetMembership(protected, "@spam:evil.tld", spec.Join)

	err := h.Evaluate(context.Background(), protected, "@spam:evil.tld", spec.Join)
	var eerr *enforce.EnforcementError
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, api.ActionBan, eerr.Action)
}

func TestEvaluateInvalidUserID(t *testing.T) {
	h, _ := newMembershipHandler(t)
	assert.Error(t, h.Evaluate(context.Background(), protected, "not-a-user", spec.Join))
}
