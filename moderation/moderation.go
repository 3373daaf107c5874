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

package moderation

import (
	"context"

	"github.com/matrix-org/util"

	"github.com/matrix-org/warden/moderation/api"
	"github.com/matrix-org/warden/moderation/commands"
	"github.com/matrix-org/warden/moderation/enforce"
	"github.com/matrix-org/warden/moderation/internal"
	"github.com/matrix-org/warden/moderation/invite"
	"github.com/matrix-org/warden/moderation/rules"
	"github.com/matrix-org/warden/moderation/storage"
	"github.com/matrix-org/warden/setup/config"
	"github.com/matrix-org/warden/setup/process"
)

// Moderation holds the rule engine, the invite state machine and the command
// dispatcher, and routes inbound events between them.
type Moderation struct {
	Rules      *rules.Aggregator
	Applier    *enforce.Applier
	Invites    *invite.Acceptor
	Commands   *commands.Dispatcher
	Membership *internal.MembershipHandler
	Dispatcher *internal.Dispatcher
}

// NewModeration wires up moderation for the given protocol client. db may be
// nil, in which case no enforcement history is kept.
func NewModeration(
	processCtx *process.ProcessContext,
	cfg *config.Moderation,
	protocol api.ProtocolAPI,
	db storage.Database,
) *Moderation {
	var degraded func(string)
	if processCtx != nil {
		degraded = processCtx.Degraded
	}
	var history enforce.HistoryRecorder
	var historyReader commands.HistoryReader
	if db != nil {
		history, historyReader = db, db
	}

	m := &Moderation{
		Rules:   rules.NewAggregator(protocol),
		Invites: invite.NewAcceptor(protocol, cfg),
	}
	m.Applier = enforce.NewApplier(protocol, history, degraded)
	m.Commands = commands.NewDispatcher(cfg, protocol, m.Rules, m.Applier, historyReader)
	m.Membership = &internal.MembershipHandler{
		Cfg:       cfg,
		BotUserID: protocol.UserID(),
		Rules:     m.Rules,
		Applier:   m.Applier,
	}
	m.Dispatcher = internal.NewDispatcher(map[api.EventKind]internal.Handler{
		api.KindMembership: m.Membership.Handle,
		api.KindMessage:    m.onMessage,
		api.KindInvite:     m.onInvite,
	})
	return m
}

// Dispatch handles a single inbound event to completion.
func (m *Moderation) Dispatch(ctx context.Context, ev *api.InboundEvent) {
	m.Dispatcher.Dispatch(ctx, ev)
}

func (m *Moderation) onMessage(ctx context.Context, ev *api.InboundEvent) {
	if ev.Message.MsgType != "m.text" {
		return
	}
	if err := m.Commands.Handle(ctx, ev.RoomID, ev.EventID, ev.Sender, ev.Message.Body); err != nil {
		util.GetLogger(ctx).WithError(err).Error("Failed to reply to command")
	}
}

func (m *Moderation) onInvite(ctx context.Context, ev *api.InboundEvent) {
	m.Invites.Handle(ctx, ev.RoomID, ev.Sender, ev.Invite.Invitee)
}
