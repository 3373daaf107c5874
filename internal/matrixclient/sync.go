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

package matrixclient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/matrix-org/gomatrix"
	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/sirupsen/logrus"

	"github.com/matrix-org/warden/moderation/api"
	"github.com/matrix-org/warden/setup/process"
)

// Publisher accepts inbound events for asynchronous handling.
type Publisher interface {
	Publish(ctx context.Context, ev api.InboundEvent) error
}

// SyncLoop long-polls the homeserver and publishes every membership change,
// message and invite of the bot it sees.
type SyncLoop struct {
	client    *Client
	publisher Publisher
}

func NewSyncLoop(client *Client, publisher Publisher) *SyncLoop {
	s := &SyncLoop{client: client, publisher: publisher}
	syncer := client.Syncer.(*gomatrix.DefaultSyncer)
	syncer.OnEventType(spec.MRoomMember, s.onEvent)
	syncer.OnEventType("m.room.message", s.onEvent)
	return s
}

// Run syncs until the process shuts down. Sync errors are logged and the
// sync is restarted.
func (s *SyncLoop) Run(processCtx *process.ProcessContext) {
	processCtx.ComponentStarted()
	defer processCtx.ComponentFinished()
	go func() {
		<-processCtx.WaitForShutdown()
		s.client.StopSync()
	}()
	for {
		err := s.client.Sync()
		select {
		case <-processCtx.WaitForShutdown():
			return
		default:
		}
		if err != nil {
			logrus.WithError(err).Error("Sync failed, restarting")
		}
	}
}

func (s *SyncLoop) onEvent(ev *gomatrix.Event) {
	inbound, ok := ToInboundEvent(s.client.UserID(), ev)
	if !ok {
		return
	}
	if err := s.publisher.Publish(context.Background(), inbound); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"room_id":  inbound.RoomID,
			"event_id": inbound.EventID,
		}).Error("Failed to publish inbound event")
	}
}

// ToInboundEvent converts a synced event into an InboundEvent. An invite of
// the bot becomes an invite event, any other membership change a membership
// event. Invites can arrive as stripped state without an event ID, in which
// case one is made up that is unique to this invite.
func ToInboundEvent(botUserID string, ev *gomatrix.Event) (api.InboundEvent, bool) {
	switch ev.Type {
	case spec.MRoomMember:
		if ev.StateKey == nil {
			return api.InboundEvent{}, false
		}
		membership, _ := ev.Content["membership"].(string)
		if membership == "" {
			return api.InboundEvent{}, false
		}
		if *ev.StateKey == botUserID && membership == spec.Invite {
			eventID := ev.ID
			if eventID == "" {
				eventID = inviteEventID(ev)
			}
			return api.NewInviteEvent(ev.RoomID, eventID, ev.Sender, botUserID), true
		}
		return api.NewMembershipEvent(ev.RoomID, ev.ID, ev.Sender, *ev.StateKey, membership), true
	case "m.room.message":
		msgType, _ := ev.Content["msgtype"].(string)
		body, ok := ev.Content["body"].(string)
		if !ok {
			return api.InboundEvent{}, false
		}
		return api.NewMessageEvent(ev.RoomID, ev.ID, ev.Sender, msgType, body), true
	}
	return api.InboundEvent{}, false
}

// inviteEventID identifies an invite that came without an event ID. Two
// invites from the same inviter to the same room are distinct runs, so the
// inviter and room alone are not enough.
func inviteEventID(ev *gomatrix.Event) string {
	if ev.Timestamp != 0 {
		return fmt.Sprintf("invite:%s:%s:%d", ev.RoomID, ev.Sender, ev.Timestamp)
	}
	return fmt.Sprintf("invite:%s:%s:%s", ev.RoomID, ev.Sender, uuid.NewString())
}
