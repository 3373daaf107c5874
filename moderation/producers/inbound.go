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

package producers

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/matrix-org/warden/moderation/api"
	"github.com/matrix-org/warden/setup/jetstream"
)

// InboundEventProducer publishes events received from the homeserver for the
// moderation consumer to pick up.
type InboundEventProducer struct {
	Topic     string
	JetStream nats.JetStreamContext
}

// Publish sends a single inbound event. The event ID is used as the NATS
// message ID, so the same event published twice within the stream's
// duplicate window is only stored once.
func (p *InboundEventProducer) Publish(ctx context.Context, ev api.InboundEvent) error {
	m := nats.NewMsg(p.Topic)
	m.Header.Set(jetstream.RoomID, ev.RoomID)
	m.Header.Set(jetstream.EventID, ev.EventID)
	m.Header.Set(jetstream.Sender, ev.Sender)
	m.Header.Set(jetstream.EventKind, string(ev.Kind))

	var err error
	if m.Data, err = json.Marshal(ev); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"kind":     ev.Kind,
		"room_id":  ev.RoomID,
		"event_id": ev.EventID,
	}).Tracef("Producing to topic '%s'", p.Topic)

	_, err = p.JetStream.PublishMsg(m, nats.Context(ctx), nats.MsgId(ev.EventID))
	return err
}
