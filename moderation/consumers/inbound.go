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

package consumers

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/matrix-org/warden/internal/caching"
	"github.com/matrix-org/warden/moderation/api"
	"github.com/matrix-org/warden/setup/config"
	"github.com/matrix-org/warden/setup/jetstream"
	"github.com/matrix-org/warden/setup/process"
)

// Dispatcher handles a single inbound event to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *api.InboundEvent)
}

// InboundEventConsumer consumes events produced by the sync loop and hands
// them to the moderation handlers.
type InboundEventConsumer struct {
	ctx        context.Context
	jetstream  nats.JetStreamContext
	durable    string
	topic      string
	dedupe     *caching.EventDeduplicator
	dispatcher Dispatcher
}

// NewInboundEventConsumer creates a new InboundEventConsumer. Call Start() to
// begin consuming.
func NewInboundEventConsumer(
	process *process.ProcessContext,
	cfg *config.Warden,
	js nats.JetStreamContext,
	dedupe *caching.EventDeduplicator,
	dispatcher Dispatcher,
) *InboundEventConsumer {
	return &InboundEventConsumer{
		ctx:        process.Context(),
		jetstream:  js,
		durable:    cfg.Global.JetStream.Durable("ModerationInboundConsumer"),
		topic:      cfg.Global.JetStream.Prefixed(jetstream.InboundEvent),
		dedupe:     dedupe,
		dispatcher: dispatcher,
	}
}

// Start consuming inbound events.
func (s *InboundEventConsumer) Start() error {
	return jetstream.JetStreamConsumer(
		s.ctx, s.jetstream, s.topic, s.durable, 1, s.onMessage,
		nats.DeliverAll(), nats.ManualAck(),
	)
}

// onMessage acknowledges every message once it has been handed off. Handlers
// run on their own goroutine since accepting an invite can take a long time
// and must not hold up the rest of the stream.
func (s *InboundEventConsumer) onMessage(ctx context.Context, msgs []*nats.Msg) bool {
	msg := msgs[0] // Guaranteed to exist if onMessage is called

	var ev api.InboundEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.WithError(err).WithField("event_id", msg.Header.Get(jetstream.EventID)).Error("Failed to unmarshal inbound event")
		return true
	}
	if !ev.Valid() {
		log.WithFields(log.Fields{
			"kind":     ev.Kind,
			"event_id": ev.EventID,
		}).Warn("Dropping malformed inbound event")
		return true
	}
	if ev.EventID != "" && !s.dedupe.FirstSeen(ev.EventID) {
		log.WithField("event_id", ev.EventID).Debug("Dropping duplicate inbound event")
		return true
	}

	go s.dispatcher.Dispatch(s.ctx, &ev)
	return true
}
