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

	"github.com/matrix-org/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/matrix-org/warden/moderation/api"
)

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "warden",
	Name:      "inbound_events_total",
	Help:      "Number of inbound events dispatched, by kind",
}, []string{"kind"})

// Handler handles one kind of inbound event.
type Handler func(ctx context.Context, ev *api.InboundEvent)

// Dispatcher routes inbound events to the handler registered for their kind.
type Dispatcher struct {
	handlers map[api.EventKind]Handler
}

func NewDispatcher(handlers map[api.EventKind]Handler) *Dispatcher {
	return &Dispatcher{handlers: handlers}
}

// Dispatch runs the handler for the event's kind to completion. Events of an
// unknown kind, or whose payload does not match their kind, are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *api.InboundEvent) {
	logger := util.GetLogger(ctx).WithFields(logrus.Fields{
		"kind":     ev.Kind,
		"room_id":  ev.RoomID,
		"event_id": ev.EventID,
		"sender":   ev.Sender,
	})
	handler, ok := d.handlers[ev.Kind]
	if !ok || !ev.Valid() {
		logger.Warn("Dropping inbound event with no handler")
		eventsTotal.WithLabelValues("dropped").Inc()
		return
	}
	eventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	handler(util.ContextWithLogger(ctx, logger), ev)
}
