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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/warden/internal/caching"
	"github.com/matrix-org/warden/moderation/api"
	"github.com/matrix-org/warden/moderation/producers"
	"github.com/matrix-org/warden/setup/config"
	"github.com/matrix-org/warden/setup/jetstream"
	"github.com/matrix-org/warden/setup/process"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []api.InboundEvent
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, ev *api.InboundEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, *ev)
}

func (d *recordingDispatcher) received() []api.InboundEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]api.InboundEvent(nil), d.events...)
}

func TestInboundEventConsumer(t *testing.T) {
	cfg := &config.Warden{}
	cfg.Defaults(false)
	cfg.Global.JetStream.InMemory = true
	cfg.Global.JetStream.StoragePath = config.Path(t.TempDir())

	processCtx := process.NewProcessContext()
	defer func() {
		processCtx.ShutdownWarden()
		processCtx.WaitForComponentsToFinish()
	}()

	natsInstance := &jetstream.NATSInstance{}
	js, _, err := natsInstance.Prepare(processCtx, &cfg.Global.JetStream)
	require.NoError(t, err)

	dispatcher := &recordingDispatcher{}
	consumer := NewInboundEventConsumer(processCtx, cfg, js, caching.NewEventDeduplicator(time.Minute), dispatcher)
	require.NoError(t, consumer.Start())

	producer := &producers.InboundEventProducer{
		Topic:     cfg.Global.JetStream.Prefixed(jetstream.InboundEvent),
		JetStream: js,
	}
	ctx := context.Background()
	join := api.NewMembershipEvent("!room:test", "$join", "@spam:evil.tld", "@spam:evil.tld", "join")
	require.NoError(t, producer.Publish(ctx, join))
	require.NoError(t, producer.Publish(ctx, join))
	require.NoError(t, producer.Publish(ctx, api.InboundEvent{Kind: api.KindMessage, RoomID: "!room:test", EventID: "$bad"}))
	require.NoError(t, producer.Publish(ctx, api.NewMessageEvent("!room:test", "$msg", "@mod:test", "m.text", "!warden help")))

	require.Eventually(t, func() bool {
		return len(dispatcher.received()) == 2
	}, 10*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	got := dispatcher.received()
	require.Len(t, got, 2, "duplicates and malformed events are dropped")
	ids := []string{got[0].EventID, got[1].EventID}
	assert.ElementsMatch(t, []string{"$join", "$msg"}, ids)
}

func TestOnMessageDropsReplays(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	s := &InboundEventConsumer{
		ctx:        context.Background(),
		dedupe:     caching.NewEventDeduplicator(time.Minute),
		dispatcher: dispatcher,
	}
	ev := api.NewInviteEvent("!room:test", "$invite", "@mod:test", "@warden:test")
	msg := mustMsg(t, ev)

	assert.True(t, s.onMessage(context.Background(), msg))
	assert.True(t, s.onMessage(context.Background(), msg))
	assert.True(t, s.onMessage(context.Background(), mustRawMsg([]byte("not json"))))

	require.Eventually(t, func() bool {
		return len(dispatcher.received()) == 1
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, dispatcher.received(), 1)
}
