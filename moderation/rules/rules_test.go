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

package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/warden/moderation/api"
	"github.com/matrix-org/warden/test"
)

func addRule(hs *test.Homeserver, roomID string, rule api.Rule) {
	hs.SetState(roomID, api.RuleEventType, rule.Entity, rule)
}

func TestRulesForSkipsUnreachableAndMalformed(t *testing.T) {
	ctx := context.Background()
	hs := test.NewHomeserver(test.BotUserID)

	first, unreachable, second := "!first:test", "!gone:test", "!second:test"
	hs.CreateRoom(first, nil)
	hs.CreateRoom(second, nil)

	addRule(hs, first, api.Rule{Entity: "*.evil.tld", Action: api.ActionMute, Reason: "spam"})
	addRule(hs, first, api.Rule{Entity: "good.tld", Action: api.ActionBan})
	hs.SetState(first, api.RuleEventType, "@broken:evil.tld", map[string]interface{}{"action": "obliterate"})
	hs.SetState(first, api.RuleEventType, "@numeric:evil.tld", map[string]interface{}{"action": 0})
	hs.SetState(first, api.RuleEventType, "@missing:evil.tld", map[string]interface{}{"reason": "no action"})
	hs.SetState(first, api.RuleEventType, "@array:evil.tld", []string{"ban"})
	hs.SetState(first, api.RuleEventType, "@deleted:evil.tld", map[string]interface{}{})
	hs.SetState(first, api.RuleEventType, "invalid:pattern", map[string]interface{}{"action": "ban"})
	hs.SetState(second, api.RuleEventType, "@spam:*", map[string]interface{}{"action": "ban", "reason": "spammer"})

	agg := NewAggregator(hs)
	got := agg.RulesFor(ctx, test.NewIdentity(t, "@spam:sub.evil.tld"), []string{first, unreachable, second})
	assert.Equal(t, []api.Rule{
		{Entity: "*.evil.tld", Action: api.ActionMute, Reason: "spam"},
		{Entity: "@spam:*", Action: api.ActionBan, Reason: "spammer"},
	}, got)

	assert.Empty(t, agg.RulesFor(ctx, test.NewIdentity(t, "@alice:nice.tld"), []string{first, second}))
}

func TestListRulesFetchError(t *testing.T) {
	hs := test.NewHomeserver(test.BotUserID)
	boom := errors.New("boom")
	hs.CreateRoom("!rules:test", nil)
	hs.Fail("RoomState", "!rules:test", boom)

	_, err := NewAggregator(hs).ListRules(context.Background(), "!rules:test")
	var ferr *FetchError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, "!rules:test", ferr.RoomID)
	assert.True(t, errors.Is(err, boom))
}

func TestListRulesEntityFallsBackToStateKey(t *testing.T) {
	hs := test.NewHomeserver(test.BotUserID)
	hs.CreateRoom("!rules:test", nil)
	hs.SetState("!rules:test", api.RuleEventType, "evil.tld", map[string]interface{}{"action": "kick"})

	rules, err := NewAggregator(hs).ListRules(context.Background(), "!rules:test")
	require.NoError(t, err)
	assert.Equal(t, []api.Rule{{Entity: "evil.tld", Action: api.ActionKick}}, rules)
}

func TestDecodeRuleErrors(t *testing.T) {
	for name, content := range map[string]string{
		"not an object":  `"ban"`,
		"missing action": `{"entity":"evil.tld"}`,
		"unknown action": `{"action":"smite"}`,
		"numeric action": `{"action":2}`,
		"bad reason":     `{"action":"ban","reason":5}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, ok, err := decodeRule("!r:test", api.StateEvent{StateKey: "evil.tld", Content: []byte(content)})
			assert.False(t, ok)
			var derr *DeserializeError
			require.True(t, errors.As(err, &derr), "got %v", err)
			assert.Equal(t, "evil.tld", derr.StateKey)
		})
	}
}

func TestSnapshotMatchesManyIdentities(t *testing.T) {
	ctx := context.Background()
	hs := test.NewHomeserver(test.BotUserID)
	hs.CreateRoom("!rules:test", nil)
	addRule(hs, "!rules:test", api.Rule{Entity: "*.evil.tld", Action: api.ActionBan})

	set := NewAggregator(hs).Snapshot(ctx, []string{"!rules:test"})
	assert.Equal(t, 1, set.Len())

	// Changes after the snapshot was taken are not visible to it.
	addRule(hs, "!rules:test", api.Rule{Entity: "@bob:nice.tld", Action: api.ActionKick})

	assert.Len(t, set.For(test.NewIdentity(t, "@a:x.evil.tld")), 1)
	assert.Len(t, set.For(test.NewIdentity(t, "@b:y.evil.tld")), 1)
	assert.Empty(t, set.For(test.NewIdentity(t, "@bob:nice.tld")))
}

func TestResolvePicksBan(t *testing.T) {
	mute := api.Rule{Entity: "*.evil.tld", Action: api.ActionMute}
	kick := api.Rule{Entity: "@spam:*", Action: api.ActionKick}
	ban := api.Rule{Entity: "evil.tld", Action: api.ActionBan, Reason: "spam"}

	got, ok := Resolve([]api.Rule{mute, kick, ban})
	require.True(t, ok)
	assert.Equal(t, ban, got)

	got, ok = Resolve([]api.Rule{mute, kick})
	require.True(t, ok)
	assert.Equal(t, kick, got)
}

func TestResolveEmpty(t *testing.T) {
	_, ok := Resolve(nil)
	assert.False(t, ok)
	_, ok = Resolve([]api.Rule{})
	assert.False(t, ok)
}

func TestResolveIgnoresInputOrder(t *testing.T) {
	a := api.Rule{Entity: "a.tld", Action: api.ActionBan, Reason: "x"}
	b := api.Rule{Entity: "b.tld", Action: api.ActionBan, Reason: "y"}
	c := api.Rule{Entity: "a.tld", Action: api.ActionBan, Reason: "w"}

	orders := [][]api.Rule{{a, b, c}, {c, b, a}, {b, a, c}, {b, c, a}}
	for _, order := range orders {
		input := append([]api.Rule(nil), order...)
		got, ok := Resolve(input)
		require.True(t, ok)
		assert.Equal(t, c, got)
		assert.Equal(t, order, input, "input must not be reordered")
	}
}
