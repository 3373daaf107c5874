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
	"encoding/json"
	"fmt"

	"github.com/matrix-org/util"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/matrix-org/warden/moderation/api"
	"github.com/matrix-org/warden/moderation/entity"
)

// FetchError is returned when the rules of a rule list room could not be read.
type FetchError struct {
	RoomID string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch rules from %s: %s", e.RoomID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DeserializeError is returned when a single rule state event is malformed.
type DeserializeError struct {
	RoomID   string
	StateKey string
	Err      error
}

func (e *DeserializeError) Error() string {
	return fmt.Sprintf("malformed rule %q in %s: %s", e.StateKey, e.RoomID, e.Err)
}

func (e *DeserializeError) Unwrap() error {
	return e.Err
}

// StateReader is the part of api.ProtocolAPI the aggregator needs.
type StateReader interface {
	RoomState(ctx context.Context, roomID, eventType string) ([]api.StateEvent, error)
}

// compiledRule is a rule together with its parsed entity pattern.
type compiledRule struct {
	api.Rule
	roomID  string
	pattern *entity.Pattern
}

// RuleSet is the rules read from a set of rule list rooms at one point in
// time. It is only valid for the invocation that read it.
type RuleSet struct {
	rules []compiledRule
}

// For returns the rules in the set whose entity matches the identity, in the
// order the rule rooms were read.
func (s *RuleSet) For(identity api.Identity) []api.Rule {
	var matched []api.Rule
	for _, r := range s.rules {
		if r.pattern.Matches(identity) {
			matched = append(matched, r.Rule)
		}
	}
	return matched
}

// Len returns how many well-formed rules the set holds.
func (s *RuleSet) Len() int {
	return len(s.rules)
}

// Aggregator reads moderation rules out of rule list rooms.
type Aggregator struct {
	State StateReader
}

func NewAggregator(state StateReader) *Aggregator {
	return &Aggregator{State: state}
}

// RulesFor returns every rule in the given rule rooms whose entity matches
// the identity. Rooms that cannot be read and rules that cannot be parsed are
// logged and skipped.
func (a *Aggregator) RulesFor(ctx context.Context, identity api.Identity, ruleRooms []string) []api.Rule {
	return a.Snapshot(ctx, ruleRooms).For(identity)
}

// Snapshot reads and compiles every rule in the given rule rooms, in order.
func (a *Aggregator) Snapshot(ctx context.Context, ruleRooms []string) *RuleSet {
	logger := util.GetLogger(ctx)
	set := &RuleSet{}
	for _, roomID := range ruleRooms {
		rules, err := a.ListRules(ctx, roomID)
		if err != nil {
			logger.WithError(err).WithField("rule_room", roomID).Warn("Skipping unreadable rule list")
			continue
		}
		for _, r := range rules {
			p, err := entity.Parse(r.Entity)
			if err != nil {
				logger.WithError(err).WithField("rule_room", roomID).Warn("Skipping rule with invalid entity")
				ruleErrorsTotal.WithLabelValues("pattern").Inc()
				continue
			}
			set.rules = append(set.rules, compiledRule{Rule: r, roomID: roomID, pattern: p})
		}
	}
	return set
}

// ListRules reads and deserializes the rules held by a single rule room.
// Malformed entries are skipped. A *FetchError is returned if the room's
// state could not be read at all.
func (a *Aggregator) ListRules(ctx context.Context, roomID string) ([]api.Rule, error) {
	events, err := a.State.RoomState(ctx, roomID, api.RuleEventType)
	if err != nil {
		ruleErrorsTotal.WithLabelValues("fetch").Inc()
		return nil, &FetchError{RoomID: roomID, Err: err}
	}
	ruleFetchesTotal.Inc()
	rules := make([]api.Rule, 0, len(events))
	for _, ev := range events {
		rule, ok, err := decodeRule(roomID, ev)
		if err != nil {
			ruleErrorsTotal.WithLabelValues("deserialize").Inc()
			util.GetLogger(ctx).WithError(err).WithFields(logrus.Fields{
				"rule_room": roomID,
				"event_id":  ev.EventID,
			}).Warn("Skipping malformed rule")
			continue
		}
		if ok {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// decodeRule turns a rule state event into a Rule. ok is false for rules
// that have been removed, i.e. whose content was replaced with {}.
func decodeRule(roomID string, ev api.StateEvent) (rule api.Rule, ok bool, err error) {
	content := gjson.ParseBytes(ev.Content)
	if !content.IsObject() {
		return rule, false, &DeserializeError{RoomID: roomID, StateKey: ev.StateKey, Err: fmt.Errorf("content is not an object")}
	}
	if len(content.Map()) == 0 {
		return rule, false, nil
	}
	if !content.Get("action").Exists() {
		return rule, false, &DeserializeError{RoomID: roomID, StateKey: ev.StateKey, Err: fmt.Errorf("missing action")}
	}
	if err = json.Unmarshal(ev.Content, &rule); err != nil {
		return rule, false, &DeserializeError{RoomID: roomID, StateKey: ev.StateKey, Err: err}
	}
	if content.Get("action").Type != gjson.String {
		return rule, false, &DeserializeError{RoomID: roomID, StateKey: ev.StateKey, Err: fmt.Errorf("action must be a string")}
	}
	if rule.Entity == "" {
		rule.Entity = ev.StateKey
	}
	return rule, true, nil
}
