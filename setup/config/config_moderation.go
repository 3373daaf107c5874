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

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/matrix-org/gomatrixserverlib/spec"
)

type Moderation struct {
	Matrix *Global `yaml:"-"`

	// The prefix chat messages must start with to be treated as commands,
	// e.g. "!warden".
	CommandPrefix string `yaml:"command_prefix"`

	// Users the bot will accept room invites from.
	AllowInvites []string `yaml:"allow_invites"`

	// Users allowed to issue commands to the bot.
	Moderators []string `yaml:"moderators"`

	// Rooms where enforcement actions are applied.
	ProtectedRooms []string `yaml:"protected_rooms"`

	// Rooms holding moderation rules, addressed by shortcode. Rules are read
	// from the lists in the order they are given here.
	RuleLists []RuleList `yaml:"rule_lists"`

	// Retry discipline for joining rooms after an accepted invite.
	InviteBackoff InviteBackoff `yaml:"invite_backoff"`

	// How long an inbound event ID is remembered so that replays of the
	// same event are not handled twice.
	DedupeLifetime time.Duration `yaml:"dedupe_lifetime"`

	// How many protected rooms are swept concurrently after a rule is written.
	SweepConcurrency int `yaml:"sweep_concurrency"`
}

// RuleList maps a human-chosen shortcode to the room holding the rules.
type RuleList struct {
	Shortcode string `yaml:"shortcode"`
	RoomID    string `yaml:"room_id"`
}

type InviteBackoff struct {
	// The delay after the first failed join attempt. Doubled after each
	// further failure.
	InitialDelay time.Duration `yaml:"initial_delay"`
	// Once the delay exceeds this value the bot gives up joining.
	MaxDelay time.Duration `yaml:"max_delay"`
}

func (c *Moderation) Defaults(generate bool) {
	c.CommandPrefix = "!warden"
	c.InviteBackoff.InitialDelay = 2 * time.Second
	c.InviteBackoff.MaxDelay = time.Hour
	c.DedupeLifetime = 10 * time.Minute
	c.SweepConcurrency = 4
	if generate {
		c.AllowInvites = []string{"@admin:localhost"}
		c.Moderators = []string{"@admin:localhost"}
		c.ProtectedRooms = []string{"!protected:localhost"}
		c.RuleLists = []RuleList{
			{Shortcode: "spam", RoomID: "!rules:localhost"},
		}
	}
}

func (c *Moderation) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "moderation.command_prefix", c.CommandPrefix)
	if strings.ContainsAny(c.CommandPrefix, " \t\n") {
		configErrs.Add("invalid value for config key \"moderation.command_prefix\": must not contain whitespace")
	}
	checkNotZero(configErrs, "moderation.invite_backoff.initial_delay", int64(c.InviteBackoff.InitialDelay))
	checkPositive(configErrs, "moderation.invite_backoff.initial_delay", int64(c.InviteBackoff.InitialDelay))
	if c.InviteBackoff.MaxDelay < c.InviteBackoff.InitialDelay {
		configErrs.Add("invalid value for config key \"moderation.invite_backoff.max_delay\": must not be less than initial_delay")
	}
	checkPositive(configErrs, "moderation.dedupe_lifetime", int64(c.DedupeLifetime))
	checkNotZero(configErrs, "moderation.sweep_concurrency", int64(c.SweepConcurrency))
	checkPositive(configErrs, "moderation.sweep_concurrency", int64(c.SweepConcurrency))

	for i, userID := range c.AllowInvites {
		if _, err := spec.NewUserID(userID, true); err != nil {
			configErrs.Add(fmt.Sprintf("invalid value for config key \"moderation.allow_invites[%d]\": %s", i, err))
		}
	}
	for i, userID := range c.Moderators {
		if _, err := spec.NewUserID(userID, true); err != nil {
			configErrs.Add(fmt.Sprintf("invalid value for config key \"moderation.moderators[%d]\": %s", i, err))
		}
	}
	for i, roomID := range c.ProtectedRooms {
		if !strings.HasPrefix(roomID, "!") {
			configErrs.Add(fmt.Sprintf("invalid value for config key \"moderation.protected_rooms[%d]\": %q is not a room ID", i, roomID))
		}
	}
	seen := make(map[string]struct{}, len(c.RuleLists))
	for i, list := range c.RuleLists {
		checkNotEmpty(configErrs, fmt.Sprintf("moderation.rule_lists[%d].shortcode", i), list.Shortcode)
		if !strings.HasPrefix(list.RoomID, "!") {
			configErrs.Add(fmt.Sprintf("invalid value for config key \"moderation.rule_lists[%d].room_id\": %q is not a room ID", i, list.RoomID))
		}
		if _, ok := seen[list.Shortcode]; ok {
			configErrs.Add(fmt.Sprintf("duplicate rule list shortcode %q", list.Shortcode))
		}
		seen[list.Shortcode] = struct{}{}
	}
}

// RuleRooms returns the rule list room IDs in configured order.
func (c *Moderation) RuleRooms() []string {
	rooms := make([]string, 0, len(c.RuleLists))
	for _, list := range c.RuleLists {
		rooms = append(rooms, list.RoomID)
	}
	return rooms
}

// RuleListRoom resolves a rule list shortcode to its room ID.
func (c *Moderation) RuleListRoom(shortcode string) (string, bool) {
	for _, list := range c.RuleLists {
		if list.Shortcode == shortcode {
			return list.RoomID, true
		}
	}
	return "", false
}

func (c *Moderation) IsProtected(roomID string) bool {
	return contains(c.ProtectedRooms, roomID)
}

func (c *Moderation) IsModerator(userID string) bool {
	return contains(c.Moderators, userID)
}

func (c *Moderation) InviteAllowed(userID string) bool {
	return contains(c.AllowInvites, userID)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
