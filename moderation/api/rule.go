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

package api

import (
	"fmt"

	"github.com/matrix-org/gomatrixserverlib/spec"
)

// Action is a moderation sanction. Actions are ordered by severity: when a
// list of actions is sorted ascending, the first one is the one to apply.
type Action int

const (
	ActionBan Action = iota
	ActionKick
	ActionMute
)

func (a Action) String() string {
	switch a {
	case ActionBan:
		return "ban"
	case ActionKick:
		return "kick"
	case ActionMute:
		return "mute"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ParseAction parses the textual form of an action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "ban":
		return ActionBan, nil
	case "kick":
		return ActionKick, nil
	case "mute":
		return ActionMute, nil
	default:
		return 0, fmt.Errorf("unknown action %q", s)
	}
}

func (a Action) MarshalText() ([]byte, error) {
	switch a {
	case ActionBan, ActionKick, ActionMute:
		return []byte(a.String()), nil
	}
	return nil, fmt.Errorf("unknown action %d", int(a))
}

func (a *Action) UnmarshalText(text []byte) error {
	action, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = action
	return nil
}

// Rule is the content of a rule state event.
type Rule struct {
	Entity string `json:"entity"`
	Action Action `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// Identity is a user as seen by the matcher: their full user ID plus the
// server name embedded in it.
type Identity struct {
	UserID     string
	ServerName spec.ServerName
}

// NewIdentity parses a Matrix user ID into an Identity.
func NewIdentity(userID string) (Identity, error) {
	uid, err := spec.NewUserID(userID, true)
	if err != nil {
		return Identity{}, fmt.Errorf("spec.NewUserID: %w", err)
	}
	return Identity{
		UserID:     uid.String(),
		ServerName: uid.Domain(),
	}, nil
}

func (i Identity) String() string {
	return i.UserID
}
