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
	"github.com/matrix-org/gomatrixserverlib/spec"
)

// Trigger is what caused an enforcement action to be applied.
type Trigger string

const (
	// TriggerMembership is a membership change in a protected room.
	TriggerMembership Trigger = "membership"
	// TriggerCommand is a rule written by a moderator command.
	TriggerCommand Trigger = "command"
)

// EnforcementRecord is a single action the bot has successfully applied.
type EnforcementRecord struct {
	ID        string
	RoomID    string
	UserID    string
	Action    Action
	Reason    string
	Entity    string
	Trigger   Trigger
	Timestamp spec.Timestamp
}
