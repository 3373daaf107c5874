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

package test

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/matrix-org/gomatrixserverlib/spec"

	"github.com/matrix-org/warden/moderation/api"
)

var (
	userIDCounter = int64(0)
	roomIDCounter = int64(0)

	serverName = spec.ServerName("test")
)

// BotUserID is the user ID the fake homeserver is logged in as.
const BotUserID = "@warden:test"

// NewUserID returns a fresh user ID on the given server, or on "test" if
// server is empty.
func NewUserID(server spec.ServerName) string {
	if server == "" {
		server = serverName
	}
	counter := atomic.AddInt64(&userIDCounter, 1)
	return fmt.Sprintf("@%d:%s", counter, server)
}

// NewRoomID returns a fresh room ID.
func NewRoomID() string {
	counter := atomic.AddInt64(&roomIDCounter, 1)
	return fmt.Sprintf("!%d:%s", counter, serverName)
}

// NewIdentity parses the user ID into an identity, failing the test if it is
// not valid.
func NewIdentity(t *testing.T, userID string) api.Identity {
	t.Helper()
	id, err := api.NewIdentity(userID)
	if err != nil {
		t.Fatalf("invalid user ID %q: %s", userID, err)
	}
	return id
}
