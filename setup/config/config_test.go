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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

const testConfig = `
version: 1
global:
  homeserver_url: https://matrix.example.com
  user_id: "@warden:example.com"
  access_token: secret
  database:
    connection_string: file:warden.db
  jetstream:
    storage_path: ./jetstream
moderation:
  command_prefix: "!warden"
  allow_invites:
    - "@alice:example.com"
  moderators:
    - "@alice:example.com"
  protected_rooms:
    - "!lobby:example.com"
  rule_lists:
    - shortcode: spam
      room_id: "!spam:example.com"
    - shortcode: coc
      room_id: "!coc:example.com"
  invite_backoff:
    initial_delay: 2s
    max_delay: 1h
logging:
  - type: std
    level: debug
`

func TestLoadConfig(t *testing.T) {
	c, err := loadConfig("/base", []byte(testConfig))
	require.NoError(t, err)

	configErrs := &ConfigErrors{}
	c.Verify(configErrs)
	assert.Empty(t, *configErrs)

	assert.Equal(t, "/base/jetstream", string(c.Global.JetStream.StoragePath))
	assert.Equal(t, []string{"!spam:example.com", "!coc:example.com"}, c.Moderation.RuleRooms())
	assert.Equal(t, 2*time.Second, c.Moderation.InviteBackoff.InitialDelay)
	assert.Equal(t, time.Hour, c.Moderation.InviteBackoff.MaxDelay)
	assert.Equal(t, "example.com", string(c.Global.ServerName()))
	assert.Same(t, &c.Global, c.Moderation.Matrix)

	room, ok := c.Moderation.RuleListRoom("coc")
	assert.True(t, ok)
	assert.Equal(t, "!coc:example.com", room)
	_, ok = c.Moderation.RuleListRoom("nope")
	assert.False(t, ok)

	assert.True(t, c.Moderation.IsProtected("!lobby:example.com"))
	assert.False(t, c.Moderation.IsProtected("!spam:example.com"))
	assert.True(t, c.Moderation.InviteAllowed("@alice:example.com"))
	assert.False(t, c.Moderation.IsModerator("@mallory:example.com"))
}

func TestLoadConfigWrongVersion(t *testing.T) {
	_, err := loadConfig("/base", []byte("version: 99\n"))
	assert.Error(t, err)
}

func TestVerifyReportsProblems(t *testing.T) {
	c := &Warden{}
	c.Defaults(false)
	c.Moderation.RuleLists = []RuleList{
		{Shortcode: "spam", RoomID: "!a:example.com"},
		{Shortcode: "spam", RoomID: "#alias:example.com"},
	}
	c.Moderation.ProtectedRooms = []string{"lobby"}
	c.Moderation.AllowInvites = []string{"alice"}
	c.Moderation.InviteBackoff.MaxDelay = time.Second

	configErrs := &ConfigErrors{}
	c.Verify(configErrs)

	assert.Contains(t, *configErrs, `missing config key "global.homeserver_url"`)
	assert.Contains(t, *configErrs, `missing config key "global.user_id"`)
	assert.Contains(t, *configErrs, `missing config key "global.access_token"`)
	assert.Contains(t, *configErrs, `duplicate rule list shortcode "spam"`)
	assert.Contains(t, *configErrs, `invalid value for config key "moderation.protected_rooms[0]": "lobby" is not a room ID`)
	assert.Contains(t, *configErrs, `invalid value for config key "moderation.invite_backoff.max_delay": must not be less than initial_delay`)
	assert.Greater(t, len(*configErrs), 6)
}

func TestGeneratedConfigRoundTrips(t *testing.T) {
	c := &Warden{}
	c.Defaults(true)
	c.Global.AccessToken = "token"

	data, err := yaml.Marshal(c)
	require.NoError(t, err)

	loaded, err := loadConfig("/base", data)
	require.NoError(t, err)

	configErrs := &ConfigErrors{}
	loaded.Verify(configErrs)
	assert.Empty(t, *configErrs)
	assert.Equal(t, c.Moderation.RuleLists, loaded.Moderation.RuleLists)
}

func TestConfigErrorsError(t *testing.T) {
	errs := ConfigErrors{"first"}
	assert.Equal(t, "first", errs.Error())
	errs.Add("second")
	assert.Equal(t, "first (and 1 other problems)", errs.Error())
}
