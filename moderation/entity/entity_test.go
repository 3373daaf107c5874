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

package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/warden/moderation/api"
)

func mustIdentity(t *testing.T, userID string) api.Identity {
	t.Helper()
	id, err := api.NewIdentity(userID)
	require.NoError(t, err)
	return id
}

func TestParseClassifies(t *testing.T) {
	tests := []struct {
		pattern string
		want    Kind
	}{
		{"@user:domain.tld", KindUser},
		{"@foo*:badserver.tld", KindUser},
		{"@*:*", KindUser},
		{"@user:domain.tld:8448", KindUser},
		{"domain.tld", KindServer},
		{"*.domain.tld", KindServer},
		{"tld", KindServer},
		{"*", KindServer},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			p, err := Parse(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Kind())
			assert.Equal(t, tt.pattern, p.String())
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, pattern := range []string{
		"",
		"user:domain.tld",
		"domain.tld:8448",
		"@user",
		"@:domain.tld",
		"@user:",
		"evil @user:domain.tld",
		"user@domain.tld",
	} {
		t.Run(pattern, func(t *testing.T) {
			p, err := Parse(pattern)
			assert.Nil(t, p)
			var perr *PatternError
			require.True(t, errors.As(err, &perr), "expected a PatternError, got %v", err)
			assert.Equal(t, pattern, perr.Pattern)
		})
	}
}

func TestMatchesUserPattern(t *testing.T) {
	p, err := Parse("@foo*:badserver.tld")
	require.NoError(t, err)

	assert.True(t, p.Matches(mustIdentity(t, "@foobar:badserver.tld")))
	assert.True(t, p.Matches(mustIdentity(t, "@foobaz:badserver.tld")))
	assert.False(t, p.Matches(mustIdentity(t, "@bob:badserver.tld")))
	assert.False(t, p.Matches(mustIdentity(t, "@foobar:badserver.tld.example")))
	assert.False(t, p.Matches(mustIdentity(t, "@FOOBAR:badserver.tld")), "matching is case-sensitive")
}

func TestMatchesServerPattern(t *testing.T) {
	wildcard, err := Parse("*.badserver.tld")
	require.NoError(t, err)
	assert.True(t, wildcard.Matches(mustIdentity(t, "@foobar:baz.badserver.tld")))
	assert.True(t, wildcard.Matches(mustIdentity(t, "@foobar:a.b.badserver.tld")))
	assert.True(t, wildcard.Matches(mustIdentity(t, "@foobar:badserver.tld")), "*. also covers the domain itself")
	assert.False(t, wildcard.Matches(mustIdentity(t, "@foobar:notbadserver.tld")))
	assert.False(t, wildcard.Matches(mustIdentity(t, "@foobar:badserver.tld.example")))

	exact, err := Parse("badserver.tld")
	require.NoError(t, err)
	assert.True(t, exact.Matches(mustIdentity(t, "@foobar:badserver.tld")))
	assert.True(t, exact.Matches(mustIdentity(t, "@anyone:badserver.tld")), "server patterns ignore the localpart")
	assert.True(t, exact.Matches(mustIdentity(t, "@foobar:badserver.tld:8448")), "ports are ignored")
	assert.False(t, exact.Matches(mustIdentity(t, "@foobar:goodserver.tld")))
	assert.False(t, exact.Matches(mustIdentity(t, "@badserver.tld:goodserver.tld")), "server patterns never look at the localpart")

	single, err := Parse("bad?.tld")
	require.NoError(t, err)
	assert.True(t, single.Matches(mustIdentity(t, "@x:bad1.tld")))
	assert.False(t, single.Matches(mustIdentity(t, "@x:bad12.tld")))
}

func TestRegexMetacharactersAreLiteral(t *testing.T) {
	p, err := Parse("bad.tld")
	require.NoError(t, err)
	assert.False(t, p.Matches(mustIdentity(t, "@x:badxtld")))

	p, err = Parse("@a+b:example.com")
	require.NoError(t, err)
	assert.True(t, p.Matches(mustIdentity(t, "@a+b:example.com")))
	assert.False(t, p.Matches(mustIdentity(t, "@aab:example.com")))
}

func TestMatchesIsPure(t *testing.T) {
	id := mustIdentity(t, "@spam:evil.tld")
	patterns := []string{"*.tld", "@spam:*", "good.tld", "evil.tld"}
	want := []bool{true, true, false, true}
	for round := 0; round < 3; round++ {
		for i := len(patterns) - 1; i >= 0; i-- {
			got, err := Matches(id, patterns[i])
			require.NoError(t, err)
			assert.Equal(t, want[i], got, patterns[i])
		}
	}
}

func TestMatchesInvalidPattern(t *testing.T) {
	ok, err := Matches(mustIdentity(t, "@spam:evil.tld"), "spam:evil.tld")
	assert.False(t, ok)
	var perr *PatternError
	assert.True(t, errors.As(err, &perr))
}
