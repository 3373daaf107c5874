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

// Package entity matches user identities against the entity patterns used by
// moderation rules.
//
// An entity is either a user pattern, such as "@spam*:example.com", which is
// matched against the full user ID, or a server pattern, such as
// "*.example.com", which is matched against the server the user belongs to.
// Only * (zero or more characters) and ? (exactly one character) are
// wildcards, the same as for m.room.server_acl, except that a server pattern
// starting with "*." also matches the domain itself, so "*.example.com"
// covers example.com and all of its subdomains. Matching is case-sensitive.
package entity

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"unicode"

	"github.com/matrix-org/warden/moderation/api"
)

type Kind int

const (
	KindUser Kind = iota + 1
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindServer:
		return "server"
	default:
		return "invalid"
	}
}

// PatternError is returned when an entity pattern is malformed or ambiguous.
type PatternError struct {
	Pattern string
	Reason  string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid entity %q: %s", e.Pattern, e.Reason)
}

// Pattern is a parsed, compiled entity pattern.
type Pattern struct {
	raw  string
	kind Kind
	expr *regexp.Regexp
}

// Parse classifies and compiles an entity pattern.
func Parse(pattern string) (*Pattern, error) {
	kind, reason := classify(pattern)
	if kind == 0 {
		return nil, &PatternError{Pattern: pattern, Reason: reason}
	}
	expr, err := compileGlob(kind, pattern)
	if err != nil {
		return nil, &PatternError{Pattern: pattern, Reason: err.Error()}
	}
	return &Pattern{raw: pattern, kind: kind, expr: expr}, nil
}

func classify(pattern string) (Kind, string) {
	if pattern == "" {
		return 0, "empty pattern"
	}
	if strings.IndexFunc(pattern, unicode.IsSpace) >= 0 {
		return 0, "contains whitespace"
	}
	if strings.HasPrefix(pattern, "@") {
		sep := strings.IndexByte(pattern, ':')
		switch {
		case sep < 0:
			return 0, "user pattern has no server part"
		case sep == 1:
			return 0, "user pattern has no localpart"
		case sep == len(pattern)-1:
			return 0, "user pattern has no server part"
		}
		return KindUser, ""
	}
	if strings.ContainsAny(pattern, ":@") {
		// Either a user ID without the sigil or a server name with a port.
		// Guessing which would risk matching the wrong thing.
		return 0, "ambiguous pattern, user patterns must start with @ and server patterns must not contain :"
	}
	return KindServer, ""
}

func compileGlob(kind Kind, orig string) (*regexp.Regexp, error) {
	prefix := "^"
	if kind == KindServer && strings.HasPrefix(orig, "*.") {
		prefix = `^(?:.*\.)?`
		orig = orig[2:]
	}
	escaped := regexp.QuoteMeta(orig)
	escaped = strings.Replace(escaped, "\\?", ".", -1)
	escaped = strings.Replace(escaped, "\\*", ".*", -1)
	return regexp.Compile(prefix + escaped + "$")
}

func (p *Pattern) Kind() Kind {
	return p.kind
}

func (p *Pattern) String() string {
	return p.raw
}

// Matches reports whether the identity is covered by the pattern. User
// patterns look at the full user ID; server patterns look at the server
// name with any port removed.
func (p *Pattern) Matches(identity api.Identity) bool {
	switch p.kind {
	case KindUser:
		return p.expr.MatchString(identity.UserID)
	case KindServer:
		serverName := string(identity.ServerName)
		if host, _, err := net.SplitHostPort(serverName); err == nil {
			serverName = host
		}
		return p.expr.MatchString(serverName)
	}
	return false
}

// Matches parses the pattern and matches the identity against it.
func Matches(identity api.Identity, pattern string) (bool, error) {
	p, err := Parse(pattern)
	if err != nil {
		return false, err
	}
	return p.Matches(identity), nil
}
