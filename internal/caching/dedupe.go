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

package caching

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// EventDeduplicator remembers recently seen event IDs so that an event
// delivered more than once, for example by a sync replay or a JetStream
// redelivery, is only handled once.
type EventDeduplicator struct {
	seen *cache.Cache
}

func NewEventDeduplicator(lifetime time.Duration) *EventDeduplicator {
	return &EventDeduplicator{
		seen: cache.New(lifetime, lifetime*2),
	}
}

// FirstSeen records the event ID and reports whether this is the first time
// it has been seen within the cache lifetime. Safe for concurrent use.
func (d *EventDeduplicator) FirstSeen(eventID string) bool {
	return d.seen.Add(eventID, struct{}{}, cache.DefaultExpiration) == nil
}
