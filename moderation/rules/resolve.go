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
	"sort"

	"github.com/matrix-org/warden/moderation/api"
)

// Resolve picks the single rule to apply out of all the rules matching an
// identity: the first one when sorted ascending by action, so a ban always
// wins over a kick, and a kick over a mute. Rules with the same action are
// ordered by entity and then reason so that the result does not depend on
// the order the rules were read in. Returns false if there are no rules.
func Resolve(matching []api.Rule) (api.Rule, bool) {
	if len(matching) == 0 {
		return api.Rule{}, false
	}
	sorted := make([]api.Rule, len(matching))
	copy(sorted, matching)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.Reason < b.Reason
	})
	return sorted[0], true
}
