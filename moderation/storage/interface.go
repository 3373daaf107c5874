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

package storage

import (
	"context"

	"github.com/matrix-org/warden/moderation/api"
)

// Database stores the history of moderation actions taken by the bot.
type Database interface {
	RecordAction(ctx context.Context, record *api.EnforcementRecord) error
	SelectActionsForUser(ctx context.Context, userID string, limit int) ([]api.EnforcementRecord, error)
}
