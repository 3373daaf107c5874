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

package shared

import (
	"context"
	"database/sql"

	"github.com/matrix-org/warden/internal/sqlutil"
	"github.com/matrix-org/warden/moderation/api"
	"github.com/matrix-org/warden/moderation/storage/tables"
)

type Database struct {
	DB                 *sql.DB
	Writer             sqlutil.Writer
	EnforcementHistory tables.EnforcementHistory
}

func (d *Database) RecordAction(ctx context.Context, record *api.EnforcementRecord) error {
	return d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		return d.EnforcementHistory.InsertAction(ctx, txn, record)
	})
}

func (d *Database) SelectActionsForUser(ctx context.Context, userID string, limit int) ([]api.EnforcementRecord, error) {
	return d.EnforcementHistory.SelectActionsForUser(ctx, nil, userID, limit)
}
