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

package sqlite3

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/matrix-org/gomatrixserverlib/spec"

	"github.com/matrix-org/warden/internal"
	"github.com/matrix-org/warden/internal/sqlutil"
	"github.com/matrix-org/warden/moderation/api"
	"github.com/matrix-org/warden/moderation/storage/tables"
)

const enforcementHistorySchema = `
-- Stores every moderation action the bot has applied.
CREATE TABLE IF NOT EXISTS warden_enforcement_history (
	-- Unique ID of this record
	id TEXT NOT NULL PRIMARY KEY,
	-- The protected room the action was applied in
	room_id TEXT NOT NULL,
	-- The user the action was applied to
	user_id TEXT NOT NULL,
	-- One of "ban", "kick" or "mute"
	action TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	-- The entity of the rule that matched the user
	entity TEXT NOT NULL DEFAULT '',
	-- What caused the action, "membership" or "command"
	trigger_kind TEXT NOT NULL,
	-- When the action was applied, as a unix timestamp (ms resolution)
	ts_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS warden_enforcement_history_user_idx ON warden_enforcement_history(user_id, ts_ms);
`

const insertActionSQL = "" +
	"INSERT INTO warden_enforcement_history (id, room_id, user_id, action, reason, entity, trigger_kind, ts_ms)" +
	" VALUES ($1, $2, $3, $4, $5, $6, $7, $8)"

const selectActionsForUserSQL = "" +
	"SELECT id, room_id, user_id, action, reason, entity, trigger_kind, ts_ms FROM warden_enforcement_history" +
	" WHERE user_id = $1 ORDER BY ts_ms DESC, id DESC LIMIT $2"

type enforcementHistoryStatements struct {
	insertActionStmt         *sql.Stmt
	selectActionsForUserStmt *sql.Stmt
}

func NewSQLiteEnforcementHistoryTable(db *sql.DB) (tables.EnforcementHistory, error) {
	s := &enforcementHistoryStatements{}
	_, err := db.Exec(enforcementHistorySchema)
	if err != nil {
		return nil, err
	}
	return s, sqlutil.StatementList{
		{&s.insertActionStmt, insertActionSQL},
		{&s.selectActionsForUserStmt, selectActionsForUserSQL},
	}.Prepare(db)
}

func (s *enforcementHistoryStatements) InsertAction(
	ctx context.Context, txn *sql.Tx, record *api.EnforcementRecord,
) error {
	stmt := sqlutil.TxStmt(txn, s.insertActionStmt)
	_, err := stmt.ExecContext(
		ctx, record.ID, record.RoomID, record.UserID, record.Action.String(),
		record.Reason, record.Entity, string(record.Trigger), int64(record.Timestamp),
	)
	return err
}

func (s *enforcementHistoryStatements) SelectActionsForUser(
	ctx context.Context, txn *sql.Tx, userID string, limit int,
) ([]api.EnforcementRecord, error) {
	stmt := sqlutil.TxStmt(txn, s.selectActionsForUserStmt)
	rows, err := stmt.QueryContext(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	defer internal.CloseAndLogIfError(ctx, rows, "SelectActionsForUser: rows.close() failed")

	var records []api.EnforcementRecord
	for rows.Next() {
		var record api.EnforcementRecord
		var action, trigger string
		var ts int64
		if err = rows.Scan(
			&record.ID, &record.RoomID, &record.UserID, &action,
			&record.Reason, &record.Entity, &trigger, &ts,
		); err != nil {
			return nil, err
		}
		if record.Action, err = api.ParseAction(action); err != nil {
			return nil, fmt.Errorf("record %s: %w", record.ID, err)
		}
		record.Trigger = api.Trigger(trigger)
		record.Timestamp = spec.Timestamp(ts)
		records = append(records, record)
	}
	return records, rows.Err()
}
