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

package postgres

import (
	"database/sql"

	// Import the postgres database driver.
	_ "github.com/lib/pq"

	"github.com/matrix-org/warden/internal/sqlutil"
	"github.com/matrix-org/warden/moderation/storage/shared"
)

// NewDatabase creates a new moderation history database on top of an open
// connection.
func NewDatabase(db *sql.DB, writer sqlutil.Writer) (*shared.Database, error) {
	history, err := NewPostgresEnforcementHistoryTable(db)
	if err != nil {
		return nil, err
	}
	return &shared.Database{
		DB:                 db,
		Writer:             writer,
		EnforcementHistory: history,
	}, nil
}
