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
	"fmt"

	"github.com/matrix-org/warden/internal/sqlutil"
	"github.com/matrix-org/warden/moderation/storage/postgres"
	"github.com/matrix-org/warden/moderation/storage/shared"
	"github.com/matrix-org/warden/moderation/storage/sqlite3"
	"github.com/matrix-org/warden/setup/config"
	"github.com/matrix-org/warden/setup/process"
)

// NewDatabase opens a new Postgres or Sqlite database (based on dataSourceName scheme)
// and sets postgres connection parameters
func NewDatabase(processCtx *process.ProcessContext, dbProperties *config.DatabaseOptions) (Database, error) {
	db, writer, err := sqlutil.Connection(processCtx, dbProperties)
	if err != nil {
		return nil, fmt.Errorf("sqlutil.Connection: %w", err)
	}
	var d *shared.Database
	switch {
	case dbProperties.ConnectionString.IsSQLite():
		d, err = sqlite3.NewDatabase(db, writer)
	case dbProperties.ConnectionString.IsPostgres():
		d, err = postgres.NewDatabase(db, writer)
	default:
		return nil, fmt.Errorf("unexpected database type")
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}
