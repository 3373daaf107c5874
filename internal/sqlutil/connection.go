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

package sqlutil

import (
	"database/sql"
	"fmt"

	"github.com/matrix-org/warden/setup/config"
	"github.com/matrix-org/warden/setup/process"
)

// Connection opens the configured database together with the Writer suited
// to its engine. The connection is closed when the process shuts down.
func Connection(processCtx *process.ProcessContext, dbProperties *config.DatabaseOptions) (*sql.DB, Writer, error) {
	if dbProperties.ConnectionString == "" {
		return nil, nil, fmt.Errorf("no database connections configured")
	}

	writer := NewDummyWriter()
	if dbProperties.ConnectionString.IsSQLite() {
		writer = NewExclusiveWriter()
	}

	db, err := Open(dbProperties, writer)
	if err != nil {
		return nil, nil, err
	}
	if processCtx != nil {
		processCtx.ComponentStarted()
		go func() {
			<-processCtx.WaitForShutdown()
			_ = db.Close()
			processCtx.ComponentFinished()
		}()
	}
	return db, writer, nil
}
