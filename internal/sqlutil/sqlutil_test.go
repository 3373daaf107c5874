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
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/warden/setup/config"
)

func TestParseFileURI(t *testing.T) {
	tests := []struct {
		in      config.DataSource
		want    string
		wantErr bool
	}{
		{in: "file:warden.db", want: "warden.db"},
		{in: "file:///var/lib/warden/warden.db", want: "/var/lib/warden/warden.db"},
		{in: "file:", wantErr: true},
		{in: "postgres://localhost/warden", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got, err := ParseFileURI(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenRejectsUnknownConnectionString(t *testing.T) {
	_, err := Open(&config.DatabaseOptions{ConnectionString: "mysql://localhost"}, NewDummyWriter())
	assert.Error(t, err)
}

func TestExclusiveWriterSerialisesWrites(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "writer.db")
	opts := &config.DatabaseOptions{ConnectionString: config.DataSource("file:" + dbPath)}
	writer := NewExclusiveWriter()
	db, err := Open(opts, writer)
	require.NoError(t, err)
	defer db.Close() // nolint: errcheck

	_, err = db.Exec("CREATE TABLE counter (n INTEGER NOT NULL)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO counter (n) VALUES (0)")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := writer.Do(db, nil, func(txn *sql.Tx) error {
				var n int
				if err := txn.QueryRow("SELECT n FROM counter").Scan(&n); err != nil {
					return err
				}
				_, err := txn.Exec("UPDATE counter SET n = $1", n+1)
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var n int
	require.NoError(t, db.QueryRow("SELECT n FROM counter").Scan(&n))
	assert.Equal(t, 20, n)
}
