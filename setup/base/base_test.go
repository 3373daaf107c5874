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

package base

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/warden/setup/config"
	"github.com/matrix-org/warden/setup/process"
)

func TestHealthEndpoint(t *testing.T) {
	processCtx := process.NewProcessContext()
	cfg := &config.Warden{}
	cfg.Defaults(true)
	cfg.Global.Metrics.Enabled = true

	s := httptest.NewServer(NewRouter(processCtx, cfg))
	defer s.Close()

	resp, err := s.Client().Get(s.URL + "/monitor/health")
	require.NoError(t, err)
	resp.Body.Close() // nolint: errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	processCtx.Degraded("power levels missing in !room:test")
	processCtx.Degraded("power levels missing in !room:test")

	resp, err = s.Client().Get(s.URL + "/monitor/health")
	require.NoError(t, err)
	defer resp.Body.Close() // nolint: errcheck
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body struct {
		Warnings []string `json:"warnings"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"power levels missing in !room:test"}, body.Warnings)

	resp, err = s.Client().Get(s.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close() // nolint: errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsDisabled(t *testing.T) {
	cfg := &config.Warden{}
	cfg.Defaults(true)

	s := httptest.NewServer(NewRouter(process.NewProcessContext(), cfg))
	defer s.Close()

	resp, err := s.Client().Get(s.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close() // nolint: errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = s.Client().Get(s.URL + "/monitor/up")
	require.NoError(t, err)
	resp.Body.Close() // nolint: errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
