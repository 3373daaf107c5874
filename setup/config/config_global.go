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

package config

import (
	"net/url"
	"time"

	"github.com/matrix-org/gomatrixserverlib/spec"
)

type Global struct {
	// The client-server API base URL of the homeserver the bot account lives on,
	// e.g. "https://matrix.example.com".
	HomeserverURL string `yaml:"homeserver_url"`

	// The full Matrix user ID of the bot account, e.g. "@warden:example.com".
	UserID string `yaml:"user_id"`

	// The access token of the bot account. Obtaining and refreshing this token
	// is left to the operator.
	AccessToken string `yaml:"access_token"`

	// Database used to keep the enforcement history.
	DatabaseOptions DatabaseOptions `yaml:"database"`

	// JetStream configuration
	JetStream JetStream `yaml:"jetstream"`

	// Metrics configuration
	Metrics Metrics `yaml:"metrics"`

	// Sentry configuration
	Sentry Sentry `yaml:"sentry"`
}

func (c *Global) Defaults(generate bool) {
	if generate {
		c.HomeserverURL = "https://localhost:8448"
		c.UserID = "@warden:localhost"
		c.AccessToken = ""
		c.DatabaseOptions.ConnectionString = "file:warden.db"
	}
	c.DatabaseOptions.Defaults(10)
	c.JetStream.Defaults(generate)
	c.Metrics.Defaults(generate)
	c.Sentry.Defaults()
}

func (c *Global) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "global.homeserver_url", c.HomeserverURL)
	if c.HomeserverURL != "" {
		if u, err := url.Parse(c.HomeserverURL); err != nil || u.Scheme == "" || u.Host == "" {
			configErrs.Add("invalid value for config key \"global.homeserver_url\": " + c.HomeserverURL)
		}
	}
	checkNotEmpty(configErrs, "global.user_id", c.UserID)
	if c.UserID != "" {
		if _, err := spec.NewUserID(c.UserID, true); err != nil {
			configErrs.Add("invalid value for config key \"global.user_id\": " + err.Error())
		}
	}
	checkNotEmpty(configErrs, "global.access_token", c.AccessToken)
	c.DatabaseOptions.Verify(configErrs)
	c.JetStream.Verify(configErrs)
	c.Metrics.Verify(configErrs)
	c.Sentry.Verify(configErrs)
}

// ServerName returns the server part of the bot's user ID.
func (c *Global) ServerName() spec.ServerName {
	userID, err := spec.NewUserID(c.UserID, true)
	if err != nil {
		return ""
	}
	return userID.Domain()
}

// The configuration to use for Prometheus metrics
type Metrics struct {
	// Whether or not the metrics are enabled
	Enabled bool `yaml:"enabled"`
	// The address the metrics and health endpoints listen on, e.g. "localhost:9090"
	Listen string `yaml:"listen"`
}

func (c *Metrics) Defaults(generate bool) {
	c.Enabled = false
	if generate {
		c.Listen = "localhost:9090"
	}
}

func (c *Metrics) Verify(configErrs *ConfigErrors) {
	if c.Enabled {
		checkNotEmpty(configErrs, "global.metrics.listen", c.Listen)
	}
}

// The configuration to use for Sentry error reporting
type Sentry struct {
	Enabled bool `yaml:"enabled"`
	// The DSN to connect to e.g "https://examplePublicKey@o0.ingest.sentry.io/0"
	// See https://docs.sentry.io/platforms/go/configuration/options/
	DSN string `yaml:"dsn"`
	// The environment e.g "production"
	// See https://docs.sentry.io/platforms/go/configuration/environments/
	Environment string `yaml:"environment"`
}

func (c *Sentry) Defaults() {
	c.Enabled = false
}

func (c *Sentry) Verify(configErrs *ConfigErrors) {
	if c.Enabled {
		checkNotEmpty(configErrs, "global.sentry.dsn", c.DSN)
	}
}

type DatabaseOptions struct {
	// The connection string, file:filename.db or postgres://server....
	ConnectionString DataSource `yaml:"connection_string"`
	// Maximum open connections to the DB (0 = use default, negative means unlimited)
	MaxOpenConnections int `yaml:"max_open_conns"`
	// Maximum idle connections to the DB (0 = use default, negative means unlimited)
	MaxIdleConnections int `yaml:"max_idle_conns"`
	// maximum amount of time (in seconds) a connection may be reused (<= 0 means unlimited)
	ConnMaxLifetimeSeconds int `yaml:"conn_max_lifetime"`
}

func (c *DatabaseOptions) Defaults(conns int) {
	c.MaxOpenConnections = conns
	c.MaxIdleConnections = 2
	c.ConnMaxLifetimeSeconds = -1
}

func (c *DatabaseOptions) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "global.database.connection_string", string(c.ConnectionString))
	checkPositive(configErrs, "global.database.max_open_conns", int64(c.MaxOpenConnections))
	checkPositive(configErrs, "global.database.max_idle_conns", int64(c.MaxIdleConnections))
}

// MaxIdleConns returns maximum idle connections to the DB
func (c DatabaseOptions) MaxIdleConns() int {
	return c.MaxIdleConnections
}

// MaxOpenConns returns maximum open connections to the DB
func (c DatabaseOptions) MaxOpenConns() int {
	return c.MaxOpenConnections
}

// ConnMaxLifetime returns maximum amount of time a connection may be reused
func (c DatabaseOptions) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}
