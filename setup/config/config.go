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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// Version is the current version of the config format.
// This will change whenever we make breaking changes to the config format.
const Version = 1

// Warden contains all the config used by a warden process.
// Relative paths are resolved relative to the current working directory
type Warden struct {
	// The version of the configuration file.
	// If the version in a file doesn't match the current warden config
	// version then we can give a clear error message telling the user
	// to update their config file to the current version.
	// The version of the file should only be different if there has
	// been a breaking change to the config file format.
	Version int `yaml:"version"`

	Global     Global     `yaml:"global"`
	Moderation Moderation `yaml:"moderation"`

	// The config for logging informations. Each hook will be added to logrus.
	Logging []LogrusHook `yaml:"logging"`
}

// A Path on the filesystem.
type Path string

// A DataSource for opening a postgresql or sqlite database.
type DataSource string

func (d DataSource) IsSQLite() bool {
	return strings.HasPrefix(string(d), "file:")
}

func (d DataSource) IsPostgres() bool {
	// commented line may not always be true?
	// return strings.HasPrefix(string(d), "postgres:")
	return !d.IsSQLite()
}

// LogrusHook represents a single logrus hook. At this point, only parsing and
// verification of the proper values for type and level are done.
// Validity/integrity checks on the parameters are done when configuring logrus.
type LogrusHook struct {
	// The type of hook, currently only "file", "syslog" and "std" are supported.
	Type string `yaml:"type"`

	// The level of the logs to produce. Will output only this level and above.
	Level string `yaml:"level"`

	// The parameters for this hook.
	Params map[string]interface{} `yaml:"params"`
}

// ConfigErrors stores problems encountered when parsing a config file.
// It implements the error interface.
type ConfigErrors []string

// Load a yaml config file for a warden process.
// Checks the config to ensure that it is valid.
func Load(configPath string) (*Warden, error) {
	configData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	basePath, err := filepath.Abs(".")
	if err != nil {
		return nil, err
	}
	return loadConfig(basePath, configData)
}

func loadConfig(basePath string, configData []byte) (*Warden, error) {
	var c Warden
	c.Defaults(false)

	if err := yaml.Unmarshal(configData, &c); err != nil {
		return nil, err
	}

	if c.Version != Version {
		return nil, fmt.Errorf("unknown config version %d, expected %d", c.Version, Version)
	}

	if c.Global.JetStream.StoragePath != "" {
		c.Global.JetStream.StoragePath = Path(absPath(basePath, c.Global.JetStream.StoragePath))
	}

	c.Wiring()
	return &c, nil
}

// Defaults sets default config values if they are not explicitly set.
func (c *Warden) Defaults(generate bool) {
	c.Version = Version
	c.Global.Defaults(generate)
	c.Moderation.Defaults(generate)
	c.Logging = []LogrusHook{
		{
			Type:  "std",
			Level: "info",
		},
	}
	c.Wiring()
}

// Wiring points each component section back at the global section.
func (c *Warden) Wiring() {
	c.Global.JetStream.Matrix = &c.Global
	c.Moderation.Matrix = &c.Global
}

func (c *Warden) Verify(configErrs *ConfigErrors) {
	c.Global.Verify(configErrs)
	c.Moderation.Verify(configErrs)
	for i, hook := range c.Logging {
		checkNotEmpty(configErrs, fmt.Sprintf("logging[%d].type", i), hook.Type)
		checkNotEmpty(configErrs, fmt.Sprintf("logging[%d].level", i), hook.Level)
	}
}

// Error returns a string detailing how many errors were contained within a
// configErrors type.
func (errs ConfigErrors) Error() string {
	if len(errs) == 1 {
		return errs[0]
	}
	return fmt.Sprintf(
		"%s (and %d other problems)", errs[0], len(errs)-1,
	)
}

// Add appends an error to the list of errors in this configErrors.
// It is a wrapper to the builtin append and hides pointers from
// the client code.
// This method is safe to use with an uninitialized configErrors because
// if it is nil, it will be properly allocated.
func (errs *ConfigErrors) Add(str string) {
	*errs = append(*errs, str)
}

// checkNotEmpty verifies the given value is not empty in the configuration.
// If it is, adds an error to the list.
func checkNotEmpty(configErrs *ConfigErrors, key, value string) {
	if value == "" {
		configErrs.Add(fmt.Sprintf("missing config key %q", key))
	}
}

// checkNotZero verifies the given value is not zero in the configuration.
// If it is, adds an error to the list.
func checkNotZero(configErrs *ConfigErrors, key string, value int64) {
	if value == 0 {
		configErrs.Add(fmt.Sprintf("missing config key %q", key))
	}
}

// checkPositive verifies the given value is positive (zero included)
// in the configuration. If it is not, adds an error to the list.
func checkPositive(configErrs *ConfigErrors, key string, value int64) {
	if value < 0 {
		configErrs.Add(fmt.Sprintf("invalid value for config key %q: %d", key, value))
	}
}

func absPath(dir string, path Path) string {
	if filepath.IsAbs(string(path)) {
		// filepath.Join cleans the path so we should clean the absolute paths as well for consistency.
		return filepath.Clean(string(path))
	}
	return filepath.Join(dir, string(path))
}
