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

//go:build windows
// +build windows

package internal

import (
	"io"

	"github.com/MFAshby/stdemuxerhook"
	"github.com/sirupsen/logrus"

	"github.com/matrix-org/warden/setup/config"
)

// SetupHookLogging configures the logging hooks defined in the configuration.
// Syslog is not available on Windows.
func SetupHookLogging(hooks []config.LogrusHook, componentName string) {
	for _, hook := range hooks {
		level, err := logrus.ParseLevel(hook.Level)
		if err != nil {
			logrus.Fatalf("Unrecognised logging level %s: %q", hook.Level, err)
		}
		if logrus.GetLevel() < level {
			logrus.SetLevel(level)
		}

		switch hook.Type {
		case "file":
			checkFileHookParams(hook.Params)
			setupFileHook(hook, level, componentName)
		case "std":
			logrus.AddHook(&logLevelHook{level, stdemuxerhook.New(logrus.StandardLogger())})
		default:
			logrus.Fatalf("Unrecognised logging hook type: %s", hook.Type)
		}
	}
	logrus.SetOutput(io.Discard)
}
