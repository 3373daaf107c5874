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

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/matrix-org/warden/setup/config"
)

func main() {
	cfg, err := buildConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	bs, err := yaml.Marshal(cfg)
	if err != nil {
		panic(err)
	}

	fmt.Println(string(bs))
}

func buildConfig(fs *flag.FlagSet, args []string) (*config.Warden, error) {
	defaultsForCI := fs.Bool("ci", false, "Populate the configuration with sane defaults for use in CI")
	homeserverURL := fs.String("homeserver", "", "The client-server API URL of the bot's homeserver")
	userID := fs.String("user", "", "The Matrix user ID of the bot account")
	dbURI := fs.String("db", "", "The DB URI to use for the enforcement history")
	dirPath := fs.String("dir", "./", "The folder to use for paths (like JetStream storage)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &config.Warden{}
	cfg.Defaults(true)
	cfg.Global.JetStream.StoragePath = config.Path(filepath.Join(*dirPath, "jetstream"))
	cfg.Logging = []config.LogrusHook{
		{
			Type:  "file",
			Level: "info",
			Params: map[string]interface{}{
				"path": filepath.Join(*dirPath, "log"),
			},
		},
	}
	if *homeserverURL != "" {
		cfg.Global.HomeserverURL = *homeserverURL
	}
	if *userID != "" {
		cfg.Global.UserID = *userID
	}
	if *dbURI != "" {
		cfg.Global.DatabaseOptions.ConnectionString = config.DataSource(*dbURI)
	}

	if *defaultsForCI {
		cfg.Global.AccessToken = "ci-access-token"
		cfg.Global.JetStream.InMemory = true
		cfg.Global.Metrics.Enabled = true
		cfg.Moderation.InviteBackoff.MaxDelay = cfg.Moderation.InviteBackoff.InitialDelay * 4
		cfg.Logging[0].Level = "trace"
		cfg.Logging[0].Type = "std"
	}

	return cfg, nil
}
