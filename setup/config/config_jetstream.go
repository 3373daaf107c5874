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

import "fmt"

type JetStream struct {
	Matrix *Global `yaml:"-"`

	// A list of NATS addresses to connect to. If none are specified, an
	// internal NATS server will be started.
	Addresses []string `yaml:"addresses"`
	// The prefix to use for stream names for this bot - really only
	// useful if running more than one warden on the same NATS deployment.
	TopicPrefix string `yaml:"topic_prefix"`
	// Persistent directory to store JetStream streams in.
	StoragePath Path `yaml:"storage_path"`
	// Keep all storage in memory. This is mostly useful for unit tests.
	InMemory bool `yaml:"in_memory"`
}

func (c *JetStream) Prefixed(name string) string {
	return fmt.Sprintf("%s%s", c.TopicPrefix, name)
}

func (c *JetStream) Durable(name string) string {
	return c.Prefixed(name)
}

func (c *JetStream) Defaults(generate bool) {
	c.Addresses = []string{}
	c.TopicPrefix = "Warden"
	if generate {
		c.StoragePath = Path("./")
	}
}

func (c *JetStream) Verify(configErrs *ConfigErrors) {
	// An internal server needs somewhere to keep its streams unless it is
	// running purely in memory.
	if len(c.Addresses) == 0 && !c.InMemory {
		checkNotEmpty(configErrs, "global.jetstream.storage_path", string(c.StoragePath))
	}
	checkNotEmpty(configErrs, "global.jetstream.topic_prefix", c.TopicPrefix)
}
