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

package jetstream

import (
	"fmt"
	"strings"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/matrix-org/warden/setup/config"
	"github.com/matrix-org/warden/setup/process"
)

// NATSInstance holds an in-process NATS server, if one was started, and the
// client connection to whichever server is in use.
type NATSInstance struct {
	*natsserver.Server
	sync.Mutex
	nc *nats.Conn
	js nats.JetStreamContext
}

// Prepare connects to NATS, starting an in-process server if no addresses
// are configured, and makes sure all streams exist.
func (s *NATSInstance) Prepare(processCtx *process.ProcessContext, cfg *config.JetStream) (nats.JetStreamContext, *nats.Conn, error) {
	s.Lock()
	defer s.Unlock()
	if s.js != nil {
		return s.js, s.nc, nil
	}
	// check if we need an in-process NATS Server
	if len(cfg.Addresses) != 0 {
		nc, err := nats.Connect(strings.Join(cfg.Addresses, ","))
		if err != nil {
			return nil, nil, fmt.Errorf("nats.Connect: %w", err)
		}
		return s.setupNATS(cfg, nc)
	}
	if s.Server == nil {
		var err error
		s.Server, err = natsserver.NewServer(&natsserver.Options{
			ServerName:      "warden",
			DontListen:      true,
			JetStream:       true,
			StoreDir:        string(cfg.StoragePath),
			NoSystemAccount: true,
			MaxPayload:      8 * 1024 * 1024,
			NoSigs:          true,
			NoLog:           cfg.InMemory,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("natsserver.NewServer: %w", err)
		}
		s.SetLogger(NewLogAdapter(), false, false)
		processCtx.ComponentStarted()
		go s.Start()
		go func() {
			<-processCtx.WaitForShutdown()
			s.Server.Shutdown()
			s.WaitForShutdown()
			processCtx.ComponentFinished()
		}()
	}
	if !s.ReadyForConnections(time.Second * 60) {
		logrus.Fatalln("NATS did not start in time")
	}
	nc, err := nats.Connect("", nats.InProcessServer(s))
	if err != nil {
		return nil, nil, fmt.Errorf("nats.Connect: %w", err)
	}
	return s.setupNATS(cfg, nc)
}

func (s *NATSInstance) setupNATS(cfg *config.JetStream, nc *nats.Conn) (nats.JetStreamContext, *nats.Conn, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, nil, fmt.Errorf("nc.JetStream: %w", err)
	}

	for _, stream := range streams { // streams are defined in streams.go
		name := cfg.Prefixed(stream.Name)
		info, err := js.StreamInfo(name)
		if err != nil && err != nats.ErrStreamNotFound {
			return nil, nil, fmt.Errorf("js.StreamInfo: %w", err)
		}
		if info != nil {
			continue
		}
		// Streams are shared between instances with the same prefix, so
		// work on a copy.
		streamCfg := *stream
		streamCfg.Name = name
		streamCfg.Subjects = []string{name}
		// If we're trying to keep everything in memory (e.g. unit tests)
		// then overwrite the storage policy.
		if cfg.InMemory {
			streamCfg.Storage = nats.MemoryStorage
		}
		if _, err = js.AddStream(&streamCfg); err != nil {
			return nil, nil, fmt.Errorf("js.AddStream %q: %w", name, err)
		}
	}

	s.nc, s.js = nc, js
	return js, nc, nil
}
