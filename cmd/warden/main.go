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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/matrix-org/warden/internal"
	"github.com/matrix-org/warden/internal/caching"
	"github.com/matrix-org/warden/internal/matrixclient"
	"github.com/matrix-org/warden/moderation"
	"github.com/matrix-org/warden/moderation/consumers"
	"github.com/matrix-org/warden/moderation/producers"
	"github.com/matrix-org/warden/moderation/storage"
	"github.com/matrix-org/warden/setup"
	basepkg "github.com/matrix-org/warden/setup/base"
	"github.com/matrix-org/warden/setup/config"
	"github.com/matrix-org/warden/setup/jetstream"
	"github.com/matrix-org/warden/setup/process"
)

func main() {
	cfg := setup.ParseFlags()

	configErrors := &config.ConfigErrors{}
	cfg.Verify(configErrors)
	if len(*configErrors) > 0 {
		for _, err := range *configErrors {
			logrus.Errorf("Configuration error: %s", err)
		}
		logrus.Fatalf("Failed to start due to configuration errors")
	}
	processCtx := process.NewProcessContext()

	internal.SetupStdLogging()
	internal.SetupHookLogging(cfg.Logging, "warden")

	basepkg.PlatformSanityChecks()

	logrus.Infof("Warden version %s", internal.VersionString())

	basepkg.SetupSentry(processCtx, cfg)

	db, err := storage.NewDatabase(processCtx, &cfg.Global.DatabaseOptions)
	if err != nil {
		logrus.WithError(err).Panicf("failed to connect to enforcement history database")
	}

	natsInstance := jetstream.NATSInstance{}
	js, _, err := natsInstance.Prepare(processCtx, &cfg.Global.JetStream)
	if err != nil {
		logrus.WithError(err).Panicf("failed to connect to NATS")
	}

	client, err := matrixclient.NewClient(&cfg.Global, basepkg.CreateClient())
	if err != nil {
		logrus.WithError(err).Panicf("failed to create Matrix client")
	}

	mod := moderation.NewModeration(processCtx, &cfg.Moderation, client, db)

	consumer := consumers.NewInboundEventConsumer(
		processCtx, cfg, js,
		caching.NewEventDeduplicator(cfg.Moderation.DedupeLifetime),
		mod,
	)
	if err = consumer.Start(); err != nil {
		logrus.WithError(err).Panicf("failed to start inbound event consumer")
	}

	producer := &producers.InboundEventProducer{
		Topic:     cfg.Global.JetStream.Prefixed(jetstream.InboundEvent),
		JetStream: js,
	}
	syncLoop := matrixclient.NewSyncLoop(client, producer)
	go syncLoop.Run(processCtx)

	upCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "up",
		ConstLabels: map[string]string{
			"version": internal.VersionString(),
		},
	})
	upCounter.Add(1)
	prometheus.MustRegister(upCounter)

	go basepkg.SetupAndServeHTTP(processCtx, cfg)

	logrus.WithFields(logrus.Fields{
		"user_id":         client.UserID(),
		"protected_rooms": len(cfg.Moderation.ProtectedRooms),
		"rule_lists":      len(cfg.Moderation.RuleLists),
	}).Info("Warden is running")

	// We want to block forever to let the sync loop and consumers do their work
	basepkg.WaitForShutdown(processCtx)
}
