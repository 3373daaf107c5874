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
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/matrix-org/warden/internal"
	"github.com/matrix-org/warden/setup/config"
	"github.com/matrix-org/warden/setup/process"
)

const HTTPServerTimeout = time.Minute * 5
const HTTPClientTimeout = time.Second * 30

// CreateClient creates the HTTP client used to talk to the homeserver. The
// timeout has to outlast a sync long-poll.
func CreateClient() *http.Client {
	return &http.Client{Timeout: HTTPClientTimeout + time.Minute}
}

// SetupSentry initialises Sentry if it is enabled, and flushes it on shutdown.
func SetupSentry(processCtx *process.ProcessContext, cfg *config.Warden) {
	if !cfg.Global.Sentry.Enabled {
		return
	}
	logrus.Info("Setting up Sentry for debugging...")
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Global.Sentry.DSN,
		Environment:      cfg.Global.Sentry.Environment,
		Debug:            true,
		ServerName:       string(cfg.Global.ServerName()),
		Release:          "warden@" + internal.VersionString(),
		AttachStacktrace: true,
	})
	if err != nil {
		logrus.WithError(err).Panic("failed to start Sentry")
	}
	processCtx.ComponentStarted()
	go func() {
		<-processCtx.WaitForShutdown()
		if !sentry.Flush(time.Second * 5) {
			logrus.Warnf("failed to flush all Sentry events!")
		}
		processCtx.ComponentFinished()
	}()
}

// ConfigureAdminEndpoints adds the liveness and health endpoints. Health
// reports 503 along with the reasons while the process is degraded.
func ConfigureAdminEndpoints(processCtx *process.ProcessContext, router *mux.Router) {
	router.HandleFunc("/monitor/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}).Methods(http.MethodGet)
	router.HandleFunc("/monitor/health", func(w http.ResponseWriter, r *http.Request) {
		if isDegraded, reasons := processCtx.IsDegraded(); isDegraded {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(503)
			_ = json.NewEncoder(w).Encode(struct {
				Warnings []string `json:"warnings"`
			}{
				Warnings: reasons,
			})
			return
		}
		w.WriteHeader(200)
	}).Methods(http.MethodGet)
}

// NewRouter builds the router for the admin listener.
func NewRouter(processCtx *process.ProcessContext, cfg *config.Warden) http.Handler {
	router := mux.NewRouter().SkipClean(true).UseEncodedPath()
	ConfigureAdminEndpoints(processCtx, router)
	if cfg.Global.Metrics.Enabled {
		router.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Global.Sentry.Enabled {
		sentryHandler := sentryhttp.New(sentryhttp.Options{
			Repanic: true,
		})
		return sentryHandler.Handle(router)
	}
	return router
}

// SetupAndServeHTTP serves the admin endpoints and, if enabled, Prometheus
// metrics until the process shuts down. It does nothing if no listen address
// is configured.
func SetupAndServeHTTP(processCtx *process.ProcessContext, cfg *config.Warden) {
	addr := cfg.Global.Metrics.Listen
	if addr == "" {
		return
	}
	serv := &http.Server{
		Addr:         addr,
		WriteTimeout: HTTPServerTimeout,
		Handler:      NewRouter(processCtx, cfg),
		BaseContext: func(_ net.Listener) context.Context {
			return processCtx.Context()
		},
	}

	var shutdown atomic.Bool // RegisterOnShutdown can be called more than once
	processCtx.ComponentStarted()
	serv.RegisterOnShutdown(func() {
		if shutdown.CompareAndSwap(false, true) {
			processCtx.ComponentFinished()
			logrus.Infof("Stopped HTTP listener")
		}
	})
	go func() {
		logrus.Infof("Starting HTTP listener on %s", serv.Addr)
		if err := serv.ListenAndServe(); err != nil {
			if err != http.ErrServerClosed {
				logrus.WithError(err).Fatal("failed to serve HTTP")
			}
		}
	}()

	<-processCtx.WaitForShutdown()
	logrus.Infof("Stopping HTTP listener")
	_ = serv.Shutdown(context.Background())
}

// WaitForShutdown blocks until a signal is received or the process is shut
// down some other way, then waits for all components to finish.
func WaitForShutdown(processCtx *process.ProcessContext) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigs:
	case <-processCtx.WaitForShutdown():
	}
	signal.Reset(syscall.SIGINT, syscall.SIGTERM)

	logrus.Warnf("Shutdown signal received")

	processCtx.ShutdownWarden()
	processCtx.WaitForComponentsToFinish()

	logrus.Warnf("Warden is exiting now")
}
