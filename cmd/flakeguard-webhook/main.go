/*
Copyright 2026 The FlakeGuard Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command flakeguard-webhook serves the inbound webhook receiver of
// spec.md §6.3 as its own process, independently scalable from the
// polling-driven flakeguard-worker. It runs its own Job Queue Manager so
// a received delivery is ingested without a round trip to another
// process; a deployment wanting one shared queue instead points both
// commands' store/queue wiring at the same durable backend.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flakeguard/flakeguard/internal/appctx"
	"github.com/flakeguard/flakeguard/internal/artifact"
	"github.com/flakeguard/flakeguard/internal/config"
	"github.com/flakeguard/flakeguard/internal/ferr"
	"github.com/flakeguard/flakeguard/internal/ingest"
	"github.com/flakeguard/flakeguard/internal/jobqueue"
	"github.com/flakeguard/flakeguard/internal/model"
	"github.com/flakeguard/flakeguard/internal/platform"
	"github.com/flakeguard/flakeguard/internal/queue"
	"github.com/flakeguard/flakeguard/internal/server"
	"github.com/flakeguard/flakeguard/internal/store/memstore"
	"github.com/flakeguard/flakeguard/internal/wiring"
)

var (
	listenAddr = flag.String("listen-addr", ":8080", "address the webhook/health/metrics server listens on")
	secret     = flag.String("webhook-secret", os.Getenv("FLAKEGUARD_WEBHOOK_SECRET"), "shared HMAC-SHA256 webhook secret")
	baseURL    = flag.String("platform-base-url", "https://api.github.com", "hosting platform API base URL")
	token      = flag.String("platform-token", os.Getenv("FLAKEGUARD_PLATFORM_TOKEN"), "hosting platform API token")
)

func validate() error {
	if *secret == "" {
		return ferr.New(ferr.AuthenticationFailed, "webhook secret is required (--webhook-secret or FLAKEGUARD_WEBHOOK_SECRET)")
	}
	if *token == "" {
		return ferr.New(ferr.AuthenticationFailed, "platform token is required (--platform-token or FLAKEGUARD_PLATFORM_TOKEN)")
	}
	return nil
}

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.NewEntry(logrus.StandardLogger())

	flag.Parse()
	if err := validate(); err != nil {
		log.WithError(err).Fatal("invalid options")
	}

	cfg := config.Default()
	actx := appctx.New(logrus.StandardLogger(), cfg)
	st := memstore.New()
	q := queue.New(cfg.Queue)
	client := platform.New(cfg, *baseURL, *token, q, actx.Log, actx.Audit)
	artifacts := artifact.New(cfg.Artifacts, client, nil, actx.Log)
	coordinator := ingest.New(client, artifacts, st, cfg.Parser, cfg.Ingest, actx.Log)

	mgr := jobqueue.New(cfg.Queue, cfg.Retry, actx.Log)
	bridge := wiring.NewIngestBridge(mgr)
	mgr.RegisterHandler(model.JobIngest, bridge.Handler(coordinator))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	webhook := server.NewWebhookHandler([]byte(*secret), st, bridge, actx.Audit, actx.Log)
	health := server.NewHealthHandler(time.Now(), []server.Check{
		server.DatabaseCheck(st),
		server.QueueBrokerCheck(client.CircuitState),
		server.QueuesCheck(cfg.Queue.MaxSize, map[string]server.QueueDepthProbe{
			"ingest": func() int { return mgr.LaneDepth(model.JobIngest) },
		}),
	})
	srv := server.New(webhook, health, actx.Log)

	httpServer := &http.Server{Addr: *listenAddr, Handler: srv, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			actx.Log.WithError(err).Fatal("webhook server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = mgr.Stop(shutdownCtx)
}
