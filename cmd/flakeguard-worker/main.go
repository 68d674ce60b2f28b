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

// Command flakeguard-worker runs the background half of FlakeGuard: the
// job queue manager, the periodic discovery poll, and the HTTP health and
// metrics surface. Inbound webhook delivery is served by the separate
// flakeguard-webhook command. Flag handling follows boskos/cleaner/cmd's
// init()-registered flag.FlagVar + validate() shape.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/flakeguard/flakeguard/internal/appctx"
	"github.com/flakeguard/flakeguard/internal/artifact"
	"github.com/flakeguard/flakeguard/internal/config"
	"github.com/flakeguard/flakeguard/internal/ferr"
	"github.com/flakeguard/flakeguard/internal/ingest"
	"github.com/flakeguard/flakeguard/internal/jobqueue"
	"github.com/flakeguard/flakeguard/internal/model"
	"github.com/flakeguard/flakeguard/internal/platform"
	"github.com/flakeguard/flakeguard/internal/poll"
	"github.com/flakeguard/flakeguard/internal/queue"
	"github.com/flakeguard/flakeguard/internal/recompute"
	"github.com/flakeguard/flakeguard/internal/server"
	"github.com/flakeguard/flakeguard/internal/store/memstore"
	"github.com/flakeguard/flakeguard/internal/wiring"
)

type options struct {
	configPath   string
	listenAddr   string
	baseURL      string
	token        string
	pollSchedule string
	trackedRepos []string // "owner/name" pairs
}

func (o *options) addFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "path to a YAML policy file overlaying the built-in defaults")
	fs.StringVar(&o.listenAddr, "listen-addr", ":8081", "address the health/metrics server listens on")
	fs.StringVar(&o.baseURL, "platform-base-url", "https://api.github.com", "hosting platform API base URL")
	fs.StringVar(&o.token, "platform-token", os.Getenv("FLAKEGUARD_PLATFORM_TOKEN"), "hosting platform API token")
	fs.StringVar(&o.pollSchedule, "poll-schedule", "*/5 * * * *", "cron schedule for the periodic discovery poll")
	fs.StringSliceVar(&o.trackedRepos, "tracked-repo", nil, "owner/name pair to poll; may be repeated")
}

func (o *options) validate() error {
	if o.token == "" {
		return ferr.New(ferr.AuthenticationFailed, "platform token is required (--platform-token or FLAKEGUARD_PLATFORM_TOKEN)")
	}
	return nil
}

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.NewEntry(logrus.StandardLogger())

	o := &options{}
	o.addFlags(flag.CommandLine)
	flag.Parse()
	if err := o.validate(); err != nil {
		log.WithError(err).Fatal("invalid options")
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	actx := appctx.New(logrus.StandardLogger(), cfg)

	st := memstore.New()
	q := queue.New(cfg.Queue)
	client := platform.New(cfg, o.baseURL, o.token, q, actx.Log, actx.Audit)
	artifacts := artifact.New(cfg.Artifacts, client, nil, actx.Log)
	coordinator := ingest.New(client, artifacts, st, cfg.Parser, cfg.Ingest, actx.Log)
	orchestrator := recompute.New(st, cfg.Scorer, 50, cfg.Queue.Concurrency, actx.Log)

	mgr := jobqueue.New(cfg.Queue, cfg.Retry, actx.Log)
	bridge := wiring.NewIngestBridge(mgr)
	mgr.RegisterHandler(model.JobIngest, bridge.Handler(coordinator))
	mgr.RegisterHandler(model.JobRecompute, wiring.RecomputeHandler(orchestrator))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	targets := make([]poll.Target, 0, len(o.trackedRepos))
	for _, pair := range o.trackedRepos {
		owner, name, ok := splitOwnerRepo(pair)
		if !ok {
			actx.Log.WithField("repo", pair).Warn("worker: skipping malformed --tracked-repo entry")
			continue
		}
		repo, err := st.UpsertRepository(ctx, "github", owner, name, "")
		if err != nil {
			actx.Log.WithError(err).WithField("repo", pair).Warn("worker: failed to register tracked repository")
			continue
		}
		targets = append(targets, poll.Target{Repository: repo})
	}

	poller := poll.New(client, bridge, targets, actx.Log)
	if len(targets) > 0 {
		if err := poller.Start(ctx, o.pollSchedule); err != nil {
			actx.Log.WithError(err).Fatal("failed to start discovery poll")
		}
		defer poller.Stop()
	}

	health := server.NewHealthHandler(time.Now(), []server.Check{
		server.DatabaseCheck(st),
		server.QueueBrokerCheck(client.CircuitState),
		server.QueuesCheck(cfg.Queue.MaxSize, map[string]server.QueueDepthProbe{
			"ingest":    func() int { return mgr.LaneDepth(model.JobIngest) },
			"recompute": func() int { return mgr.LaneDepth(model.JobRecompute) },
		}),
	})
	srv := server.New(nil, health, actx.Log)
	httpServer := &http.Server{Addr: o.listenAddr, Handler: srv, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			actx.Log.WithError(err).Fatal("health/metrics server failed")
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

func splitOwnerRepo(pair string) (owner, name string, ok bool) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '/' {
			return pair[:i], pair[i+1:], i > 0 && i < len(pair)-1
		}
	}
	return "", "", false
}
