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

// Package poll implements the periodic discovery poll of spec.md §4.O: a
// cron-scheduled sweep across tracked repositories that lists recent
// workflow runs and enqueues an ingestion job for any run not already
// seen, for repositories whose CI provider does not deliver webhooks (or
// as a backstop against missed deliveries). Grounded on the teacher's
// repeated use of gopkg.in/robfig/cron.v2 for periodic reconciliation
// (prow/cron), generalized here to robfig/cron/v3.
package poll

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/flakeguard/flakeguard/internal/ingest"
	"github.com/flakeguard/flakeguard/internal/model"
	"github.com/flakeguard/flakeguard/internal/platform"
)

// RunLister lists a repository's recent workflow runs.
// internal/platform.Client satisfies this.
type RunLister interface {
	ListWorkflowRuns(ctx context.Context, owner, repo string) ([]platform.WorkflowRunRef, error)
}

// Enqueuer hands one ingestion job off to the Job Queue Manager.
type Enqueuer interface {
	EnqueueIngest(ctx context.Context, job ingest.Job) error
}

// Target is one repository the sweep discovers runs for.
type Target struct {
	Repository model.Repository
}

// completedStatus is the only workflow-run status the sweep enqueues;
// in-progress runs are left for a later tick once they terminate.
const completedStatus = "completed"

// Poller runs the cron-scheduled sweep.
type Poller struct {
	lister  RunLister
	enqueue Enqueuer
	targets []Target
	log     *logrus.Entry

	cron *cron.Cron

	mu   sync.Mutex
	seen map[string]struct{}
}

// New builds a Poller. schedule is a standard 5-field cron expression
// (e.g. "*/5 * * * *" for every 5 minutes).
func New(lister RunLister, enqueue Enqueuer, targets []Target, log *logrus.Entry) *Poller {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Poller{
		lister:  lister,
		enqueue: enqueue,
		targets: targets,
		log:     log,
		cron:    cron.New(),
		seen:    map[string]struct{}{},
	}
}

// Start registers the sweep on schedule and starts the cron scheduler. It
// does not block.
func (p *Poller) Start(ctx context.Context, schedule string) error {
	_, err := p.cron.AddFunc(schedule, func() { p.Sweep(ctx) })
	if err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}

// Sweep lists workflow runs for every target and enqueues an ingestion
// job for each completed run this Poller has not already enqueued. A
// per-process seen-set is the sweep's own best-effort de-dup; the
// Ingestion Coordinator's (repo, workflowRunExternalId) idempotency check
// (spec.md §4.H) is the authoritative backstop against rework, including
// across process restarts where this seen-set is empty again.
func (p *Poller) Sweep(ctx context.Context) {
	for _, target := range p.targets {
		p.sweepOne(ctx, target)
	}
}

func (p *Poller) sweepOne(ctx context.Context, target Target) {
	repo := target.Repository
	runs, err := p.lister.ListWorkflowRuns(ctx, repo.Owner, repo.Name)
	if err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"provider": repo.Provider, "owner": repo.Owner, "repo": repo.Name,
		}).Warn("poll: failed to list workflow runs")
		return
	}

	for _, run := range runs {
		if run.Status != completedStatus {
			continue
		}
		key := repo.ID + "#" + run.ID
		if p.markSeen(key) {
			continue
		}

		job := ingest.Job{
			Repository:            repo,
			WorkflowRunExternalID:  run.ID,
			Priority:               model.PriorityLow,
			CorrelationID:          key,
			Trigger:                ingest.TriggerPolling,
		}
		if err := p.enqueue.EnqueueIngest(ctx, job); err != nil {
			p.log.WithError(err).WithField("correlationId", key).Warn("poll: failed to enqueue ingestion job")
		}
	}
}

// markSeen records key as enqueued and reports whether it was already
// present.
func (p *Poller) markSeen(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[key]; ok {
		return true
	}
	p.seen[key] = struct{}{}
	return false
}
