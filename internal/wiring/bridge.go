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

// Package wiring bridges internal/jobqueue's kind-agnostic Manager
// (model.Job carries only the fields spec.md §3 names) to the payload
// every real job kind actually needs to run: an ingest.Job's repository
// and workflow-run identity, or a recompute.Scope's selection rule.
// Rather than widen model.Job or thread an `any` payload through
// internal/jobqueue's otherwise clean core, IngestBridge keeps payloads
// keyed by the correlation id Enqueue was given and looks them up again
// from inside the registered Handler. Shared by both cmd/flakeguard-worker
// and cmd/flakeguard-webhook so the two processes agree on one wiring
// seam instead of duplicating it.
package wiring

import (
	"context"
	"sync"

	"github.com/flakeguard/flakeguard/internal/ferr"
	"github.com/flakeguard/flakeguard/internal/ingest"
	"github.com/flakeguard/flakeguard/internal/jobqueue"
	"github.com/flakeguard/flakeguard/internal/model"
	"github.com/flakeguard/flakeguard/internal/recompute"
)

// IngestBridge implements poll.Enqueuer and server.Enqueuer on top of a
// *jobqueue.Manager, and supplies the Handler that consumes the payload
// back out again.
type IngestBridge struct {
	mgr *jobqueue.Manager

	mu      sync.Mutex
	ingests map[string]ingest.Job
}

// NewIngestBridge builds a bridge dispatching JobIngest work through mgr.
func NewIngestBridge(mgr *jobqueue.Manager) *IngestBridge {
	return &IngestBridge{mgr: mgr, ingests: map[string]ingest.Job{}}
}

// EnqueueIngest implements poll.Enqueuer and server.Enqueuer.
func (b *IngestBridge) EnqueueIngest(ctx context.Context, job ingest.Job) error {
	b.mu.Lock()
	b.ingests[job.CorrelationID] = job
	b.mu.Unlock()
	_, err := b.mgr.Enqueue(model.JobIngest, job.Priority, job.CorrelationID)
	return err
}

func (b *IngestBridge) take(correlationID string) (ingest.Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.ingests[correlationID]
	delete(b.ingests, correlationID)
	return job, ok
}

// Handler returns the jobqueue.Handler to register for model.JobIngest.
func (b *IngestBridge) Handler(coordinator *ingest.Coordinator) jobqueue.Handler {
	return func(ctx context.Context, job model.Job, report jobqueue.ReportFunc) error {
		payload, ok := b.take(job.CorrelationID)
		if !ok {
			return ferr.New(ferr.ValidationFailed, "no ingest payload for correlation id "+job.CorrelationID)
		}
		_, err := coordinator.Process(ctx, payload, func(phase string, percent int, item string) {
			report(jobqueue.Progress{Phase: phase, Percentage: percent, CurrentItemName: item})
		})
		return err
	}
}

// RecomputeHandler returns the jobqueue.Handler to register for
// model.JobRecompute. Recompute jobs need no payload bridging: a
// correlation id doubling as the target repo id is enough to build an
// all-scope Scope.
func RecomputeHandler(orchestrator *recompute.Orchestrator) jobqueue.Handler {
	return func(ctx context.Context, job model.Job, report jobqueue.ReportFunc) error {
		scope := recompute.Scope{Kind: recompute.ScopeAll, RepoID: job.CorrelationID}
		_, err := orchestrator.Run(ctx, scope, func(p recompute.Progress) {
			report(jobqueue.Progress{Phase: "recompute", Processed: p.Processed, Total: p.Total})
		})
		return err
	}
}
