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

// Package jobqueue implements the job queue manager of spec.md §4.I: one
// priority-dispatched lane per JobKind (built on internal/queue), with
// retry-with-backoff, progress reporting, stalled-job requeue, and
// retention pruning. The GC goroutine lifecycle (context-cancel +
// WaitGroup, periodic tick) is grounded on
// boskos/ranch.RequestManager.StartGC/StopGC; the per-kind lane dispatch
// is grounded on internal/queue's own generalization of
// boskos/ranch.requestQueue.
package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/flakeguard/flakeguard/internal/config"
	"github.com/flakeguard/flakeguard/internal/ferr"
	"github.com/flakeguard/flakeguard/internal/model"
	"github.com/flakeguard/flakeguard/internal/queue"
	"github.com/flakeguard/flakeguard/internal/retry"
)

// Progress is one progress event a Handler reports mid-run (spec.md §4.I).
type Progress struct {
	Phase           string
	Processed       int
	Total           int
	Percentage      int
	CurrentItemName string
}

// ReportFunc is how a Handler publishes Progress as it works.
type ReportFunc func(Progress)

// Handler does the actual work for one JobKind. ctx carries the job's
// deadline; report may be called any number of times.
type Handler func(ctx context.Context, job model.Job, report ReportFunc) error

// record is a job's full bookkeeping state, held only inside Manager.
type record struct {
	job      model.Job
	progress Progress
}

func (r *record) snapshot() model.Job {
	j := r.job
	return j
}

// Manager owns one priority-dispatched lane per JobKind plus the retry,
// progress, stall-detection, and retention-pruning bookkeeping layered on
// top of it.
type Manager struct {
	cfg      config.Queue
	retryCfg config.Retry
	log      *logrus.Entry

	mu       sync.Mutex
	jobs     map[string]*record
	lanes    map[model.JobKind]*queue.Queue
	handlers map[model.JobKind]Handler

	stopGC context.CancelFunc
	gcWG   sync.WaitGroup

	now func() time.Time
}

// New builds a Manager. Register handlers with RegisterHandler, then call
// Start to spin up per-kind dispatchers and the GC loop.
func New(cfg config.Queue, retryCfg config.Retry, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		cfg:      cfg,
		retryCfg: retryCfg,
		log:      log,
		jobs:     map[string]*record{},
		lanes:    map[model.JobKind]*queue.Queue{},
		handlers: map[model.JobKind]Handler{},
		now:      time.Now,
	}
}

// RegisterHandler associates kind with the function that executes its
// jobs. Must be called before Start.
func (m *Manager) RegisterHandler(kind model.JobKind, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = handler
	if _, ok := m.lanes[kind]; !ok {
		m.lanes[kind] = queue.New(m.cfg)
	}
}

func (m *Manager) laneFor(kind model.JobKind) *queue.Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	lane, ok := m.lanes[kind]
	if !ok {
		lane = queue.New(m.cfg)
		m.lanes[kind] = lane
	}
	return lane
}

// Start spins up cfg.Concurrency dispatcher goroutines per registered lane
// and the GC loop. It does not block.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	lanes := make(map[model.JobKind]*queue.Queue, len(m.lanes))
	for k, v := range m.lanes {
		lanes[k] = v
	}
	m.mu.Unlock()

	concurrency := m.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	for kind, lane := range lanes {
		for i := 0; i < concurrency; i++ {
			go lane.Dispatch(ctx)
		}
		m.log.WithField("kind", kind).Info("job queue lane dispatchers started")
	}

	gcCtx, stop := context.WithCancel(ctx)
	m.stopGC = stop
	m.gcWG.Add(1)
	go m.gcLoop(gcCtx)
}

// Stop halts the GC loop and shuts down every lane, waiting up to
// cfg.ShutdownTimeout for in-flight jobs.
func (m *Manager) Stop(ctx context.Context) error {
	if m.stopGC != nil {
		m.stopGC()
		m.gcWG.Wait()
	}
	m.mu.Lock()
	lanes := make([]*queue.Queue, 0, len(m.lanes))
	for _, lane := range m.lanes {
		lanes = append(lanes, lane)
	}
	m.mu.Unlock()

	var firstErr error
	for _, lane := range lanes {
		if err := lane.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// toQueuePriority maps the public model.Priority onto internal/queue's
// four dispatch lanes.
func toQueuePriority(p model.Priority) queue.Priority {
	switch p {
	case model.PriorityCritical:
		return queue.Critical
	case model.PriorityHigh:
		return queue.High
	case model.PriorityLow:
		return queue.Low
	default:
		return queue.Normal
	}
}

// Enqueue records a new job and submits it to its kind's lane for
// dispatch. It returns immediately with the job in JobQueued state; the
// caller polls Get (or supplies a report sink via RegisterHandler's
// closure) for progress.
func (m *Manager) Enqueue(kind model.JobKind, priority model.Priority, correlationID string) (model.Job, error) {
	m.mu.Lock()
	handler, ok := m.handlers[kind]
	m.mu.Unlock()
	if !ok {
		return model.Job{}, ferr.New(ferr.ValidationFailed, "no handler registered for job kind "+string(kind))
	}

	job := model.Job{
		ID:            uuid.NewString(),
		Kind:          kind,
		Priority:      priority,
		State:         model.JobQueued,
		CorrelationID: correlationID,
		CreatedAt:     m.now(),
		UpdatedAt:     m.now(),
	}
	rec := &record{job: job}
	m.mu.Lock()
	m.jobs[job.ID] = rec
	m.mu.Unlock()

	lane := m.laneFor(kind)
	go m.run(lane, rec, handler)

	return job, nil
}

func (m *Manager) run(lane *queue.Queue, rec *record, handler Handler) {
	_, _ = queue.Submit(context.Background(), lane, toQueuePriority(rec.job.Priority), 0, func(ctx context.Context) (struct{}, error) {
		m.markProcessing(rec)
		err := retry.Do(ctx, m.retryCfg, func(attempt int) error {
			m.setAttempts(rec, attempt)
			return handler(ctx, rec.snapshot(), func(p Progress) { m.reportProgress(rec, p) })
		})
		m.finish(rec, err)
		return struct{}{}, err
	})
}

func (m *Manager) markProcessing(rec *record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.job.State = model.JobProcessing
	rec.job.UpdatedAt = m.now()
}

func (m *Manager) setAttempts(rec *record, attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.job.Attempts = attempt
	rec.job.UpdatedAt = m.now()
}

func (m *Manager) reportProgress(rec *record, p Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.progress = p
	rec.job.Progress = p.Percentage
	rec.job.UpdatedAt = m.now()
}

func (m *Manager) finish(rec *record, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.job.UpdatedAt = m.now()
	if err != nil {
		rec.job.State = model.JobFailed
		rec.job.LastError = err.Error()
		return
	}
	rec.job.State = model.JobCompleted
	rec.job.Progress = 100
}

// Get returns a snapshot of a job's current state, or false if unknown.
func (m *Manager) Get(id string) (model.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return rec.snapshot(), true
}

// LaneDepth reports kind's queued-request depth, for the "queue sizes per
// state" metric and the /health queues check of spec.md §6.4.
func (m *Manager) LaneDepth(kind model.JobKind) int {
	lane := m.laneFor(kind)
	return lane.Len()
}

// Progress returns the last reported Progress for a job, or false if none
// has been reported yet (or the job is unknown).
func (m *Manager) Progress(id string) (Progress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return Progress{}, false
	}
	return rec.progress, true
}
