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

package jobqueue

import (
	"context"
	"sort"
	"time"

	"github.com/flakeguard/flakeguard/internal/model"
)

// gcLoop mirrors boskos/ranch.RequestManager.StartGC: a ticking goroutine,
// torn down by cancelling ctx, that the caller waits on via gcWG.
func (m *Manager) gcLoop(ctx context.Context) {
	defer m.gcWG.Done()
	period := m.cfg.GCPeriod
	if period <= 0 {
		period = time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(m.now())
		}
	}
}

// sweep requeues stalled jobs and prunes retired ones past retention,
// per spec.md §4.I.
func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requeueStalledLocked(now)
	m.pruneLocked(now)
}

// requeueStalledLocked marks any job that has sat in JobProcessing past
// cfg.StallTimeout as failed, so it is visible to callers and eligible for
// pruning. It cannot reach into the still-running handler goroutine to
// cancel it directly (no per-job cancellation token is threaded through
// Enqueue yet); it only stops treating the job as in-flight.
//
// TODO: thread a per-job context.CancelFunc through record so a stalled
// job's handler is actually cancelled here, not just marked failed.
func (m *Manager) requeueStalledLocked(now time.Time) {
	if m.cfg.StallTimeout <= 0 {
		return
	}
	for _, rec := range m.jobs {
		if rec.job.State != model.JobProcessing {
			continue
		}
		if now.Sub(rec.job.UpdatedAt) <= m.cfg.StallTimeout {
			continue
		}
		rec.job.State = model.JobFailed
		rec.job.LastError = "stalled: no progress reported within StallTimeout"
		rec.job.UpdatedAt = now
	}
}

// pruneLocked deletes completed/failed jobs past cfg.RetentionMaxAge, then
// trims each terminal state down to its configured retention count,
// keeping the most recently updated entries.
func (m *Manager) pruneLocked(now time.Time) {
	if m.cfg.RetentionMaxAge > 0 {
		cutoff := now.Add(-m.cfg.RetentionMaxAge)
		for id, rec := range m.jobs {
			if isTerminal(rec.job.State) && rec.job.UpdatedAt.Before(cutoff) {
				delete(m.jobs, id)
			}
		}
	}

	m.trimLocked(model.JobCompleted, m.cfg.RetentionMaxCompleted)
	m.trimLocked(model.JobFailed, m.cfg.RetentionMaxFailed)
}

func (m *Manager) trimLocked(state model.JobState, max int) {
	if max <= 0 {
		return
	}
	var ids []string
	for id, rec := range m.jobs {
		if rec.job.State == state {
			ids = append(ids, id)
		}
	}
	if len(ids) <= max {
		return
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.jobs[ids[i]].job.UpdatedAt.After(m.jobs[ids[j]].job.UpdatedAt)
	})
	for _, id := range ids[max:] {
		delete(m.jobs, id)
	}
}

func isTerminal(s model.JobState) bool {
	return s == model.JobCompleted || s == model.JobFailed || s == model.JobCancelled
}
