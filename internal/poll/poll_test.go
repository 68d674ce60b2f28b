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

package poll

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flakeguard/flakeguard/internal/ingest"
	"github.com/flakeguard/flakeguard/internal/model"
	"github.com/flakeguard/flakeguard/internal/platform"
)

type fakeLister struct {
	runs []platform.WorkflowRunRef
	err  error
}

func (f *fakeLister) ListWorkflowRuns(ctx context.Context, owner, repo string) ([]platform.WorkflowRunRef, error) {
	return f.runs, f.err
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []ingest.Job
	err  error
}

func (f *fakeEnqueuer) EnqueueIngest(ctx context.Context, job ingest.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func testTarget() Target {
	return Target{Repository: model.Repository{ID: "repo-1", Provider: "github", Owner: "acme", Name: "widgets"}}
}

func TestSweepEnqueuesOnlyCompletedRuns(t *testing.T) {
	lister := &fakeLister{runs: []platform.WorkflowRunRef{
		{ID: "1", Status: "completed", Conclusion: "success"},
		{ID: "2", Status: "in_progress"},
		{ID: "3", Status: "completed", Conclusion: "failure"},
	}}
	enqueuer := &fakeEnqueuer{}
	p := New(lister, enqueuer, []Target{testTarget()}, nil)

	p.Sweep(context.Background())

	require.Len(t, enqueuer.jobs, 2)
	assert.Equal(t, "1", enqueuer.jobs[0].WorkflowRunExternalID)
	assert.Equal(t, "3", enqueuer.jobs[1].WorkflowRunExternalID)
	assert.Equal(t, ingest.TriggerPolling, enqueuer.jobs[0].Trigger)
}

func TestSweepDoesNotReenqueueTheSameRunTwice(t *testing.T) {
	lister := &fakeLister{runs: []platform.WorkflowRunRef{
		{ID: "1", Status: "completed"},
	}}
	enqueuer := &fakeEnqueuer{}
	p := New(lister, enqueuer, []Target{testTarget()}, nil)

	p.Sweep(context.Background())
	p.Sweep(context.Background())

	assert.Len(t, enqueuer.jobs, 1)
}

func TestSweepContinuesToOtherTargetsWhenOneListFails(t *testing.T) {
	failing := &fakeLister{err: assert.AnError}
	working := &fakeLister{runs: []platform.WorkflowRunRef{{ID: "1", Status: "completed"}}}
	enqueuer := &fakeEnqueuer{}

	p := &Poller{
		lister:  nil,
		enqueue: enqueuer,
		log:     nil,
		seen:    map[string]struct{}{},
	}
	p.log = New(working, enqueuer, nil, nil).log

	targets := []Target{
		{Repository: model.Repository{ID: "repo-a", Owner: "acme", Name: "broken"}},
		{Repository: model.Repository{ID: "repo-b", Owner: "acme", Name: "widgets"}},
	}

	// sweepOne is exercised directly per-target with distinct listers to
	// simulate a multi-repo Poller without needing per-target lister wiring
	// in the public constructor.
	p.lister = failing
	p.sweepOne(context.Background(), targets[0])
	p.lister = working
	p.sweepOne(context.Background(), targets[1])

	require.Len(t, enqueuer.jobs, 1)
	assert.Equal(t, "repo-b#1", enqueuer.jobs[0].CorrelationID)
}
