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

package recompute

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flakeguard/flakeguard/internal/config"
	"github.com/flakeguard/flakeguard/internal/model"
	"github.com/flakeguard/flakeguard/internal/store/memstore"
)

func testPolicy() config.Scorer {
	p := config.DefaultScorer()
	p.MinRunsForQuarantine = 3
	return p
}

// seedTestCase creates a TestCase and appends n occurrences to it,
// alternating pass/fail every other run starting with a failure, each one
// minute apart.
func seedTestCase(t *testing.T, st *memstore.Store, repoID, name string, n int, base time.Time) model.TestCase {
	t.Helper()
	ctx := context.Background()
	tc, err := st.UpsertTestCase(ctx, repoID, "suite", "pkg.Class", name)
	require.NoError(t, err)

	run, err := st.UpsertWorkflowRun(ctx, repoID, "run-"+name, "completed", "success")
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		status := model.StatusFailed
		if i%2 == 1 {
			status = model.StatusPassed
		}
		_, err := st.AppendOccurrence(ctx, model.Occurrence{
			TestCaseID:    tc.ID,
			WorkflowRunID: run.ID,
			Status:        status,
			Attempt:       1,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	return tc
}

func TestRunScoresEveryTestCaseInAllScope(t *testing.T) {
	st := memstore.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedTestCase(t, st, "repo-1", "TestFlaky", 10, base)
	seedTestCase(t, st, "repo-1", "TestStable", 10, base.Add(time.Hour))

	orch := New(st, testPolicy(), 2, 2, nil)
	orch.now = func() time.Time { return base.Add(24 * time.Hour) }

	var events []Progress
	summary, err := orch.Run(context.Background(), Scope{Kind: ScopeAll, RepoID: "repo-1"}, func(p Progress) {
		events = append(events, p)
	})
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, 2, events[len(events)-1].Processed)
	assert.Equal(t, 2, events[len(events)-1].Total)
	assert.GreaterOrEqual(t, summary.AverageFlakinessScore, 0.0)
}

func TestRunFiltersByTestNamePattern(t *testing.T) {
	st := memstore.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedTestCase(t, st, "repo-1", "TestLoginFlow", 10, base)
	seedTestCase(t, st, "repo-1", "TestCheckout", 10, base)

	orch := New(st, testPolicy(), 10, 1, nil)
	orch.now = func() time.Time { return base.Add(24 * time.Hour) }

	processed := 0
	_, err := orch.Run(context.Background(), Scope{Kind: ScopeTestPattern, RepoID: "repo-1", Pattern: "login"}, func(p Progress) {
		processed = p.Processed
		assert.Equal(t, 1, p.Total)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
}

func TestRunFiltersBySpecificTestIDs(t *testing.T) {
	st := memstore.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := seedTestCase(t, st, "repo-1", "TestA", 10, base)
	seedTestCase(t, st, "repo-1", "TestB", 10, base)

	orch := New(st, testPolicy(), 10, 1, nil)
	orch.now = func() time.Time { return base.Add(24 * time.Hour) }

	summary, err := orch.Run(context.Background(), Scope{Kind: ScopeSpecificTests, RepoID: "repo-1", TestCaseIDs: []string{a.ID}}, nil)
	require.NoError(t, err)
	total := 0
	for _, v := range summary.SeverityDistribution {
		total += v
	}
	assert.Equal(t, 1, total)
}

func TestRunPersistsUpdatedFlakeScores(t *testing.T) {
	st := memstore.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tc := seedTestCase(t, st, "repo-1", "TestFlaky", 10, base)

	orch := New(st, testPolicy(), 10, 1, nil)
	orch.now = func() time.Time { return base.Add(24 * time.Hour) }

	_, err := orch.Run(context.Background(), Scope{Kind: ScopeAll, RepoID: "repo-1"}, nil)
	require.NoError(t, err)

	score, ok, err := st.GetFlakeScore(context.Background(), tc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, score.Score, 0.0)
}

func TestRunTracksMostAndLeastFlakyTest(t *testing.T) {
	st := memstore.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seedTestCase(t, st, "repo-1", "TestFlaky", 10, base)
	ctx := context.Background()
	stable, err := st.UpsertTestCase(ctx, "repo-1", "suite", "pkg.Class", "TestAlwaysPasses")
	require.NoError(t, err)
	run, err := st.UpsertWorkflowRun(ctx, "repo-1", "run-stable", "completed", "success")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := st.AppendOccurrence(ctx, model.Occurrence{
			TestCaseID:    stable.ID,
			WorkflowRunID: run.ID,
			Status:        model.StatusPassed,
			Attempt:       1,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	orch := New(st, testPolicy(), 10, 1, nil)
	orch.now = func() time.Time { return base.Add(24 * time.Hour) }

	summary, err := orch.Run(ctx, Scope{Kind: ScopeAll, RepoID: "repo-1"}, nil)
	require.NoError(t, err)
	require.NotNil(t, summary.MostFlakyTest)
	require.NotNil(t, summary.LeastFlakyTest)
	assert.NotEqual(t, *summary.MostFlakyTest, *summary.LeastFlakyTest)
}
