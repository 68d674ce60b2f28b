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

// Package recompute implements the Recompute Orchestrator of spec.md
// §4.L: it re-applies §4.J's scorer across a scope of TestCases in
// batches, reporting progress and an aggregate summary. The
// batch-iteration-with-progress shape is grounded on
// boskos/cleaner.Cleaner.recycleAll's per-item loop; unlike the
// Ingestion Coordinator (§5's strictly sequential per-job pipeline),
// recompute has no ordering requirement across TestCases, so each batch
// fans out concurrently via golang.org/x/sync/errgroup, in the style of
// estuary-flow/runtime/proxy.go's errgroup.Group{} usage.
package recompute

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/flakeguard/flakeguard/internal/cluster"
	"github.com/flakeguard/flakeguard/internal/model"
	"github.com/flakeguard/flakeguard/internal/scoring"
	"github.com/flakeguard/flakeguard/internal/store"
)

// ScopeKind selects which TestCases a recompute pass covers (spec.md §4.L).
type ScopeKind string

const (
	ScopeAll           ScopeKind = "all"
	ScopeTestPattern   ScopeKind = "test_pattern"
	ScopeClassPattern  ScopeKind = "class_pattern"
	ScopeSpecificTests ScopeKind = "specific_tests"
)

// Scope bounds a recompute pass to a RepoID plus a selection rule.
type Scope struct {
	Kind   ScopeKind
	RepoID string

	// Pattern is a case-insensitive substring match against TestCase.Name
	// (ScopeTestPattern) or TestCase.ClassName (ScopeClassPattern).
	Pattern string

	// TestCaseIDs is the explicit id set for ScopeSpecificTests.
	TestCaseIDs []string
}

// Progress is one progress event emitted mid-pass.
type Progress struct {
	Processed int
	Total     int
}

// ProgressFunc receives Progress events as a pass runs.
type ProgressFunc func(Progress)

// Summary is the aggregate result of one recompute pass (spec.md §4.L).
type Summary struct {
	PreviousFlakyCount    int
	NewFlakyCount         int
	AverageFlakinessScore float64
	PatternsDetected      int
	SeverityDistribution  map[model.Priority]int
	MostFlakyTest         *string
	LeastFlakyTest        *string
}

// Orchestrator re-scores TestCases in scope, batch by batch.
type Orchestrator struct {
	store       store.Store
	policy      scoring.Policy
	batchSize   int
	concurrency int
	log         *logrus.Entry
	now         func() time.Time
}

// New builds an Orchestrator. batchSize and concurrency are each floored
// to 1.
func New(st store.Store, policy scoring.Policy, batchSize, concurrency int, log *logrus.Entry) *Orchestrator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if batchSize < 1 {
		batchSize = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{store: st, policy: policy, batchSize: batchSize, concurrency: concurrency, log: log, now: time.Now}
}

// Run recomputes every TestCase matching scope and returns the aggregate
// Summary. report, if non-nil, is called after every TestCase completes.
func (o *Orchestrator) Run(ctx context.Context, scope Scope, report ProgressFunc) (Summary, error) {
	testCases, err := o.resolveScope(ctx, scope)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{SeverityDistribution: map[model.Priority]int{}}
	var scoreSum float64
	var scoredCount int
	var best, worst *scoredTest

	processed := 0
	total := len(testCases)
	for start := 0; start < total; start += o.batchSize {
		end := start + o.batchSize
		if end > total {
			end = total
		}
		batch := testCases[start:end]

		results, err := o.runBatch(ctx, batch)
		if err != nil {
			return Summary{}, err
		}

		for _, r := range results {
			processed++
			if report != nil {
				report(Progress{Processed: processed, Total: total})
			}
			if r.err != nil {
				o.log.WithError(r.err).WithField("testCaseId", r.testCaseID).Warn("recompute: skipping test case")
				continue
			}

			if r.previous != nil && r.previous.Recommendation != model.RecommendationNone {
				summary.PreviousFlakyCount++
			}
			if r.score.Recommendation != model.RecommendationNone {
				summary.NewFlakyCount++
			}
			summary.SeverityDistribution[r.score.Priority]++
			if len(r.clusterPatterns) > 0 {
				summary.PatternsDetected += len(r.clusterPatterns)
			}

			scoreSum += r.score.Value
			scoredCount++

			if best == nil || r.score.Value > best.score {
				best = &scoredTest{id: r.testCaseID, score: r.score.Value}
			}
			if worst == nil || r.score.Value < worst.score {
				worst = &scoredTest{id: r.testCaseID, score: r.score.Value}
			}
		}
	}

	if scoredCount > 0 {
		summary.AverageFlakinessScore = scoreSum / float64(scoredCount)
	}
	if best != nil {
		summary.MostFlakyTest = &best.id
	}
	if worst != nil {
		summary.LeastFlakyTest = &worst.id
	}
	return summary, nil
}

type scoredTest struct {
	id    string
	score float64
}

type caseResult struct {
	testCaseID      string
	previous        *model.FlakeScore
	score           scoring.Score
	clusterPatterns []scoring.PatternMatch
	err             error
}

// runBatch fans one batch of TestCases out across o.concurrency goroutines
// via errgroup; a single TestCase's failure is captured in its caseResult
// rather than aborting the batch, since §4.L has no "abort on first error"
// requirement unlike the Ingestion Coordinator's single-job pipeline.
func (o *Orchestrator) runBatch(ctx context.Context, batch []model.TestCase) ([]caseResult, error) {
	results := make([]caseResult, len(batch))
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(o.concurrency)

	for i, tc := range batch {
		i, tc := i, tc
		grp.Go(func() error {
			results[i] = o.recomputeOne(gctx, tc)
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (o *Orchestrator) recomputeOne(ctx context.Context, tc model.TestCase) caseResult {
	res := caseResult{testCaseID: tc.ID}

	if prev, ok, err := o.store.GetFlakeScore(ctx, tc.ID); err != nil {
		res.err = err
		return res
	} else if ok {
		res.previous = &prev
	}

	occurrences, err := o.store.GetOccurrenceWindow(ctx, tc.ID, store.OccurrenceWindowPolicy{
		MaxOccurrences: o.policy.RollingWindowSize,
		LookbackDays:   o.policy.LookbackDays,
	})
	if err != nil {
		res.err = err
		return res
	}

	score := scoring.Compute(occurrences, o.policy, o.now())
	res.score = score
	res.clusterPatterns = clusterPatternsOf(occurrences)

	flakeScore := model.FlakeScore{
		TestCaseID:     tc.ID,
		Score:          score.Value,
		Confidence:     score.Confidence,
		Features:       score.Features.AsMap(),
		Recommendation: score.Recommendation,
		Priority:       score.Priority,
		ComputedAt:     o.now(),
	}
	if err := o.store.UpsertFlakeScore(ctx, flakeScore); err != nil {
		res.err = err
	}
	return res
}

// clusterPatternsOf runs §4.K's temporal clustering over a TestCase's
// failing occurrences and returns the distinct patterns detected across
// its clusters. Occurrence only carries a FailureMessageDigest (§6.1), not
// the normalized text DetectPatterns needs, so this will only surface
// patterns once a caller populates cluster.Observation.Message from data
// still in hand at ingestion time; until then it legitimately returns
// nothing rather than matching against a hash.
func clusterPatternsOf(occurrences []model.Occurrence) []scoring.PatternMatch {
	var observations []cluster.Observation
	for _, occ := range occurrences {
		if occ.Status == model.StatusFailed || occ.Status == model.StatusError {
			observations = append(observations, cluster.Observation{At: occ.CreatedAt})
		}
	}
	analysis := cluster.Analyze(observations)

	seen := map[scoring.PatternKind]struct{}{}
	var out []scoring.PatternMatch
	for _, c := range analysis.Clusters {
		for _, p := range c.Patterns {
			if _, ok := seen[p.Kind]; ok {
				continue
			}
			seen[p.Kind] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// resolveScope fetches the repo's TestCases and applies scope's selection
// rule in-memory; pattern matching stays in this package rather than the
// store, which only exposes a plain per-repo list (spec.md §6.1's
// "logical shapes, not wire-exact" leeway).
func (o *Orchestrator) resolveScope(ctx context.Context, scope Scope) ([]model.TestCase, error) {
	all, err := o.store.ListTestCases(ctx, scope.RepoID)
	if err != nil {
		return nil, err
	}

	var filtered []model.TestCase
	switch scope.Kind {
	case ScopeAll:
		filtered = all
	case ScopeTestPattern:
		needle := strings.ToLower(scope.Pattern)
		for _, tc := range all {
			if strings.Contains(strings.ToLower(tc.Name), needle) {
				filtered = append(filtered, tc)
			}
		}
	case ScopeClassPattern:
		needle := strings.ToLower(scope.Pattern)
		for _, tc := range all {
			if strings.Contains(strings.ToLower(tc.ClassName), needle) {
				filtered = append(filtered, tc)
			}
		}
	case ScopeSpecificTests:
		want := map[string]struct{}{}
		for _, id := range scope.TestCaseIDs {
			want[id] = struct{}{}
		}
		for _, tc := range all {
			if _, ok := want[tc.ID]; ok {
				filtered = append(filtered, tc)
			}
		}
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })
	return filtered, nil
}
