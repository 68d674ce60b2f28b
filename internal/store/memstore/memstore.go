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

// Package memstore is an in-memory store.Store, grounded on
// boskos/storage.inMemoryStore's map-plus-RWMutex pattern, generalized
// from that single-entity CRUD layer to FlakeGuard's multi-entity schema
// and transactional WithTx contract. It exists so the Ingestion
// Coordinator, Recompute Orchestrator, and their tests have a concrete
// implementation to run against; it is not a production persistence layer
// (spec.md §6.1 excludes the relational store itself from scope).
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flakeguard/flakeguard/internal/model"
	"github.com/flakeguard/flakeguard/internal/store"
)

// Store is an in-memory, mutex-guarded store.Store.
type Store struct {
	mu sync.RWMutex

	repositoriesByKey map[string]string // (provider,owner,name) -> id
	repositories      map[string]model.Repository

	workflowRunsByKey map[string]string // (repoID,externalRunID) -> id
	workflowRuns      map[string]model.WorkflowRun

	testCasesByKey map[string]string // (repoID,suite,className,name) -> id
	testCases      map[string]model.TestCase

	occurrences map[string][]model.Occurrence // testCaseID -> occurrences, oldest first
	flakeScores map[string]model.FlakeScore   // testCaseID -> current score

	seq int
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		repositoriesByKey: map[string]string{},
		repositories:      map[string]model.Repository{},
		workflowRunsByKey: map[string]string{},
		workflowRuns:      map[string]model.WorkflowRun{},
		testCasesByKey:    map[string]string{},
		testCases:         map[string]model.TestCase{},
		occurrences:       map[string][]model.Occurrence{},
		flakeScores:       map[string]model.FlakeScore{},
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func repoKey(provider, owner, name string) string {
	return provider + "\x00" + owner + "\x00" + name
}

func runKey(repoID, externalRunID string) string {
	return repoID + "\x00" + externalRunID
}

func testCaseKey(repoID, suite, className, name string) string {
	return repoID + "\x00" + suite + "\x00" + className + "\x00" + name
}

// UpsertRepository implements store.Store.
func (s *Store) UpsertRepository(ctx context.Context, provider, owner, name, installationID string) (model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := repoKey(provider, owner, name)
	if id, ok := s.repositoriesByKey[key]; ok {
		r := s.repositories[id]
		r.InstallationID = installationID
		s.repositories[id] = r
		return r, nil
	}
	r := model.Repository{
		ID:             s.nextID("repo"),
		Provider:       provider,
		Owner:          owner,
		Name:           name,
		InstallationID: installationID,
	}
	s.repositoriesByKey[key] = r.ID
	s.repositories[r.ID] = r
	return r, nil
}

// UpsertWorkflowRun implements store.Store.
func (s *Store) UpsertWorkflowRun(ctx context.Context, repoID, externalRunID, status, conclusion string) (model.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runKey(repoID, externalRunID)
	if id, ok := s.workflowRunsByKey[key]; ok {
		run := s.workflowRuns[id]
		run.Status = status
		run.Conclusion = conclusion
		if run.Terminal() && run.CompletedAt.IsZero() {
			run.CompletedAt = s.clockNow()
		}
		s.workflowRuns[id] = run
		return run, nil
	}
	run := model.WorkflowRun{
		ID:            s.nextID("run"),
		RepoID:        repoID,
		ExternalRunID: externalRunID,
		Status:        status,
		Conclusion:    conclusion,
		StartedAt:     s.clockNow(),
	}
	if run.Terminal() {
		run.CompletedAt = run.StartedAt
	}
	s.workflowRunsByKey[key] = run.ID
	s.workflowRuns[run.ID] = run
	return run, nil
}

// clockNow is indirected so tests can pin timestamps if needed; production
// callers get wall-clock time.
func (s *Store) clockNow() time.Time { return time.Now() }

// UpsertTestCase implements store.Store. TestCase identity is
// (repoID, suite, className, name); insertion order is irrelevant.
func (s *Store) UpsertTestCase(ctx context.Context, repoID, suite, className, name string) (model.TestCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := testCaseKey(repoID, suite, className, name)
	if id, ok := s.testCasesByKey[key]; ok {
		return s.testCases[id], nil
	}
	tc := model.TestCase{
		ID:        s.nextID("tc"),
		RepoID:    repoID,
		Suite:     suite,
		ClassName: className,
		Name:      name,
	}
	s.testCasesByKey[key] = tc.ID
	s.testCases[tc.ID] = tc
	return tc, nil
}

// AppendOccurrence implements store.Store. Occurrences are append-only;
// retries of the same (workflowRun, testCase) pair are distinguished by
// Attempt and both persist.
func (s *Store) AppendOccurrence(ctx context.Context, occ model.Occurrence) (model.Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.testCases[occ.TestCaseID]; !ok {
		return model.Occurrence{}, fmt.Errorf("memstore: occurrence references unknown test case %q", occ.TestCaseID)
	}
	occ.ID = s.nextID("occ")
	if occ.CreatedAt.IsZero() {
		occ.CreatedAt = s.clockNow()
	}
	s.occurrences[occ.TestCaseID] = append(s.occurrences[occ.TestCaseID], occ)
	return occ, nil
}

// GetOccurrenceWindow implements store.Store, returning the most recent
// occurrences bounded by policy, oldest first.
func (s *Store) GetOccurrenceWindow(ctx context.Context, testCaseID string, policy store.OccurrenceWindowPolicy) ([]model.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.occurrences[testCaseID]
	cutoff := time.Time{}
	if policy.LookbackDays > 0 {
		cutoff = s.clockNow().AddDate(0, 0, -policy.LookbackDays)
	}

	filtered := make([]model.Occurrence, 0, len(all))
	for _, occ := range all {
		if !cutoff.IsZero() && occ.CreatedAt.Before(cutoff) {
			continue
		}
		filtered = append(filtered, occ)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.Before(filtered[j].CreatedAt) })

	if policy.MaxOccurrences > 0 && len(filtered) > policy.MaxOccurrences {
		filtered = filtered[len(filtered)-policy.MaxOccurrences:]
	}
	out := make([]model.Occurrence, len(filtered))
	copy(out, filtered)
	return out, nil
}

// UpsertFlakeScore implements store.Store. At most one current record
// exists per TestCase; this replaces it.
func (s *Store) UpsertFlakeScore(ctx context.Context, score model.FlakeScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if score.ComputedAt.IsZero() {
		score.ComputedAt = s.clockNow()
	}
	s.flakeScores[score.TestCaseID] = score
	return nil
}

// ListTestCases implements store.Store.
func (s *Store) ListTestCases(ctx context.Context, repoID string) ([]model.TestCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TestCase, 0, len(s.testCases))
	for _, tc := range s.testCases {
		if tc.RepoID == repoID {
			out = append(out, tc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetFlakeScore implements store.Store.
func (s *Store) GetFlakeScore(ctx context.Context, testCaseID string) (model.FlakeScore, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.flakeScores[testCaseID]
	return score, ok, nil
}

// WithTx implements store.Store by staging writes against a deep-copied
// Store and only publishing them into s if fn returns nil. This mirrors
// the "single transaction per workflow run, abort on failure with no
// partial commit" invariant of spec.md §6.1 without a real transactional
// backend.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	staged := s.snapshotLocked()
	s.mu.Unlock()

	if err := fn(staged); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.repositoriesByKey = staged.repositoriesByKey
	s.repositories = staged.repositories
	s.workflowRunsByKey = staged.workflowRunsByKey
	s.workflowRuns = staged.workflowRuns
	s.testCasesByKey = staged.testCasesByKey
	s.testCases = staged.testCases
	s.occurrences = staged.occurrences
	s.flakeScores = staged.flakeScores
	s.seq = staged.seq
	return nil
}

func (s *Store) snapshotLocked() *Store {
	cp := &Store{
		repositoriesByKey: make(map[string]string, len(s.repositoriesByKey)),
		repositories:      make(map[string]model.Repository, len(s.repositories)),
		workflowRunsByKey: make(map[string]string, len(s.workflowRunsByKey)),
		workflowRuns:      make(map[string]model.WorkflowRun, len(s.workflowRuns)),
		testCasesByKey:    make(map[string]string, len(s.testCasesByKey)),
		testCases:         make(map[string]model.TestCase, len(s.testCases)),
		occurrences:       make(map[string][]model.Occurrence, len(s.occurrences)),
		flakeScores:       make(map[string]model.FlakeScore, len(s.flakeScores)),
		seq:               s.seq,
	}
	for k, v := range s.repositoriesByKey {
		cp.repositoriesByKey[k] = v
	}
	for k, v := range s.repositories {
		cp.repositories[k] = v
	}
	for k, v := range s.workflowRunsByKey {
		cp.workflowRunsByKey[k] = v
	}
	for k, v := range s.workflowRuns {
		cp.workflowRuns[k] = v
	}
	for k, v := range s.testCasesByKey {
		cp.testCasesByKey[k] = v
	}
	for k, v := range s.testCases {
		cp.testCases[k] = v
	}
	for k, v := range s.occurrences {
		dup := make([]model.Occurrence, len(v))
		copy(dup, v)
		cp.occurrences[k] = dup
	}
	for k, v := range s.flakeScores {
		cp.flakeScores[k] = v
	}
	return cp
}
