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

// Package store defines the persistence interface of spec.md §6.1,
// generalizing boskos/storage.PersistenceLayer's single-entity CRUD
// contract to FlakeGuard's multi-entity, transactional ingestion model.
package store

import (
	"context"

	"github.com/flakeguard/flakeguard/internal/model"
)

// OccurrenceWindowPolicy bounds GetOccurrenceWindow's result, per the
// scorer's rolling-window and lookback policy (spec.md §4.J, §6.5).
type OccurrenceWindowPolicy struct {
	MaxOccurrences int
	LookbackDays   int
}

// Store is the transactional key/row persistence contract of spec.md §6.1.
// All ingestion writes for one workflow run occur within a single
// transaction via WithTx; failures abort and make no partial commit.
type Store interface {
	UpsertRepository(ctx context.Context, provider, owner, name, installationID string) (model.Repository, error)
	UpsertWorkflowRun(ctx context.Context, repoID, externalRunID, status, conclusion string) (model.WorkflowRun, error)
	UpsertTestCase(ctx context.Context, repoID, suite, className, name string) (model.TestCase, error)
	AppendOccurrence(ctx context.Context, occ model.Occurrence) (model.Occurrence, error)
	GetOccurrenceWindow(ctx context.Context, testCaseID string, policy OccurrenceWindowPolicy) ([]model.Occurrence, error)
	UpsertFlakeScore(ctx context.Context, score model.FlakeScore) error

	// ListTestCases returns every TestCase belonging to repoID. The
	// Recompute Orchestrator (spec.md §4.L) applies its own scope
	// filtering (test_pattern/class_pattern/specific_tests) over this
	// list rather than pushing pattern matching into the store.
	ListTestCases(ctx context.Context, repoID string) ([]model.TestCase, error)

	// GetFlakeScore returns a TestCase's current FlakeScore, or
	// ok=false if none has been computed yet.
	GetFlakeScore(ctx context.Context, testCaseID string) (score model.FlakeScore, ok bool, err error)

	// WithTx runs fn against a Store scoped to a single transaction. Every
	// write fn performs through the scoped Store commits atomically when fn
	// returns nil, and rolls back entirely otherwise — the "single
	// transaction per workflow run" invariant of spec.md §6.1.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
