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

// Package model defines FlakeGuard's entity types (spec.md §3): the
// semantic records shared across ingestion, scoring, persistence, and the
// HTTP surface.
package model

import "time"

// OccurrenceStatus is one of the four outcomes an Occurrence may record.
type OccurrenceStatus string

const (
	StatusPassed  OccurrenceStatus = "passed"
	StatusFailed  OccurrenceStatus = "failed"
	StatusError   OccurrenceStatus = "error"
	StatusSkipped OccurrenceStatus = "skipped"
)

// Recommendation is the scorer's verdict for a TestCase.
type Recommendation string

const (
	RecommendationNone       Recommendation = "none"
	RecommendationWarn       Recommendation = "warn"
	RecommendationQuarantine Recommendation = "quarantine"
)

// Priority is the urgency tier attached to a FlakeScore or Job.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// JobKind enumerates the work a Job Queue Manager queue dispatches.
type JobKind string

const (
	JobIngest    JobKind = "ingest"
	JobAnalyze   JobKind = "analyze"
	JobRecompute JobKind = "recompute"
	JobPoll      JobKind = "poll"
)

// JobState is a Job's lifecycle stage.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobCancelled  JobState = "cancelled"
)

// Repository identifies a (provider, owner, name) tuple under installation.
type Repository struct {
	ID             string
	Provider       string
	Owner          string
	Name           string
	InstallationID string
}

// WorkflowRun is one execution of a CI workflow, owned by a Repository.
type WorkflowRun struct {
	ID            string
	RepoID        string
	ExternalRunID string
	Status        string
	Conclusion    string
	HeadSHA       string
	HeadBranch    string
	RunNumber     int
	Attempt       int
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Terminal reports whether the run has reached its completed state.
func (r WorkflowRun) Terminal() bool { return r.Status == "completed" }

// Artifact is a transient, run-scoped downloadable bundle. It is never
// persisted beyond the life of an ingestion job.
type Artifact struct {
	ID          string
	WorkflowRunID string
	Name        string
	SizeBytes   int64
	Expired     bool
	DownloadURL string
	ExpiresAt   time.Time
}

// TestCase is a uniquely-identified test, lazily created on first
// observation and retained for the life of its repository.
type TestCase struct {
	ID        string
	RepoID    string
	Suite     string
	ClassName string
	Name      string
	File      string
}

// Occurrence is one immutable, append-only observation of a TestCase within
// a WorkflowRun.
type Occurrence struct {
	ID                  string
	TestCaseID          string
	WorkflowRunID       string
	Status              OccurrenceStatus
	DurationMs          int64
	Attempt             int
	FailureMessageDigest string
	FailureStackDigest   string
	CreatedAt           time.Time
}

// FlakeScore is the scorer's current verdict for a TestCase. At most one
// current record exists per TestCase; prior values may be archived.
type FlakeScore struct {
	TestCaseID     string
	Score          float64
	Confidence     float64
	Features       map[string]float64
	Recommendation Recommendation
	Priority       Priority
	ComputedAt     time.Time
}

// FailureCluster is a derived, recomputed-on-scoring temporal grouping of
// an Occurrence run.
type FailureCluster struct {
	TestCaseID    string
	StartAt       time.Time
	EndAt         time.Time
	OccurrenceIDs []string
	Intensity     float64
}

// Job is one unit of work owned by the Job Queue Manager.
type Job struct {
	ID            string
	Kind          JobKind
	Priority      Priority
	State         JobState
	CorrelationID string
	Progress      int
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
