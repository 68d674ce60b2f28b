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

// Package ingest implements the discover/download/parse/store pipeline of
// spec.md §4.H, generalizing the phase-to-phase handoff-over-channels
// shape of boskos/mason.Mason (recycle → fulfill → clean → free) into a
// single sequential per-job pipeline, since spec.md §5 requires
// monotonic, strictly sequential progress within one ingestion job.
package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/flakeguard/flakeguard/internal/config"
	"github.com/flakeguard/flakeguard/internal/ferr"
	"github.com/flakeguard/flakeguard/internal/junit"
	"github.com/flakeguard/flakeguard/internal/model"
	"github.com/flakeguard/flakeguard/internal/platform"
	"github.com/flakeguard/flakeguard/internal/scoring"
	"github.com/flakeguard/flakeguard/internal/store"
)

// Trigger is the originating event for an ingestion job.
type Trigger string

const (
	TriggerWebhook Trigger = "webhook"
	TriggerPolling Trigger = "polling"
	TriggerManual  Trigger = "manual"
)

// excludedZipPrefixes are platform-metadata entries never treated as
// candidate XML reports (spec.md §4.H).
var excludedZipPrefixes = []string{"__MACOSX", ".DS_Store"}

// Job is one unit of ingestion work.
type Job struct {
	Repository            model.Repository
	WorkflowRunExternalID string
	Priority               model.Priority
	CorrelationID          string
	Trigger                Trigger
}

// ProgressFunc receives one progress event per phase transition, per
// spec.md §4.H's contractual percent thresholds.
type ProgressFunc func(phase string, percent int, currentItemName string)

func noopProgress(string, int, string) {}

// ArtifactLister lists a workflow run's artifacts. internal/platform.Client
// satisfies this.
type ArtifactLister interface {
	ListArtifacts(ctx context.Context, owner, repo, runID string) ([]platform.ArtifactRef, error)
}

// ArtifactDownloader fetches one artifact's full ZIP body.
// internal/artifact.Handler satisfies this.
type ArtifactDownloader interface {
	Download(ctx context.Context, owner, repo, artifactID string) ([]byte, error)
}

// Result is Process's outcome for one job.
type Result struct {
	WorkflowRunID     string
	ArtifactsConsidered int
	ArtifactsParsed   int
	OccurrencesStored int
	ArtifactErrors    []string
	Warnings          []string
	Idempotent        bool
}

// Coordinator drives the discover → download → parse → store pipeline.
type Coordinator struct {
	lister     ArtifactLister
	downloader ArtifactDownloader
	store      store.Store
	parserCfg  config.Parser
	cfg        config.Ingest
	log        *logrus.Entry

	mu        sync.Mutex
	completed map[string]Result
}

// New builds a Coordinator.
func New(lister ArtifactLister, downloader ArtifactDownloader, st store.Store, parserCfg config.Parser, cfg config.Ingest, log *logrus.Entry) *Coordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{
		lister:     lister,
		downloader: downloader,
		store:      st,
		parserCfg:  parserCfg,
		cfg:        cfg,
		log:        log,
		completed:  map[string]Result{},
	}
}

func idempotencyKey(job Job) string {
	return job.Repository.Provider + "/" + job.Repository.Owner + "/" + job.Repository.Name + "#" + job.WorkflowRunExternalID
}

type xmlEntry struct {
	name string
	data []byte
}

// Process runs one ingestion job end to end. A duplicate job observed in
// a terminal (already-completed) state returns the prior result without
// re-work, per spec.md §4.H.
func (c *Coordinator) Process(ctx context.Context, job Job, progress ProgressFunc) (Result, error) {
	if progress == nil {
		progress = noopProgress
	}
	key := idempotencyKey(job)

	c.mu.Lock()
	if prior, ok := c.completed[key]; ok {
		c.mu.Unlock()
		prior.Idempotent = true
		return prior, nil
	}
	c.mu.Unlock()

	res, err := c.process(ctx, job, progress)
	if err != nil {
		return Result{}, err
	}

	c.mu.Lock()
	c.completed[key] = res
	c.mu.Unlock()
	return res, nil
}

func (c *Coordinator) process(ctx context.Context, job Job, progress ProgressFunc) (Result, error) {
	owner, repo := job.Repository.Owner, job.Repository.Name

	// discover (10%)
	artifacts, err := c.lister.ListArtifacts(ctx, owner, repo, job.WorkflowRunExternalID)
	if err != nil {
		return Result{}, err
	}
	qualifying := filterArtifacts(artifacts, c.cfg)
	progress("discover", 10, "")

	// download (25-75%), sequential for monotonic progress (spec.md §5).
	tempDir, err := os.MkdirTemp(c.cfg.TempDirRoot, "flakeguard-ingest-*")
	if err != nil {
		return Result{}, ferr.Wrap(ferr.Unavailable, err, "failed to create scoped temp directory")
	}
	defer os.RemoveAll(tempDir)

	var entries []xmlEntry
	var artifactErrors []string
	artifactsProcessedOK := 0
	for i, a := range qualifying {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		pct := 25
		if len(qualifying) > 0 {
			pct = 25 + (50*i)/len(qualifying)
		}
		progress("download", pct, a.Name)

		body, derr := c.downloader.Download(ctx, owner, repo, a.ID)
		if derr != nil {
			artifactErrors = append(artifactErrors, fmt.Sprintf("%s: %v", a.Name, derr))
			continue
		}
		extracted, xerr := extractXML(body, tempDir, i)
		if xerr != nil {
			artifactErrors = append(artifactErrors, fmt.Sprintf("%s: %v", a.Name, xerr))
			continue
		}
		artifactsProcessedOK++
		entries = append(entries, extracted...)
	}
	progress("download", 75, "")

	// parse (75-90%)
	var suites []junit.TestSuite
	var warnings []string
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		pct := 75
		if len(entries) > 0 {
			pct = 75 + (15*i)/len(entries)
		}
		progress("parse", pct, e.name)

		parsed, perr := junit.Parse(bytes.NewReader(e.data), c.parserCfg, e.name, "")
		if perr != nil {
			artifactErrors = append(artifactErrors, fmt.Sprintf("%s: %v", e.name, perr))
			continue
		}
		warnings = append(warnings, parsed.Warnings...)
		for _, s := range parsed.TestSuites.Suites {
			suites = append(suites, s)
		}
	}
	progress("parse", 90, "")

	// store (90-100%), within one transaction.
	var workflowRunID string
	var occurrencesStored int
	txErr := c.store.WithTx(ctx, func(tx store.Store) error {
		repoRec, err := tx.UpsertRepository(ctx, job.Repository.Provider, owner, repo, job.Repository.InstallationID)
		if err != nil {
			return err
		}
		run, err := tx.UpsertWorkflowRun(ctx, repoRec.ID, job.WorkflowRunExternalID, statusForRun(suites), conclusionForRun(artifactErrors, suites))
		if err != nil {
			return err
		}
		workflowRunID = run.ID

		for _, sw := range suites {
			for _, tc := range sw.TestCases {
				testCase, err := tx.UpsertTestCase(ctx, repoRec.ID, sw.Name, tc.ClassName, tc.Name)
				if err != nil {
					return err
				}
				occ := model.Occurrence{
					TestCaseID:   testCase.ID,
					WorkflowRunID: run.ID,
					Status:        occurrenceStatus(tc.Status),
					DurationMs:    int64(tc.Time * 1000),
					Attempt:       1,
				}
				if tc.FailureMessage != "" {
					occ.FailureMessageDigest = scoring.Digest(scoring.NormalizeMessage(tc.FailureMessage))
				}
				if tc.FailureStack != "" {
					occ.FailureStackDigest = scoring.Digest(scoring.NormalizeMessage(tc.FailureStack))
				}
				if _, err := tx.AppendOccurrence(ctx, occ); err != nil {
					return err
				}
				occurrencesStored++
			}
		}
		return nil
	})
	if txErr != nil {
		return Result{}, txErr
	}
	progress("store", 100, "")

	if len(qualifying) > 0 && artifactsProcessedOK == 0 {
		return Result{}, ferr.New(ferr.ParseFailed, "no artifact parsed successfully")
	}

	return Result{
		WorkflowRunID:       workflowRunID,
		ArtifactsConsidered: len(qualifying),
		ArtifactsParsed:     artifactsProcessedOK,
		OccurrencesStored:   occurrencesStored,
		ArtifactErrors:      artifactErrors,
		Warnings:            warnings,
	}, nil
}

func filterArtifacts(artifacts []platform.ArtifactRef, cfg config.Ingest) []platform.ArtifactRef {
	var out []platform.ArtifactRef
	for _, a := range artifacts {
		if a.Expired {
			continue
		}
		if cfg.ArtifactMaxSizeBytes > 0 && a.SizeBytes > cfg.ArtifactMaxSizeBytes {
			continue
		}
		if !matchesKeyword(a.Name, cfg.NameKeywords) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func matchesKeyword(name string, keywords []string) bool {
	lower := strings.ToLower(name)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// extractXML writes body to a file under tempDir, unzips it, and returns
// every non-metadata *.xml entry's contents (spec.md §4.H).
func extractXML(body []byte, tempDir string, index int) ([]xmlEntry, error) {
	zipPath := filepath.Join(tempDir, fmt.Sprintf("artifact-%d.zip", index))
	if err := os.WriteFile(zipPath, body, 0o600); err != nil {
		return nil, ferr.Wrap(ferr.Unavailable, err, "failed to stage artifact in scoped temp directory")
	}
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, ferr.Wrap(ferr.InvalidZip, err, "failed to open artifact as a ZIP archive")
	}
	defer zr.Close()

	var out []xmlEntry
	for _, f := range zr.File {
		if isExcluded(f.Name) {
			continue
		}
		if !strings.EqualFold(filepath.Ext(f.Name), ".xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, xmlEntry{name: f.Name, data: data})
	}
	return out, nil
}

func isExcluded(name string) bool {
	for _, prefix := range excludedZipPrefixes {
		if strings.HasPrefix(name, prefix) || strings.Contains(name, "/"+prefix) {
			return true
		}
	}
	return false
}

func occurrenceStatus(s junit.Status) model.OccurrenceStatus {
	switch s {
	case junit.StatusFailed:
		return model.StatusFailed
	case junit.StatusError:
		return model.StatusError
	case junit.StatusSkipped:
		return model.StatusSkipped
	default:
		return model.StatusPassed
	}
}

func statusForRun(suites []junit.TestSuite) string {
	return "completed"
}

func conclusionForRun(artifactErrors []string, suites []junit.TestSuite) string {
	for _, s := range suites {
		if s.Failures > 0 || s.Errors > 0 {
			return "failure"
		}
	}
	if len(suites) == 0 && len(artifactErrors) > 0 {
		return "failure"
	}
	return "success"
}
