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

package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flakeguard/flakeguard/internal/config"
	"github.com/flakeguard/flakeguard/internal/model"
	"github.com/flakeguard/flakeguard/internal/platform"
	"github.com/flakeguard/flakeguard/internal/store/memstore"
)

const oneSuiteXML = `<testsuite name="com.acme.WidgetTest" tests="2" failures="1">
	<testcase classname="com.acme.WidgetTest" name="ok" time="0.1"/>
	<testcase classname="com.acme.WidgetTest" name="bad" time="0.2">
		<failure message="boom" type="AssertionError">at com.acme.WidgetTest.bad(WidgetTest.java:10:2)</failure>
	</testcase>
</testsuite>`

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fakeLister struct {
	artifacts []platform.ArtifactRef
	err       error
}

func (f *fakeLister) ListArtifacts(ctx context.Context, owner, repo, runID string) ([]platform.ArtifactRef, error) {
	return f.artifacts, f.err
}

type fakeDownloader struct {
	bodies map[string][]byte
	calls  int
}

func (f *fakeDownloader) Download(ctx context.Context, owner, repo, artifactID string) ([]byte, error) {
	f.calls++
	return f.bodies[artifactID], nil
}

func testIngestConfig() config.Ingest {
	cfg := config.DefaultIngest()
	cfg.ArtifactMaxSizeBytes = 1 << 20
	return cfg
}

func testJob() Job {
	return Job{
		Repository:             model.Repository{Provider: "github", Owner: "acme", Name: "widgets"},
		WorkflowRunExternalID: "run-1",
		Priority:               model.PriorityMedium,
		CorrelationID:          "corr-1",
		Trigger:                TriggerWebhook,
	}
}

func TestProcessDiscoversDownloadsParsesAndStores(t *testing.T) {
	zipBody := buildZip(t, map[string]string{
		"TEST-widget.xml":      oneSuiteXML,
		"__MACOSX/ignored.xml": "<testsuite/>",
	})
	lister := &fakeLister{artifacts: []platform.ArtifactRef{
		{ID: "1", Name: "junit-test-results", SizeBytes: int64(len(zipBody))},
		{ID: "2", Name: "irrelevant-binary", SizeBytes: 10},
		{ID: "3", Name: "junit-expired", Expired: true},
	}}
	downloader := &fakeDownloader{bodies: map[string][]byte{"1": zipBody}}
	st := memstore.New()

	var events []string
	progress := func(phase string, pct int, item string) {
		events = append(events, phase)
	}

	c := New(lister, downloader, st, config.DefaultParser(), testIngestConfig(), nil)
	res, err := c.Process(context.Background(), testJob(), progress)
	require.NoError(t, err)

	assert.Equal(t, 1, res.ArtifactsConsidered, "only the name+size+expiry-qualifying artifact should be downloaded")
	assert.Equal(t, 2, res.OccurrencesStored)
	assert.Empty(t, res.ArtifactErrors)
	assert.Contains(t, events, "discover")
	assert.Contains(t, events, "download")
	assert.Contains(t, events, "parse")
	assert.Contains(t, events, "store")
	assert.Equal(t, 1, downloader.calls)
	assert.NotEmpty(t, res.WorkflowRunID)
}

func TestProcessIsIdempotentForTerminalDuplicates(t *testing.T) {
	zipBody := buildZip(t, map[string]string{"TEST-widget.xml": oneSuiteXML})
	lister := &fakeLister{artifacts: []platform.ArtifactRef{{ID: "1", Name: "test-results", SizeBytes: int64(len(zipBody))}}}
	downloader := &fakeDownloader{bodies: map[string][]byte{"1": zipBody}}
	st := memstore.New()

	c := New(lister, downloader, st, config.DefaultParser(), testIngestConfig(), nil)
	job := testJob()

	first, err := c.Process(context.Background(), job, nil)
	require.NoError(t, err)
	assert.False(t, first.Idempotent)

	second, err := c.Process(context.Background(), job, nil)
	require.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.OccurrencesStored, second.OccurrencesStored)
	assert.Equal(t, 1, downloader.calls, "a duplicate terminal job must not re-download")
}

func TestProcessCollectsPerArtifactErrorsAndContinues(t *testing.T) {
	goodZip := buildZip(t, map[string]string{"TEST-widget.xml": oneSuiteXML})
	lister := &fakeLister{artifacts: []platform.ArtifactRef{
		{ID: "broken", Name: "test-broken", SizeBytes: 10},
		{ID: "good", Name: "test-good", SizeBytes: int64(len(goodZip))},
	}}
	downloader := &fakeDownloader{bodies: map[string][]byte{
		"broken": []byte("not a zip"),
		"good":   goodZip,
	}}
	st := memstore.New()

	c := New(lister, downloader, st, config.DefaultParser(), testIngestConfig(), nil)
	res, err := c.Process(context.Background(), testJob(), nil)
	require.NoError(t, err)
	assert.Len(t, res.ArtifactErrors, 1)
	assert.Greater(t, res.OccurrencesStored, 0, "job succeeds if at least one artifact parsed")
}

func TestProcessFailsWhenAllArtifactsFail(t *testing.T) {
	lister := &fakeLister{artifacts: []platform.ArtifactRef{{ID: "broken", Name: "test-broken", SizeBytes: 10}}}
	downloader := &fakeDownloader{bodies: map[string][]byte{"broken": []byte("not a zip")}}
	st := memstore.New()

	c := New(lister, downloader, st, config.DefaultParser(), testIngestConfig(), nil)
	_, err := c.Process(context.Background(), testJob(), nil)
	require.Error(t, err)
}

func TestProcessReturnsSuccessWithZeroCountsForEmptyRun(t *testing.T) {
	lister := &fakeLister{artifacts: nil}
	downloader := &fakeDownloader{bodies: map[string][]byte{}}
	st := memstore.New()

	c := New(lister, downloader, st, config.DefaultParser(), testIngestConfig(), nil)
	res, err := c.Process(context.Background(), testJob(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.OccurrencesStored)
	assert.Empty(t, res.ArtifactErrors)
}
