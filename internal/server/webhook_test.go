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

package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flakeguard/flakeguard/internal/ingest"
	"github.com/flakeguard/flakeguard/internal/model"
)

const testSecret = "shhh"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type fakeResolver struct {
	repo model.Repository
	err  error
}

func (f *fakeResolver) UpsertRepository(ctx context.Context, provider, owner, name, installationID string) (model.Repository, error) {
	if f.err != nil {
		return model.Repository{}, f.err
	}
	r := f.repo
	r.Owner, r.Name, r.Provider = owner, name, provider
	return r, nil
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

const completedPayload = `{"action":"completed","workflow_run":{"id":"42","status":"completed"},"repository":{"owner":"acme","name":"widgets"},"installation":{"id":"inst-1"}}`

func newTestHandler(resolver *fakeResolver, enqueuer *fakeEnqueuer) *WebhookHandler {
	return NewWebhookHandler([]byte(testSecret), resolver, enqueuer, nil, nil)
}

func TestServeHTTPRejectsInvalidSignature(t *testing.T) {
	h := newTestHandler(&fakeResolver{repo: model.Repository{ID: "repo-1"}}, &fakeEnqueuer{})
	body := []byte(completedPayload)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, "sha256="+hex.EncodeToString([]byte("garbage-garbage-garbage-garbage")))
	req.Header.Set(eventHeader, "workflow_run")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServeHTTPEnqueuesOnCompletedWorkflowRun(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	h := newTestHandler(&fakeResolver{repo: model.Repository{ID: "repo-1"}}, enqueuer)
	body := []byte(completedPayload)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, sign(body))
	req.Header.Set(eventHeader, "workflow_run")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, enqueuer.jobs, 1)
	assert.Equal(t, "42", enqueuer.jobs[0].WorkflowRunExternalID)
	assert.Equal(t, ingest.TriggerWebhook, enqueuer.jobs[0].Trigger)
	assert.Equal(t, model.PriorityHigh, enqueuer.jobs[0].Priority)
}

func TestServeHTTPNoOpsOnNonCompletedAction(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	h := newTestHandler(&fakeResolver{repo: model.Repository{ID: "repo-1"}}, enqueuer)
	body := []byte(`{"action":"requested","workflow_run":{"id":"42"},"repository":{"owner":"acme","name":"widgets"}}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, sign(body))
	req.Header.Set(eventHeader, "workflow_run")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, enqueuer.jobs)
}

func TestServeHTTPNoOpsOnUninterestingEventType(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	h := newTestHandler(&fakeResolver{repo: model.Repository{ID: "repo-1"}}, enqueuer)
	body := []byte(completedPayload)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, sign(body))
	req.Header.Set(eventHeader, "pull_request")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, enqueuer.jobs)
}

func TestServeHTTPReturns503WhenEnqueueFails(t *testing.T) {
	enqueuer := &fakeEnqueuer{err: assert.AnError}
	h := newTestHandler(&fakeResolver{repo: model.Repository{ID: "repo-1"}}, enqueuer)
	body := []byte(completedPayload)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, sign(body))
	req.Header.Set(eventHeader, "workflow_run")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
