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
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/flakeguard/flakeguard/internal/audit"
	"github.com/flakeguard/flakeguard/internal/ferr"
	"github.com/flakeguard/flakeguard/internal/ingest"
	"github.com/flakeguard/flakeguard/internal/model"
	"github.com/flakeguard/flakeguard/internal/platform"
)

// signatureHeader is the inbound header carrying the HMAC-SHA256
// signature of spec.md §6.3.
const signatureHeader = "X-Signature-SHA256"

// eventHeader names the delivered event type, following the GitHub-style
// webhook convention spec.md §6.3 is modeled on.
const eventHeader = "X-FlakeGuard-Event"

// completedAction is the only workflow_run action the handler acts on;
// every other action or event type is acknowledged and ignored.
const completedAction = "completed"

// RepositoryResolver maps a webhook delivery's repository identity onto a
// tracked model.Repository, upserting it on first sight.
type RepositoryResolver interface {
	UpsertRepository(ctx context.Context, provider, owner, name, installationID string) (model.Repository, error)
}

// workflowRunEvent is the logical shape of a workflow_run webhook delivery
// (spec.md §6.3) — narrower than the full upstream payload, matching the
// "logical shapes, not wire-exact" posture of internal/platform's DTOs.
type workflowRunEvent struct {
	Action      string `json:"action"`
	WorkflowRun struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"workflow_run"`
	Repository struct {
		Owner string `json:"owner"`
		Name  string `json:"name"`
	} `json:"repository"`
	Installation struct {
		ID string `json:"id"`
	} `json:"installation"`
}

// WebhookHandler verifies and dispatches inbound workflow_run deliveries.
type WebhookHandler struct {
	secret   []byte
	resolver RepositoryResolver
	enqueue  Enqueuer
	audit    *audit.Logger
	log      *logrus.Entry
}

// Enqueuer hands one ingestion job off to the Job Queue Manager. Shared
// shape with internal/poll.Enqueuer; duplicated here rather than imported
// to keep internal/server free of an internal/poll dependency.
type Enqueuer interface {
	EnqueueIngest(ctx context.Context, job ingest.Job) error
}

// NewWebhookHandler builds a WebhookHandler. secret is the shared HMAC key;
// auditLog may be nil to discard security-relevant records (tests only —
// production wiring should always supply one per spec.md §7).
func NewWebhookHandler(secret []byte, resolver RepositoryResolver, enqueue Enqueuer, auditLog *audit.Logger, log *logrus.Entry) *WebhookHandler {
	if auditLog == nil {
		auditLog = audit.NewLogger(log)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WebhookHandler{secret: secret, resolver: resolver, enqueue: enqueue, audit: auditLog, log: log}
}

// ServeHTTP implements spec.md §6.3: verify the signature, then act only on
// workflow_run.completed deliveries. Every other outcome — bad signature,
// unparseable body, uninteresting event — still acknowledges 200 once the
// signature itself is valid, per "unknown or non-completed events:
// acknowledge 200 and no-op."
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if !platform.VerifySignature(h.secret, body, r.Header.Get(signatureHeader)) {
		h.audit.Record(audit.Entry{
			Method: r.Method, Path: r.URL.Path, StatusCode: http.StatusUnauthorized,
			Outcome: "webhook_verification_failed", Security: true,
			Err: ferr.New(ferr.WebhookVerificationFailed, "signature mismatch"),
		})
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var event workflowRunEvent
	if err := json.Unmarshal(body, &event); err != nil {
		// A verified-but-malformed payload is acknowledged, not rejected:
		// the sender authenticated itself, so there is nothing to retry.
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Header.Get(eventHeader) != "workflow_run" || event.Action != completedAction {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	repo, err := h.resolver.UpsertRepository(ctx, "github", event.Repository.Owner, event.Repository.Name, event.Installation.ID)
	if err != nil {
		h.log.WithError(err).Warn("webhook: failed to resolve repository")
		http.Error(w, "repository resolution failed", http.StatusInternalServerError)
		return
	}

	key := repo.ID + "#" + event.WorkflowRun.ID
	job := ingest.Job{
		Repository:            repo,
		WorkflowRunExternalID: event.WorkflowRun.ID,
		Priority:              model.PriorityHigh,
		CorrelationID:         key,
		Trigger:               ingest.TriggerWebhook,
	}
	if err := h.enqueue.EnqueueIngest(ctx, job); err != nil {
		h.log.WithError(err).WithField("correlationId", key).Warn("webhook: failed to enqueue ingestion job")
		http.Error(w, "enqueue failed", http.StatusServiceUnavailable)
		return
	}

	h.audit.Record(audit.Entry{
		Method: r.Method, Path: r.URL.Path, StatusCode: http.StatusAccepted,
		Outcome: "enqueued", CorrelationID: key,
	})
	w.WriteHeader(http.StatusAccepted)
}
