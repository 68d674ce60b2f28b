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

// Package server exposes FlakeGuard's inbound HTTP surface: the webhook
// receiver and the health/metrics endpoints of spec.md §6.3-§6.4. Route
// registration follows estuary-flow/go/ingest's mux.Router.Path(...).
// Methods(...).HandlerFunc(...) chaining; the webhook handler's
// signature-verify-then-switch-on-event shape is grounded on the teacher's
// mungegithub/github.WebHook.ServeHTTP.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server wires the webhook and operational-surface handlers onto one
// *mux.Router.
type Server struct {
	router  *mux.Router
	webhook *WebhookHandler
	health  *HealthHandler
	log     *logrus.Entry
}

// New builds a Server. webhook may be nil for processes (e.g. a
// poll-only worker) that don't accept inbound webhooks.
func New(webhook *WebhookHandler, health *HealthHandler, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{router: mux.NewRouter(), webhook: webhook, health: health, log: log}
	s.routes()
	return s
}

func (s *Server) routes() {
	if s.webhook != nil {
		s.router.Path("/webhook").Methods(http.MethodPost).HandlerFunc(s.webhook.ServeHTTP)
	}
	if s.health != nil {
		s.router.Path("/health").Methods(http.MethodGet).HandlerFunc(s.health.ServeHealth)
		s.router.Path("/health/ready").Methods(http.MethodGet).HandlerFunc(s.health.ServeReady)
		s.router.Path("/health/live").Methods(http.MethodGet).HandlerFunc(s.health.ServeLive)
	}
	s.router.Path("/metrics").Methods(http.MethodGet).Handler(promhttp.Handler())
}

// ServeHTTP implements http.Handler by delegating to the registered routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
