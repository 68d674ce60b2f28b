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

// Package audit records a structured trail of platform-client requests and
// security-relevant events, generalizing the instrumentation point at
// ghmetrics.CollectGitHubRequestMetrics into a logged audit record (spec.md
// §4.E, §7: "Security-relevant errors are always audit-logged even when
// debug is off").
package audit

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Entry is one audited platform-client request.
type Entry struct {
	CorrelationID string
	Method        string
	Path          string
	StatusCode    int
	Outcome       string // e.g. "ok", "retried", "circuit_open", "rate_limited"
	Security      bool   // true for auth failures, webhook failures, path traversal
	Duration      time.Duration
	Err           error
}

// Logger writes audit entries to an injected *logrus.Entry, never a global
// singleton, so tests can observe the trail (see spec.md §9 on explicit
// Context threading replacing global loggers).
type Logger struct {
	log *logrus.Entry
}

// NewLogger wraps log (or logrus.StandardLogger() if nil) as an audit sink.
func NewLogger(log *logrus.Entry) *Logger {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Logger{log: log}
}

// Record writes e. Security-relevant entries are always logged at Warn,
// regardless of any debug flag; ordinary entries log at Info.
func (l *Logger) Record(e Entry) {
	fields := logrus.Fields{
		"correlation_id": e.CorrelationID,
		"method":         e.Method,
		"path":           e.Path,
		"status":         e.StatusCode,
		"outcome":        e.Outcome,
		"duration_ms":    e.Duration.Milliseconds(),
	}
	entry := l.log.WithFields(fields)
	if e.Err != nil {
		entry = entry.WithError(e.Err)
	}
	if e.Security {
		entry.Warn("security-relevant platform request")
		return
	}
	entry.Info("platform request")
}
