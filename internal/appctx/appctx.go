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

// Package appctx builds the single Context value a FlakeGuard process
// threads through its components, replacing the global mutable
// logger/metrics-registry singletons of the source system (spec.md §9).
package appctx

import (
	"github.com/sirupsen/logrus"

	"github.com/flakeguard/flakeguard/internal/audit"
	"github.com/flakeguard/flakeguard/internal/config"
)

// Context carries the process-wide collaborators every component needs:
// logging, audit trail, and configuration. It is constructed once in main
// and passed explicitly to constructors from there on; it is not a
// context.Context (which carries request-scoped cancellation/deadlines
// separately) but a plain value, matching how the teacher's daemons build
// one *Client/*Mason/*Ranch in main and pass it down.
type Context struct {
	Log    *logrus.Entry
	Audit  *audit.Logger
	Config config.Config
}

// New builds a root Context. A nil log defaults to logrus.StandardLogger().
func New(log *logrus.Logger, cfg config.Config) *Context {
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := logrus.NewEntry(log)
	return &Context{
		Log:    entry,
		Audit:  audit.NewLogger(entry.WithField("component", "audit")),
		Config: cfg,
	}
}

// With returns a copy of c whose Log carries the given fields, for
// request/job-scoped annotation (correlation_id, job_id, repo, phase).
func (c *Context) With(fields logrus.Fields) *Context {
	cp := *c
	cp.Log = c.Log.WithFields(fields)
	return &cp
}
