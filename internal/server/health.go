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
	"net/http"
	"runtime"
	"time"
)

// CheckStatus is one health check's pass/fail state (spec.md §6.4).
type CheckStatus string

const (
	StatusUp   CheckStatus = "up"
	StatusDown CheckStatus = "down"
)

// Check is one named dependency probe.
type Check struct {
	Name string
	Probe func(ctx context.Context) error
}

type checkResult struct {
	Status         CheckStatus `json:"status"`
	Message        string      `json:"message,omitempty"`
	ResponseTimeMs int64       `json:"responseTimeMs"`
}

type healthResponse struct {
	Status string                  `json:"status"`
	Uptime string                  `json:"uptime"`
	Checks map[string]checkResult  `json:"checks"`
}

type memorySnapshot struct {
	AllocBytes      uint64 `json:"allocBytes"`
	SysBytes        uint64 `json:"sysBytes"`
	NumGoroutine    int    `json:"numGoroutine"`
}

type liveResponse struct {
	Status string         `json:"status"`
	Memory memorySnapshot `json:"memory"`
}

// HealthHandler serves /health, /health/ready, and /health/live (spec.md
// §6.4). Checks run with a short per-call timeout so a stalled dependency
// can't hang the health endpoint itself.
type HealthHandler struct {
	checks      []Check
	startedAt   time.Time
	checkTimeout time.Duration
	now         func() time.Time
}

// NewHealthHandler builds a HealthHandler. startedAt should be the
// process's start time, used to compute uptime.
func NewHealthHandler(startedAt time.Time, checks []Check) *HealthHandler {
	return &HealthHandler{
		checks:       checks,
		startedAt:    startedAt,
		checkTimeout: 2 * time.Second,
		now:          time.Now,
	}
}

func (h *HealthHandler) runChecks(ctx context.Context) (map[string]checkResult, bool) {
	results := make(map[string]checkResult, len(h.checks))
	allUp := true
	for _, c := range h.checks {
		cctx, cancel := context.WithTimeout(ctx, h.checkTimeout)
		start := h.now()
		err := c.Probe(cctx)
		cancel()
		elapsed := h.now().Sub(start)

		res := checkResult{Status: StatusUp, ResponseTimeMs: elapsed.Milliseconds()}
		if err != nil {
			res.Status = StatusDown
			res.Message = err.Error()
			allUp = false
		}
		results[c.Name] = res
	}
	return results, allUp
}

// ServeHealth implements GET /health: the aggregate status plus every
// per-dependency check.
func (h *HealthHandler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	results, allUp := h.runChecks(r.Context())
	resp := healthResponse{
		Status: "up",
		Uptime: h.now().Sub(h.startedAt).String(),
		Checks: results,
	}
	if !allUp {
		resp.Status = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ServeReady implements GET /health/ready: 200 only if every check passes,
// 503 otherwise — database and broker reachability per spec.md §6.4.
func (h *HealthHandler) ServeReady(w http.ResponseWriter, r *http.Request) {
	_, allUp := h.runChecks(r.Context())
	if !allUp {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ServeLive implements GET /health/live: always 200 while the process can
// respond at all, carrying a memory snapshot for operator triage.
func (h *HealthHandler) ServeLive(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	resp := liveResponse{
		Status: "up",
		Memory: memorySnapshot{
			AllocBytes:   m.Alloc,
			SysBytes:     m.Sys,
			NumGoroutine: runtime.NumGoroutine(),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
