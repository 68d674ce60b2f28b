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

// Package metrics registers the process-wide Prometheus collectors backing
// the /metrics endpoint of spec.md §6.4, following the package-level gauge
// pattern used by ghproxy/ghcache and boskos/metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// QueueJobs tracks jobs per kind and lifecycle state (spec.md §4.I).
	QueueJobs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flakeguard_queue_jobs",
		Help: "Number of jobs currently in a given kind/state.",
	}, []string{"kind", "state"})

	// JobDuration tracks end-to-end job processing latency.
	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flakeguard_job_duration_seconds",
		Help:    "Job processing duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "priority"})

	// ArtifactBytes tracks downloaded artifact sizes by outcome.
	ArtifactBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flakeguard_artifact_bytes",
		Help:    "Size in bytes of downloaded artifacts.",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 12),
	}, []string{"outcome"})

	// ParseDuration tracks JUnit parse latency by detected format.
	ParseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flakeguard_parse_duration_seconds",
		Help:    "JUnit parse duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"format"})

	// RateLimitRemaining mirrors the most recently observed bucket.
	RateLimitRemaining = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flakeguard_ratelimit_remaining",
		Help: "Remaining requests in the current rate-limit window.",
	}, []string{"resource"})

	// CircuitState reports 0=closed, 1=open, 2=half-open per labelled upstream.
	CircuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flakeguard_circuit_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
	}, []string{"label"})
)

func init() {
	prometheus.MustRegister(QueueJobs, JobDuration, ArtifactBytes, ParseDuration, RateLimitRemaining, CircuitState)
}
