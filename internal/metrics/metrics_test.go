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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreRegisteredAndGatherable(t *testing.T) {
	QueueJobs.WithLabelValues("ingest", "running").Set(3)
	JobDuration.WithLabelValues("ingest", "high").Observe(0.5)
	ArtifactBytes.WithLabelValues("ok").Observe(4096)
	ParseDuration.WithLabelValues("junit").Observe(0.01)
	RateLimitRemaining.WithLabelValues("core").Set(4999)
	CircuitState.WithLabelValues("github").Set(1)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"flakeguard_queue_jobs",
		"flakeguard_job_duration_seconds",
		"flakeguard_artifact_bytes",
		"flakeguard_parse_duration_seconds",
		"flakeguard_ratelimit_remaining",
		"flakeguard_circuit_state",
	} {
		assert.True(t, names[want], "expected %s to be registered", want)
	}
}
