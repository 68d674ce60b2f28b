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

package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flakeguard/flakeguard/internal/model"
)

func TestExtractFeaturesAppliesRollingWindow(t *testing.T) {
	now := time.Now()
	base := now.Add(-100 * time.Hour)
	var occs []model.Occurrence
	for i := 0; i < 100; i++ {
		occs = append(occs, occAt(model.StatusPassed, "run-0", 1, base.Add(time.Duration(i)*time.Hour)))
	}
	// Only the last 10 should count toward the window.
	occs = append(occs, occAt(model.StatusFailed, "run-1", 1, now.Add(-time.Hour)))

	policy := testPolicy()
	policy.RollingWindowSize = 10
	f := ExtractFeatures(occs, policy, now)
	assert.Equal(t, 10, f.TotalRuns)
}

func TestExtractFeaturesSkippedExcludedFromRatioAndTransitions(t *testing.T) {
	now := time.Now()
	base := now.Add(-5 * time.Hour)
	occs := []model.Occurrence{
		occAt(model.StatusPassed, "run-0", 1, base),
		occAt(model.StatusSkipped, "run-0", 1, base.Add(time.Hour)),
		occAt(model.StatusFailed, "run-0", 1, base.Add(2*time.Hour)),
	}
	f := ExtractFeatures(occs, testPolicy(), now)
	assert.Equal(t, 0.5, f.FailSuccessRatio, "skipped excluded from both numerator and denominator")
	assert.Equal(t, 1.0, f.IntermittencyScore, "skipped dropped before counting transitions")
}

func TestMessageSignatureVarianceRequiresMoreThanOneFailure(t *testing.T) {
	now := time.Now()
	single := []model.Occurrence{
		{Status: model.StatusFailed, FailureMessageDigest: "d1", CreatedAt: now},
	}
	assert.Zero(t, ExtractFeatures(single, testPolicy(), now).MessageSignatureVariance)

	varied := []model.Occurrence{
		{Status: model.StatusFailed, FailureMessageDigest: "d1", CreatedAt: now},
		{Status: model.StatusFailed, FailureMessageDigest: "d2", CreatedAt: now.Add(time.Hour)},
	}
	assert.Equal(t, 1.0, ExtractFeatures(varied, testPolicy(), now).MessageSignatureVariance)

	repeated := []model.Occurrence{
		{Status: model.StatusFailed, FailureMessageDigest: "d1", CreatedAt: now},
		{Status: model.StatusFailed, FailureMessageDigest: "d1", CreatedAt: now.Add(time.Hour)},
	}
	assert.Equal(t, 0.5, ExtractFeatures(repeated, testPolicy(), now).MessageSignatureVariance)
}

func TestConsecutiveFailuresTracksTailAndMax(t *testing.T) {
	now := time.Now()
	base := now.Add(-10 * time.Hour)
	occs := []model.Occurrence{
		occAt(model.StatusFailed, "run-0", 1, base),
		occAt(model.StatusFailed, "run-0", 1, base.Add(time.Hour)),
		occAt(model.StatusFailed, "run-0", 1, base.Add(2*time.Hour)),
		occAt(model.StatusPassed, "run-0", 1, base.Add(3*time.Hour)),
		occAt(model.StatusFailed, "run-0", 1, base.Add(4*time.Hour)),
	}
	f := ExtractFeatures(occs, testPolicy(), now)
	assert.Equal(t, 1, f.ConsecutiveFailures)
	assert.Equal(t, 3, f.MaxConsecutiveFailures)
}
