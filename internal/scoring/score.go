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
	"time"

	"github.com/flakeguard/flakeguard/internal/model"
)

// Weights are the fixed linear-combination coefficients feeding Score.
// The exact coefficients are not specified by spec.md §9 OQ2 — only the
// ordering properties of §4.J are binding, and these values are chosen to
// satisfy every one of them (see the scenario tests in score_test.go):
// intermittency and rerun-rescue dominate so that a steadily-failing test
// with no retries never outscores an alternating or rescued one.
const (
	weightIntermittency = 0.35
	weightRerunPassRate = 0.30
	weightFailRatio     = 0.15
	weightMaxConsecutive = 0.10
	weightMessageVariance = 0.10
)

// Reasons returned alongside RecommendationNone.
const (
	ReasonInsufficientData    = "Insufficient data (need ≥ N runs)"
	ReasonTooFewRecentFailures = "Too few recent failures"
)

// Score is a computed FlakeScore's non-identity fields: the numeric score,
// its confidence, the extracted features, and the derived recommendation.
type Score struct {
	Value          float64
	Confidence     float64
	Features       Features
	Recommendation model.Recommendation
	Priority       model.Priority
	Reason         string
}

// Compute implements spec.md §4.J end to end: feature extraction, linear
// score composition with a monotone clamp to [0,1], confidence, and
// recommendation/priority tiering. occurrences need not be pre-sorted;
// Compute is a total, deterministic function of its (sorted) input and is
// invariant to the input ordering, satisfying spec.md §8 property 2.
func Compute(occurrences []model.Occurrence, policy Policy, now time.Time) Score {
	features := ExtractFeatures(occurrences, policy, now)
	value := compose(features)
	confidence := computeConfidence(features, policy, now, occurrences)
	recommendation, priority, reason := recommend(features, value, policy, now, occurrences)

	return Score{
		Value:          value,
		Confidence:     confidence,
		Features:       features,
		Recommendation: recommendation,
		Priority:       priority,
		Reason:         reason,
	}
}

func compose(f Features) float64 {
	if f.TotalRuns == 0 {
		return 0
	}
	maxConsecutiveNorm := 0.0
	if f.TotalRuns > 0 {
		maxConsecutiveNorm = float64(f.MaxConsecutiveFailures) / float64(f.TotalRuns)
	}
	raw := weightIntermittency*f.IntermittencyScore +
		weightRerunPassRate*f.RerunPassRate +
		weightFailRatio*f.FailSuccessRatio +
		weightMaxConsecutive*maxConsecutiveNorm +
		weightMessageVariance*f.MessageSignatureVariance
	return clamp01(raw)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// computeConfidence increases monotonically with totalRuns and the
// observed span, and is halved when the test was first seen under an hour
// ago, per spec.md §4.J.
func computeConfidence(f Features, policy Policy, now time.Time, occurrences []model.Occurrence) float64 {
	if f.TotalRuns == 0 {
		return 0
	}
	runsComponent := float64(f.TotalRuns) / float64(max1(policy.RollingWindowSize))
	spanComponent := f.DaysSinceFirstSeen / float64(max1(policy.LookbackDays))
	confidence := 0.5 + 0.3*clamp01(runsComponent) + 0.2*clamp01(spanComponent)
	confidence = clamp01(confidence)

	if f.DaysSinceFirstSeen*24 < 1 {
		confidence *= 0.5
	}
	return confidence
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// recentFailureCount counts fail-ish occurrences within policy.LookbackDays
// of now, independent of the scoring window (spec.md §4.J recommendation
// rule reads "failures within lookbackDays", not "within the window").
func recentFailureCount(occurrences []model.Occurrence, policy Policy, now time.Time) int {
	cutoff := now.AddDate(0, 0, -max1(policy.LookbackDays))
	count := 0
	for _, occ := range occurrences {
		if isFailish(occ.Status) && !occ.CreatedAt.Before(cutoff) {
			count++
		}
	}
	return count
}

func recommend(f Features, score float64, policy Policy, now time.Time, occurrences []model.Occurrence) (model.Recommendation, model.Priority, string) {
	if f.TotalRuns < policy.MinRunsForQuarantine {
		return model.RecommendationNone, "", ReasonInsufficientData
	}
	if recentFailureCount(occurrences, policy, now) < policy.MinRecentFailures {
		return model.RecommendationNone, "", ReasonTooFewRecentFailures
	}
	switch {
	case score >= policy.QuarantineThreshold:
		return model.RecommendationQuarantine, priorityFor(score), ""
	case score >= policy.WarnThreshold:
		return model.RecommendationWarn, model.PriorityMedium, ""
	default:
		return model.RecommendationNone, "", ""
	}
}

func priorityFor(score float64) model.Priority {
	switch {
	case score > 0.85:
		return model.PriorityCritical
	case score > 0.7:
		return model.PriorityHigh
	default:
		return model.PriorityMedium
	}
}
