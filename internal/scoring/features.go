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
	"sort"
	"time"

	"github.com/flakeguard/flakeguard/internal/model"
)

// Features is the feature-extraction contract of spec.md §4.J, one record
// per TestCase per scoring pass.
type Features struct {
	TotalRuns                int
	FailSuccessRatio         float64
	IntermittencyScore       float64
	RerunPassRate            float64
	ConsecutiveFailures      int
	MaxConsecutiveFailures   int
	MessageSignatureVariance float64
	DaysSinceFirstSeen       float64
	AvgTimeBetweenFailuresHrs float64
}

// AsMap renders Features as the map[string]float64 shape FlakeScore
// persists (spec.md §3 FlakeScore.features).
func (f Features) AsMap() map[string]float64 {
	return map[string]float64{
		"totalRuns":                float64(f.TotalRuns),
		"failSuccessRatio":         f.FailSuccessRatio,
		"intermittencyScore":       f.IntermittencyScore,
		"rerunPassRate":            f.RerunPassRate,
		"consecutiveFailures":      float64(f.ConsecutiveFailures),
		"maxConsecutiveFailures":   float64(f.MaxConsecutiveFailures),
		"messageSignatureVariance": f.MessageSignatureVariance,
		"daysSinceFirstSeen":       f.DaysSinceFirstSeen,
		"avgTimeBetweenFailures":   f.AvgTimeBetweenFailuresHrs,
	}
}

func isFailish(s model.OccurrenceStatus) bool {
	return s == model.StatusFailed || s == model.StatusError
}

// ExtractFeatures implements the windowing and feature-extraction steps of
// spec.md §4.J: occurrences are sorted ascending by CreatedAt, then only
// the most recent policy.RollingWindowSize entries are kept before any
// feature is computed, so every feature below is already window-scoped.
func ExtractFeatures(occurrences []model.Occurrence, policy Policy, now time.Time) Features {
	window := windowOf(occurrences, policy.RollingWindowSize)

	var f Features
	f.TotalRuns = len(window)
	if f.TotalRuns == 0 {
		return f
	}

	f.FailSuccessRatio = failSuccessRatio(window)
	f.IntermittencyScore = intermittencyScore(window)
	f.RerunPassRate = rerunPassRate(window)
	f.ConsecutiveFailures, f.MaxConsecutiveFailures = consecutiveFailures(window)
	f.MessageSignatureVariance = messageSignatureVariance(window)
	f.DaysSinceFirstSeen = now.Sub(window[0].CreatedAt).Hours() / 24
	f.AvgTimeBetweenFailuresHrs = avgTimeBetweenFailures(window)
	return f
}

// windowOf returns the occurrences sorted ascending by CreatedAt, trimmed
// to the most recent size entries (0 or negative size means no trimming).
func windowOf(occurrences []model.Occurrence, size int) []model.Occurrence {
	sorted := make([]model.Occurrence, len(occurrences))
	copy(sorted, occurrences)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	if size > 0 && len(sorted) > size {
		sorted = sorted[len(sorted)-size:]
	}
	return sorted
}

// failSuccessRatio is failed/(passed+failed+error); skipped occurrences are
// excluded from both numerator and denominator.
func failSuccessRatio(window []model.Occurrence) float64 {
	var failed, counted int
	for _, occ := range window {
		switch occ.Status {
		case model.StatusSkipped:
			continue
		case model.StatusFailed, model.StatusError:
			failed++
			counted++
		case model.StatusPassed:
			counted++
		}
	}
	if counted == 0 {
		return 0
	}
	return float64(failed) / float64(counted)
}

// intermittencyScore counts pass/fail transitions (skipped entries are
// dropped from the sequence first, so they never count as a transition)
// and divides by the maximum possible number of transitions for that
// sequence length.
func intermittencyScore(window []model.Occurrence) float64 {
	var seq []bool // true = fail-ish
	for _, occ := range window {
		if occ.Status == model.StatusSkipped {
			continue
		}
		seq = append(seq, isFailish(occ.Status))
	}
	if len(seq) < 2 {
		return 0
	}
	transitions := 0
	for i := 1; i < len(seq); i++ {
		if seq[i] != seq[i-1] {
			transitions++
		}
	}
	return float64(transitions) / float64(len(seq)-1)
}

// rerunPassRate groups window entries by WorkflowRunID. For every run whose
// lowest-attempt occurrence failed, it checks whether any higher-attempt
// occurrence in that run passed; the rate is the fraction of such
// initial-failure runs that were rescued by a later passing attempt.
func rerunPassRate(window []model.Occurrence) float64 {
	byRun := map[string][]model.Occurrence{}
	for _, occ := range window {
		byRun[occ.WorkflowRunID] = append(byRun[occ.WorkflowRunID], occ)
	}

	var initialFailures, rescued int
	for _, runOccs := range byRun {
		sort.Slice(runOccs, func(i, j int) bool { return runOccs[i].Attempt < runOccs[j].Attempt })
		if !isFailish(runOccs[0].Status) {
			continue
		}
		initialFailures++
		for _, occ := range runOccs[1:] {
			if occ.Status == model.StatusPassed {
				rescued++
				break
			}
		}
	}
	if initialFailures == 0 {
		return 0
	}
	return float64(rescued) / float64(initialFailures)
}

// consecutiveFailures returns the tail run of non-pass outcomes and the
// longest such run observed anywhere in the window. Skipped entries are
// dropped from the sequence first, matching intermittencyScore's treatment.
func consecutiveFailures(window []model.Occurrence) (tail int, max int) {
	var seq []bool
	for _, occ := range window {
		if occ.Status == model.StatusSkipped {
			continue
		}
		seq = append(seq, isFailish(occ.Status))
	}

	run := 0
	for _, failish := range seq {
		if failish {
			run++
			if run > max {
				max = run
			}
		} else {
			run = 0
		}
	}
	// tail run: walk back from the end while fail-ish.
	for i := len(seq) - 1; i >= 0 && seq[i]; i-- {
		tail++
	}
	return tail, max
}

// messageSignatureVariance is the count of distinct failure-message
// digests divided by the count of failing occurrences that carry one; 0
// when there is at most one such failure.
func messageSignatureVariance(window []model.Occurrence) float64 {
	digests := map[string]struct{}{}
	count := 0
	for _, occ := range window {
		if !isFailish(occ.Status) || occ.FailureMessageDigest == "" {
			continue
		}
		count++
		digests[occ.FailureMessageDigest] = struct{}{}
	}
	if count <= 1 {
		return 0
	}
	return float64(len(digests)) / float64(count)
}

// avgTimeBetweenFailures is the mean gap, in hours, between consecutive
// failing occurrences in the window; 0 when fewer than two failures exist.
func avgTimeBetweenFailures(window []model.Occurrence) float64 {
	var failTimes []time.Time
	for _, occ := range window {
		if isFailish(occ.Status) {
			failTimes = append(failTimes, occ.CreatedAt)
		}
	}
	if len(failTimes) < 2 {
		return 0
	}
	var total time.Duration
	for i := 1; i < len(failTimes); i++ {
		total += failTimes[i].Sub(failTimes[i-1])
	}
	return total.Hours() / float64(len(failTimes)-1)
}
