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

// Package cluster implements the temporal clustering and burstiness
// analysis of spec.md §4.K. It groups a TestCase's failure timestamps
// into clusters using an adaptive inter-failure gap threshold, then
// derives burstiness/randomness statistics over the inter-arrival times.
// Helper functions are written in the small-pure-function style of
// boskos/janitor/compute.go, the one example of plain statistics-adjacent
// helpers in the teacher's own code.
package cluster

import (
	"math"
	"sort"
	"time"

	"github.com/flakeguard/flakeguard/internal/scoring"
)

const (
	minGap = 5 * time.Minute
	maxGap = 6 * time.Hour
)

// Observation is one failing occurrence fed into Analyze. Message is the
// normalized failure message if the caller still has it (available at
// ingestion time, before only its digest is persisted); callers that can
// only supply a digest should leave it empty, which simply yields no
// pattern classifications for that observation.
type Observation struct {
	At      time.Time
	Message string
}

// Cluster is a run of failures closer together than the adaptive gap
// threshold, with at least 2 members.
type Cluster struct {
	StartAt  time.Time
	EndAt    time.Time
	Count    int
	Patterns []scoring.PatternMatch
}

// Analysis is the full derived-metrics record of spec.md §4.K.
type Analysis struct {
	Clusters       []Cluster
	TotalClusters  int
	TemporalSpread time.Duration
	Burstiness     float64
	Randomness     float64
}

// Analyze builds clusters and burstiness/randomness statistics from a
// TestCase's failure observations. Degenerate inputs (0 or 1 observation)
// return {Randomness: 1, TotalClusters: 0}, matching spec.md §4.K.
func Analyze(observations []Observation) Analysis {
	if len(observations) == 0 {
		return Analysis{Randomness: 1}
	}

	sorted := make([]Observation, len(observations))
	copy(sorted, observations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	if len(sorted) == 1 {
		return Analysis{Randomness: 1}
	}

	intervals := interArrivalTimes(sorted)
	threshold := gapThreshold(intervals)

	clusters := buildClusters(sorted, threshold)
	burstiness := burstinessOf(intervals)

	return Analysis{
		Clusters:       clusters,
		TotalClusters:  len(clusters),
		TemporalSpread: sorted[len(sorted)-1].At.Sub(sorted[0].At),
		Burstiness:     burstiness,
		Randomness:     1 - burstiness*burstiness,
	}
}

// interArrivalTimes returns the gaps between chronologically consecutive
// observations. sorted must already be sorted ascending by At.
func interArrivalTimes(sorted []Observation) []time.Duration {
	gaps := make([]time.Duration, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i].At.Sub(sorted[i-1].At))
	}
	return gaps
}

// gapThreshold computes the adaptive inter-failure gap threshold of
// spec.md §4.K: max(5*median, 2*min) over inter-arrival times, bounded to
// [minGap, maxGap].
func gapThreshold(intervals []time.Duration) time.Duration {
	if len(intervals) == 0 {
		return minGap
	}
	sorted := make([]time.Duration, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	median := medianOf(sorted)
	min := sorted[0]

	threshold := 5 * median
	if alt := 2 * min; alt > threshold {
		threshold = alt
	}
	if threshold < minGap {
		threshold = minGap
	}
	if threshold > maxGap {
		threshold = maxGap
	}
	return threshold
}

func medianOf(sorted []time.Duration) time.Duration {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// buildClusters walks sorted observations, starting a new cluster whenever
// the gap to the previous observation exceeds threshold. Clusters with
// fewer than 2 members are discarded.
func buildClusters(sorted []Observation, threshold time.Duration) []Cluster {
	var clusters []Cluster
	start := 0
	flush := func(end int) {
		if end-start < 2 {
			return
		}
		members := sorted[start:end]
		clusters = append(clusters, Cluster{
			StartAt:  members[0].At,
			EndAt:    members[len(members)-1].At,
			Count:    len(members),
			Patterns: aggregatePatterns(members),
		})
	}

	for i := 1; i < len(sorted); i++ {
		if sorted[i].At.Sub(sorted[i-1].At) > threshold {
			flush(i)
			start = i
		}
	}
	flush(len(sorted))
	return clusters
}

// aggregatePatterns runs the failure-pattern detector over every member's
// message and keeps, per kind, the highest confidence observed across the
// cluster.
func aggregatePatterns(members []Observation) []scoring.PatternMatch {
	best := map[scoring.PatternKind]float64{}
	for _, m := range members {
		if m.Message == "" {
			continue
		}
		for _, match := range scoring.DetectPatterns(m.Message) {
			if match.Confidence > best[match.Kind] {
				best[match.Kind] = match.Confidence
			}
		}
	}
	if len(best) == 0 {
		return nil
	}
	matches := make([]scoring.PatternMatch, 0, len(best))
	for kind, conf := range best {
		matches = append(matches, scoring.PatternMatch{Kind: kind, Confidence: conf})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Kind < matches[j].Kind })
	return matches
}

// burstinessOf is (σ−μ)/(σ+μ) over inter-arrival times, 0 when both are 0
// (perfectly evenly spaced, single-interval, or all-zero-gap input).
func burstinessOf(intervals []time.Duration) float64 {
	if len(intervals) == 0 {
		return 0
	}
	mean := meanOf(intervals)
	if mean == 0 {
		return 0
	}
	sd := stddevOf(intervals, mean)
	denom := sd + mean
	if denom == 0 {
		return 0
	}
	return (sd - mean) / denom
}

func meanOf(intervals []time.Duration) float64 {
	var total float64
	for _, d := range intervals {
		total += float64(d)
	}
	return total / float64(len(intervals))
}

func stddevOf(intervals []time.Duration, mean float64) float64 {
	if len(intervals) < 2 {
		return 0
	}
	var sumSq float64
	for _, d := range intervals {
		diff := float64(d) - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(intervals)))
}
