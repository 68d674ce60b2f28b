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

package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(base time.Time, offset time.Duration) time.Time { return base.Add(offset) }

func TestAnalyzeEmptyIsDegenerate(t *testing.T) {
	got := Analyze(nil)
	assert.Equal(t, 0, got.TotalClusters)
	assert.Equal(t, 1.0, got.Randomness)
}

func TestAnalyzeSingleObservationIsDegenerate(t *testing.T) {
	got := Analyze([]Observation{{At: time.Now()}})
	assert.Equal(t, 0, got.TotalClusters)
	assert.Equal(t, 1.0, got.Randomness)
}

func TestAnalyzeGroupsTightlySpacedFailuresIntoOneCluster(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := []Observation{
		{At: at(base, 0)},
		{At: at(base, time.Minute)},
		{At: at(base, 2 * time.Minute)},
	}

	got := Analyze(obs)
	require.Len(t, got.Clusters, 1)
	assert.Equal(t, 3, got.Clusters[0].Count)
}

func TestAnalyzeSplitsFailuresSeparatedByALargeGap(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := []Observation{
		{At: at(base, 0)},
		{At: at(base, time.Minute)},
		{At: at(base, 10*24*time.Hour + 0)},
		{At: at(base, 10*24*time.Hour + time.Minute)},
	}

	got := Analyze(obs)
	require.Len(t, got.Clusters, 2)
	assert.Equal(t, 2, got.Clusters[0].Count)
	assert.Equal(t, 2, got.Clusters[1].Count)
}

func TestAnalyzeDiscardsSingletonClusters(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := []Observation{
		{At: at(base, 0)},
		{At: at(base, time.Minute)},
		{At: at(base, 20*24*time.Hour)}, // isolated, far from the first pair
	}

	got := Analyze(obs)
	require.Len(t, got.Clusters, 1)
	assert.Equal(t, 2, got.Clusters[0].Count)
}

func TestAnalyzeGapThresholdIsBounded(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Inter-arrival times of 1 second each: 5*median would be far below
	// the 5-minute floor, so every observation must still land in one
	// cluster (threshold is clamped up to minGap).
	obs := make([]Observation, 0, 20)
	for i := 0; i < 20; i++ {
		obs = append(obs, Observation{At: at(base, time.Duration(i)*time.Second)})
	}

	got := Analyze(obs)
	require.Len(t, got.Clusters, 1)
	assert.Equal(t, 20, got.Clusters[0].Count)
}

func TestAnalyzePerfectlyPeriodicFailuresAreMaximallyAntiBursty(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := make([]Observation, 0, 10)
	for i := 0; i < 10; i++ {
		obs = append(obs, Observation{At: at(base, time.Duration(i)*time.Hour)})
	}

	got := Analyze(obs)
	// zero variance in inter-arrival times drives burstiness to its -1
	// floor (Goh-Barabási burstiness: regular/periodic arrivals are the
	// opposite of bursty), and randomness = 1 - burstiness^2 to 0.
	assert.InDelta(t, -1, got.Burstiness, 1e-9)
	assert.InDelta(t, 0, got.Randomness, 1e-9)
}

func TestAnalyzeBurstyFailuresHaveHigherBurstinessThanEvenlySpaced(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	even := make([]Observation, 0, 6)
	for i := 0; i < 6; i++ {
		even = append(even, Observation{At: at(base, time.Duration(i)*time.Hour)})
	}
	bursty := []Observation{
		{At: at(base, 0)},
		{At: at(base, time.Minute)},
		{At: at(base, 2 * time.Minute)},
		{At: at(base, 10 * time.Hour)},
		{At: at(base, 10*time.Hour + time.Minute)},
		{At: at(base, 10*time.Hour + 2*time.Minute)},
	}

	evenResult := Analyze(even)
	burstyResult := Analyze(bursty)
	assert.Greater(t, burstyResult.Burstiness, evenResult.Burstiness)
	assert.Less(t, burstyResult.Randomness, evenResult.Randomness)
}

func TestAnalyzeAggregatesPatternsAcrossClusterMembers(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := []Observation{
		{At: at(base, 0), Message: "operation timed out after 30s"},
		{At: at(base, time.Minute), Message: "connection refused by upstream"},
	}

	got := Analyze(obs)
	require.Len(t, got.Clusters, 1)
	assert.NotEmpty(t, got.Clusters[0].Patterns)
}

func TestAnalyzeWithNoMessagesYieldsNoPatterns(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := []Observation{
		{At: at(base, 0)},
		{At: at(base, time.Minute)},
	}

	got := Analyze(obs)
	require.Len(t, got.Clusters, 1)
	assert.Empty(t, got.Clusters[0].Patterns)
}
