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

package junit

import "strings"

// contentSniffWindow bounds how much of the document the content heuristic
// scans before giving up and falling back to generic (spec.md §4.G).
const contentSniffWindow = 4096

// formatScoreThreshold is the minimum accumulated keyword score a format
// must clear before it is preferred over generic.
const formatScoreThreshold = 0.3

// filenameHints maps a lowercased filename substring to the format it
// signals. Checked before any content is read.
var filenameHints = []struct {
	substr string
	format Format
}{
	{"surefire", FormatSurefire},
	{"failsafe", FormatSurefire},
	{"gradle", FormatGradle},
	{"jest", FormatJest},
	{"pytest", FormatPytest},
	{"phpunit", FormatPHPUnit},
}

// contentKeywords lists, in a fixed order, each non-generic format's
// keyword set and per-match weight used by the content heuristic. Weights
// fall in [0.2, 0.25] per spec.md §4.G. Kept as a slice rather than a map
// so equal-score ties break on this order instead of Go's randomized map
// iteration.
var contentKeywords = []struct {
	format   Format
	keywords []string
	weight   float64
}{
	{format: FormatSurefire, keywords: []string{"surefire", "maven-surefire-plugin"}, weight: 0.25},
	{format: FormatGradle, keywords: []string{"gradle", "gradle-test"}, weight: 0.25},
	{format: FormatJest, keywords: []string{"jest", "jest-junit"}, weight: 0.22},
	{format: FormatPytest, keywords: []string{"pytest", "hostname=", "timestamp="}, weight: 0.2},
	{format: FormatPHPUnit, keywords: []string{"phpunit"}, weight: 0.25},
}

// detectFromFilename returns the format signaled by hint's substrings, or
// "" if none match.
func detectFromFilename(hint string) Format {
	if hint == "" {
		return ""
	}
	lower := strings.ToLower(hint)
	for _, h := range filenameHints {
		if strings.Contains(lower, h.substr) {
			return h.format
		}
	}
	return ""
}

// detectFromContent scores sample against each known format's keyword set
// and returns the highest-scoring format and its score, or (FormatGeneric,
// 0) if nothing clears formatScoreThreshold.
func detectFromContent(sample []byte) (Format, float64) {
	lower := strings.ToLower(string(sample))
	var best Format = FormatGeneric
	var bestScore float64
	for _, spec := range contentKeywords {
		var score float64
		for _, kw := range spec.keywords {
			if strings.Contains(lower, kw) {
				score += spec.weight
			}
		}
		if score > bestScore {
			bestScore = score
			best = spec.format
		}
	}
	if bestScore > formatScoreThreshold {
		return best, bestScore
	}
	return FormatGeneric, 0
}

// formatConfidence returns the confidence value attached to a detected
// format, per spec.md §4.G.
func formatConfidence(format Format, score float64) float64 {
	if format == FormatGeneric {
		return 0.1
	}
	c := 0.5 + score
	if c > 0.9 {
		c = 0.9
	}
	return c
}
