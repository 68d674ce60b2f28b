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

import "strings"

// PatternKind is one of the keyword groups spec.md §4.J classifies failing
// messages against, feeding §4.K's cluster annotation.
type PatternKind string

const (
	PatternTimeout            PatternKind = "timeout"
	PatternResourceContention PatternKind = "resource_contention"
	PatternExternalDependency PatternKind = "external_dependency"
	PatternRaceCondition      PatternKind = "race_condition"
	PatternEnvironment        PatternKind = "environment"
	PatternAssertion          PatternKind = "assertion"
	PatternConnection         PatternKind = "connection"
	PatternMemory             PatternKind = "memory"
	PatternFlakyDependency    PatternKind = "flaky_dependency"
)

// patternConfidenceThreshold is the floor a keyword match's confidence must
// exceed before the pattern is reported (spec.md §4.J).
const patternConfidenceThreshold = 0.5

// patternKeywords maps each kind to the substrings (already lowercase) that
// count as a match in a normalized failure message, and the confidence
// awarded per distinct keyword hit. Messages are normalized before this
// lookup runs, so the keyword set never needs to account for the
// substitutions NormalizeMessage already made.
var patternKeywords = map[PatternKind]struct {
	keywords   []string
	perKeyword float64
}{
	PatternTimeout:            {[]string{"timeout", "timed out", "deadline exceeded"}, 0.55},
	PatternResourceContention: {[]string{"resource exhausted", "too many open files", "out of memory", "pool exhausted", "lock wait timeout"}, 0.55},
	PatternExternalDependency: {[]string{"connection refused", "dns", "service unavailable", "upstream", "503", "502"}, 0.55},
	PatternRaceCondition:      {[]string{"race condition", "data race", "concurrent map", "goroutine", "deadlock"}, 0.55},
	PatternEnvironment:        {[]string{"no such file or directory", "permission denied", "environment variable", "not found in path"}, 0.55},
	PatternAssertion:          {[]string{"expected:", "assertionerror", "assert ", "expected [value]"}, 0.55},
	PatternConnection:         {[]string{"connection reset", "broken pipe", "econnrefused", "connection closed"}, 0.55},
	PatternMemory:             {[]string{"out of memory", "oom", "heap", "segmentation fault"}, 0.55},
	PatternFlakyDependency:    {[]string{"flaky", "retrying", "transient error", "rate limit"}, 0.55},
}

// PatternMatch is one detected classification for a failing message.
type PatternMatch struct {
	Kind       PatternKind
	Confidence float64
}

// DetectPatterns classifies a normalized failure message against every
// keyword group, returning every group whose matched confidence exceeds
// patternConfidenceThreshold. A message may match more than one group.
func DetectPatterns(normalizedMessage string) []PatternMatch {
	lower := strings.ToLower(normalizedMessage)
	var matches []PatternMatch
	for kind, spec := range patternKeywords {
		hits := 0
		for _, kw := range spec.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		confidence := clamp01(float64(hits) * spec.perKeyword)
		if confidence > patternConfidenceThreshold {
			matches = append(matches, PatternMatch{Kind: kind, Confidence: confidence})
		}
	}
	return matches
}
