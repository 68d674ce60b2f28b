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

package platform

import (
	"regexp"
	"strings"
)

// defaultSensitiveFields is the configurable set of header/field names
// redacted from logs, per spec.md §4.E.
var defaultSensitiveFields = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"cookie":        true,
	"set-cookie":    true,
	"token":         true,
	"secret":        true,
	"password":      true,
}

// tokenRun matches long alphanumeric runs in free text, replaced with
// "[TOKEN]" per spec.md §4.E.
var tokenRun = regexp.MustCompile(`[A-Za-z0-9_\-]{20,}`)

// redactValue preserves the first and last 2 characters of v and masks the
// rest with '*'; values of 4 characters or fewer are fully masked.
func redactValue(v string) string {
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return v[:2] + strings.Repeat("*", len(v)-4) + v[len(v)-2:]
}

// SanitizeHeaders returns a copy of headers with sensitive field values
// redacted, for safe inclusion in logs.
func SanitizeHeaders(headers map[string][]string) map[string][]string {
	out := make(map[string][]string, len(headers))
	for k, vs := range headers {
		lk := strings.ToLower(k)
		redacted := make([]string, len(vs))
		for i, v := range vs {
			if defaultSensitiveFields[lk] {
				redacted[i] = redactValue(v)
			} else {
				redacted[i] = SanitizeText(v)
			}
		}
		out[k] = redacted
	}
	return out
}

// SanitizeFields returns a copy of a flat field map with sensitive keys
// redacted and free-text values token-masked.
func SanitizeFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if defaultSensitiveFields[strings.ToLower(k)] {
			out[k] = redactValue(v)
		} else {
			out[k] = SanitizeText(v)
		}
	}
	return out
}

// SanitizeText replaces long alphanumeric runs (candidate tokens/secrets)
// with "[TOKEN]", for logging free-text bodies.
func SanitizeText(s string) string {
	return tokenRun.ReplaceAllString(s, "[TOKEN]")
}
