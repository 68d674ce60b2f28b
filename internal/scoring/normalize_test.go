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

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMessageUnifiesVariableTimings(t *testing.T) {
	a := NormalizeMessage("Connection timeout after 5000ms")
	b := NormalizeMessage("Connection timeout after 3000ms")
	assert.Equal(t, a, b)
	assert.Contains(t, a, "timeout after [NUM]ms")
}

func TestNormalizeMessageIsIdempotent(t *testing.T) {
	msgs := []string{
		"Connection timeout after 5000ms",
		"request abc12345-89ab-4cde-9012-345678901234 failed",
		"at com.acme.WidgetTest.testDelete(WidgetTest.java:42:3)",
		"expected: 5, actual: 6",
		"PID 12345 terminated unexpectedly",
		"read /var/log/app/run-2026-07-30T00:00:00Z.log: no such file",
	}
	for _, m := range msgs {
		once := NormalizeMessage(m)
		twice := NormalizeMessage(once)
		assert.Equal(t, once, twice, "normalize(normalize(%q)) must equal normalize(%q)", m, m)
	}
}

func TestNormalizeMessageCollapsesStackFrames(t *testing.T) {
	got := NormalizeMessage("boom\n  at com.acme.WidgetTest.testDelete(WidgetTest.java:42:3)\n")
	assert.Contains(t, got, "[STACK]")
	assert.NotContains(t, got, "WidgetTest.java")
}

func TestDigestIsStableAndDistinguishesInput(t *testing.T) {
	d1 := Digest(NormalizeMessage("Connection timeout after 5000ms"))
	d2 := Digest(NormalizeMessage("Connection timeout after 3000ms"))
	d3 := Digest(NormalizeMessage("unrelated failure"))
	assert.Equal(t, d1, d2)
	assert.NotEqual(t, d1, d3)
	assert.Len(t, d1, 64)
}
