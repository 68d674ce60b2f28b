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

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flakeguard/flakeguard/internal/config"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	l := New(config.DefaultRateLimiter(), nil)
	var slept []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	t.Cleanup(func() {})
	return l
}

func TestCheckNoDelayWhenPlentyRemaining(t *testing.T) {
	l := newTestLimiter(t)
	l.Update("core", Bucket{Limit: 5000, Remaining: 4000, ResetAt: time.Now().Add(time.Hour)})
	require.NoError(t, l.Check(context.Background(), "core"))
}

func TestCheckDelaysWhenNearThreshold(t *testing.T) {
	l := newTestLimiter(t)
	var capturedDelay time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		capturedDelay = d
		return nil
	}
	// 95% used -> well past an 80% usedPct trigger (threshold 20).
	l.Update("core", Bucket{Limit: 5000, Remaining: 250, ResetAt: time.Now().Add(time.Minute)})
	require.NoError(t, l.Check(context.Background(), "core"))
	assert.Greater(t, capturedDelay, time.Duration(0))
}

func TestLimitedBelowReserveFloor(t *testing.T) {
	l := newTestLimiter(t)
	l.Update("core", Bucket{Limit: 5000, Remaining: 10, ResetAt: time.Now().Add(time.Hour)})
	assert.True(t, l.Limited("core"))

	l.Update("core", Bucket{Limit: 5000, Remaining: 4999, ResetAt: time.Now().Add(time.Hour)})
	assert.False(t, l.Limited("core"))
}

func TestSecondaryHitUsesRetryAfterWhenProvided(t *testing.T) {
	l := newTestLimiter(t)
	var got time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		got = d
		return nil
	}
	require.NoError(t, l.SecondaryHit(context.Background(), "core", 2*time.Second))
	assert.InDelta(t, 2*time.Second, got, float64(200*time.Millisecond))
}

func TestSecondaryHitBackoffWithoutRetryAfter(t *testing.T) {
	l := newTestLimiter(t)
	var delays []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	require.NoError(t, l.SecondaryHit(context.Background(), "core", 0))
	require.NoError(t, l.SecondaryHit(context.Background(), "core", 0))
	require.Len(t, delays, 2)
}

func TestSecondaryHitExhaustsAfterMaxRetries(t *testing.T) {
	l := newTestLimiter(t)
	l.sleep = func(_ context.Context, d time.Duration) error { return nil }
	l.cfg.MaxRetries = 2
	require.NoError(t, l.SecondaryHit(context.Background(), "x", time.Millisecond))
	require.NoError(t, l.SecondaryHit(context.Background(), "x", time.Millisecond))
	err := l.SecondaryHit(context.Background(), "x", time.Millisecond)
	assert.Error(t, err)
}

func TestSecondaryResetAllowsFreshAttempts(t *testing.T) {
	l := newTestLimiter(t)
	l.sleep = func(_ context.Context, d time.Duration) error { return nil }
	l.cfg.MaxRetries = 1
	require.NoError(t, l.SecondaryHit(context.Background(), "y", time.Millisecond))
	l.SecondaryReset("y")
	require.NoError(t, l.SecondaryHit(context.Background(), "y", time.Millisecond))
}

// TestCheckRespectsResetAt is the universal property #4 from spec.md §8: if a
// run yields headers showing remaining=0 until resetAt, no client-originated
// request observes a start time before resetAt.
func TestCheckRespectsResetAt(t *testing.T) {
	l := New(config.DefaultRateLimiter(), nil)
	resetAt := time.Now().Add(50 * time.Millisecond)
	l.Update("core", Bucket{Limit: 100, Remaining: 0, ResetAt: resetAt})

	start := time.Now()
	require.NoError(t, l.Check(context.Background(), "core"))
	assert.False(t, time.Now().Before(resetAt.Add(-5*time.Millisecond)), "request proceeded before reset window")
	_ = start
}
