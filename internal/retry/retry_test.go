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

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flakeguard/flakeguard/internal/config"
	"github.com/flakeguard/flakeguard/internal/ferr"
)

func TestDelayCapsAtMaxDelay(t *testing.T) {
	cfg := config.Retry{Base: time.Second, Multiplier: 10, MaxDelay: 2 * time.Second, Jitter: 0}
	for attempt := 1; attempt <= 5; attempt++ {
		d := Delay(cfg, attempt)
		assert.LessOrEqual(t, d, cfg.MaxDelay)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestDelayGrowsWithAttempt(t *testing.T) {
	cfg := config.Retry{Base: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Hour, Jitter: 0}
	// With jitter 0, delay is U(0, raw): sample many times and check the max
	// observed grows with attempt, since the ceiling itself grows.
	maxAt := func(attempt int) time.Duration {
		var max time.Duration
		for i := 0; i < 200; i++ {
			if d := Delay(cfg, attempt); d > max {
				max = d
			}
		}
		return max
	}
	assert.Greater(t, maxAt(4), maxAt(1))
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, IsRetryableStatus(code), code)
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404} {
		assert.False(t, IsRetryableStatus(code), code)
	}
}

func TestDoRetriesOnRetryableError(t *testing.T) {
	cfg := config.Retry{Attempts: 3, Base: time.Millisecond, Multiplier: 1, MaxDelay: 10 * time.Millisecond, Jitter: 0}
	calls := 0
	err := Do(context.Background(), cfg, func(attempt int) error {
		calls++
		if attempt < 3 {
			return ferr.New(ferr.RequestTimeout, "timed out")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	cfg := config.Retry{Attempts: 5, Base: time.Millisecond, Multiplier: 1, MaxDelay: 10 * time.Millisecond, Jitter: 0}
	calls := 0
	err := Do(context.Background(), cfg, func(attempt int) error {
		calls++
		return ferr.New(ferr.InvalidZip, "bad magic")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsAfterAttemptsExhausted(t *testing.T) {
	cfg := config.Retry{Attempts: 3, Base: time.Millisecond, Multiplier: 1, MaxDelay: 10 * time.Millisecond, Jitter: 0}
	calls := 0
	err := Do(context.Background(), cfg, func(attempt int) error {
		calls++
		return ferr.New(ferr.RequestTimeout, "timed out")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	cfg := config.Retry{Attempts: 5, Base: time.Second, Multiplier: 1, MaxDelay: time.Second, Jitter: 0}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, cfg, func(attempt int) error {
		calls++
		return ferr.New(ferr.RequestTimeout, "timed out")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, calls, 1)
}

func TestIsRetryableNetErr(t *testing.T) {
	assert.False(t, IsRetryableNetErr(nil))
	assert.False(t, IsRetryableNetErr(errors.New("plain")))
	assert.True(t, IsRetryableNetErr(ferr.New(ferr.RequestTimeout, "x")))
}
