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

// Package retry implements the exponential-backoff-with-full-jitter pure
// utility of spec.md §4.C, generalizing ghclient.sleepForAttempt/retry into
// a standalone, parameterized helper.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/flakeguard/flakeguard/internal/config"
	"github.com/flakeguard/flakeguard/internal/ferr"
)

// defaultRetryableStatus is the status-code set named in spec.md §4.C.
var defaultRetryableStatus = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsRetryableStatus reports whether an HTTP status code is in the
// retryable set of spec.md §4.C.
func IsRetryableStatus(code int) bool {
	return defaultRetryableStatus[code]
}

// IsRetryableNetErr reports whether err is one of the network/IO error
// kinds spec.md §4.C names as retryable: reset, not-found-host, refused,
// timed-out.
func IsRetryableNetErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return ferr.IsRetryable(err)
}

// Delay computes the exponential-backoff-with-full-jitter delay for the
// given 1-indexed attempt, per spec.md §4.C:
//
//	delay(attempt) = min(maxDelay, base*multiplier^(attempt-1))
//	jittered       = U(0, delay) - delay*jitterFactor/2
func Delay(cfg config.Retry, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(cfg.Base) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if max := float64(cfg.MaxDelay); raw > max {
		raw = max
	}
	jittered := rand.Float64()*raw - raw*cfg.Jitter/2
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}

// Do runs fn up to cfg.Attempts times, sleeping Delay(cfg, attempt) between
// attempts, stopping early when fn's error is not retryable (per
// ferr.IsRetryable) or ctx is cancelled. It returns the last error seen.
func Do(ctx context.Context, cfg config.Retry, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !ferr.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.Attempts {
			break
		}
		d := Delay(cfg, attempt)
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}
