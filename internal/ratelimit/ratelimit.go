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

// Package ratelimit tracks and enforces the hosting platform's primary and
// secondary rate limits (spec.md §4.A), generalizing ghclient's
// limitRate/sleepForAttempt pair into a reusable, per-resource limiter.
package ratelimit

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flakeguard/flakeguard/internal/config"
	"github.com/flakeguard/flakeguard/internal/ferr"
	"github.com/flakeguard/flakeguard/internal/metrics"
)

// Bucket is the most recently observed primary-limit state for one
// resource (core/search/graphql), mirroring the x-ratelimit-* headers of
// spec.md §6.2.
type Bucket struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// usedPct is (limit-remaining)/limit, guarding against a zero limit.
func (b Bucket) usedPct() float64 {
	if b.Limit <= 0 {
		return 0
	}
	return float64(b.Limit-b.Remaining) / float64(b.Limit)
}

func (b Bucket) remainingPct() float64 {
	if b.Limit <= 0 {
		return 100
	}
	return float64(b.Remaining) / float64(b.Limit) * 100
}

// Limiter enforces both the primary and secondary rate limits for a set of
// named resources. The zero value is not usable; use New.
type Limiter struct {
	cfg config.RateLimiter
	log *logrus.Entry

	mu      sync.RWMutex
	buckets map[string]Bucket

	secondary sync.Map // resource -> *secondaryState

	// now is overridable for deterministic tests.
	now func() time.Time
	// sleep is overridable for deterministic tests.
	sleep func(context.Context, time.Duration) error
}

type secondaryState struct {
	mu      sync.Mutex
	until   time.Time
	attempt int
}

// New builds a Limiter from cfg. A nil log falls back to the standard logger.
func New(cfg config.RateLimiter, log *logrus.Entry) *Limiter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Limiter{
		cfg:     cfg,
		log:     log,
		buckets: map[string]Bucket{},
		now:     time.Now,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Update records the most recently observed bucket state for resource. It is
// the only mutator of primary-limit state, per spec.md §4.A, and is called
// on every response, even errors.
func (l *Limiter) Update(resource string, b Bucket) {
	l.mu.Lock()
	l.buckets[resource] = b
	l.mu.Unlock()
	metrics.RateLimitRemaining.WithLabelValues(resource).Set(float64(b.Remaining))
}

// reserveFloor is max(round(limit*reservePct/100), minReserve).
func (l *Limiter) reserveFloor(limit int) int {
	floor := int(math.Round(float64(limit) * float64(l.cfg.ReservePct) / 100))
	if floor < l.cfg.MinReserve {
		floor = l.cfg.MinReserve
	}
	return floor
}

// Limited reports whether resource's most recently observed bucket is below
// its reserve floor.
func (l *Limiter) Limited(resource string) bool {
	l.mu.RLock()
	b, ok := l.buckets[resource]
	l.mu.RUnlock()
	if !ok {
		return false
	}
	return b.Remaining <= l.reserveFloor(b.Limit)
}

// throttleDelay computes the primary-limit delay for the most recently
// observed bucket of resource, per the formula in spec.md §4.A. It returns 0
// when no throttling is required.
func (l *Limiter) throttleDelay(resource string) time.Duration {
	l.mu.RLock()
	b, ok := l.buckets[resource]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	remainingPct := b.remainingPct()
	threshold := float64(l.cfg.ThrottleThresholdPct)
	usedPctThreshold := 100 - threshold
	if b.usedPct()*100 < usedPctThreshold {
		return 0
	}
	resetIn := time.Until(b.ResetAt)
	if resetIn < 0 {
		resetIn = 0
	}
	remaining := b.Remaining
	if remaining < 1 {
		remaining = 1
	}
	base := time.Duration(float64(resetIn.Milliseconds()) / float64(remaining) * float64(time.Millisecond))
	if base > l.cfg.MaxThrottleDelay {
		base = l.cfg.MaxThrottleDelay
	}
	intensity := (threshold - remainingPct) / threshold
	if intensity < 0 {
		intensity = 0
	}
	delay := time.Duration(float64(base) * intensity)
	if delay > l.cfg.MaxThrottleDelay {
		delay = l.cfg.MaxThrottleDelay
	}
	return delay
}

// Check blocks the caller until resource's primary limit permits a request
// to proceed, consulting the most recently observed bucket (spec.md §4.A).
func (l *Limiter) Check(ctx context.Context, resource string) error {
	delay := l.throttleDelay(resource)
	if delay <= 0 {
		return nil
	}
	l.log.WithFields(logrus.Fields{"resource": resource, "delay_ms": delay.Milliseconds()}).
		Debug("throttling request for primary rate limit")
	return l.sleep(ctx, delay)
}

// SecondaryHit records an abuse-limit signal (403/429 with an optional
// retry-after hint) for resource and blocks the caller for the computed
// delay. Concurrent callers for the same resource coalesce onto a single
// active delay (spec.md §5 "Backpressure").
func (l *Limiter) SecondaryHit(ctx context.Context, resource string, retryAfter time.Duration) error {
	v, _ := l.secondary.LoadOrStore(resource, &secondaryState{})
	st := v.(*secondaryState)

	st.mu.Lock()
	st.attempt++
	attempt := st.attempt
	if attempt > l.cfg.MaxRetries {
		st.mu.Unlock()
		return ferr.New(ferr.RateLimited, "secondary rate limit retries exhausted")
	}
	var delay time.Duration
	if retryAfter > 0 {
		delay = retryAfter
	} else {
		delay = time.Duration(float64(l.cfg.BaseDelay) * math.Pow(l.cfg.Multiplier, float64(attempt-1)))
	}
	if delay > l.cfg.MaxDelay {
		delay = l.cfg.MaxDelay
	}
	jitter := l.cfg.JitterFctr * float64(delay) / 2
	delay += time.Duration(jitter*2*rand.Float64() - jitter)
	if delay < 0 {
		delay = 0
	}
	until := l.now().Add(delay)
	if until.After(st.until) {
		st.until = until
	}
	effectiveUntil := st.until
	st.mu.Unlock()

	wait := time.Until(effectiveUntil)
	l.log.WithFields(logrus.Fields{"resource": resource, "attempt": attempt, "delay_ms": wait.Milliseconds()}).
		Warn("secondary rate limit hit")
	return l.sleep(ctx, wait)
}

// SecondaryReset clears a resource's secondary-limit backoff state after a
// successful request, so the next hit starts from attempt 1 again.
func (l *Limiter) SecondaryReset(resource string) {
	l.secondary.Delete(resource)
}
