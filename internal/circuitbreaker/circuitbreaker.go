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

// Package circuitbreaker implements the per-upstream Closed/Open/HalfOpen
// state machine of spec.md §4.B, generalizing the fail-fast-without-retry
// pattern ghclient.retry applies to non-retryable errors into a standalone,
// reusable component keyed by label.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flakeguard/flakeguard/internal/config"
	"github.com/flakeguard/flakeguard/internal/ferr"
	"github.com/flakeguard/flakeguard/internal/metrics"
)

// State is one of Closed, Open, or HalfOpen.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type breaker struct {
	mu sync.Mutex

	state State

	failures       []time.Time // failure timestamps within the rolling window
	openedAt       time.Time
	halfOpenProbes int // probes admitted in the current half-open window
}

// Breaker manages one state machine per label. The zero value is not
// usable; use New.
type Breaker struct {
	cfg config.CircuitBreaker
	log *logrus.Entry

	mu       sync.Mutex
	breakers map[string]*breaker

	now func() time.Time
}

// New builds a Breaker from cfg.
func New(cfg config.CircuitBreaker, log *logrus.Entry) *Breaker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Breaker{
		cfg:      cfg,
		log:      log,
		breakers: map[string]*breaker{},
		now:      time.Now,
	}
}

func (b *Breaker) get(label string) *breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	br, ok := b.breakers[label]
	if !ok {
		br = &breaker{state: Closed}
		b.breakers[label] = br
	}
	return br
}

// State reports the current state of label's breaker, applying the
// Open->HalfOpen transition as a side effect if openDuration has elapsed.
func (b *Breaker) State(label string) State {
	br := b.get(label)
	br.mu.Lock()
	defer br.mu.Unlock()
	b.transitionLocked(br)
	return br.state
}

func (b *Breaker) transitionLocked(br *breaker) {
	if br.state == Open && b.now().Sub(br.openedAt) >= b.cfg.OpenDuration {
		br.state = HalfOpen
		br.halfOpenProbes = 0
	}
}

func (b *Breaker) setMetric(label string, s State) {
	metrics.CircuitState.WithLabelValues(label).Set(float64(s))
}

// Execute runs op if label's circuit permits it, and records the outcome.
// When Open, it fails fast with a CircuitOpen error without invoking op, per
// spec.md §4.B and the "requests are never retried when the circuit is
// Open" invariant of §4.E.
func (b *Breaker) Execute(label string, op func() error) error {
	br := b.get(label)

	br.mu.Lock()
	b.transitionLocked(br)
	switch br.state {
	case Open:
		br.mu.Unlock()
		return ferr.New(ferr.CircuitOpen, "circuit open for "+label)
	case HalfOpen:
		if br.halfOpenProbes >= b.cfg.HalfOpenProbes {
			br.mu.Unlock()
			return ferr.New(ferr.CircuitOpen, "circuit half-open, probe budget exhausted for "+label)
		}
		br.halfOpenProbes++
	}
	state := br.state
	br.mu.Unlock()
	b.setMetric(label, state)

	err := op()

	br.mu.Lock()
	defer br.mu.Unlock()
	if err != nil {
		b.recordFailureLocked(label, br)
		return err
	}
	b.recordSuccessLocked(label, br)
	return nil
}

func (b *Breaker) recordFailureLocked(label string, br *breaker) {
	now := b.now()
	switch br.state {
	case HalfOpen:
		br.state = Open
		br.openedAt = now
		br.failures = nil
		b.log.WithField("label", label).Warn("circuit reopened: half-open probe failed")
	default:
		br.failures = append(br.failures, now)
		br.failures = pruneBefore(br.failures, now.Add(-b.cfg.RollingWindow))
		if len(br.failures) >= b.cfg.FailureThreshold {
			br.state = Open
			br.openedAt = now
			br.failures = nil
			b.log.WithField("label", label).Warn("circuit opened: failure threshold reached")
		}
	}
	b.setMetric(label, br.state)
}

func (b *Breaker) recordSuccessLocked(label string, br *breaker) {
	switch br.state {
	case HalfOpen:
		br.state = Closed
		br.failures = nil
		b.log.WithField("label", label).Info("circuit closed: half-open probe succeeded")
	default:
		br.failures = nil
	}
	b.setMetric(label, br.state)
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
