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

package server

import (
	"context"
	"fmt"

	"github.com/flakeguard/flakeguard/internal/circuitbreaker"
	"github.com/flakeguard/flakeguard/internal/store"
)

// DatabaseCheck probes st's reachability, matching the "database" entry of
// spec.md §6.4's aggregate health response. A no-op repository list against
// a sentinel id is cheap enough to run on every health poll and exercises
// the same code path as a real read.
func DatabaseCheck(st store.Store) Check {
	return Check{
		Name: "database",
		Probe: func(ctx context.Context) error {
			_, err := st.ListTestCases(ctx, "__healthcheck__")
			return err
		},
	}
}

// QueueBrokerCheck reports the upstream CI platform's circuit state: an
// open breaker means the queue broker (platform.Client, in FlakeGuard's
// case the CI provider's API) is presently unreachable. state is typically
// platform.Client.CircuitState.
func QueueBrokerCheck(state func() circuitbreaker.State) Check {
	return Check{
		Name: "queueBroker",
		Probe: func(ctx context.Context) error {
			if s := state(); s == circuitbreaker.Open {
				return fmt.Errorf("circuit open")
			}
			return nil
		},
	}
}

// QueueDepthProbe reports the current depth of a queue lane.
type QueueDepthProbe func() int

// QueuesCheck fails once any lane's depth reaches its configured ceiling,
// signalling backpressure on the job queue manager (spec.md §4.I).
func QueuesCheck(maxSize int, depths map[string]QueueDepthProbe) Check {
	return Check{
		Name: "queues",
		Probe: func(ctx context.Context) error {
			for kind, depth := range depths {
				if d := depth(); d >= maxSize {
					return fmt.Errorf("lane %s at capacity (%d/%d)", kind, d, maxSize)
				}
			}
			return nil
		},
	}
}

// PlatformCheck wraps an arbitrary reachability probe against the CI
// provider's API (e.g. an authenticated rate-limit status call).
func PlatformCheck(probe func(ctx context.Context) error) Check {
	return Check{Name: "platform", Probe: probe}
}
