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

// Package queue implements the bounded, priority-indexed request queue of
// spec.md §4.D: a FIFO-per-priority structure with strict-priority
// dispatch, generalizing the FIFO-by-id bookkeeping of
// boskos/ranch.requestQueue (update/delete/cleanup over a slice+map) to
// four priority lanes with per-request timeouts.
package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/flakeguard/flakeguard/internal/config"
	"github.com/flakeguard/flakeguard/internal/ferr"
)

// Priority is one of the four dispatch lanes. Dispatch order is strictly
// Critical > High > Normal > Low; within a lane, FIFO by enqueue time.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

// priorityOrder lists lanes from highest to lowest dispatch precedence.
var priorityOrder = []Priority{Critical, High, Normal, Low}

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// entry is one queued unit of work, parameterized over T via an interface{}
// payload internally (Go generics don't mix well with heterogeneous
// container/list elements without extra indirection; Submit provides the
// type-safe generic facade below).
type entry struct {
	work     func(ctx context.Context) (any, error)
	resultCh chan result
	timer    *time.Timer
	elem     *list.Element // this entry's node within its lane, for O(1) removal
	lane     Priority
}

type result struct {
	value any
	err   error
}

// Queue is a bounded, priority-indexed request queue. The zero value is not
// usable; use New.
type Queue struct {
	cfg config.Queue

	mu      sync.Mutex
	lanes   map[Priority]*list.List
	size    int
	closed  bool
	waiters []chan struct{} // parked workers waiting for dispatchable work

	wg sync.WaitGroup // in-flight Submit calls' work funcs
}

// New builds a Queue bounded by cfg.MaxSize.
func New(cfg config.Queue) *Queue {
	lanes := map[Priority]*list.List{}
	for _, p := range priorityOrder {
		lanes[p] = list.New()
	}
	return &Queue{cfg: cfg, lanes: lanes}
}

// Len reports the total number of queued (not yet dispatched) requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Submit enqueues work at priority and blocks until a worker dispatches and
// runs it, timeout elapses (QueueTimeout), the queue is full (QueueFull,
// returned immediately without blocking), or the queue is shut down
// (Unavailable). It is the synchronous, generic-friendly facade over the
// lane/dispatch machinery; callers needing raw priority dispatch can use
// Enqueue/Dispatch directly (e.g. a dedicated worker-pool loop).
func Submit[T any](ctx context.Context, q *Queue, priority Priority, timeout time.Duration, work func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	e, err := q.enqueue(priority, timeout, func(ctx context.Context) (any, error) {
		return work(ctx)
	})
	if err != nil {
		return zero, err
	}
	select {
	case r := <-e.resultCh:
		if r.err != nil {
			return zero, r.err
		}
		v, _ := r.value.(T)
		return v, nil
	case <-ctx.Done():
		q.cancel(e)
		return zero, ctx.Err()
	}
}

func (q *Queue) enqueue(priority Priority, timeout time.Duration, work func(ctx context.Context) (any, error)) (*entry, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ferr.New(ferr.Unavailable, "queue is shut down")
	}
	if q.size >= q.cfg.MaxSize {
		q.mu.Unlock()
		return nil, ferr.New(ferr.QueueFull, "priority queue at capacity")
	}
	e := &entry{work: work, resultCh: make(chan result, 1), lane: priority}
	e.elem = q.lanes[priority].PushBack(e)
	q.size++
	q.wakeOneLocked()
	q.mu.Unlock()

	if timeout > 0 {
		e.timer = time.AfterFunc(timeout, func() { q.timeoutEntry(e) })
	}
	return e, nil
}

func (q *Queue) wakeOneLocked() {
	if len(q.waiters) == 0 {
		return
	}
	w := q.waiters[0]
	q.waiters = q.waiters[1:]
	close(w)
}

func (q *Queue) timeoutEntry(e *entry) {
	q.mu.Lock()
	if e.elem == nil {
		q.mu.Unlock()
		return // already dispatched or cancelled
	}
	q.lanes[e.lane].Remove(e.elem)
	e.elem = nil
	q.size--
	q.mu.Unlock()
	e.resultCh <- result{err: ferr.New(ferr.QueueTimeout, "request timed out waiting in priority queue")}
}

func (q *Queue) cancel(e *entry) {
	q.mu.Lock()
	if e.elem != nil {
		q.lanes[e.lane].Remove(e.elem)
		e.elem = nil
		q.size--
	}
	q.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
}

// next pops the highest-priority, oldest-enqueued entry, or nil if empty.
func (q *Queue) next() *entry {
	for _, p := range priorityOrder {
		lane := q.lanes[p]
		if front := lane.Front(); front != nil {
			e := lane.Remove(front).(*entry)
			e.elem = nil
			q.size--
			return e
		}
	}
	return nil
}

// Dispatch runs one dispatcher pass: pop strictly by priority and execute
// entries' work functions until the queue is empty or ctx is done. It
// blocks (parking on a waiter channel) when the queue is momentarily empty.
// A Queue is typically driven by one or more goroutines calling Dispatch in
// a loop — the worker pool named in spec.md §4.I/§5.
func (q *Queue) Dispatch(ctx context.Context) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		e := q.next()
		if e == nil {
			waiter := make(chan struct{})
			q.waiters = append(q.waiters, waiter)
			q.mu.Unlock()
			select {
			case <-waiter:
				continue
			case <-ctx.Done():
				return
			}
		}
		q.mu.Unlock()

		if e.timer != nil {
			if !e.timer.Stop() {
				// Timeout fired concurrently with dispatch; the timeout
				// goroutine already delivered a result for this entry.
				continue
			}
		}
		q.runEntry(ctx, e)
	}
}

func (q *Queue) runEntry(ctx context.Context, e *entry) {
	q.wg.Add(1)
	defer q.wg.Done()
	v, err := e.work(ctx)
	e.resultCh <- result{value: v, err: err}
}

// Shutdown stops accepting new work, fails all still-queued entries with
// Unavailable, and waits up to cfg.ShutdownTimeout for in-flight work
// (entries already popped by Dispatch) to finish.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	var pending []*entry
	for _, p := range priorityOrder {
		lane := q.lanes[p]
		for e := lane.Front(); e != nil; {
			next := e.Next()
			ent := lane.Remove(e).(*entry)
			ent.elem = nil
			pending = append(pending, ent)
			e = next
		}
	}
	q.size = 0
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	for _, e := range pending {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.resultCh <- result{err: ferr.New(ferr.Unavailable, "queue shut down")}
	}

	done := make(chan struct{})
	go func() { q.wg.Wait(); close(done) }()

	timeout := q.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ferr.New(ferr.Unavailable, "shutdown timed out waiting for in-flight requests")
	case <-ctx.Done():
		return ctx.Err()
	}
}
