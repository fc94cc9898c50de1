// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package proxy

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// healthEWMAAlpha is the smoothing factor for EndpointInfo's health and
// latency exponentially-weighted moving averages, seeded on first sample.
const healthEWMAAlpha = 0.3

// EndpointInfo tracks the live state of one entry in an EndpointSet: an
// EWMA of request latency, an EWMA "health" score derived from success/
// failure, and an in-flight request counter.
type EndpointInfo[T any] struct {
	Value T

	mu           sync.Mutex
	health       float64
	healthSeeded bool
	latency      time.Duration
	latencySeeded bool
	active       atomic.Int64
	evictedUntil atomic.Int64 // unix nano; 0 means not evicted
}

// Score returns the current EWMA health, used as the weight in two-choices
// selection. Higher is better; a freshly-inserted endpoint with no samples
// yet scores 1.0 (assume healthy until proven otherwise).
func (e *EndpointInfo[T]) Score() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.healthSeeded {
		return 1.0
	}
	return e.health
}

// Latency returns the current EWMA request latency.
func (e *EndpointInfo[T]) Latency() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latency
}

// recordOutcome folds one request's outcome into the health EWMA, and into
// the latency EWMA only when success is true.
func (e *EndpointInfo[T]) recordOutcome(success bool, took time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sample := 0.0
	if success {
		sample = 1.0
	}
	if !e.healthSeeded {
		e.health = sample
		e.healthSeeded = true
	} else {
		e.health = healthEWMAAlpha*sample + (1-healthEWMAAlpha)*e.health
	}
	if success {
		if !e.latencySeeded {
			e.latency = took
			e.latencySeeded = true
		} else {
			e.latency = time.Duration(healthEWMAAlpha*float64(took) + (1-healthEWMAAlpha)*float64(e.latency))
		}
	}
}

// isEvicted reports whether the endpoint is currently in its rejected window.
func (e *EndpointInfo[T]) isEvicted(now time.Time) bool {
	until := e.evictedUntil.Load()
	return until != 0 && now.UnixNano() < until
}

// ActiveHandle tracks one in-flight request against an endpoint: it
// increments the active-request counter on construction and records
// latency/health on Close. Requests with success=false do not record
// latency, per the health-vs-latency split above.
type ActiveHandle[T any] struct {
	info    *EndpointInfo[T]
	start   time.Time
	closed  bool
	success bool
}

// Close records the outcome and decrements the active-request counter. It
// is safe to call at most once; Close must be called exactly once per
// NewActiveHandle.
func (h *ActiveHandle[T]) Close(success bool) {
	if h.closed {
		return
	}
	h.closed = true
	h.success = success
	h.info.active.Add(-1)
	h.info.recordOutcome(success, time.Since(h.start))
}

// EndpointSet is an epoch-style container over two buckets, active and
// rejected. Inserts/deletes/evictions are serialized through a single
// worker goroutine reading from an event channel; a mutex additionally
// guards the synchronous swap path so concurrent readers always observe a
// consistent atomic snapshot (an atomic.Pointer to an immutable slice).
type EndpointSet[T any] struct {
	mu     sync.Mutex
	events chan func()
	active atomic.Pointer[[]*EndpointInfo[T]]

	closeOnce sync.Once
	done      chan struct{}
}

// NewEndpointSet creates an empty EndpointSet and starts its worker goroutine.
func NewEndpointSet[T any]() *EndpointSet[T] {
	s := &EndpointSet[T]{
		events: make(chan func(), 64),
		done:   make(chan struct{}),
	}
	empty := make([]*EndpointInfo[T], 0)
	s.active.Store(&empty)
	go s.run()
	return s
}

func (s *EndpointSet[T]) run() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			return
		}
	}
}

// Close stops the worker goroutine. Safe to call more than once.
func (s *EndpointSet[T]) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Insert adds a new endpoint to the active bucket.
func (s *EndpointSet[T]) Insert(value T) *EndpointInfo[T] {
	info := &EndpointInfo[T]{Value: value}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := *s.active.Load()
	next := make([]*EndpointInfo[T], len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, info)
	s.active.Store(&next)
	return info
}

// Remove deletes an endpoint from the active bucket, if present.
func (s *EndpointSet[T]) Remove(info *EndpointInfo[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := *s.active.Load()
	next := make([]*EndpointInfo[T], 0, len(cur))
	for _, e := range cur {
		if e != info {
			next = append(next, e)
		}
	}
	s.active.Store(&next)
}

// Evict marks an endpoint rejected until the given instant, asynchronously
// scheduling its return to service. An endpoint already evicted is left
// alone (CAS ensures only one eviction window is in flight at a time).
func (s *EndpointSet[T]) Evict(info *EndpointInfo[T], until time.Time) {
	if !info.evictedUntil.CompareAndSwap(0, until.UnixNano()) {
		return
	}
	d := time.Until(until)
	if d < 0 {
		d = 0
	}
	time.AfterFunc(d, func() {
		info.evictedUntil.Store(0)
	})
}

// Snapshot returns the currently active, non-evicted endpoints.
func (s *EndpointSet[T]) Snapshot() []*EndpointInfo[T] {
	now := time.Now()
	cur := *s.active.Load()
	out := make([]*EndpointInfo[T], 0, len(cur))
	for _, e := range cur {
		if !e.isEvicted(now) {
			out = append(out, e)
		}
	}
	return out
}

// SelectTwoChoices implements power-of-two-choices: it samples two
// candidates (with replacement — the same endpoint may be drawn twice,
// which is an intentional anti-starvation property) from the active,
// non-rejected set and returns whichever scores higher. It never returns a
// rejected endpoint. Returns nil if the active set is empty.
func (s *EndpointSet[T]) SelectTwoChoices() *EndpointInfo[T] {
	candidates := s.Snapshot()
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	a := candidates[rand.IntN(len(candidates))]
	b := candidates[rand.IntN(len(candidates))]
	if a.Score() >= b.Score() {
		return a
	}
	return b
}

// NewActiveHandle begins tracking one in-flight request against info.
func NewActiveHandle[T any](info *EndpointInfo[T]) *ActiveHandle[T] {
	info.active.Add(1)
	return &ActiveHandle[T]{info: info, start: time.Now()}
}
