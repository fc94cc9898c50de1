// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package loadbalancer provides EndpointSet[T], a copy-on-write,
// epoch-bucketed endpoint container with background eviction and
// uneviction, plus power-of-two-choices selection over EWMA health and
// latency. It is the Go port of the original Rust implementation's
// EndpointSet/EndpointInfo/Ewma/ActiveHandle family.
package loadbalancer

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentgateway/agentgateway-go/internal/strng"
)

// ewmaAlpha matches the original's smoothing factor.
const ewmaAlpha = 0.3

// ewma is a lock-free exponentially weighted moving average, recorded
// via compare-and-swap over the float64 bit pattern (there is no
// generic atomic float in the standard library).
type ewma struct {
	bits atomic.Uint64
}

func (e *ewma) record(v float64) {
	for {
		old := e.bits.Load()
		oldF := math.Float64frombits(old)
		var next float64
		if oldF == 0 {
			next = v
		} else {
			next = ewmaAlpha*v + (1-ewmaAlpha)*oldF
		}
		if e.bits.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

func (e *ewma) value() float64 { return math.Float64frombits(e.bits.Load()) }

// activeCounter tracks in-flight requests for an endpoint.
type activeCounter struct {
	n atomic.Int64
}

func (c *activeCounter) inc() int64 { return c.n.Add(1) }
func (c *activeCounter) dec() int64 { return c.n.Add(-1) }
func (c *activeCounter) count() int64 { return c.n.Load() }

// EndpointInfo is the mutable, per-endpoint health/load bookkeeping kept
// alongside the (immutable) endpoint value itself.
type EndpointInfo struct {
	health          ewma
	requestLatency  ewma
	pendingRequests activeCounter
	totalRequests   atomic.Uint64
	evictedUntil    atomic.Pointer[time.Time]
}

// NewEndpointInfo returns a zeroed EndpointInfo ready for use.
func NewEndpointInfo() *EndpointInfo { return &EndpointInfo{} }

// Health returns the current EWMA success rate in [0,1].
func (i *EndpointInfo) Health() float64 { return i.health.value() }

// Latency returns the current EWMA request latency in seconds.
func (i *EndpointInfo) Latency() float64 { return i.requestLatency.value() }

// Pending returns the number of in-flight requests.
func (i *EndpointInfo) Pending() int64 { return i.pendingRequests.count() }

// Total returns the lifetime request count.
func (i *EndpointInfo) Total() uint64 { return i.totalRequests.Load() }

// Evicted reports whether the endpoint is currently serving a cooldown.
func (i *EndpointInfo) Evicted() bool { return i.evictedUntil.Load() != nil }

// ActiveHandle tracks one in-flight request against an endpoint. Callers
// must call FinishRequest exactly once when the request completes.
type ActiveHandle struct {
	key       strng.Strng
	info      *EndpointInfo
	set       evictionScheduler
	finished  atomic.Bool
}

// evictionScheduler is satisfied by *EndpointSet[T]; kept as a narrow
// interface so ActiveHandle does not need to be generic over T.
type evictionScheduler interface {
	scheduleEviction(key strng.Strng, at time.Time)
}

// FinishRequest records the outcome of the request this handle was
// issued for. If evictionTime is non-nil and this call is the first to
// evict the endpoint, the endpoint is moved to the rejected bucket until
// that time elapses.
func (h *ActiveHandle) FinishRequest(success bool, latency time.Duration, evictionTime *time.Duration) {
	if success {
		h.info.requestLatency.record(latency.Seconds())
		h.info.health.record(1)
	} else {
		// Latency is not recorded on failure: fast failures would otherwise
		// skew the average down.
		h.info.health.record(0)
	}
	if h.finished.CompareAndSwap(false, true) {
		h.info.pendingRequests.dec()
	}
	if evictionTime != nil {
		at := time.Now().Add(*evictionTime)
		if h.info.evictedUntil.CompareAndSwap(nil, &at) {
			h.set.scheduleEviction(h.key, at)
		}
	}
}

type entry[T any] struct {
	endpoint T
	info     *EndpointInfo
}

// Endpoint pairs a selected endpoint value with its live info, as
// returned by Iter/Pick.
type Endpoint[T any] struct {
	Value T
	Info  *EndpointInfo
	key   strng.Strng
}

type endpointGroup[T any] struct {
	active   map[strng.Strng]*entry[T]
	rejected map[strng.Strng]*entry[T]
}

func newEndpointGroup[T any]() *endpointGroup[T] {
	return &endpointGroup[T]{
		active:   map[strng.Strng]*entry[T]{},
		rejected: map[strng.Strng]*entry[T]{},
	}
}

func (g *endpointGroup[T]) clone() *endpointGroup[T] {
	n := &endpointGroup[T]{
		active:   make(map[strng.Strng]*entry[T], len(g.active)),
		rejected: make(map[strng.Strng]*entry[T], len(g.rejected)),
	}
	for k, v := range g.active {
		n.active[k] = v
	}
	for k, v := range g.rejected {
		n.rejected[k] = v
	}
	return n
}

type evictionEvent struct {
	key strng.Strng
	at  time.Time
}

// EndpointSet is a copy-on-write container of active/rejected endpoints
// of type T, keyed by an interned Strng. Reads (Iter/Pick) never block
// writers and never block each other; writes (Insert/Remove) are
// serialized by actionMu and publish a fresh snapshot via an atomic
// pointer swap, mirroring the arc-swap pattern of the original.
type EndpointSet[T any] struct {
	bucket   atomic.Pointer[endpointGroup[T]]
	actionMu sync.Mutex

	evictions chan evictionEvent
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates an EndpointSet and starts its background uneviction
// worker. Call Close when the set is no longer needed to stop the
// worker goroutine.
func New[T any]() *EndpointSet[T] {
	s := &EndpointSet[T]{
		evictions: make(chan evictionEvent, 16),
		stop:      make(chan struct{}),
	}
	s.bucket.Store(newEndpointGroup[T]())
	s.wg.Add(1)
	go s.worker()
	return s
}

// Close stops the background eviction worker. Safe to call more than
// once and safe to omit in short-lived processes, matching the
// original's long-lived, process-scoped tasks.
func (s *EndpointSet[T]) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Insert adds or replaces the endpoint under key, clearing any rejected
// (evicted) state it may have had.
func (s *EndpointSet[T]) Insert(key strng.Strng, ep T) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()
	g := s.bucket.Load().clone()
	delete(g.rejected, key)
	g.active[key] = &entry[T]{endpoint: ep, info: NewEndpointInfo()}
	s.bucket.Store(g)
}

// Remove deletes key from both the active and rejected buckets.
func (s *EndpointSet[T]) Remove(key strng.Strng) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()
	g := s.bucket.Load().clone()
	delete(g.active, key)
	delete(g.rejected, key)
	s.bucket.Store(g)
}

// StartRequest begins tracking a request against the endpoint at key,
// returning a handle the caller must finish exactly once.
func (s *EndpointSet[T]) StartRequest(key strng.Strng, info *EndpointInfo) *ActiveHandle {
	info.totalRequests.Add(1)
	info.pendingRequests.inc()
	return &ActiveHandle{key: key, info: info, set: s}
}

// Iter returns a point-in-time snapshot of the active endpoints. The
// snapshot is immutable and safe to range over concurrently with
// writers.
func (s *EndpointSet[T]) Iter() []Endpoint[T] {
	g := s.bucket.Load()
	out := make([]Endpoint[T], 0, len(g.active))
	for k, v := range g.active {
		out = append(out, Endpoint[T]{Value: v.endpoint, Info: v.info, key: k})
	}
	return out
}

// Len returns the number of currently active endpoints.
func (s *EndpointSet[T]) Len() int {
	return len(s.bucket.Load().active)
}

// Get looks up the active endpoint at key by exact name, for callers that
// must target one specific endpoint (e.g. an MCP tool call routed to the
// one upstream that owns it) rather than a load-balanced Pick.
func (s *EndpointSet[T]) Get(key strng.Strng) (Endpoint[T], bool) {
	g := s.bucket.Load()
	e, ok := g.active[key]
	if !ok {
		return Endpoint[T]{}, false
	}
	return Endpoint[T]{Value: e.endpoint, Info: e.info, key: key}, true
}

// Pick selects an endpoint using power-of-two-choices: it samples two
// random active endpoints and returns the one with fewer pending
// requests, tie-broken by lower EWMA latency. It returns false if the
// active bucket is empty.
func (s *EndpointSet[T]) Pick() (Endpoint[T], bool) {
	active := s.Iter()
	switch len(active) {
	case 0:
		return Endpoint[T]{}, false
	case 1:
		return active[0], true
	}
	i, j := rand.Intn(len(active)), rand.Intn(len(active)-1)
	if j >= i {
		j++
	}
	a, b := active[i], active[j]
	if a.Info.Pending() != b.Info.Pending() {
		if a.Info.Pending() < b.Info.Pending() {
			return a, true
		}
		return b, true
	}
	if a.Info.Latency() <= b.Info.Latency() {
		return a, true
	}
	return b, true
}

// scheduleEviction moves key from active to rejected and arranges for it
// to be restored once at elapses, mirroring `evict`/the uneviction heap
// in the original.
func (s *EndpointSet[T]) scheduleEviction(key strng.Strng, at time.Time) {
	s.actionMu.Lock()
	g := s.bucket.Load()
	if ep, ok := g.active[key]; ok {
		g = g.clone()
		delete(g.active, key)
		g.rejected[key] = ep
		s.bucket.Store(g)
	}
	s.actionMu.Unlock()

	select {
	case s.evictions <- evictionEvent{key: key, at: at}:
	case <-s.stop:
	default:
		// Worker is momentarily busy; hand off without blocking the
		// request path that triggered this eviction.
		go func() {
			select {
			case s.evictions <- evictionEvent{key: key, at: at}:
			case <-s.stop:
			}
		}()
	}
}

func (s *EndpointSet[T]) unevict(key strng.Strng) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()
	g := s.bucket.Load()
	ep, ok := g.rejected[key]
	if !ok {
		return
	}
	g = g.clone()
	delete(g.rejected, key)
	ep.info.evictedUntil.Store(nil)
	g.active[key] = ep
	s.bucket.Store(g)
}

type heapItem struct {
	key strng.Strng
	at  time.Time
}

type unevictionHeap []heapItem

func (h unevictionHeap) Len() int            { return len(h) }
func (h unevictionHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h unevictionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *unevictionHeap) Push(x any)         { *h = append(*h, x.(heapItem)) }
func (h *unevictionHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// worker owns the uneviction heap: a single goroutine is the only writer
// of unevictions, so no locking is needed around the heap itself.
func (s *EndpointSet[T]) worker() {
	defer s.wg.Done()
	h := &unevictionHeap{}
	heap.Init(h)
	for {
		var timerC <-chan time.Time
		var tm *time.Timer
		if h.Len() > 0 {
			d := time.Until((*h)[0].at)
			if d < 0 {
				d = 0
			}
			tm = time.NewTimer(d)
			timerC = tm.C
		}
		select {
		case <-s.stop:
			if tm != nil {
				tm.Stop()
			}
			return
		case <-timerC:
			item := heap.Pop(h).(heapItem)
			s.unevict(item.key)
		case ev := <-s.evictions:
			heap.Push(h, heapItem{key: ev.key, at: ev.at})
		}
		if tm != nil {
			tm.Stop()
		}
	}
}
