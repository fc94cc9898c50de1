// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEndpointSet_InsertSnapshotRemove(t *testing.T) {
	set := NewEndpointSet[string]()
	defer set.Close()

	require.Empty(t, set.Snapshot())

	a := set.Insert("a")
	b := set.Insert("b")
	require.ElementsMatch(t, []*EndpointInfo[string]{a, b}, set.Snapshot())

	set.Remove(a)
	require.Equal(t, []*EndpointInfo[string]{b}, set.Snapshot())
}

func TestEndpointSet_EvictExcludesFromSnapshot(t *testing.T) {
	set := NewEndpointSet[string]()
	defer set.Close()

	a := set.Insert("a")
	b := set.Insert("b")

	set.Evict(a, time.Now().Add(time.Hour))
	require.Equal(t, []*EndpointInfo[string]{b}, set.Snapshot())

	// A second Evict call while already evicted must not shorten the window.
	set.Evict(a, time.Now())
	require.Equal(t, []*EndpointInfo[string]{b}, set.Snapshot())
}

func TestEndpointSet_EvictExpires(t *testing.T) {
	set := NewEndpointSet[string]()
	defer set.Close()

	a := set.Insert("a")
	set.Evict(a, time.Now().Add(20*time.Millisecond))
	require.Empty(t, set.Snapshot())

	require.Eventually(t, func() bool {
		return len(set.Snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEndpointSet_SelectTwoChoices_Empty(t *testing.T) {
	set := NewEndpointSet[string]()
	defer set.Close()
	require.Nil(t, set.SelectTwoChoices())
}

func TestEndpointSet_SelectTwoChoices_Single(t *testing.T) {
	set := NewEndpointSet[string]()
	defer set.Close()
	a := set.Insert("only")
	require.Same(t, a, set.SelectTwoChoices())
}

func TestEndpointSet_SelectTwoChoices_PrefersHealthier(t *testing.T) {
	set := NewEndpointSet[string]()
	defer set.Close()
	good := set.Insert("good")
	bad := set.Insert("bad")

	for i := 0; i < 10; i++ {
		NewActiveHandle(good).Close(true)
		NewActiveHandle(bad).Close(false)
	}
	require.InDelta(t, 1.0, good.Score(), 0.05)
	require.InDelta(t, 0.0, bad.Score(), 0.05)

	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		winner := set.SelectTwoChoices()
		counts[winner.Value]++
	}
	require.Greater(t, counts["good"], counts["bad"])
}

func TestEndpointInfo_ScoreUnseededIsOptimistic(t *testing.T) {
	e := &EndpointInfo[string]{Value: "fresh"}
	require.Equal(t, 1.0, e.Score())
}

func TestEndpointInfo_FailureDoesNotRecordLatency(t *testing.T) {
	e := &EndpointInfo[string]{Value: "x"}
	h := NewActiveHandle(e)
	time.Sleep(time.Millisecond)
	h.Close(false)

	require.Equal(t, time.Duration(0), e.Latency())
	require.Less(t, e.Score(), 1.0)
}

func TestEndpointInfo_SuccessRecordsLatency(t *testing.T) {
	e := &EndpointInfo[string]{Value: "x"}
	h := NewActiveHandle(e)
	time.Sleep(5 * time.Millisecond)
	h.Close(true)

	require.Greater(t, e.Latency(), time.Duration(0))
}

func TestActiveHandle_CloseIsIdempotent(t *testing.T) {
	e := &EndpointInfo[string]{Value: "x"}
	require.Equal(t, int64(0), e.active.Load())

	h := NewActiveHandle(e)
	require.Equal(t, int64(1), e.active.Load())

	h.Close(true)
	h.Close(true)
	require.Equal(t, int64(0), e.active.Load())
}
