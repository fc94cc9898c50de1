// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package caclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBroadcasterWaitWakesOnSet(t *testing.T) {
	var b broadcaster
	ch := b.Wait()

	select {
	case <-ch:
		t.Fatal("channel closed before Set")
	default:
	}

	b.Set(certState{kind: stateAvailable})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Set")
	}
	require.Equal(t, stateAvailable, b.Get().kind)
}

func TestGetIdentityBlocksUntilAvailable(t *testing.T) {
	c := &Client{}
	done := make(chan *WorkloadCertificate, 1)
	go func() {
		cert, err := c.GetIdentity(context.Background())
		require.NoError(t, err)
		done <- cert
	}()

	time.Sleep(10 * time.Millisecond)
	want := &WorkloadCertificate{Expiry: Expiration{NotAfter: time.Now().Add(time.Hour)}}
	c.state.Set(certState{kind: stateAvailable, cert: want})

	select {
	case got := <-done:
		require.Same(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("GetIdentity did not unblock")
	}
}

func TestGetIdentityReturnsErrorState(t *testing.T) {
	c := &Client{}
	wantErr := errors.New("boom")
	c.state.Set(certState{kind: stateError, err: wantErr})

	_, err := c.GetIdentity(context.Background())
	require.ErrorIs(t, err, wantErr)
}

func TestGetIdentityRespectsContextCancellation(t *testing.T) {
	c := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetIdentity(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestGetIdentityExpiredCertificate(t *testing.T) {
	c := &Client{}
	c.state.Set(certState{kind: stateAvailable, cert: &WorkloadCertificate{
		Expiry: Expiration{NotAfter: time.Now().Add(-time.Hour)},
	}})

	_, err := c.GetIdentity(context.Background())
	require.ErrorIs(t, err, ErrExpired)
}
