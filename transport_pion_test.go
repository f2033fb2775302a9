package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStateMapping(t *testing.T) {
	cases := map[webrtc.PeerConnectionState]ConnectionState{
		webrtc.PeerConnectionStateUnknown:      ConnectionNew,
		webrtc.PeerConnectionStateNew:          ConnectionNew,
		webrtc.PeerConnectionStateConnecting:   ConnectionConnecting,
		webrtc.PeerConnectionStateConnected:    ConnectionConnected,
		webrtc.PeerConnectionStateDisconnected: ConnectionDisconnected,
		webrtc.PeerConnectionStateFailed:       ConnectionFailed,
		webrtc.PeerConnectionStateClosed:       ConnectionClosed,
	}
	for in, want := range cases {
		t.Run(in.String(), func(t *testing.T) {
			assert.Equal(t, want, connectionState(in))
		})
	}
}

func newTestPion(t *testing.T, lease *MicLease) *PionTransport {
	t.Helper()
	tr, err := NewPionTransport(context.Background(), PionConfig{Logger: nopLogger()}, lease)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestPionTransportRequiresLogger(t *testing.T) {
	_, err := NewPionTransport(context.Background(), PionConfig{}, nil)
	assert.Error(t, err)
}

func TestPionTransportCloseIdempotent(t *testing.T) {
	m := newTestMic(t, &fakeProvider{})
	lease, err := m.EnsureMic(context.Background())
	require.NoError(t, err)
	lease.SetTracksEnabled(true)

	tr := newTestPion(t, lease)
	assert.Equal(t, ConnectionNew, tr.State())

	require.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
	assert.Equal(t, ConnectionClosed, tr.State())
	assert.False(t, lease.Enabled())
	assert.True(t, lease.Active(), "closing the transport keeps the tracks running")
}

func TestPionTransportDeliversEveryStateChange(t *testing.T) {
	tr := newTestPion(t, nil)

	release := make(chan struct{})
	var mu sync.Mutex
	var got []ConnectionState
	tr.OnStateChange(func(cs ConnectionState) {
		<-release
		mu.Lock()
		got = append(got, cs)
		mu.Unlock()
	})

	// more changes than the event buffer holds while the observer is stuck
	const n = 40
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range n - 1 {
			tr.handleState(webrtc.PeerConnectionStateDisconnected)
		}
		tr.handleState(webrtc.PeerConnectionStateFailed)
	}()
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("state callback never returned")
	}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ConnectionFailed, got[n-1])
}

func TestPionTransportCloseUnblocksStateCallback(t *testing.T) {
	tr := newTestPion(t, nil)
	block := make(chan struct{})
	defer close(block)
	tr.OnStateChange(func(ConnectionState) { <-block })

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 40 {
			tr.handleState(webrtc.PeerConnectionStateDisconnected)
		}
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tr.Close())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("state callback stayed blocked after close")
	}
}
