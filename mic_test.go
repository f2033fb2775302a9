package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMic(t *testing.T, p DeviceProvider) *MicLeaseManager {
	t.Helper()
	m, err := NewMicLeaseManager(nopLogger(), p)
	require.NoError(t, err)
	return m
}

func TestEnsureMicSingleFlight(t *testing.T) {
	p := &fakeProvider{gate: make(chan struct{})}
	m := newTestMic(t, p)

	const n = 10
	leases := make([]*MicLease, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			leases[i], errs[i] = m.EnsureMic(context.Background())
		}()
	}
	// let every caller reach the wait before the device answers
	time.Sleep(20 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	assert.EqualValues(t, 1, p.calls.Load())
	for i := range n {
		require.NoError(t, errs[i])
		assert.Same(t, leases[0], leases[i])
	}
}

func TestEnsureMicSingleFlightSharesError(t *testing.T) {
	p := &fakeProvider{gate: make(chan struct{}), err: &DeviceError{Name: "NotAllowedError", Message: "denied"}}
	m := newTestMic(t, p)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = m.EnsureMic(context.Background())
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	assert.EqualValues(t, 1, p.calls.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, shared.ErrPermissionDenied)
	}
	assert.Nil(t, m.Lease())
}

func TestEnsureMicCallerCancelDoesNotAbortOthers(t *testing.T) {
	p := &fakeProvider{gate: make(chan struct{})}
	m := newTestMic(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error, 1)
	go func() {
		_, err := m.EnsureMic(ctx)
		errC <- err
	}()
	leaseC := make(chan *MicLease, 1)
	go func() {
		l, _ := m.EnsureMic(context.Background())
		leaseC <- l
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errC, context.Canceled)

	close(p.gate)
	assert.NotNil(t, <-leaseC)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestLeaseStartsMuted(t *testing.T) {
	m := newTestMic(t, &fakeProvider{})
	lease, err := m.EnsureMic(context.Background())
	require.NoError(t, err)

	require.Len(t, lease.Tracks(), 1)
	id := lease.Tracks()[0].ID()
	assert.False(t, lease.TrackEnabled(id))
	assert.Equal(t, []string{id}, lease.MutedTracks())
	assert.True(t, lease.Active())
}

func TestMuteIsNonDestructive(t *testing.T) {
	p := &fakeProvider{}
	m := newTestMic(t, p)
	lease, err := m.EnsureMic(context.Background())
	require.NoError(t, err)

	for range 3 {
		lease.SetTracksEnabled(true)
		assert.True(t, lease.Active())
		assert.Empty(t, lease.MutedTracks())
		lease.SetTracksEnabled(false)
		assert.True(t, lease.Active())
	}
	again, err := m.EnsureMic(context.Background())
	require.NoError(t, err)
	assert.Same(t, lease, again)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestClearCacheIsIdempotent(t *testing.T) {
	p := &fakeProvider{}
	m := newTestMic(t, p)
	lease, err := m.EnsureMic(context.Background())
	require.NoError(t, err)
	track := lease.Tracks()[0].(*fakeTrack)

	m.ClearCache()
	m.ClearCache()
	assert.True(t, track.stopped.Load())
	assert.False(t, lease.Active())
	assert.Nil(t, m.Lease())

	next, err := m.EnsureMic(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, lease, next)
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestEnsureMicReacquiresStaleLease(t *testing.T) {
	p := &fakeProvider{}
	m := newTestMic(t, p)
	lease, err := m.EnsureMic(context.Background())
	require.NoError(t, err)

	// the OS revoked the device between sessions
	lease.Tracks()[0].(*fakeTrack).dead.Store(true)

	next, err := m.EnsureMic(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, lease, next)
	assert.True(t, next.Active())
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestClearCacheDuringAcquisitionStopsLateTracks(t *testing.T) {
	p := &fakeProvider{gate: make(chan struct{})}
	m := newTestMic(t, p)

	errC := make(chan error, 1)
	go func() {
		_, err := m.EnsureMic(context.Background())
		errC <- err
	}()
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)

	m.ClearCache()
	close(p.gate)

	assert.ErrorIs(t, <-errC, shared.ErrConnectAborted)
	assert.Nil(t, m.Lease())
	tracks := p.tracks()
	require.Len(t, tracks, 1)
	assert.True(t, tracks[0].stopped.Load())

	// the next request starts a fresh acquisition
	lease, err := m.EnsureMic(context.Background())
	require.NoError(t, err)
	assert.True(t, lease.Active())
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestEnsureMicNoTracks(t *testing.T) {
	m := newTestMic(t, &emptyProvider{})
	_, err := m.EnsureMic(context.Background())
	assert.ErrorIs(t, err, shared.ErrDeviceNotFound)
}

type emptyProvider struct{}

func (emptyProvider) Acquire(context.Context) ([]AudioTrack, error) { return nil, nil }

func TestClassifyDeviceError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     MicErrorKind
		sentinel error
		contains string
	}{
		{"not allowed", &DeviceError{Name: "NotAllowedError"}, MicPermissionDenied, shared.ErrPermissionDenied, "denied"},
		{"security", &DeviceError{Name: "SecurityError"}, MicPermissionDenied, shared.ErrPermissionDenied, "denied"},
		{"not found", &DeviceError{Name: "NotFoundError"}, MicDeviceNotFound, shared.ErrDeviceNotFound, "No microphone detected"},
		{"overconstrained", &DeviceError{Name: "OverconstrainedError"}, MicDeviceNotFound, shared.ErrDeviceNotFound, "No microphone detected"},
		{"not readable", &DeviceError{Name: "NotReadableError"}, MicDeviceBusy, shared.ErrDeviceBusy, "in use by another application"},
		{"abort", &DeviceError{Name: "AbortError"}, MicDeviceBusy, shared.ErrDeviceBusy, "in use by another application"},
		{"unknown name", &DeviceError{Name: "WeirdError", Message: "driver exploded"}, MicUnknown, shared.ErrDeviceUnknown, "WeirdError: driver exploded"},
		{"plain error", errors.New("alsa: no such card"), MicUnknown, shared.ErrDeviceUnknown, "alsa: no such card"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			me := ClassifyDeviceError(tt.err)
			require.NotNil(t, me)
			assert.Equal(t, tt.kind, me.Kind)
			assert.ErrorIs(t, me, tt.sentinel)
			assert.Contains(t, me.Message, tt.contains)
		})
	}
	assert.Nil(t, ClassifyDeviceError(nil))
}
