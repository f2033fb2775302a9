package realtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/bt-bridge/realtime-assistant/shared"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// AudioTrack is one capture track handed out by a DeviceProvider.
type AudioTrack interface {
	ID() string
	Stop() error
}

// liveTrack is implemented by tracks that can report whether the OS
// still delivers samples for them.
type liveTrack interface {
	Live() bool
}

// DeviceProvider opens the audio input device. Acquire may block on a
// permission prompt.
type DeviceProvider interface {
	Acquire(ctx context.Context) ([]AudioTrack, error)
}

// DeviceError is the raw failure reported by a device API, keyed by its
// error name (NotAllowedError, NotFoundError, ...).
type DeviceError struct {
	Name    string
	Message string
}

func (e *DeviceError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

type MicErrorKind int

const (
	MicUnknown MicErrorKind = iota
	MicPermissionDenied
	MicDeviceNotFound
	MicDeviceBusy
)

func (k MicErrorKind) String() string {
	switch k {
	case MicPermissionDenied:
		return "permission-denied"
	case MicDeviceNotFound:
		return "device-not-found"
	case MicDeviceBusy:
		return "device-busy"
	default:
		return "unknown"
	}
}

func (k MicErrorKind) sentinel() error {
	switch k {
	case MicPermissionDenied:
		return shared.ErrPermissionDenied
	case MicDeviceNotFound:
		return shared.ErrDeviceNotFound
	case MicDeviceBusy:
		return shared.ErrDeviceBusy
	default:
		return shared.ErrDeviceUnknown
	}
}

// MicError is a classified microphone failure. Message is meant for the
// user; Raw keeps the device API's own text.
type MicError struct {
	Kind    MicErrorKind
	Name    string
	Message string
	Raw     string
}

func (e *MicError) Error() string { return e.Message }

func (e *MicError) Is(target error) bool { return target == e.Kind.sentinel() }

// ClassifyDeviceError maps a device API failure to one of the four
// microphone error kinds. A nil error yields nil.
func ClassifyDeviceError(err error) *MicError {
	if err == nil {
		return nil
	}
	var me *MicError
	if errors.As(err, &me) {
		return me
	}
	name, raw := "", err.Error()
	var de *DeviceError
	if errors.As(err, &de) {
		name, raw = de.Name, de.Message
	}
	switch name {
	case "NotAllowedError", "PermissionDeniedError", "SecurityError":
		return &MicError{Kind: MicPermissionDenied, Name: name, Raw: raw,
			Message: "Microphone access was denied. Allow microphone access in your system settings and try again."}
	case "NotFoundError", "OverconstrainedError", "DevicesNotFoundError":
		return &MicError{Kind: MicDeviceNotFound, Name: name, Raw: raw,
			Message: "No microphone detected. Connect a microphone and try again."}
	case "NotReadableError", "AbortError", "TrackStartError":
		return &MicError{Kind: MicDeviceBusy, Name: name, Raw: raw,
			Message: "Microphone is in use by another application. Close it and try again."}
	}
	msg := "Failed to access microphone: " + raw
	if name != "" {
		msg = fmt.Sprintf("Failed to access microphone: %s: %s", name, raw)
	}
	return &MicError{Kind: MicUnknown, Name: name, Raw: raw, Message: msg}
}

// MicLease is exclusive access to the input device. Tracks start muted;
// only the enabled flags change while the lease is alive.
type MicLease struct {
	mu      sync.Mutex
	tracks  []AudioTrack
	enabled map[string]bool
	active  bool
}

func newMicLease(tracks []AudioTrack) *MicLease {
	l := &MicLease{
		tracks:  tracks,
		enabled: make(map[string]bool, len(tracks)),
		active:  true,
	}
	for _, t := range tracks {
		l.enabled[t.ID()] = false
	}
	return l
}

func (l *MicLease) Tracks() []AudioTrack {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.tracks)
}

// Active is false once the lease was released or any track stopped
// delivering audio.
func (l *MicLease) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		return false
	}
	for _, t := range l.tracks {
		if lt, ok := t.(liveTrack); ok && !lt.Live() {
			return false
		}
	}
	return true
}

func (l *MicLease) TrackEnabled(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled[id]
}

// Enabled reports whether any track is transmitting.
func (l *MicLease) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, on := range l.enabled {
		if on {
			return true
		}
	}
	return false
}

func (l *MicLease) SetTracksEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id := range l.enabled {
		l.enabled[id] = on
	}
}

// MutedTracks returns the ids of disabled tracks, sorted.
func (l *MicLease) MutedTracks() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for id, on := range l.enabled {
		if !on {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (l *MicLease) release() {
	l.mu.Lock()
	tracks := l.tracks
	l.active = false
	for id := range l.enabled {
		l.enabled[id] = false
	}
	l.mu.Unlock()
	for _, t := range tracks {
		_ = t.Stop()
	}
}

const acquireKey = "mic"

// MicLeaseManager owns the one microphone lease of the process.
type MicLeaseManager struct {
	logger   shared.LoggerAdapter
	provider DeviceProvider
	group    singleflight.Group

	mu    sync.Mutex
	lease *MicLease
	// gen is bumped by ClearCache. An acquisition that started under an
	// older generation must not store its lease.
	gen uint64
}

func NewMicLeaseManager(logger shared.LoggerAdapter, provider DeviceProvider) (*MicLeaseManager, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if provider == nil {
		return nil, shared.ErrNoProvider
	}
	return &MicLeaseManager{
		logger:   logger.With(zap.String("component", "mic")),
		provider: provider,
	}, nil
}

// EnsureMic returns the cached lease or acquires the device. Concurrent
// callers share a single acquisition. The acquisition itself is not bound
// to any one caller's ctx; a caller whose ctx ends stops waiting but the
// others still get the result.
func (m *MicLeaseManager) EnsureMic(ctx context.Context) (*MicLease, error) {
	if l := m.cached(); l != nil {
		return l, nil
	}
	detached := context.WithoutCancel(ctx)
	resC := m.group.DoChan(acquireKey, func() (any, error) {
		return m.acquire(detached)
	})
	select {
	case r := <-resC:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*MicLease), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// cached returns the live cached lease. A stale one is dropped and its
// tracks stopped.
func (m *MicLeaseManager) cached() *MicLease {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lease == nil {
		return nil
	}
	if m.lease.Active() {
		return m.lease
	}
	m.logger.Warn("cached microphone lease is stale, reacquiring")
	go m.lease.release()
	m.lease = nil
	return nil
}

func (m *MicLeaseManager) acquire(ctx context.Context) (*MicLease, error) {
	// a caller may have checked the cache just before the previous
	// acquisition stored its lease
	if l := m.cached(); l != nil {
		return l, nil
	}
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	m.logger.Debug("acquiring microphone")
	tracks, err := m.provider.Acquire(ctx)
	if err == nil && len(tracks) == 0 {
		err = &DeviceError{Name: "NotFoundError", Message: "no audio tracks"}
	}
	if err != nil {
		me := ClassifyDeviceError(err)
		m.logger.Error("acquiring microphone", err, zap.Stringer("kind", me.Kind))
		return nil, me
	}

	lease := newMicLease(tracks)
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		lease.release()
		m.logger.Info("microphone released while acquiring, stopping late tracks")
		return nil, fmt.Errorf("%w: microphone released while acquiring", shared.ErrConnectAborted)
	}
	m.lease = lease
	m.mu.Unlock()
	m.logger.Info("microphone acquired", zap.Int("tracks", len(tracks)))
	return lease, nil
}

// Lease returns the cached lease, if any.
func (m *MicLeaseManager) Lease() *MicLease {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lease
}

// ClearCache stops every track and drops the lease. An acquisition still
// in flight is abandoned: its tracks are stopped as soon as they arrive.
// Safe to call any number of times.
func (m *MicLeaseManager) ClearCache() {
	m.mu.Lock()
	l := m.lease
	m.lease = nil
	m.gen++
	m.mu.Unlock()
	m.group.Forget(acquireKey)
	if l != nil {
		l.release()
		m.logger.Info("microphone released")
	}
}
