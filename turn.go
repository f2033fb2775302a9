package realtime

import (
	"context"
	"sync"

	"github.com/bt-bridge/realtime-assistant/shared"
	"go.uber.org/zap"
)

// TrackGate is the only thing turn modes may touch: the enabled flag of
// the lease tracks.
type TrackGate interface {
	SetTracksEnabled(on bool)
}

type TurnModeKind int

const (
	PushToTalk TurnModeKind = iota
	Continuous
)

func (k TurnModeKind) String() string {
	if k == Continuous {
		return "continuous"
	}
	return "push-to-talk"
}

func ParseTurnMode(s string) TurnModeKind {
	if s == "continuous" {
		return Continuous
	}
	return PushToTalk
}

// TurnMode is one microphone gating policy.
type TurnMode interface {
	Kind() TurnModeKind
	Activate(g TrackGate)
	Deactivate(g TrackGate)
	// OnModeSwitch puts the gate into the mode's idle state after the
	// controller forced it off.
	OnModeSwitch(g TrackGate)
}

// PushToTalkMode transmits only while the trigger is held.
type PushToTalkMode struct{}

func (PushToTalkMode) Kind() TurnModeKind       { return PushToTalk }
func (PushToTalkMode) Activate(g TrackGate)     { g.SetTracksEnabled(true) }
func (PushToTalkMode) Deactivate(g TrackGate)   { g.SetTracksEnabled(false) }
func (PushToTalkMode) OnModeSwitch(g TrackGate) { g.SetTracksEnabled(false) }

// ContinuousMode transmits between explicit activate and deactivate calls.
// AutoStart makes the mode's idle state transmitting, as with a voice
// activated setup.
type ContinuousMode struct {
	AutoStart bool
}

func (ContinuousMode) Kind() TurnModeKind     { return Continuous }
func (ContinuousMode) Activate(g TrackGate)   { g.SetTracksEnabled(true) }
func (ContinuousMode) Deactivate(g TrackGate) { g.SetTracksEnabled(false) }
func (m ContinuousMode) OnModeSwitch(g TrackGate) {
	g.SetTracksEnabled(m.AutoStart)
}

// Trigger is a physical push-to-talk button. Events delivers true on key
// down and false on key up, in the order they happened.
type Trigger interface {
	Events() <-chan bool
}

// TurnController decides when the microphone transmits. It never opens or
// closes the device; it only flips track enabled flags.
type TurnController struct {
	logger shared.LoggerAdapter

	mu     sync.Mutex
	mode   TurnMode
	gate   TrackGate
	active bool
}

func NewTurnController(logger shared.LoggerAdapter, mode TurnMode) *TurnController {
	if mode == nil {
		mode = PushToTalkMode{}
	}
	return &TurnController{
		logger: logger.With(zap.String("component", "turn")),
		mode:   mode,
	}
}

// Attach points the controller at a lease and applies the idle state of
// the current mode.
func (t *TurnController) Attach(g TrackGate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gate = g
	t.active = false
	if g != nil {
		t.mode.OnModeSwitch(g)
		t.active = t.gateOn()
	}
}

// Detach mutes the attached gate and forgets it.
func (t *TurnController) Detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gate != nil {
		t.gate.SetTracksEnabled(false)
	}
	t.gate = nil
	t.active = false
}

func (t *TurnController) Mode() TurnModeKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode.Kind()
}

func (t *TurnController) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// SetMode swaps the gating policy. The track is forced off first so an
// enabled track never carries over into the new mode.
func (t *TurnController) SetMode(mode TurnMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.mode
	if t.gate != nil {
		t.gate.SetTracksEnabled(false)
	}
	t.active = false
	t.mode = mode
	if t.gate != nil {
		mode.OnModeSwitch(t.gate)
		t.active = t.gateOn()
	}
	t.logger.Info("turn mode switched", zap.Stringer("prev", prev.Kind()), zap.Stringer("new", mode.Kind()))
}

// Press starts a push-to-talk turn. Ignored in continuous mode.
func (t *TurnController) Press() {
	t.apply(PushToTalk, true)
}

// Release ends a push-to-talk turn.
func (t *TurnController) Release() {
	t.apply(PushToTalk, false)
}

func (t *TurnController) Activate() {
	t.apply(Continuous, true)
}

func (t *TurnController) Deactivate() {
	t.apply(Continuous, false)
}

// Toggle flips continuous transmission and returns the new state.
func (t *TurnController) Toggle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyLocked(Continuous, !t.active)
	return t.active
}

func (t *TurnController) apply(kind TurnModeKind, on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyLocked(kind, on)
}

func (t *TurnController) applyLocked(kind TurnModeKind, on bool) {
	if t.mode.Kind() != kind {
		t.logger.Trace("ignoring gate request for inactive mode", zap.Stringer("requested", kind))
		return
	}
	if t.gate == nil {
		return
	}
	if on {
		t.mode.Activate(t.gate)
	} else {
		t.mode.Deactivate(t.gate)
	}
	t.active = on
}

func (t *TurnController) gateOn() bool {
	if e, ok := t.gate.(interface{ Enabled() bool }); ok {
		return e.Enabled()
	}
	return false
}

// BindTrigger drives Press and Release from a trigger until ctx ends.
func (t *TurnController) BindTrigger(ctx context.Context, trig Trigger) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case down, ok := <-trig.Events():
				if !ok {
					return
				}
				if down {
					t.Press()
				} else {
					t.Release()
				}
			}
		}
	}()
}
