package agents

import (
	"context"

	"golang.design/x/hotkey"
)

// HotkeyTrigger is a global Ctrl+Shift+Space push-to-talk key.
type HotkeyTrigger struct {
	hk     *hotkey.Hotkey
	events chan bool
}

func NewHotkeyTrigger() *HotkeyTrigger {
	return &HotkeyTrigger{
		hk:     hotkey.New([]hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}, hotkey.KeySpace),
		events: make(chan bool, 4),
	}
}

// Register grabs the key and forwards its presses until ctx ends.
func (h *HotkeyTrigger) Register(ctx context.Context) error {
	if err := h.hk.Register(); err != nil {
		return err
	}
	go forward(ctx, h.hk.Keydown(), h.hk.Keyup(), h.events)
	return nil
}

func (h *HotkeyTrigger) Unregister() error {
	return h.hk.Unregister()
}

func (h *HotkeyTrigger) Events() <-chan bool { return h.events }

// forward alternates between waiting for a press and waiting for its
// release, so a quick tap can never be delivered up before down.
func forward(ctx context.Context, down <-chan hotkey.Event, up <-chan hotkey.Event, out chan<- bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-down:
		}
		if !send(ctx, out, true) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-up:
		}
		if !send(ctx, out, false) {
			return
		}
	}
}

func send(ctx context.Context, out chan<- bool, v bool) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
