package store

import (
	"errors"
	"sync/atomic"
)

var ErrMemoryDisabled = errors.New("store: memory is turned off")

// MemoryGate is the user's switch for long-term memory. Knowledge and
// ConversationLog check it on every call, so flipping it applies to the
// running session. A nil gate is always on.
type MemoryGate struct {
	off atomic.Bool
}

func NewMemoryGate(enabled bool) *MemoryGate {
	g := &MemoryGate{}
	g.off.Store(!enabled)
	return g
}

func (g *MemoryGate) Enabled() bool {
	return g == nil || !g.off.Load()
}

func (g *MemoryGate) Set(enabled bool) {
	g.off.Store(!enabled)
}
