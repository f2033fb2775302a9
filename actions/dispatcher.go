package actions

import (
	"context"
	"fmt"
	"slices"
	"sync"

	realtime "github.com/bt-bridge/realtime-assistant"
	"github.com/bt-bridge/realtime-assistant/shared"
	"go.uber.org/zap"
)

// Handler performs one named action.
type Handler func(ctx context.Context, args Args) (realtime.ActionResult, error)

// Dispatcher is the action executor the session engine calls into by
// name.
type Dispatcher struct {
	logger shared.LoggerAdapter

	mu       sync.RWMutex
	handlers map[string]Handler
}

var _ realtime.ActionExecutor = (*Dispatcher)(nil)

func NewDispatcher(logger shared.LoggerAdapter) *Dispatcher {
	return &Dispatcher{
		logger:   logger.With(zap.String("component", "actions")),
		handlers: make(map[string]Handler),
	}
}

// Register adds h under name. Names are unique.
func (d *Dispatcher) Register(name string, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[name]; ok {
		return fmt.Errorf("registering %s: %w", name, shared.ErrHandlerAlreadySet)
	}
	d.handlers[name] = h
	return nil
}

// Names lists the registered actions, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (d *Dispatcher) Execute(ctx context.Context, name string, args map[string]any) (realtime.ActionResult, error) {
	d.mu.RLock()
	h, ok := d.handlers[name]
	d.mu.RUnlock()
	if !ok {
		return realtime.ActionResult{}, fmt.Errorf("%w: %s", shared.ErrUnknownCapability, name)
	}
	d.logger.Debug("running action", zap.String("name", name))
	return h(ctx, Args(args))
}
