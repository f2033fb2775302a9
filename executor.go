package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/bytedance/sonic"
	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"
)

// Sender is the outbound side of a control channel.
type Sender interface {
	Send(msg any) error
}

type CallStatus int

const (
	CallReceived CallStatus = iota
	CallExecuting
	CallCompleted
	CallFailed
)

func (s CallStatus) String() string {
	switch s {
	case CallReceived:
		return "received"
	case CallExecuting:
		return "executing"
	case CallCompleted:
		return "completed"
	case CallFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type PendingCall struct {
	CallID string
	Name   string
	Status CallStatus
}

// Executor runs function calls issued by the model. Every call id is
// executed and answered at most once for the lifetime of the executor.
type Executor struct {
	logger  shared.LoggerAdapter
	caps    *Capabilities
	actions ActionExecutor
	out     Sender
	ui      UI

	mu    sync.Mutex
	calls map[string]*PendingCall

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewExecutor(logger shared.LoggerAdapter, caps *Capabilities, actions ActionExecutor, out Sender, ui UI) *Executor {
	if ui == nil {
		ui = nopUI{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		logger:  logger.With(zap.String("component", "executor")),
		caps:    caps,
		actions: actions,
		out:     out,
		ui:      ui,
		calls:   make(map[string]*PendingCall),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit executes call in the background. It returns false for a call id
// that was already seen.
func (e *Executor) Submit(call FunctionCall) bool {
	pc, ok := e.claim(call)
	if !ok {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(e.ctx, pc, call)
	}()
	return true
}

// Execute runs call synchronously and returns the result that was sent.
func (e *Executor) Execute(ctx context.Context, call FunctionCall) (ActionResult, error) {
	pc, ok := e.claim(call)
	if !ok {
		return ActionResult{}, shared.ErrDuplicateCall
	}
	return e.run(ctx, pc, call), nil
}

// Call returns a snapshot of the call with the given id.
func (e *Executor) Call(callID string) (PendingCall, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc, ok := e.calls[callID]
	if !ok {
		return PendingCall{}, false
	}
	return *pc, true
}

// Wait blocks until every submitted call has been answered.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Close cancels the context of running actions. Their results are still
// answered (as failures) if the channel accepts them.
func (e *Executor) Close() {
	e.cancel()
}

func (e *Executor) claim(call FunctionCall) (*PendingCall, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.calls[call.CallID]; ok {
		e.logger.Warn("ignoring duplicate function call",
			zap.String("call_id", call.CallID),
			zap.String("name", call.Name),
			zap.Stringer("status", prev.Status),
		)
		return nil, false
	}
	pc := &PendingCall{CallID: call.CallID, Name: call.Name, Status: CallReceived}
	e.calls[call.CallID] = pc
	return pc, true
}

func (e *Executor) setStatus(pc *PendingCall, s CallStatus) {
	e.mu.Lock()
	pc.Status = s
	e.mu.Unlock()
}

func (e *Executor) run(ctx context.Context, pc *PendingCall, call FunctionCall) ActionResult {
	logger := e.logger.With(zap.String("call_id", call.CallID), zap.String("name", call.Name))
	e.setStatus(pc, CallExecuting)
	result := e.invoke(ctx, logger, call)
	if result.Success {
		e.setStatus(pc, CallCompleted)
	} else {
		e.setStatus(pc, CallFailed)
		logger.Warn("function call failed", zap.String("error", result.Error))
	}

	msg, err := FunctionCallOutputMessage(call.CallID, result)
	if err != nil {
		logger.Error("marshaling function call output", err)
		msg, _ = FunctionCallOutputMessage(call.CallID, Failure("unserializable result"))
	}
	if err := e.out.Send(msg); err != nil {
		logger.Error("sending function call output", err)
	} else if err := e.out.Send(ResponseCreateMessage()); err != nil {
		logger.Error("sending response.create", err)
	}
	e.confirm(result)
	return result
}

type actionOutcome struct {
	result ActionResult
	err    error
}

func (e *Executor) invoke(ctx context.Context, logger shared.LoggerAdapter, call FunctionCall) ActionResult {
	if !e.caps.Has(call.Name) {
		return Failure("unknown capability")
	}
	args, err := parseArguments(call.Arguments)
	if err != nil {
		return Failure(fmt.Sprintf("invalid arguments: %v", err))
	}
	if err := e.caps.ValidateArguments(call.Name, args); err != nil {
		return Failure(err.Error())
	}

	timeout := e.caps.Timeout(call.Name)
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan actionOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- actionOutcome{err: fmt.Errorf("action panicked: %v", r)}
			}
		}()
		res, err := e.actions.Execute(actx, call.Name, args)
		done <- actionOutcome{result: res, err: err}
	}()

	logger.Debug("executing action", zap.Duration("timeout", timeout))
	select {
	case o := <-done:
		switch {
		case o.err == nil:
			return o.result
		case errors.Is(o.err, context.DeadlineExceeded), errors.Is(o.err, shared.ErrActionTimeout):
			return Failure("timeout")
		default:
			return Failure(o.err.Error())
		}
	case <-actx.Done():
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			logger.Warn("action timed out, abandoning it", zap.Duration("timeout", timeout))
			return Failure("timeout")
		}
		return Failure("cancelled")
	}
}

func (e *Executor) confirm(result ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("ui display panicked", zap.Any("panic", r))
		}
	}()
	if result.Success {
		text := result.Message
		if text == "" {
			text = "Done"
		}
		e.ui.Display(RoleAssistant, "✅ "+text, DisplayNotice)
		return
	}
	e.ui.Display(RoleAssistant, "❌ Error: "+result.Error, DisplayError)
}

// parseArguments decodes the model's argument string, repairing
// slightly broken JSON (trailing commas, single quotes, truncation).
func parseArguments(s string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(s) == "" {
		return args, nil
	}
	if err := sonic.UnmarshalString(s, &args); err == nil {
		return args, nil
	}
	fixed, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, err
	}
	args = map[string]any{}
	if err := sonic.UnmarshalString(fixed, &args); err != nil {
		return nil, err
	}
	return args, nil
}
