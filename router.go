package realtime

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bt-bridge/realtime-assistant/shared"
	"go.uber.org/zap"
)

// directivePattern matches the bracketed command markers the model embeds
// in replies, e.g. [CMD:OPEN_FOLDER:~/Downloads] or [WEB:click_element:search].
var directivePattern = regexp.MustCompile(`\[(?:CMD|WEB):[^\]]+\]`)

// StripDirectives removes command markers and tidies the whitespace they
// leave behind.
func StripDirectives(s string) string {
	s = directivePattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// AccumulatedResponse buffers the assistant text of the current turn.
type AccumulatedResponse struct {
	Text      strings.Builder
	Finalized bool
}

// CallSubmitter receives function calls. Submit returns false when the call
// was rejected as a duplicate.
type CallSubmitter interface {
	Submit(call FunctionCall) bool
}

type RouterConfig struct {
	Logger   shared.LoggerAdapter
	UI       UI
	Log      ConversationLog
	Executor CallSubmitter
	// SessionID and Metadata are attached to every persisted turn.
	SessionID string
	Metadata  map[string]any
	// OnSessionInfo, if set, sees session.created/updated.
	OnSessionInfo func(SessionInfo)
}

// Router dispatches inbound control messages. Route must be called from a
// single goroutine per channel; ControlChannel guarantees that.
type Router struct {
	logger    shared.LoggerAdapter
	ui        UI
	log       ConversationLog
	exec      CallSubmitter
	sessionID string
	metadata  map[string]any
	onInfo    func(SessionInfo)

	mu             sync.Mutex
	resp           *AccumulatedResponse
	lastTranscript string
	persistWG      sync.WaitGroup
}

func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		logger:    cfg.Logger.With(zap.String("component", "router")),
		ui:        cfg.UI,
		log:       cfg.Log,
		exec:      cfg.Executor,
		sessionID: cfg.SessionID,
		metadata:  cfg.Metadata,
		onInfo:    cfg.OnSessionInfo,
		resp:      &AccumulatedResponse{Finalized: true},
	}
	if r.ui == nil {
		r.ui = nopUI{}
	}
	if r.log == nil {
		r.log = nopLog{}
	}
	return r
}

// Route parses and dispatches one raw message. It never fails; malformed
// and unknown messages are logged and dropped.
func (r *Router) Route(raw []byte) {
	ev, err := ParseInboundEvent(raw)
	if err != nil {
		r.logger.Warn("dropping malformed event", zap.Error(err), zap.ByteString("data", raw))
		return
	}
	r.Dispatch(ev)
}

func (r *Router) Dispatch(ev InboundEvent) {
	switch e := ev.(type) {
	case TranscriptDelta:
		r.logger.Trace("user transcript delta", zap.String("item_id", e.ItemID))
	case TranscriptDone:
		r.userTranscript(e)
	case ResponseTextDelta:
		r.appendDelta(e.Delta)
	case ResponseDone:
		r.finalize(e)
	case FunctionCall:
		if r.exec == nil {
			r.logger.Warn("function call without executor", zap.String("name", e.Name))
			return
		}
		if r.exec.Submit(e) {
			r.ui.ShowTyping()
		}
	case AudioMarker:
		r.ui.Speaking(e.Started)
	case ServerError:
		r.logger.Warn("server error", zap.String("type", e.Type), zap.String("code", e.Code), zap.String("message", e.Message))
		r.ui.Display(RoleSystem, "Error: "+e.Message, DisplayError)
	case SessionInfo:
		r.logger.Debug("session info", zap.String("source", string(e.Source)), zap.String("session_id", e.SessionID))
		if r.onInfo != nil {
			r.onInfo(e)
		}
	case UnknownEvent:
		r.logger.Trace("ignoring event", zap.String("type", e.Type))
	}
}

// Current returns the text buffered for the running turn.
func (r *Router) Current() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resp.Text.String(), r.resp.Finalized
}

// Flush waits for pending conversation writes.
func (r *Router) Flush() {
	r.persistWG.Wait()
}

func (r *Router) userTranscript(e TranscriptDone) {
	text := strings.TrimSpace(e.Transcript)
	if text == "" {
		return
	}
	r.mu.Lock()
	dup := text == r.lastTranscript
	r.lastTranscript = text
	r.mu.Unlock()
	if dup {
		r.logger.Debug("skipping repeated transcript", zap.String("item_id", e.ItemID))
		return
	}
	r.ui.Display(RoleUser, text, DisplayTranscript)
	r.persist(RoleUser, text)
}

func (r *Router) appendDelta(delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resp.Finalized {
		r.resp = &AccumulatedResponse{}
	}
	r.resp.Text.WriteString(delta)
}

// finalize closes the current turn. The first done signal wins; later ones
// for the same turn find it already finalized.
func (r *Router) finalize(e ResponseDone) {
	r.mu.Lock()
	if r.resp.Finalized {
		r.mu.Unlock()
		r.logger.Trace("turn already finalized", zap.String("source", string(e.Source)))
		return
	}
	r.resp.Finalized = true
	full := r.resp.Text.String()
	r.resp = &AccumulatedResponse{Finalized: true}
	r.mu.Unlock()

	if strings.TrimSpace(full) == "" {
		full = e.Text
	}
	r.ui.HideTyping()
	if strings.TrimSpace(full) == "" {
		return
	}
	if shown := StripDirectives(full); shown != "" {
		r.ui.Display(RoleAssistant, shown, DisplayTranscript)
	}
	r.persist(RoleAssistant, full)
}

// persist is best-effort and never blocks routing.
func (r *Router) persist(role Role, text string) {
	turn := ConversationTurn{
		SessionID: r.sessionID,
		Role:      role,
		Content:   text,
		Metadata:  r.turnMetadata(),
		At:        time.Now(),
	}
	r.persistWG.Add(1)
	go func() {
		defer r.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.log.PersistTurn(ctx, turn); err != nil {
			r.logger.Error("persisting conversation turn", err, zap.String("role", string(role)))
		}
	}()
}

func (r *Router) turnMetadata() map[string]any {
	md := make(map[string]any, len(r.metadata)+1)
	for k, v := range r.metadata {
		md[k] = v
	}
	md["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	return md
}
