package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/realtime-assistant/shared"
	"go.uber.org/zap"
)

type ClientConfig struct {
	Logger       shared.LoggerAdapter
	Capabilities *Capabilities
	Credentials  CredentialFetcher
	Source       CredentialSource
	Exchanger    OfferExchanger
	Mic          *MicLeaseManager
	Transport    TransportFactory
	Actions      ActionExecutor

	// Optional collaborators.
	Vision  VisionAnalyzer
	UI      UI
	Log     ConversationLog
	Context ContextProvider
	Turn    *TurnController

	// Voice overrides the configured voice.
	Voice string
	// Metadata is attached to every persisted conversation turn.
	Metadata map[string]any
}

// attempt owns everything one connect cycle creates. Its fields are
// guarded by Client.mu.
type attempt struct {
	session   *Session
	ctx       context.Context
	cancel    context.CancelFunc
	lease     *MicLease
	transport Transport
	channel   *ControlChannel
	executor  *Executor
	router    *Router
}

// Client negotiates and owns one realtime session at a time.
type Client struct {
	cfg    ClientConfig
	logger shared.LoggerAdapter
	ui     UI
	turn   *TurnController

	mu        sync.Mutex
	state     SessionState
	cur       *attempt
	lastErr   error
	observers []func(prev, next SessionState)
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.Capabilities == nil {
		return nil, shared.ErrNoConfig
	}
	if cfg.Mic == nil {
		return nil, shared.ErrNoProvider
	}
	if cfg.Transport == nil {
		return nil, shared.ErrNoFactory
	}
	if cfg.Credentials == nil || cfg.Exchanger == nil || cfg.Actions == nil {
		return nil, errors.New("credentials, exchanger and actions are required")
	}
	logger := cfg.Logger.With(zap.String("component", "client"))
	c := &Client{
		cfg:    cfg,
		logger: logger,
		ui:     cfg.UI,
		turn:   cfg.Turn,
		state:  StateIdle,
	}
	if c.ui == nil {
		c.ui = nopUI{}
	}
	if c.cfg.Log == nil {
		c.cfg.Log = nopLog{}
	}
	if c.turn == nil {
		c.turn = NewTurnController(cfg.Logger, PushToTalkMode{})
	}
	return c, nil
}

func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError is the cause of the most recent Failed or unexpected Closed
// transition.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Session returns a copy of the current session, if any.
func (c *Client) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return Session{}, false
	}
	return *c.cur.session, true
}

func (c *Client) Turn() *TurnController { return c.turn }

// OnStateChange registers an observer. Observers run outside the client
// lock, in transition order.
func (c *Client) OnStateChange(fn func(prev, next SessionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// setLocked changes state and returns the notification to run after
// unlocking.
func (c *Client) setLocked(next SessionState) func() {
	prev := c.state
	c.state = next
	if prev == next {
		return func() {}
	}
	obs := append([]func(prev, next SessionState){}, c.observers...)
	lastErr := c.lastErr
	return func() {
		c.logger.Info("session state changed", zap.Stringer("prev", prev), zap.Stringer("new", next))
		c.ui.Status(next, statusDetail(next, lastErr))
		for _, fn := range obs {
			fn(prev, next)
		}
	}
}

// Connect runs a full negotiation and returns once the session is Open or
// the attempt failed. While a session is negotiating or open it is a no-op
// that reports the current state.
func (c *Client) Connect(ctx context.Context) (SessionState, error) {
	c.mu.Lock()
	if c.state.active() || c.state == StateClosing {
		s := c.state
		c.mu.Unlock()
		c.logger.Debug("connect ignored", zap.Stringer("state", s))
		return s, nil
	}
	a := &attempt{session: newSession(c.cfg.Capabilities.SessionConfig(c.cfg.Voice))}
	a.ctx, a.cancel = context.WithCancel(ctx)
	c.cur = a
	c.lastErr = nil
	notify := c.setLocked(StateNegotiating)
	c.mu.Unlock()
	notify()

	logger := c.logger.With(zap.String("session_id", a.session.ID))

	creds, err := c.cfg.Credentials.Fetch(a.ctx, c.cfg.Source)
	if err != nil {
		return c.fail(a, err)
	}
	lease, err := c.cfg.Mic.EnsureMic(a.ctx)
	if err != nil {
		return c.fail(a, err)
	}

	scfg := a.session.Config
	scfg.Instructions = instructionsWithContext(a.ctx, logger, scfg.Instructions, c.cfg.Context)
	handshake, err := c.cfg.Capabilities.Handshake(scfg)
	if err != nil {
		return c.fail(a, err)
	}

	c.mu.Lock()
	if c.cur != a {
		c.mu.Unlock()
		return c.abort(a, context.Canceled)
	}
	a.lease = lease
	notify = c.setLocked(StateAwaitingAnswer)
	c.mu.Unlock()
	notify()

	tr, err := c.cfg.Transport(a.ctx, lease)
	if err != nil {
		return c.fail(a, fmt.Errorf("%w: %w", shared.ErrTransportFailure, err))
	}
	ch := NewControlChannel(logger, tr.DataChannel())
	exec := NewExecutor(logger, c.cfg.Capabilities, c.cfg.Actions, ch, c.ui)
	router := NewRouter(RouterConfig{
		Logger:    logger,
		UI:        c.ui,
		Log:       c.cfg.Log,
		Executor:  exec,
		SessionID: a.session.ID,
		Metadata:  c.cfg.Metadata,
		OnSessionInfo: func(info SessionInfo) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if info.SessionID != "" {
				a.session.UpstreamID = info.SessionID
			}
		},
	})

	c.mu.Lock()
	if c.cur != a {
		c.mu.Unlock()
		exec.Close()
		_ = ch.Close()
		_ = tr.Close()
		return c.abort(a, context.Canceled)
	}
	a.transport, a.channel, a.executor, a.router = tr, ch, exec, router
	c.mu.Unlock()

	ch.OnMessage(router.Route)
	ch.OnClose(func() { c.lost(a, shared.ErrChannelClosed) })
	tr.OnStateChange(func(s ConnectionState) { c.transportState(a, s) })

	// queued until the channel opens, so it is always the first message out
	if err := ch.Send(SessionUpdateMessage(handshake)); err != nil {
		return c.fail(a, fmt.Errorf("%w: queueing handshake: %w", shared.ErrNegotiation, err))
	}

	offer, err := tr.CreateOffer(a.ctx)
	if err != nil {
		return c.fail(a, fmt.Errorf("%w: creating offer: %w", shared.ErrNegotiation, err))
	}
	answer, err := c.cfg.Exchanger.Exchange(a.ctx, creds.Endpoint, creds.Model, creds.Secret, offer)
	if err != nil {
		return c.fail(a, err)
	}
	if err := tr.ApplyAnswer(answer); err != nil {
		return c.fail(a, fmt.Errorf("%w: applying answer: %w", shared.ErrNegotiation, err))
	}

	c.mu.Lock()
	if c.cur != a {
		c.mu.Unlock()
		return c.abort(a, context.Canceled)
	}
	c.turn.Attach(lease)
	notify = c.setLocked(StateOpen)
	c.mu.Unlock()
	notify()
	logger.Info("session open", zap.String("model", creds.Model))
	return StateOpen, nil
}

// fail settles a connect attempt in Failed after releasing what it built.
func (c *Client) fail(a *attempt, err error) (SessionState, error) {
	c.mu.Lock()
	if c.cur != a {
		c.mu.Unlock()
		return c.abort(a, err)
	}
	c.cur = nil
	c.mu.Unlock()

	c.logger.Error("connect failed", err, zap.String("session_id", a.session.ID))
	c.release(a)

	c.mu.Lock()
	c.lastErr = err
	notify := c.setLocked(StateFailed)
	c.mu.Unlock()
	notify()
	return StateFailed, err
}

// abort ends an attempt that was superseded by Disconnect or a transport
// failure. Whoever superseded it already moved the state.
func (c *Client) abort(a *attempt, cause error) (SessionState, error) {
	c.release(a)
	c.logger.Debug("connect attempt aborted", zap.String("session_id", a.session.ID), zap.Error(cause))
	return c.State(), fmt.Errorf("%w: %w", shared.ErrConnectAborted, cause)
}

// Disconnect tears the session down and settles in Closed. The microphone
// lease is kept for the next Connect. Calling it without a live session is
// a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	a := c.cur
	if a == nil || !c.state.active() {
		c.mu.Unlock()
		return nil
	}
	c.cur = nil
	notify := c.setLocked(StateClosing)
	c.mu.Unlock()
	notify()

	c.release(a)

	c.mu.Lock()
	notify = c.setLocked(StateClosed)
	c.mu.Unlock()
	notify()
	return nil
}

// Close disconnects and releases the microphone.
func (c *Client) Close() error {
	err := c.Disconnect()
	c.cfg.Mic.ClearCache()
	return err
}

func (c *Client) transportState(a *attempt, s ConnectionState) {
	c.logger.Trace("transport state", zap.Stringer("state", s))
	if s.Terminal() {
		c.lost(a, fmt.Errorf("%w: connection %s", shared.ErrTransportFailure, s))
	}
}

// lost handles a transport or channel dying under a live attempt: it tears
// down synchronously and settles in Closed. There is no automatic
// reconnect.
func (c *Client) lost(a *attempt, cause error) {
	c.mu.Lock()
	if c.cur != a || !c.state.active() {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	c.lastErr = cause
	notify := c.setLocked(StateClosing)
	c.mu.Unlock()
	notify()

	c.logger.Warn("session lost", zap.Error(cause), zap.String("session_id", a.session.ID))
	c.release(a)

	c.mu.Lock()
	notify = c.setLocked(StateClosed)
	c.mu.Unlock()
	notify()
}

// release stops everything attempt a created except the microphone lease.
// It is safe to call more than once.
func (c *Client) release(a *attempt) {
	c.mu.Lock()
	lease, tr, ch, exec := a.lease, a.transport, a.channel, a.executor
	c.mu.Unlock()

	a.cancel()
	if exec != nil {
		exec.Close()
	}
	if lease != nil {
		c.turn.Detach()
		lease.SetTracksEnabled(false)
	}
	if ch != nil {
		if err := ch.Close(); err != nil {
			c.logger.Warn("closing control channel", zap.Error(err))
		}
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			c.logger.Warn("closing transport", zap.Error(err))
		}
	}
}

func (c *Client) open() (*attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.cur == nil {
		return nil, shared.ErrNotConnected
	}
	return c.cur, nil
}

// Interrupt asks the model to stop the current response and drops audio
// already queued for playback. Side effects of finished function calls stay
// applied.
func (c *Client) Interrupt() error {
	a, err := c.open()
	if err != nil {
		return err
	}
	if err := a.channel.Send(ResponseCancelMessage()); err != nil {
		return err
	}
	return a.channel.Send(OutputAudioBufferClearMessage())
}

// SendText adds a typed user message and asks for a response.
func (c *Client) SendText(ctx context.Context, text string) error {
	a, err := c.open()
	if err != nil {
		return err
	}
	c.ui.Display(RoleUser, text, DisplayTranscript)
	a.router.persist(RoleUser, text)
	if err := a.channel.Send(UserTextMessage(text)); err != nil {
		return err
	}
	c.ui.ShowTyping()
	return a.channel.Send(ResponseCreateMessage())
}

// SendDocument shares a text document with the model.
func (c *Client) SendDocument(ctx context.Context, name, content string) error {
	return c.SendText(ctx, fmt.Sprintf("Please analyze this document (%s):\n\n%s", name, content))
}

// SendImage describes an uploaded image. When a session is open the
// description is also shared with the model so the conversation can
// continue about it.
func (c *Client) SendImage(ctx context.Context, name string, image []byte, prompt string) (string, error) {
	if c.cfg.Vision == nil {
		return "", fmt.Errorf("%w: no vision analyzer configured", shared.ErrVision)
	}
	c.ui.Display(RoleUser, "📷 "+name, DisplayNotice)
	c.ui.ShowTyping()
	desc, err := c.cfg.Vision.AnalyzeImage(ctx, image, prompt)
	c.ui.HideTyping()
	if err != nil {
		c.ui.Display(RoleSystem, "Image analysis failed: "+err.Error(), DisplayError)
		return "", err
	}
	c.ui.Display(RoleAssistant, desc, DisplayTranscript)

	a, oerr := c.open()
	if oerr != nil {
		sessionID := ""
		if s, ok := c.Session(); ok {
			sessionID = s.ID
		}
		if perr := c.cfg.Log.PersistTurn(ctx, ConversationTurn{
			SessionID: sessionID,
			Role:      RoleAssistant,
			Content:   desc,
			Metadata:  map[string]any{"image": name},
		}); perr != nil {
			c.logger.Error("persisting image description", perr)
		}
		return desc, nil
	}
	a.router.persist(RoleAssistant, desc)
	text := fmt.Sprintf("I uploaded an image (%s). Here is what it shows:\n\n%s", name, desc)
	if err := a.channel.Send(UserTextMessage(text)); err != nil {
		return desc, err
	}
	return desc, nil
}

// UserMessage renders a connect or session error as the one-line status
// shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var me *MicError
	switch {
	case errors.As(err, &me):
		return me.Message
	case errors.Is(err, shared.ErrCredentials):
		return "Could not get session credentials. Check the server URL or API key in settings."
	case errors.Is(err, shared.ErrNegotiation):
		return "Could not reach the voice service. Please try again."
	case errors.Is(err, shared.ErrTransportFailure), errors.Is(err, shared.ErrChannelClosed):
		return "Connection lost. Press connect to start a new session."
	case errors.Is(err, context.Canceled), errors.Is(err, shared.ErrConnectAborted):
		return "Connection cancelled."
	default:
		return "Connection failed: " + err.Error()
	}
}

func statusDetail(s SessionState, lastErr error) string {
	switch s {
	case StateNegotiating:
		return "Connecting..."
	case StateAwaitingAnswer:
		return "Negotiating session..."
	case StateOpen:
		return "Connected"
	case StateClosing:
		return "Disconnecting..."
	case StateClosed:
		if lastErr != nil {
			return UserMessage(lastErr)
		}
		return "Disconnected"
	case StateFailed:
		return UserMessage(lastErr)
	default:
		return ""
	}
}
