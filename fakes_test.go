package realtime

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"
)

type fakeTrack struct {
	id      string
	stopped atomic.Bool
	dead    atomic.Bool
}

func (t *fakeTrack) ID() string  { return t.id }
func (t *fakeTrack) Live() bool  { return !t.stopped.Load() && !t.dead.Load() }
func (t *fakeTrack) Stop() error { t.stopped.Store(true); return nil }

type fakeProvider struct {
	calls atomic.Int32
	// gate, if set, blocks Acquire until closed.
	gate chan struct{}
	err  error

	mu     sync.Mutex
	issued []*fakeTrack
}

func (p *fakeProvider) tracks() []*fakeTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.issued)
}

func (p *fakeProvider) Acquire(ctx context.Context) ([]AudioTrack, error) {
	n := p.calls.Add(1)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	track := &fakeTrack{id: "mic-" + string(rune('0'+n))}
	p.mu.Lock()
	p.issued = append(p.issued, track)
	p.mu.Unlock()
	return []AudioTrack{track}, nil
}

type fakeDataChannel struct {
	mu        sync.Mutex
	state     ChannelState
	sent      [][]byte
	onOpen    func()
	onMessage func([]byte)
	onClose   func()
	closes    int
}

func (d *fakeDataChannel) Send(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != ChannelOpen {
		return errors.New("data channel not open")
	}
	d.sent = append(d.sent, append([]byte(nil), data...))
	return nil
}

func (d *fakeDataChannel) OnOpen(fn func())          { d.mu.Lock(); d.onOpen = fn; d.mu.Unlock() }
func (d *fakeDataChannel) OnMessage(fn func([]byte)) { d.mu.Lock(); d.onMessage = fn; d.mu.Unlock() }
func (d *fakeDataChannel) OnClose(fn func())         { d.mu.Lock(); d.onClose = fn; d.mu.Unlock() }

func (d *fakeDataChannel) ReadyState() ChannelState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDataChannel) Close() error {
	d.mu.Lock()
	d.closes++
	d.state = ChannelClosed
	d.mu.Unlock()
	return nil
}

// open simulates the remote side accepting the channel.
func (d *fakeDataChannel) open() {
	d.mu.Lock()
	d.state = ChannelOpen
	fn := d.onOpen
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *fakeDataChannel) deliver(data string) {
	d.mu.Lock()
	fn := d.onMessage
	d.mu.Unlock()
	if fn != nil {
		fn([]byte(data))
	}
}

func (d *fakeDataChannel) remoteClose() {
	d.mu.Lock()
	d.state = ChannelClosed
	fn := d.onClose
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// messages decodes everything sent so far.
func (d *fakeDataChannel) messages(t *testing.T) []map[string]any {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]map[string]any, 0, len(d.sent))
	for _, raw := range d.sent {
		var m map[string]any
		require.NoError(t, sonic.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

func types(msgs []map[string]any) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m["type"].(string))
	}
	return out
}

type fakeTransport struct {
	dc       *fakeDataChannel
	lease    *MicLease
	offerErr error
	applyErr error

	mu       sync.Mutex
	state    ConnectionState
	observer func(ConnectionState)
	closes   int
	answer   string
}

func newFakeTransport(lease *MicLease) *fakeTransport {
	return &fakeTransport{dc: &fakeDataChannel{}, lease: lease, state: ConnectionNew}
}

func (t *fakeTransport) DataChannel() DataChannel { return t.dc }

func (t *fakeTransport) CreateOffer(ctx context.Context) (string, error) {
	if t.offerErr != nil {
		return "", t.offerErr
	}
	return "v=0 offer", nil
}

func (t *fakeTransport) ApplyAnswer(sdp string) error {
	if t.applyErr != nil {
		return t.applyErr
	}
	t.mu.Lock()
	t.answer = sdp
	t.state = ConnectionConnecting
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) OnStateChange(fn func(ConnectionState)) {
	t.mu.Lock()
	t.observer = fn
	t.mu.Unlock()
}

func (t *fakeTransport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closes++
	first := t.state != ConnectionClosed
	t.state = ConnectionClosed
	fn := t.observer
	t.mu.Unlock()
	if t.lease != nil {
		t.lease.SetTracksEnabled(false)
	}
	_ = t.dc.Close()
	if first && fn != nil {
		fn(ConnectionClosed)
	}
	return nil
}

// report simulates a connection state change from the network.
func (t *fakeTransport) report(s ConnectionState) {
	t.mu.Lock()
	t.state = s
	fn := t.observer
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

type fakeCredentials struct {
	calls atomic.Int32
	err   error
}

func (f *fakeCredentials) Fetch(ctx context.Context, src CredentialSource) (Credentials, error) {
	f.calls.Add(1)
	if f.err != nil {
		return Credentials{}, f.err
	}
	return Credentials{Secret: "ek_test", Model: "gpt-realtime", Endpoint: "https://example.test/v1/realtime/calls"}, nil
}

type fakeExchanger struct {
	calls atomic.Int32
	err   error
	// block, if set, holds Exchange until ctx ends.
	block   bool
	started chan struct{}
}

func (f *fakeExchanger) Exchange(ctx context.Context, endpoint, model, secret, offer string) (string, error) {
	f.calls.Add(1)
	if f.started != nil {
		close(f.started)
	}
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	return "v=0 answer", nil
}

type actionCall struct {
	name string
	args map[string]any
}

type fakeActions struct {
	mu    sync.Mutex
	calls []actionCall
	fn    func(ctx context.Context, name string, args map[string]any) (ActionResult, error)
}

func (a *fakeActions) Execute(ctx context.Context, name string, args map[string]any) (ActionResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, actionCall{name: name, args: args})
	fn := a.fn
	a.mu.Unlock()
	if fn == nil {
		return ActionResult{Success: true, Message: "ok"}, nil
	}
	return fn(ctx, name, args)
}

func (a *fakeActions) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type uiLine struct {
	role Role
	text string
	kind DisplayKind
}

type recordingUI struct {
	mu       sync.Mutex
	lines    []uiLine
	statuses []SessionState
	typing   int
	hidden   int
	speaking []bool
}

func (u *recordingUI) Display(role Role, text string, kind DisplayKind) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lines = append(u.lines, uiLine{role, text, kind})
}

func (u *recordingUI) ShowTyping() { u.mu.Lock(); u.typing++; u.mu.Unlock() }
func (u *recordingUI) HideTyping() { u.mu.Lock(); u.hidden++; u.mu.Unlock() }

func (u *recordingUI) Status(s SessionState, _ string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statuses = append(u.statuses, s)
}

func (u *recordingUI) Speaking(on bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.speaking = append(u.speaking, on)
}

func (u *recordingUI) snapshot() []uiLine {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]uiLine(nil), u.lines...)
}

type recordingLog struct {
	mu    sync.Mutex
	turns []ConversationTurn
	err   error
}

func (l *recordingLog) PersistTurn(_ context.Context, turn ConversationTurn) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, turn)
	return l.err
}

func (l *recordingLog) snapshot() []ConversationTurn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConversationTurn(nil), l.turns...)
}

// recordingSender captures outbound messages of the executor.
type recordingSender struct {
	mu   sync.Mutex
	msgs []map[string]any
	err  error
}

func (s *recordingSender) Send(msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	raw, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := sonic.Unmarshal(raw, &m); err != nil {
		return err
	}
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *recordingSender) snapshot() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.msgs...)
}

const testCapabilitiesYAML = `
version: 1
model: gpt-realtime
voice: alloy
instructions: You are a test assistant.
transcription:
  model: whisper-1
turn_detection:
  type: server_vad
  threshold: 0.5
  prefix_padding_ms: 300
  silence_duration_ms: 500
action_timeout: 2s
tools:
  - name: open_folder
    description: Opens a folder.
    parameters:
      type: object
      properties:
        folder_name:
          type: string
      required: [folder_name]
  - name: slow_action
    description: Never finishes in time.
    timeout: 50ms
  - name: web_search
    description: Searches the web.
    parameters:
      type: object
      properties:
        query:
          type: string
        save_to_knowledge:
          type: boolean
      required: [query]
`

func testCapabilities(t *testing.T) *Capabilities {
	t.Helper()
	caps, err := LoadCapabilities([]byte(testCapabilitiesYAML))
	require.NoError(t, err)
	return caps
}

func nopLogger() shared.LoggerAdapter { return shared.NewNopLogger() }
