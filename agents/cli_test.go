package agents

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	realtime "github.com/bt-bridge/realtime-assistant"
	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/bt-bridge/realtime-assistant/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufHook struct {
	mu sync.Mutex
	strings.Builder
}

func (b *bufHook) WriteString(s string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Builder.WriteString(s)
}

func (b *bufHook) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Builder.String()
}

func (*bufHook) Close() error { return nil }

type fakeClient struct {
	turn       *realtime.TurnController
	texts      []string
	docs       []string
	images     []string
	prompts    []string
	interrupts int
	disconnect int
	closed     int
	sendErr    error
}

func (c *fakeClient) Connect(context.Context) (realtime.SessionState, error) {
	return realtime.StateOpen, nil
}
func (c *fakeClient) Disconnect() error { c.disconnect++; return nil }
func (c *fakeClient) Interrupt() error  { c.interrupts++; return nil }
func (c *fakeClient) SendText(_ context.Context, text string) error {
	c.texts = append(c.texts, text)
	return c.sendErr
}
func (c *fakeClient) SendDocument(_ context.Context, name, content string) error {
	c.docs = append(c.docs, name+"="+content)
	return nil
}
func (c *fakeClient) SendImage(_ context.Context, name string, _ []byte, prompt string) (string, error) {
	c.images = append(c.images, name)
	c.prompts = append(c.prompts, prompt)
	return "described", nil
}
func (c *fakeClient) Turn() *realtime.TurnController { return c.turn }
func (c *fakeClient) Close() error                   { c.closed++; return nil }

type gate struct{ on bool }

func (g *gate) SetTracksEnabled(on bool) { g.on = on }
func (g *gate) Enabled() bool            { return g.on }

func newTestAgent(t *testing.T) (*CLIAgent, *fakeClient, *bufHook) {
	t.Helper()
	db, err := store.NewBadger(store.BadgerOptions{InMemory: true})
	require.NoError(t, err)
	hook := &bufHook{}
	printer, err := shared.NewPrinter("  ", hook)
	require.NoError(t, err)

	turn := realtime.NewTurnController(shared.NewNopLogger(), realtime.PushToTalkMode{})
	turn.Attach(&gate{})
	client := &fakeClient{turn: turn}
	_, cancel := context.WithCancel(context.Background())
	memory := store.NewMemoryGate(true)
	knowledge := store.NewKnowledge(db)
	knowledge.Gate = memory
	a := &CLIAgent{
		logger:    shared.NewNopLogger(),
		printer:   printer,
		client:    client,
		db:        db,
		settings:  store.NewSettings(db),
		knowledge: knowledge,
		memory:    memory,
		readFile: func(name string) ([]byte, error) {
			if name == "missing" {
				return nil, errors.New("no such file")
			}
			return []byte("body of " + name), nil
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.Cleanup(func() { _ = a.Close() })
	return a, client, hook
}

func TestHandleText(t *testing.T) {
	a, client, _ := newTestAgent(t)
	ctx := context.Background()
	assert.True(t, a.handle(ctx, "  hello there "))
	assert.True(t, a.handle(ctx, "   "))
	assert.Equal(t, []string{"hello there"}, client.texts)
}

func TestHandleReportsErrors(t *testing.T) {
	a, client, hook := newTestAgent(t)
	client.sendErr = shared.ErrNotConnected
	assert.True(t, a.handle(context.Background(), "hi"))
	assert.Contains(t, hook.String(), "sending message: "+shared.ErrNotConnected.Error())
}

func TestHandleCommands(t *testing.T) {
	a, client, hook := newTestAgent(t)
	ctx := context.Background()

	assert.True(t, a.handle(ctx, "/stop"))
	assert.True(t, a.handle(ctx, "/disconnect"))
	assert.True(t, a.handle(ctx, "/doc notes.md"))
	assert.True(t, a.handle(ctx, "/image /tmp/cat.png what breed?"))
	assert.True(t, a.handle(ctx, "/image shot.png"))
	assert.True(t, a.handle(ctx, "/doc missing"))
	assert.True(t, a.handle(ctx, "/bogus"))

	assert.Equal(t, 1, client.interrupts)
	assert.Equal(t, 1, client.disconnect)
	assert.Equal(t, []string{"notes.md=body of notes.md"}, client.docs)
	assert.Equal(t, []string{"cat.png", "shot.png"}, client.images)
	assert.Equal(t, []string{"what breed?", realtime.DefaultVisionPrompt}, client.prompts)
	assert.Contains(t, hook.String(), "reading document")
	assert.Contains(t, hook.String(), "Unknown command /bogus")

	assert.False(t, a.handle(ctx, "/quit"))
}

func TestHandleModeAndTalk(t *testing.T) {
	a, client, hook := newTestAgent(t)
	ctx := context.Background()

	assert.True(t, a.handle(ctx, "/talk"))
	assert.Contains(t, hook.String(), "Switch to continuous mode")
	assert.False(t, client.turn.Active())

	assert.True(t, a.handle(ctx, "/mode continuous"))
	assert.Equal(t, realtime.Continuous, client.turn.Mode())
	mode, err := a.settings.Get(ctx, settingTurnMode, "")
	require.NoError(t, err)
	assert.Equal(t, "continuous", mode)

	assert.True(t, a.handle(ctx, "/talk"))
	assert.True(t, client.turn.Active())
	assert.True(t, a.handle(ctx, "/talk"))
	assert.False(t, client.turn.Active())

	assert.True(t, a.handle(ctx, "/mode loud"))
	assert.Contains(t, hook.String(), "Usage: /mode")
	assert.Equal(t, realtime.Continuous, client.turn.Mode())
}

func TestPreferencesRememberFlags(t *testing.T) {
	a, _, _ := newTestAgent(t)
	ctx := context.Background()

	prefs, err := a.preferences(ctx, CLIConfig{})
	require.NoError(t, err)
	assert.Equal(t, "", prefs.voice)
	assert.Equal(t, realtime.PushToTalk, prefs.mode)
	assert.True(t, prefs.memory)

	off := false
	_, err = a.preferences(ctx, CLIConfig{Voice: "verse", TurnMode: "continuous", Memory: &off})
	require.NoError(t, err)

	prefs, err = a.preferences(ctx, CLIConfig{})
	require.NoError(t, err)
	assert.Equal(t, "verse", prefs.voice)
	assert.Equal(t, realtime.Continuous, prefs.mode)
	assert.False(t, prefs.memory)
}

func TestListMemories(t *testing.T) {
	a, _, hook := newTestAgent(t)
	ctx := context.Background()
	a.handle(ctx, "/memories")
	assert.Contains(t, hook.String(), "Nothing remembered yet.")

	_, err := a.knowledge.SaveMemory(ctx, store.Memory{Content: "likes tea", Category: "preference"})
	require.NoError(t, err)
	a.handle(ctx, "/memories")
	assert.Contains(t, hook.String(), "[preference] likes tea")
}

func TestMemoryCommand(t *testing.T) {
	a, _, hook := newTestAgent(t)
	ctx := context.Background()

	assert.True(t, a.handle(ctx, "/memory"))
	assert.Contains(t, hook.String(), "Memory is on.")

	assert.True(t, a.handle(ctx, "/memory off"))
	assert.False(t, a.memory.Enabled())
	_, err := a.knowledge.SaveMemory(ctx, store.Memory{Content: "likes tea"})
	assert.ErrorIs(t, err, store.ErrMemoryDisabled)
	text, err := a.knowledge.MemoryContext(ctx)
	require.NoError(t, err)
	assert.Empty(t, text)
	a.handle(ctx, "/memories")
	assert.Contains(t, hook.String(), "Memory is off.")

	stored, err := a.settings.Get(ctx, settingMemory, "")
	require.NoError(t, err)
	assert.Equal(t, "false", stored)
	prefs, err := a.preferences(ctx, CLIConfig{})
	require.NoError(t, err)
	assert.False(t, prefs.memory)

	assert.True(t, a.handle(ctx, "/memory on"))
	assert.True(t, a.memory.Enabled())
	_, err = a.knowledge.SaveMemory(ctx, store.Memory{Content: "likes tea"})
	assert.NoError(t, err)
}

func TestLoopStopsOnQuit(t *testing.T) {
	a, client, _ := newTestAgent(t)
	go a.loop(context.Background(), strings.NewReader("hi\n/quit\nignored\n"))
	<-a.Done()
	assert.Equal(t, []string{"hi"}, client.texts)
	assert.Equal(t, 1, client.closed)
}

func TestPrinterUI(t *testing.T) {
	hook := &bufHook{}
	printer, err := shared.NewPrinter("  ", hook)
	require.NoError(t, err)
	ui := NewPrinterUI(shared.NewNopLogger(), printer)

	ui.Display(realtime.RoleAssistant, "hello\nworld", realtime.DisplayTranscript)
	ui.Display(realtime.RoleUser, "hi", realtime.DisplayTranscript)
	ui.Display(realtime.RoleSystem, "bad", realtime.DisplayError)
	ui.ShowTyping()
	ui.ShowTyping()
	ui.HideTyping()
	ui.Speaking(true)
	ui.Speaking(true)
	ui.Status(realtime.StateOpen, "Connected")

	out := hook.String()
	assert.Contains(t, out, "🤖 assistant: hello\n")
	assert.Contains(t, out, "🧑 you: hi\n")
	assert.Contains(t, out, "❌ error: bad\n")
	assert.Equal(t, 1, strings.Count(out, "thinking"))
	assert.Equal(t, 1, strings.Count(out, "speaking"))
	assert.Contains(t, out, "● open · Connected")
}
