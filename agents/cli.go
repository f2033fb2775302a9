package agents

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	realtime "github.com/bt-bridge/realtime-assistant"
	"github.com/bt-bridge/realtime-assistant/actions"
	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/bt-bridge/realtime-assistant/store"
	"github.com/bt-bridge/realtime-assistant/tools"
	"github.com/goccy/go-yaml"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// Settings keys persisted between runs.
const (
	settingVoice    = "voice"
	settingTurnMode = "turn_mode"
	settingMemory   = "memory_enabled"
)

const helpText = `/connect            start a session
/disconnect         end the session
/talk               toggle the microphone (continuous mode)
/mode <ptt|continuous>
/stop               interrupt the assistant
/image <path> [prompt]
/doc <path>
/memories           list remembered facts
/memory <on|off>    turn long-term memory on or off
/quit
anything else is sent as a text message`

type CLIConfig struct {
	// APIKey is used directly for sessions when ServerURL is empty, and
	// for image analysis.
	APIKey        string
	OpenAIBaseURL string
	// ServerURL is the companion server minting ephemeral secrets.
	ServerURL  string
	DesktopURL string
	// DataDir holds the badger database. Empty keeps state in memory.
	DataDir  string
	Voice    string
	TurnMode string
	// Memory overrides the stored memory switch when set.
	Memory *bool
	Hotkey bool
	// Capabilities defaults to the embedded capability set.
	Capabilities *realtime.Capabilities
}

// sessionClient is the part of *realtime.Client the command loop drives.
type sessionClient interface {
	Connect(ctx context.Context) (realtime.SessionState, error)
	Disconnect() error
	Interrupt() error
	SendText(ctx context.Context, text string) error
	SendDocument(ctx context.Context, name, content string) error
	SendImage(ctx context.Context, name string, image []byte, prompt string) (string, error)
	Turn() *realtime.TurnController
	Close() error
}

type CLIAgent struct {
	logger    shared.LoggerAdapter
	printer   *shared.Printer
	client    sessionClient
	db        store.Store
	settings  *store.Settings
	knowledge *store.Knowledge
	memory    *store.MemoryGate
	hotkey    *HotkeyTrigger
	readFile  func(string) ([]byte, error)

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (a *CLIAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	cfg CLIConfig,
	printer *shared.Printer,
	in io.Reader,
) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if cfg.APIKey == "" && cfg.ServerURL == "" {
		return shared.ErrNoAPIKey
	}
	if printer == nil {
		return errors.New("no printer provided")
	}
	a.logger = logger.With(zap.String("component", "agent"))
	a.printer = printer
	a.readFile = os.ReadFile
	a.done = make(chan struct{})
	ctx, a.cancel = context.WithCancel(ctx)
	a.logger.Info("spawning CLI agent")
	a.say("🤖 Spawning CLI agent...\n", 0)

	// Opening the local store
	var err error
	a.db, err = store.NewBadger(store.BadgerOptions{
		Dir:      cfg.DataDir,
		InMemory: cfg.DataDir == "",
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	a.settings = store.NewSettings(a.db)
	prefs, err := a.preferences(ctx, cfg)
	if err != nil {
		_ = a.db.Close()
		return err
	}
	a.memory = store.NewMemoryGate(prefs.memory)
	a.knowledge = store.NewKnowledge(a.db)
	a.knowledge.Gate = a.memory

	caps := cfg.Capabilities
	if caps == nil {
		if caps, err = realtime.DefaultCapabilities(); err != nil {
			_ = a.db.Close()
			return err
		}
	}
	a.say("📋 Capabilities\n", 0)
	yamlBytes, err := yaml.Marshal(caps.Config())
	if err != nil {
		a.logger.Error("marshaling capabilities to yaml", err)
		_ = a.db.Close()
		return err
	}
	a.say(string(yamlBytes), 1)

	client, err := a.build(cfg, caps, prefs)
	if err != nil {
		_ = a.db.Close()
		return err
	}
	a.client = client
	client.OnStateChange(func(prev, next realtime.SessionState) {
		a.logger.Debug("session state", zap.Stringer("prev", prev), zap.Stringer("next", next))
	})

	if cfg.Hotkey {
		a.hotkey = NewHotkeyTrigger()
		if err := a.hotkey.Register(ctx); err != nil {
			a.logger.Warn("push-to-talk hotkey unavailable", zap.Error(err))
			a.hotkey = nil
		} else {
			client.Turn().BindTrigger(ctx, a.hotkey)
			a.say("⌨️  Hold Ctrl+Shift+Space to talk.\n", 0)
		}
	}

	a.say("Type /help for commands.\n", 0)
	go a.connect(ctx)
	go a.loop(ctx, in)
	return nil
}

type userPrefs struct {
	voice  string
	mode   realtime.TurnModeKind
	memory bool
}

// preferences resolves voice, turn mode and the memory switch: flags win
// and are remembered, otherwise the stored values are used.
func (a *CLIAgent) preferences(ctx context.Context, cfg CLIConfig) (userPrefs, error) {
	voice, err := a.setting(ctx, settingVoice, cfg.Voice, "")
	if err != nil {
		return userPrefs{}, fmt.Errorf("on loading voice setting: %w", err)
	}
	mode, err := a.setting(ctx, settingTurnMode, cfg.TurnMode, realtime.PushToTalk.String())
	if err != nil {
		return userPrefs{}, fmt.Errorf("on loading turn mode setting: %w", err)
	}
	var memFlag string
	if cfg.Memory != nil {
		memFlag = strconv.FormatBool(*cfg.Memory)
	}
	mem, err := a.setting(ctx, settingMemory, memFlag, "true")
	if err != nil {
		return userPrefs{}, fmt.Errorf("on loading memory setting: %w", err)
	}
	memory, err := strconv.ParseBool(mem)
	if err != nil {
		a.logger.Warn("ignoring invalid memory setting", zap.String("value", mem))
		memory = true
	}
	return userPrefs{voice: voice, mode: realtime.ParseTurnMode(mode), memory: memory}, nil
}

// setting stores flag when given and returns it, otherwise the stored value.
func (a *CLIAgent) setting(ctx context.Context, name, flag, def string) (string, error) {
	if flag != "" {
		return flag, a.settings.Set(ctx, name, flag)
	}
	return a.settings.Get(ctx, name, def)
}

func (a *CLIAgent) build(cfg CLIConfig, caps *realtime.Capabilities, prefs userPrefs) (*realtime.Client, error) {
	mic, err := tools.NewMicrophone(a.logger)
	if err != nil {
		a.logger.Error("creating microphone", err)
		return nil, err
	}
	mics, err := realtime.NewMicLeaseManager(a.logger, mic)
	if err != nil {
		return nil, err
	}
	speaker := tools.NewSpeaker(a.logger, 100*time.Millisecond, 2)
	transport := realtime.NewPionTransportFactory(realtime.PionConfig{
		Logger:      a.logger,
		LocalTrack:  tools.LocalAudioSender(a.logger, mic.FrameDuration()),
		RemoteTrack: speaker.Handler(),
	})

	var (
		vision realtime.VisionAnalyzer
		docs   realtime.DocumentReader
	)
	if cfg.APIKey != "" {
		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
		}
		v := realtime.NewOpenAIVision("", opts...)
		vision, docs = v, v
	}

	ui := NewPrinterUI(a.logger, a.printer)
	dispatcher := actions.NewDispatcher(a.logger)
	err = actions.Register(dispatcher, actions.Deps{
		Logger:    a.logger,
		UI:        ui,
		Desktop:   actions.NewDesktopClient(a.logger, cfg.DesktopURL, shared.DefaultHTTPClient),
		Browser:   actions.SystemBrowser{},
		Knowledge: a.knowledge,
		Vision:    vision,
		Documents: docs,
		Pages:     actions.NewPages(a.logger, actions.HTTPFetcher{Client: shared.DefaultHTTPClient}),
	})
	if err != nil {
		return nil, err
	}

	source := realtime.CredentialSource{ServerBase: cfg.ServerURL}
	if cfg.ServerURL == "" {
		source.LocalKey = cfg.APIKey
	}
	var turnMode realtime.TurnMode = realtime.PushToTalkMode{}
	if prefs.mode == realtime.Continuous {
		turnMode = realtime.ContinuousMode{}
	}
	log := store.NewConversationLog(a.db)
	log.Gate = a.memory
	log.Memories = a.knowledge
	return realtime.NewClient(realtime.ClientConfig{
		Logger:       a.logger,
		Capabilities: caps,
		Credentials:  &realtime.HTTPCredentialFetcher{Client: shared.DefaultHTTPClient},
		Source:       source,
		Exchanger:    &realtime.HTTPOfferExchanger{Client: shared.DefaultHTTPClient},
		Mic:          mics,
		Transport:    transport,
		Actions:      dispatcher,
		Vision:       vision,
		UI:           ui,
		Log:          log,
		Context:      a.knowledge,
		Turn:         realtime.NewTurnController(a.logger, turnMode),
		Voice:        prefs.voice,
		Metadata:     map[string]any{"client": "cli", "version": shared.Version},
	})
}

func (a *CLIAgent) connect(ctx context.Context) {
	if _, err := a.client.Connect(ctx); err != nil {
		a.logger.Error("connecting", err)
		a.say("❌ "+realtime.UserMessage(err), 0)
	}
}

func (a *CLIAgent) loop(ctx context.Context, in io.Reader) {
	defer a.finish()
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !a.handle(ctx, line) {
				return
			}
		}
	}
}

// handle runs one input line and reports whether the loop continues.
func (a *CLIAgent) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	if !strings.HasPrefix(line, "/") {
		a.report("sending message", a.client.SendText(ctx, line))
		return true
	}
	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "quit", "exit":
		return false
	case "help":
		a.say(helpText, 1)
	case "connect":
		go a.connect(ctx)
	case "disconnect":
		a.report("disconnecting", a.client.Disconnect())
	case "stop":
		a.report("interrupting", a.client.Interrupt())
	case "talk":
		if a.client.Turn().Mode() != realtime.Continuous {
			a.say("Switch to continuous mode with /mode continuous, or hold the hotkey.", 1)
			return true
		}
		if a.client.Turn().Toggle() {
			a.say("🎙️ listening", 1)
		} else {
			a.say("🔇 muted", 1)
		}
	case "mode":
		a.setMode(ctx, arg)
	case "image":
		a.sendImage(ctx, arg)
	case "doc":
		a.sendDocument(ctx, arg)
	case "memories":
		a.listMemories(ctx)
	case "memory":
		a.setMemory(ctx, arg)
	default:
		a.say("Unknown command /"+cmd+". Type /help.", 1)
	}
	return true
}

func (a *CLIAgent) setMode(ctx context.Context, arg string) {
	var mode realtime.TurnMode
	switch arg {
	case "ptt", "push-to-talk":
		mode = realtime.PushToTalkMode{}
	case "continuous":
		mode = realtime.ContinuousMode{}
	default:
		a.say("Usage: /mode <ptt|continuous>", 1)
		return
	}
	a.client.Turn().SetMode(mode)
	if err := a.settings.Set(ctx, settingTurnMode, mode.Kind().String()); err != nil {
		a.logger.Error("saving turn mode", err)
	}
	a.say("Turn mode: "+mode.Kind().String(), 1)
}

func (a *CLIAgent) sendImage(ctx context.Context, arg string) {
	path, prompt, _ := strings.Cut(arg, " ")
	if path == "" {
		a.say("Usage: /image <path> [prompt]", 1)
		return
	}
	img, err := a.readFile(path)
	if err != nil {
		a.report("reading image", err)
		return
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = realtime.DefaultVisionPrompt
	}
	_, err = a.client.SendImage(ctx, filepath.Base(path), img, prompt)
	a.report("sending image", err)
}

func (a *CLIAgent) sendDocument(ctx context.Context, path string) {
	if path == "" {
		a.say("Usage: /doc <path>", 1)
		return
	}
	content, err := a.readFile(path)
	if err != nil {
		a.report("reading document", err)
		return
	}
	a.report("sending document", a.client.SendDocument(ctx, filepath.Base(path), string(content)))
}

func (a *CLIAgent) setMemory(ctx context.Context, arg string) {
	var on bool
	switch arg {
	case "on":
		on = true
	case "off":
	default:
		state := "off"
		if a.memory.Enabled() {
			state = "on"
		}
		a.say("Memory is "+state+". Usage: /memory <on|off>", 1)
		return
	}
	a.memory.Set(on)
	if err := a.settings.Set(ctx, settingMemory, strconv.FormatBool(on)); err != nil {
		a.logger.Error("saving memory setting", err)
	}
	if on {
		a.say("🧠 Memory on. It applies from the next session's instructions.", 1)
	} else {
		a.say("🧠 Memory off. Nothing new is saved.", 1)
	}
}

func (a *CLIAgent) listMemories(ctx context.Context) {
	if !a.memory.Enabled() {
		a.say("Memory is off. Turn it on with /memory on.", 1)
		return
	}
	mems, err := a.knowledge.Memories(ctx)
	if err != nil {
		a.report("loading memories", err)
		return
	}
	if len(mems) == 0 {
		a.say("Nothing remembered yet.", 1)
		return
	}
	for _, m := range mems {
		line := "- " + m.Content
		if m.Category != "" {
			line = "- [" + m.Category + "] " + m.Content
		}
		a.say(line, 1)
	}
}

func (a *CLIAgent) report(action string, err error) {
	if err == nil {
		return
	}
	a.logger.Error(action, err)
	a.say("❌ "+action+": "+err.Error(), 1)
}

func (a *CLIAgent) say(s string, ind int) {
	if err := a.printer.Writeln(s, ind); err != nil {
		a.logger.Error("printing", err)
	}
}

func (a *CLIAgent) finish() {
	a.closeOnce.Do(func() {
		a.cancel()
		if a.hotkey != nil {
			if err := a.hotkey.Unregister(); err != nil {
				a.logger.Warn("unregistering hotkey", zap.Error(err))
			}
		}
		if err := a.client.Close(); err != nil {
			a.logger.Error("closing client", err)
		}
		if err := a.db.Close(); err != nil {
			a.logger.Error("closing store", err)
		}
		close(a.done)
	})
}

// Done is closed once the agent has shut down.
func (a *CLIAgent) Done() <-chan struct{} { return a.done }

func (a *CLIAgent) Close() error {
	a.finish()
	return nil
}
