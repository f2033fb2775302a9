package realtime

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/realtime"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed default_capabilities.yaml
var defaultCapabilitiesYAML []byte

const defaultActionTimeout = 15 * time.Second

type ToolSpec struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Timeout     string         `yaml:"timeout"`
	Parameters  map[string]any `yaml:"parameters"`
}

type TranscriptionSpec struct {
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	Prompt   string `yaml:"prompt"`
}

// CapabilityConfig is the versioned document behind the handshake:
// instructions, voice, turn detection and tool declarations.
type CapabilityConfig struct {
	Version       int               `yaml:"version"`
	Model         string            `yaml:"model"`
	Voice         string            `yaml:"voice"`
	Instructions  string            `yaml:"instructions"`
	Transcription TranscriptionSpec `yaml:"transcription"`
	TurnDetection TurnDetection     `yaml:"turn_detection"`
	ToolChoice    string            `yaml:"tool_choice"`
	ActionTimeout string            `yaml:"action_timeout"`
	Tools         []ToolSpec        `yaml:"tools"`
}

type capability struct {
	spec    ToolSpec
	schema  *jsonschema.Schema
	timeout time.Duration
}

// Capabilities is the static table function calls are resolved against.
type Capabilities struct {
	cfg     CapabilityConfig
	timeout time.Duration
	tools   map[string]*capability
}

func DefaultCapabilities() (*Capabilities, error) {
	return LoadCapabilities(defaultCapabilitiesYAML)
}

func LoadCapabilities(data []byte) (*Capabilities, error) {
	var cfg CapabilityConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing capabilities: %w", err)
	}
	return NewCapabilities(cfg)
}

func NewCapabilities(cfg CapabilityConfig) (*Capabilities, error) {
	c := &Capabilities{
		cfg:     cfg,
		timeout: defaultActionTimeout,
		tools:   make(map[string]*capability, len(cfg.Tools)),
	}
	if cfg.ActionTimeout != "" {
		d, err := time.ParseDuration(cfg.ActionTimeout)
		if err != nil {
			return nil, fmt.Errorf("parsing action_timeout: %w", err)
		}
		c.timeout = d
	}
	compiler := jsonschema.NewCompiler()
	for _, spec := range cfg.Tools {
		if spec.Name == "" {
			return nil, errors.New("tool without a name")
		}
		if _, dup := c.tools[spec.Name]; dup {
			return nil, fmt.Errorf("tool %q declared twice", spec.Name)
		}
		capa := &capability{spec: spec, timeout: c.timeout}
		if spec.Timeout != "" {
			d, err := time.ParseDuration(spec.Timeout)
			if err != nil {
				return nil, fmt.Errorf("parsing timeout of %s: %w", spec.Name, err)
			}
			capa.timeout = d
		}
		if spec.Parameters != nil {
			raw, err := sonic.Marshal(spec.Parameters)
			if err != nil {
				return nil, fmt.Errorf("marshaling parameters of %s: %w", spec.Name, err)
			}
			url := "mem://tools/" + spec.Name + ".json"
			if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
				return nil, fmt.Errorf("adding schema of %s: %w", spec.Name, err)
			}
			if capa.schema, err = compiler.Compile(url); err != nil {
				return nil, fmt.Errorf("compiling schema of %s: %w", spec.Name, err)
			}
		}
		c.tools[spec.Name] = capa
	}
	return c, nil
}

func (c *Capabilities) Config() CapabilityConfig { return c.cfg }

func (c *Capabilities) Has(name string) bool {
	_, ok := c.tools[name]
	return ok
}

// Names returns the declared tool names in declaration order.
func (c *Capabilities) Names() []string {
	out := make([]string, 0, len(c.cfg.Tools))
	for _, t := range c.cfg.Tools {
		out = append(out, t.Name)
	}
	return out
}

// Timeout returns the action deadline for name, falling back to the
// document-wide default.
func (c *Capabilities) Timeout(name string) time.Duration {
	if capa, ok := c.tools[name]; ok {
		return capa.timeout
	}
	return c.timeout
}

// ValidateArguments checks args against the tool's parameter schema.
func (c *Capabilities) ValidateArguments(name string, args map[string]any) error {
	capa, ok := c.tools[name]
	if !ok {
		return shared.ErrUnknownCapability
	}
	if capa.schema == nil {
		return nil
	}
	if err := capa.schema.Validate(args); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidArguments, err)
	}
	return nil
}

// SessionConfig derives the per-session config, optionally overriding the
// voice. All tools are enabled.
func (c *Capabilities) SessionConfig(voice string) SessionConfig {
	if voice == "" {
		voice = c.cfg.Voice
	}
	return SessionConfig{
		Instructions:  c.cfg.Instructions,
		Voice:         voice,
		Model:         c.cfg.Model,
		EnabledTools:  c.Names(),
		TurnDetection: c.cfg.TurnDetection,
	}
}

// SessionParam builds the typed session body. Tools and turn detection are
// added by Handshake.
func (c *Capabilities) SessionParam(cfg SessionConfig) *realtime.RealtimeSessionCreateRequestParam {
	pcm := realtime.RealtimeAudioFormatsUnionParam{
		OfAudioPCM: &realtime.RealtimeAudioFormatsAudioPCMParam{
			Rate: 24000,
			Type: "audio/pcm",
		},
	}
	transcription := realtime.AudioTranscriptionParam{
		Model: realtime.AudioTranscriptionModel(c.cfg.Transcription.Model),
	}
	if c.cfg.Transcription.Language != "" {
		transcription.Language = param.NewOpt(c.cfg.Transcription.Language)
	}
	if c.cfg.Transcription.Prompt != "" {
		transcription.Prompt = param.NewOpt(c.cfg.Transcription.Prompt)
	}
	return &realtime.RealtimeSessionCreateRequestParam{
		Instructions: param.NewOpt(cfg.Instructions),
		Audio: realtime.RealtimeAudioConfigParam{
			Input: realtime.RealtimeAudioConfigInputParam{
				Format:        pcm,
				Transcription: transcription,
			},
			Output: realtime.RealtimeAudioConfigOutputParam{
				Format: pcm,
				Voice:  realtime.RealtimeAudioConfigOutputVoice(cfg.Voice),
			},
		},
	}
}

// Handshake renders the session object of the capability handshake.
func (c *Capabilities) Handshake(cfg SessionConfig) (map[string]any, error) {
	raw, err := c.SessionParam(cfg).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshaling session: %w", err)
	}
	var session map[string]any
	if err := sonic.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	session["type"] = "realtime"
	if cfg.Model != "" {
		session["model"] = cfg.Model
	}

	if td := cfg.TurnDetection; td.Type != "" {
		audio, _ := session["audio"].(map[string]any)
		if audio == nil {
			audio = map[string]any{}
			session["audio"] = audio
		}
		input, _ := audio["input"].(map[string]any)
		if input == nil {
			input = map[string]any{}
			audio["input"] = input
		}
		input["turn_detection"] = turnDetectionJSON(td)
	}

	tools := make([]any, 0, len(cfg.EnabledTools))
	for _, name := range cfg.EnabledTools {
		capa, ok := c.tools[name]
		if !ok {
			continue
		}
		decl := map[string]any{
			"type":        "function",
			"name":        capa.spec.Name,
			"description": capa.spec.Description,
		}
		if capa.spec.Parameters != nil {
			decl["parameters"] = capa.spec.Parameters
		}
		tools = append(tools, decl)
	}
	if len(tools) > 0 {
		session["tools"] = tools
		choice := c.cfg.ToolChoice
		if choice == "" {
			choice = "auto"
		}
		session["tool_choice"] = choice
	}
	return session, nil
}

func turnDetectionJSON(td TurnDetection) map[string]any {
	out := map[string]any{"type": td.Type}
	if td.Type != "server_vad" {
		return out
	}
	if td.Threshold > 0 {
		out["threshold"] = td.Threshold
	}
	if td.PrefixPaddingMs > 0 {
		out["prefix_padding_ms"] = td.PrefixPaddingMs
	}
	if td.SilenceDurationMs > 0 {
		out["silence_duration_ms"] = td.SilenceDurationMs
	}
	return out
}

// instructionsWithContext appends provider context to the instructions.
// Provider errors are logged and ignored.
func instructionsWithContext(ctx context.Context, logger shared.LoggerAdapter, base string, p ContextProvider) string {
	if p == nil {
		return base
	}
	extra, err := p.MemoryContext(ctx)
	if err != nil {
		logger.Error("loading memory context", err)
		return base
	}
	if extra == "" {
		return base
	}
	return base + "\n\n" + extra
}
