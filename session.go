package realtime

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a Client.
type SessionState int

const (
	StateIdle SessionState = iota
	StateNegotiating
	StateAwaitingAnswer
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// active reports whether a connect attempt or a live session owns resources.
func (s SessionState) active() bool {
	return s == StateNegotiating || s == StateAwaitingAnswer || s == StateOpen
}

type TurnDetection struct {
	Type              string  `yaml:"type" json:"type"`
	Threshold         float64 `yaml:"threshold" json:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms" json:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms" json:"silence_duration_ms"`
}

// SessionConfig is what the handshake announces to the model.
type SessionConfig struct {
	Instructions  string
	Voice         string
	Model         string
	EnabledTools  []string
	TurnDetection TurnDetection
}

// Session is one negotiated media session. It is created when negotiation
// starts and discarded when the Client returns to Closed or Failed.
type Session struct {
	ID         string
	UpstreamID string
	Config     SessionConfig
	CreatedAt  time.Time
}

func newSession(cfg SessionConfig) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Config:    cfg,
		CreatedAt: time.Now(),
	}
}
