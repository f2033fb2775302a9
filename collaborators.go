package realtime

import (
	"context"
	"time"
)

// CredentialSource says where short-lived credentials come from. A
// non-empty LocalKey wins over ServerBase.
type CredentialSource struct {
	ServerBase string
	LocalKey   string
}

type Credentials struct {
	Secret   string
	Model    string
	Endpoint string
}

type CredentialFetcher interface {
	Fetch(ctx context.Context, src CredentialSource) (Credentials, error)
}

// OfferExchanger posts a local SDP offer to the realtime endpoint and
// returns the remote answer.
type OfferExchanger interface {
	Exchange(ctx context.Context, endpoint, model, secret, offer string) (answer string, err error)
}

// ActionResult is the structured outcome of a local action. It is
// serialized verbatim as the function_call_output.
type ActionResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func Failure(reason string) ActionResult {
	return ActionResult{Success: false, Error: reason}
}

type ActionExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) (ActionResult, error)
}

type VisionAnalyzer interface {
	AnalyzeImage(ctx context.Context, image []byte, prompt string) (string, error)
}

// DocumentReader extracts the content of a document such as a PDF.
type DocumentReader interface {
	ReadDocument(ctx context.Context, name string, doc []byte, prompt string) (string, error)
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DisplayKind distinguishes ordinary transcript lines from notices.
type DisplayKind int

const (
	DisplayTranscript DisplayKind = iota
	DisplayNotice
	DisplayError
)

type UI interface {
	Display(role Role, text string, kind DisplayKind)
	ShowTyping()
	HideTyping()
	Status(state SessionState, detail string)
	Speaking(active bool)
}

type ConversationTurn struct {
	SessionID string
	Role      Role
	Content   string
	Metadata  map[string]any
	At        time.Time
}

type ConversationLog interface {
	PersistTurn(ctx context.Context, turn ConversationTurn) error
}

// ContextProvider returns extra instructions (typically remembered facts)
// appended to the session instructions before the handshake.
type ContextProvider interface {
	MemoryContext(ctx context.Context) (string, error)
}

type nopUI struct{}

func (nopUI) Display(Role, string, DisplayKind) {}
func (nopUI) ShowTyping()                       {}
func (nopUI) HideTyping()                       {}
func (nopUI) Status(SessionState, string)       {}
func (nopUI) Speaking(bool)                     {}

type nopLog struct{}

func (nopLog) PersistTurn(context.Context, ConversationTurn) error { return nil }
