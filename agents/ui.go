package agents

import (
	"sync"

	realtime "github.com/bt-bridge/realtime-assistant"
	"github.com/bt-bridge/realtime-assistant/shared"
)

// PrinterUI renders the conversation as labeled lines on a printer.
type PrinterUI struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer

	mu       sync.Mutex
	typing   bool
	speaking bool
}

var _ realtime.UI = (*PrinterUI)(nil)

func NewPrinterUI(logger shared.LoggerAdapter, printer *shared.Printer) *PrinterUI {
	return &PrinterUI{logger: logger, printer: printer}
}

func (u *PrinterUI) Display(role realtime.Role, text string, kind realtime.DisplayKind) {
	label := "🧑 you"
	switch {
	case kind == realtime.DisplayError:
		label = "❌ error"
	case kind == realtime.DisplayNotice:
		label = "📋 notice"
	case role == realtime.RoleAssistant:
		label = "🤖 assistant"
	case role == realtime.RoleSystem:
		label = "⚙️ system"
	}
	if err := u.printer.Labeled(label, text); err != nil {
		u.logger.Error("printing message", err)
	}
}

func (u *PrinterUI) ShowTyping() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.typing {
		return
	}
	u.typing = true
	u.line("… thinking", 1)
}

func (u *PrinterUI) HideTyping() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.typing = false
}

func (u *PrinterUI) Status(state realtime.SessionState, detail string) {
	text := "● " + state.String()
	if detail != "" {
		text += " · " + detail
	}
	u.line(text, 0)
}

func (u *PrinterUI) Speaking(active bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.speaking == active {
		return
	}
	u.speaking = active
	if active {
		u.line("🔈 speaking", 1)
	}
}

func (u *PrinterUI) line(s string, ind int) {
	if err := u.printer.Writeln(s, ind); err != nil {
		u.logger.Error("printing status", err)
	}
}
