package actions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	realtime "github.com/bt-bridge/realtime-assistant"
	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/bt-bridge/realtime-assistant/store"
	"go.uber.org/zap"
)

const defaultCategory = "research"

// Desktop runs commands through the desktop companion.
type Desktop interface {
	Run(ctx context.Context, cmd DesktopCommand) (string, error)
}

type KnowledgeBase interface {
	SaveItem(ctx context.Context, item store.KnowledgeItem) (store.KnowledgeItem, error)
	SaveMemory(ctx context.Context, m store.Memory) (store.Memory, error)
}

// Deps are the collaborators the built-in actions run against. Nil
// collaborators make the actions that need them fail with a reason the
// model can relay.
type Deps struct {
	Logger    shared.LoggerAdapter
	UI        realtime.UI
	Desktop   Desktop
	Browser   URLOpener
	Knowledge KnowledgeBase
	Vision    realtime.VisionAnalyzer
	Documents realtime.DocumentReader
	// Pages backs the web_* automation actions.
	Pages *Pages
	// Clipboard defaults to the system clipboard. Copy failures are
	// logged and otherwise ignored.
	Clipboard func(string) error
	ReadFile  func(string) ([]byte, error)
}

type builtins struct {
	Deps
}

// Register installs every built-in action on d.
func Register(d *Dispatcher, deps Deps) error {
	if deps.Logger == nil {
		return shared.ErrNoLogger
	}
	if deps.Clipboard == nil {
		deps.Clipboard = clipboard.WriteAll
	}
	if deps.ReadFile == nil {
		deps.ReadFile = os.ReadFile
	}
	b := &builtins{Deps: deps}
	b.Logger = deps.Logger.With(zap.String("component", "builtins"))

	handlers := map[string]Handler{
		"create_claude_prompt":      b.prompt(ClaudePrompt, "Claude prompt"),
		"create_debugging_prompt":   b.prompt(DebuggingPrompt, "Debugging prompt"),
		"create_code_review_prompt": b.prompt(CodeReviewPrompt, "Code review prompt"),
		"open_webpage":              b.openWebpage,
		"open_folder":               b.openFolder,
		"launch_app":                b.launchApp,
		"create_file":               b.createFile,
		"web_search":                b.webSearch,
		"save_memory":               b.saveMemory,
		"analyze_image":             b.analyzeImage,
		"read_pdf":                  b.readPDF,
		"web_navigate":              b.webNavigate,
		"web_click_element":         b.webClick,
		"web_fill_form":             b.webFill,
		"web_scroll":                b.webScroll,
		"web_extract_data":          b.webExtract,
	}
	var errs []error
	for name, h := range handlers {
		errs = append(errs, d.Register(name, h))
	}
	return errors.Join(errs...)
}

func (b *builtins) prompt(render func(Args) string, label string) Handler {
	return func(_ context.Context, args Args) (realtime.ActionResult, error) {
		text := render(args)
		if b.UI != nil {
			b.UI.Display(realtime.RoleAssistant, text, realtime.DisplayNotice)
		}
		copied := true
		if err := b.Clipboard(text); err != nil {
			copied = false
			b.Logger.Warn("clipboard unavailable", zap.Error(err))
		}
		return realtime.ActionResult{
			Success: true,
			Message: label + " created and displayed in chat",
			Details: map[string]any{"prompt": text, "copied": copied},
		}, nil
	}
}

func (b *builtins) openWebpage(ctx context.Context, args Args) (realtime.ActionResult, error) {
	raw, err := args.Require("url")
	if err != nil {
		return realtime.ActionResult{}, err
	}
	if b.Browser == nil {
		return realtime.Failure("no browser available"), nil
	}
	u := NormalizeURL(raw)
	if err := b.Browser.Open(ctx, u); err != nil {
		return realtime.ActionResult{}, err
	}
	return realtime.ActionResult{Success: true, Message: "Opened " + u}, nil
}

func (b *builtins) desktop(ctx context.Context, cmd DesktopCommand) (realtime.ActionResult, error) {
	if b.Desktop == nil {
		return realtime.Failure(ErrDesktopUnavailable.Error()), nil
	}
	msg, err := b.Desktop.Run(ctx, cmd)
	if err != nil {
		return realtime.ActionResult{}, err
	}
	return realtime.ActionResult{Success: true, Message: msg}, nil
}

func (b *builtins) openFolder(ctx context.Context, args Args) (realtime.ActionResult, error) {
	name, err := args.Require("folder_name")
	if err != nil {
		return realtime.ActionResult{}, err
	}
	return b.desktop(ctx, DesktopCommand{Type: CommandOpenFolder, Param: HomePath(name)})
}

func (b *builtins) launchApp(ctx context.Context, args Args) (realtime.ActionResult, error) {
	name, err := args.Require("app_name")
	if err != nil {
		return realtime.ActionResult{}, err
	}
	return b.desktop(ctx, DesktopCommand{Type: CommandRunApp, Param: name})
}

func (b *builtins) createFile(ctx context.Context, args Args) (realtime.ActionResult, error) {
	name, err := args.Require("filename")
	if err != nil {
		return realtime.ActionResult{}, err
	}
	if strings.ContainsAny(name, `/\`) {
		return realtime.ActionResult{}, fmt.Errorf("%w: filename must not contain a path", shared.ErrInvalidArguments)
	}
	location := args.String("location")
	if location == "" {
		location = "Downloads"
	}
	return b.desktop(ctx, DesktopCommand{Type: CommandCreateFile, Param: path.Join(HomePath(location), name)})
}

func (b *builtins) webSearch(ctx context.Context, args Args) (realtime.ActionResult, error) {
	query, err := args.Require("query")
	if err != nil {
		return realtime.ActionResult{}, err
	}
	category := args.String("category")
	if category == "" {
		category = defaultCategory
	}
	u := SearchURL(query)
	if b.Browser != nil {
		if err := b.Browser.Open(ctx, u); err != nil {
			b.Logger.Warn("could not open search", zap.Error(err))
		}
	}
	msg := fmt.Sprintf("Searched for: %s.", query)
	if args.Bool("save_to_knowledge", true) && b.Knowledge != nil {
		_, err := b.Knowledge.SaveItem(ctx, store.KnowledgeItem{
			Title:    "Web Search: " + query,
			Content:  fmt.Sprintf("Search performed for %q on %s", query, time.Now().Format(time.DateOnly)),
			Source:   u,
			Category: category,
			Tags:     []string{"web_search", "research", category},
		})
		switch {
		case errors.Is(err, store.ErrMemoryDisabled):
			b.Logger.Debug("memory is off, search not saved")
		case err != nil:
			return realtime.ActionResult{}, err
		default:
			msg += fmt.Sprintf(" Saved to knowledge base under %q.", category)
		}
	}
	return realtime.ActionResult{
		Success: true,
		Message: msg,
		Details: map[string]any{"search_url": u, "query": query},
	}, nil
}

func (b *builtins) saveMemory(ctx context.Context, args Args) (realtime.ActionResult, error) {
	content, err := args.Require("content")
	if err != nil {
		return realtime.ActionResult{}, err
	}
	if b.Knowledge == nil {
		return realtime.Failure("memory is not available"), nil
	}
	m, err := b.Knowledge.SaveMemory(ctx, store.Memory{Content: content, Category: args.String("category")})
	if errors.Is(err, store.ErrMemoryDisabled) {
		return realtime.Failure("memory is turned off"), nil
	}
	if err != nil {
		return realtime.ActionResult{}, err
	}
	return realtime.ActionResult{
		Success: true,
		Message: "I'll remember that.",
		Details: map[string]any{"id": m.ID},
	}, nil
}

func (b *builtins) analyzeImage(ctx context.Context, args Args) (realtime.ActionResult, error) {
	file, err := args.Require("path")
	if err != nil {
		return realtime.ActionResult{}, err
	}
	if b.Vision == nil {
		return realtime.Failure("image analysis is not available"), nil
	}
	file = expandHome(file)
	img, err := b.ReadFile(file)
	if err != nil {
		return realtime.ActionResult{}, fmt.Errorf("on reading image: %w", err)
	}
	prompt := args.String("prompt")
	if prompt == "" {
		prompt = "Describe this image."
	}
	text, err := b.Vision.AnalyzeImage(ctx, img, prompt)
	if err != nil {
		return realtime.ActionResult{}, err
	}
	return realtime.ActionResult{Success: true, Message: text}, nil
}

func (b *builtins) readPDF(ctx context.Context, args Args) (realtime.ActionResult, error) {
	file, err := args.Require("file_path")
	if err != nil {
		return realtime.ActionResult{}, err
	}
	if b.Documents == nil {
		return realtime.Failure("document reading is not available"), nil
	}
	if file == "screenshot" {
		return realtime.Failure("reading a PDF from the screen is not supported, give a file path"), nil
	}
	file = expandHome(file)
	doc, err := b.ReadFile(file)
	if err != nil {
		return realtime.ActionResult{}, fmt.Errorf("on reading document: %w", err)
	}
	text, err := b.Documents.ReadDocument(ctx, filepath.Base(file), doc, pdfPrompt(args.String("pages"), args.String("extract_type")))
	if err != nil {
		return realtime.ActionResult{}, err
	}
	return realtime.ActionResult{
		Success: true,
		Message: "PDF read successfully",
		Details: map[string]any{"extracted_text": text},
	}, nil
}

func pdfPrompt(pages, kind string) string {
	if kind == "" {
		kind = "text"
	}
	what := map[string]string{
		"text":   "the text",
		"tables": "every table, as markdown tables",
		"forms":  "the form fields and their values",
		"all":    "the text, every table as markdown and the form fields",
	}[kind]
	if what == "" {
		what = "the text"
	}
	scope := "this document"
	if pages != "" && pages != "all" {
		scope = "pages " + pages + " of this document"
	}
	return "Extract " + what + " from " + scope + ". Keep headings and lists."
}

func (b *builtins) pages() (*Pages, realtime.ActionResult, bool) {
	if b.Pages == nil {
		return nil, realtime.Failure("web automation is not available"), false
	}
	return b.Pages, realtime.ActionResult{}, true
}

// pageResult turns page errors the model can act on into failures.
func pageResult(msg string, err error) (realtime.ActionResult, error) {
	switch {
	case err == nil:
		return realtime.ActionResult{Success: true, Message: msg}, nil
	case errors.Is(err, ErrNoPage), errors.Is(err, ErrElementNotFound),
		errors.Is(err, ErrNoHistory), errors.Is(err, ErrNeedsBrowser):
		return realtime.Failure(err.Error()), nil
	default:
		return realtime.ActionResult{}, err
	}
}

func (b *builtins) webNavigate(ctx context.Context, args Args) (realtime.ActionResult, error) {
	action, err := args.Require("action")
	if err != nil {
		return realtime.ActionResult{}, err
	}
	p, res, ok := b.pages()
	if !ok {
		return res, nil
	}
	return pageResult(p.Navigate(ctx, action, args.String("url")))
}

func (b *builtins) webClick(ctx context.Context, args Args) (realtime.ActionResult, error) {
	target, err := args.Require("selector")
	if err != nil {
		return realtime.ActionResult{}, err
	}
	p, res, ok := b.pages()
	if !ok {
		return res, nil
	}
	return pageResult(p.Click(ctx, target, args.String("element_type")))
}

func (b *builtins) webFill(_ context.Context, args Args) (realtime.ActionResult, error) {
	fields := args.StringMap("fields")
	if len(fields) == 0 {
		return realtime.ActionResult{}, fmt.Errorf("%w: fields is required", shared.ErrInvalidArguments)
	}
	p, res, ok := b.pages()
	if !ok {
		return res, nil
	}
	filled, missing, err := p.Fill(fields)
	if err != nil {
		return pageResult("", err)
	}
	if len(filled) == 0 {
		return realtime.Failure("no form field matches " + strings.Join(missing, ", ")), nil
	}
	return realtime.ActionResult{
		Success: true,
		Message: "Filled " + strings.Join(filled, ", "),
		Details: map[string]any{"filled": filled, "missing": missing},
	}, nil
}

func (b *builtins) webScroll(_ context.Context, args Args) (realtime.ActionResult, error) {
	direction, err := args.Require("direction")
	if err != nil {
		return realtime.ActionResult{}, err
	}
	p, res, ok := b.pages()
	if !ok {
		return res, nil
	}
	return pageResult(p.Scroll(direction, args.Int("amount", 0)))
}

func (b *builtins) webExtract(_ context.Context, args Args) (realtime.ActionResult, error) {
	dataType, err := args.Require("data_type")
	if err != nil {
		return realtime.ActionResult{}, err
	}
	p, res, ok := b.pages()
	if !ok {
		return res, nil
	}
	data, err := p.Extract(dataType, args.String("selector"))
	if err != nil {
		return pageResult("", err)
	}
	return realtime.ActionResult{
		Success: true,
		Message: fmt.Sprintf("Extracted %s data", dataType),
		Details: data,
	}, nil
}

func expandHome(file string) string {
	if strings.HasPrefix(file, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, file[2:])
		}
	}
	return file
}
