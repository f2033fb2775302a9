package actions

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
)

const searchURL = "https://www.google.com/search?q="

var domainHints = []string{".com", ".org", ".net", ".io"}

// NormalizeURL turns what the model passed as open_webpage's url into
// something a browser can open: absolute URLs pass through, bare domains
// get https:// and anything else becomes a web search.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	for _, hint := range domainHints {
		if strings.Contains(raw, hint) {
			return "https://" + raw
		}
	}
	return SearchURL(raw)
}

func SearchURL(query string) string {
	return searchURL + url.QueryEscape(query)
}

// URLOpener shows a URL to the user.
type URLOpener interface {
	Open(ctx context.Context, url string) error
}

// SystemBrowser opens URLs with the platform's default handler.
type SystemBrowser struct{}

func (SystemBrowser) Open(ctx context.Context, u string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", u)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", u)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", u)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("on opening %s: %w", u, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
