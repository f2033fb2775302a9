package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/bt-bridge/realtime-assistant/shared"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	ErrNoPage          = errors.New("no page is open")
	ErrElementNotFound = errors.New("element not found")
	ErrNoHistory       = errors.New("no page in that direction")
	ErrNeedsBrowser    = errors.New("needs a live browser")
	ErrPageLoad        = errors.New("page failed to load")
)

const (
	viewportLines = 40
	linePixels    = 20
	maxRedirects  = 5
	maxTextBytes  = 6000
	maxListed     = 100
)

// Fetcher loads the HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type HTTPFetcher struct {
	Client *fasthttp.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, u string) ([]byte, error) {
	status, body, err := shared.DoHTTPRedirects(ctx, f.Client, maxRedirects, func(req *fasthttp.Request) {
		req.SetRequestURI(u)
		req.Header.SetMethod(fasthttp.MethodGet)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		req.Header.Set("User-Agent", "realtime-assistant/"+shared.Version)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPageLoad, err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrPageLoad, u, status)
	}
	return body, nil
}

// Pages is the headless browsing session behind the web_* actions. Each
// tab keeps its own history, parsed document and scroll position.
type Pages struct {
	logger  shared.LoggerAdapter
	fetcher Fetcher

	mu   sync.Mutex
	tabs []*tab
	cur  int
}

type tab struct {
	history []string
	pos     int
	doc     *html.Node
	// offset is the first visible text line.
	offset int
}

func NewPages(logger shared.LoggerAdapter, fetcher Fetcher) *Pages {
	return &Pages{
		logger:  logger.With(zap.String("component", "pages")),
		fetcher: fetcher,
		tabs:    []*tab{{pos: -1}},
	}
}

func (t *tab) url() string {
	if t.pos < 0 {
		return ""
	}
	return t.history[t.pos]
}

// Navigate runs one of go_to_url, go_back, go_forward, refresh, new_tab
// and close_tab.
func (p *Pages) Navigate(ctx context.Context, action, rawURL string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.tabs[p.cur]
	switch action {
	case "go_to_url":
		if rawURL == "" {
			return "", fmt.Errorf("%w: url is required for go_to_url", shared.ErrInvalidArguments)
		}
		return p.goTo(ctx, t, NormalizeURL(rawURL))
	case "go_back", "go_forward":
		step := -1
		if action == "go_forward" {
			step = 1
		}
		next := t.pos + step
		if t.pos < 0 || next < 0 || next >= len(t.history) {
			return "", ErrNoHistory
		}
		if err := p.load(ctx, t, t.history[next]); err != nil {
			return "", err
		}
		t.pos = next
		return "Now on " + p.describe(t), nil
	case "refresh":
		if t.pos < 0 {
			return "", ErrNoPage
		}
		if err := p.load(ctx, t, t.url()); err != nil {
			return "", err
		}
		return "Page refreshed", nil
	case "new_tab":
		p.tabs = append(p.tabs, &tab{pos: -1})
		p.cur = len(p.tabs) - 1
		if rawURL != "" {
			return p.goTo(ctx, p.tabs[p.cur], NormalizeURL(rawURL))
		}
		return "New tab opened", nil
	case "close_tab":
		p.tabs = slices.Delete(p.tabs, p.cur, p.cur+1)
		if len(p.tabs) == 0 {
			p.tabs = []*tab{{pos: -1}}
		}
		p.cur = min(p.cur, len(p.tabs)-1)
		return "Tab closed", nil
	default:
		return "", fmt.Errorf("%w: unknown navigation action %q", shared.ErrInvalidArguments, action)
	}
}

func (p *Pages) goTo(ctx context.Context, t *tab, u string) (string, error) {
	if err := p.load(ctx, t, u); err != nil {
		return "", err
	}
	t.history = append(t.history[:t.pos+1], u)
	t.pos = len(t.history) - 1
	return "Navigated to " + p.describe(t), nil
}

func (p *Pages) load(ctx context.Context, t *tab, u string) error {
	if p.fetcher == nil {
		return fmt.Errorf("%w: no fetcher", ErrPageLoad)
	}
	body, err := p.fetcher.Fetch(ctx, u)
	if err != nil {
		return err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPageLoad, err)
	}
	p.logger.Debug("page loaded", zap.String("url", u), zap.Int("bytes", len(body)))
	t.doc = doc
	t.offset = 0
	return nil
}

func (p *Pages) describe(t *tab) string {
	if title := pageTitle(t.doc); title != "" {
		return fmt.Sprintf("%s (%s)", title, t.url())
	}
	return t.url()
}

func (p *Pages) page() (*tab, error) {
	t := p.tabs[p.cur]
	if t.doc == nil {
		return nil, ErrNoPage
	}
	return t, nil
}

// Scroll moves the text viewport. amount is in pixels and defaults to one
// viewport.
func (p *Pages) Scroll(direction string, amount int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.page()
	if err != nil {
		return "", err
	}
	lines := textLines(t.doc)
	step := viewportLines
	if amount > 0 {
		step = max(1, amount/linePixels)
	}
	last := max(0, len(lines)-viewportLines)
	switch direction {
	case "down":
		t.offset = min(t.offset+step, last)
	case "up":
		t.offset = max(t.offset-step, 0)
	case "top":
		t.offset = 0
	case "bottom":
		t.offset = last
	default:
		return "", fmt.Errorf("%w: unknown scroll direction %q", shared.ErrInvalidArguments, direction)
	}
	return fmt.Sprintf("Scrolled %s, showing line %d of %d", direction, t.offset+1, len(lines)), nil
}

// Fill sets form field values by name, id or placeholder. It returns the
// keys that matched and the ones that did not.
func (p *Pages) Fill(fields map[string]string) (filled, missing []string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.page()
	if err != nil {
		return nil, nil, err
	}
	for key, value := range fields {
		n := findField(t.doc, key)
		if n == nil {
			missing = append(missing, key)
			continue
		}
		setAttr(n, "value", value)
		filled = append(filled, key)
	}
	slices.Sort(filled)
	slices.Sort(missing)
	return filled, missing, nil
}

// Click follows a link or submits a GET form. target is a CSS selector or
// the visible text of the element.
func (p *Pages) Click(ctx context.Context, target, kind string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.page()
	if err != nil {
		return "", err
	}
	n := findClickable(t.doc, target, kind)
	if n == nil {
		return "", fmt.Errorf("%w: %q", ErrElementNotFound, target)
	}
	if n.DataAtom == atom.A {
		href := attr(n, "href")
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return "", fmt.Errorf("%w: link %q runs a script", ErrNeedsBrowser, target)
		}
		u, err := resolve(t.url(), href)
		if err != nil {
			return "", err
		}
		return p.goTo(ctx, t, u)
	}
	form := enclosing(n, atom.Form)
	if form == nil || !isSubmit(n) {
		return "", fmt.Errorf("%w: <%s> has no link or form to follow", ErrNeedsBrowser, n.Data)
	}
	if method := strings.ToLower(attr(form, "method")); method != "" && method != "get" {
		return "", fmt.Errorf("%w: form posts with %s", ErrNeedsBrowser, method)
	}
	u, err := resolve(t.url(), attr(form, "action"))
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrInvalidArguments, err)
	}
	parsed.RawQuery = formValues(form).Encode()
	return p.goTo(ctx, t, parsed.String())
}

// Extract pulls text, links, images, forms or tables (or all of them) out
// of the current page, limited to the elements matching selector when it
// is set.
func (p *Pages) Extract(dataType, selector string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.page()
	if err != nil {
		return nil, err
	}
	scope := []*html.Node{t.doc}
	if selector != "" {
		sel, err := cascadia.Compile(selector)
		if err != nil {
			return nil, fmt.Errorf("%w: selector %q: %w", shared.ErrInvalidArguments, selector, err)
		}
		if scope = sel.MatchAll(t.doc); len(scope) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrElementNotFound, selector)
		}
	}
	out := map[string]any{"url": t.url(), "title": pageTitle(t.doc)}
	all := dataType == "all"
	if all || dataType == "text" {
		var lines []string
		for _, n := range scope {
			lines = append(lines, textLines(n)...)
		}
		if selector == "" {
			lines = lines[min(t.offset, len(lines)):]
		}
		out["text"] = clip(strings.Join(lines, "\n"), maxTextBytes)
	}
	if all || dataType == "links" {
		var links []map[string]string
		eachElement(scope, atom.A, func(n *html.Node) {
			if href := attr(n, "href"); href != "" {
				if u, err := resolve(t.url(), href); err == nil {
					links = append(links, map[string]string{"text": nodeText(n), "href": u})
				}
			}
		})
		out["links"] = capped(links)
	}
	if all || dataType == "images" {
		var images []map[string]string
		eachElement(scope, atom.Img, func(n *html.Node) {
			if raw := attr(n, "src"); raw != "" {
				if src, err := resolve(t.url(), raw); err == nil {
					images = append(images, map[string]string{"src": src, "alt": attr(n, "alt")})
				}
			}
		})
		out["images"] = capped(images)
	}
	if all || dataType == "forms" {
		var forms []map[string]any
		eachElement(scope, atom.Form, func(n *html.Node) {
			forms = append(forms, describeForm(n))
		})
		out["forms"] = forms
	}
	if all || dataType == "tables" {
		var tables [][][]string
		eachElement(scope, atom.Table, func(n *html.Node) {
			tables = append(tables, tableRows(n))
		})
		out["tables"] = tables
	}
	if len(out) == 2 {
		return nil, fmt.Errorf("%w: unknown data_type %q", shared.ErrInvalidArguments, dataType)
	}
	return out, nil
}

func capped[T any](s []T) []T {
	if len(s) > maxListed {
		return s[:maxListed]
	}
	return s
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	return slices.ContainsFunc(n.Attr, func(a html.Attribute) bool { return a.Key == key })
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func resolve(base, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrInvalidArguments, err)
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrInvalidArguments, err)
	}
	return b.ResolveReference(ref).String(), nil
}

func eachElement(scope []*html.Node, a atom.Atom, fn func(*html.Node)) {
	for _, root := range scope {
		for n := range root.Descendants() {
			if n.Type == html.ElementNode && n.DataAtom == a {
				fn(n)
			}
		}
	}
}

func enclosing(n *html.Node, a atom.Atom) *html.Node {
	for p := range n.Ancestors() {
		if p.Type == html.ElementNode && p.DataAtom == a {
			return p
		}
	}
	return nil
}

func pageTitle(doc *html.Node) string {
	if doc == nil {
		return ""
	}
	for n := range doc.Descendants() {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			return nodeText(n)
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	for d := range n.Descendants() {
		if d.Type == html.TextNode {
			b.WriteString(d.Data)
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var skipped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Head: true, atom.Template: true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Br: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Ul: true, atom.Ol: true, atom.Table: true, atom.Blockquote: true, atom.Pre: true,
}

// textLines renders the visible text under n, one line per block element.
func textLines(n *html.Node) []string {
	var lines []string
	var cur strings.Builder
	flush := func() {
		if line := strings.Join(strings.Fields(cur.String()), " "); line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			cur.WriteString(n.Data)
			cur.WriteByte(' ')
			return
		case html.ElementNode:
			if skipped[n.DataAtom] {
				return
			}
		}
		block := n.Type == html.ElementNode && blocks[n.DataAtom]
		if block {
			flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			flush()
		}
	}
	walk(n)
	flush()
	return lines
}

func isField(n *html.Node) bool {
	return n.Type == html.ElementNode &&
		(n.DataAtom == atom.Input || n.DataAtom == atom.Textarea || n.DataAtom == atom.Select)
}

func findField(doc *html.Node, key string) *html.Node {
	for n := range doc.Descendants() {
		if !isField(n) {
			continue
		}
		if attr(n, "name") == key || attr(n, "id") == key || strings.EqualFold(attr(n, "placeholder"), key) {
			return n
		}
	}
	return nil
}

func isSubmit(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Button:
		typ := attr(n, "type")
		return typ == "" || typ == "submit"
	case atom.Input:
		typ := attr(n, "type")
		return typ == "submit" || typ == "image"
	}
	return false
}

func clickableKind(n *html.Node, kind string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	isButton := n.DataAtom == atom.Button || attr(n, "role") == "button" ||
		(n.DataAtom == atom.Input && (attr(n, "type") == "submit" || attr(n, "type") == "button"))
	switch kind {
	case "button":
		return isButton
	case "link":
		return n.DataAtom == atom.A
	case "input":
		return n.DataAtom == atom.Input
	default:
		return isButton || n.DataAtom == atom.A || hasAttr(n, "onclick")
	}
}

func label(n *html.Node) string {
	if n.DataAtom == atom.Input {
		return attr(n, "value")
	}
	if text := nodeText(n); text != "" {
		return text
	}
	return attr(n, "aria-label")
}

// findClickable tries target as a CSS selector, then as element text:
// exact matches win over partial ones.
func findClickable(doc *html.Node, target, kind string) *html.Node {
	if sel, err := cascadia.Compile(target); err == nil {
		if n := sel.MatchFirst(doc); n != nil {
			return n
		}
	}
	var partial *html.Node
	want := strings.ToLower(target)
	for n := range doc.Descendants() {
		if !clickableKind(n, kind) {
			continue
		}
		text := strings.ToLower(label(n))
		if text == want {
			return n
		}
		if partial == nil && want != "" && strings.Contains(text, want) {
			partial = n
		}
	}
	return partial
}

func fieldValue(n *html.Node) string {
	if n.DataAtom == atom.Textarea && !hasAttr(n, "value") {
		return nodeText(n)
	}
	if n.DataAtom == atom.Select && !hasAttr(n, "value") {
		var first string
		for o := range n.Descendants() {
			if o.Type != html.ElementNode || o.DataAtom != atom.Option {
				continue
			}
			v := attr(o, "value")
			if !hasAttr(o, "value") {
				v = nodeText(o)
			}
			if hasAttr(o, "selected") {
				return v
			}
			if first == "" {
				first = v
			}
		}
		return first
	}
	return attr(n, "value")
}

func formValues(form *html.Node) url.Values {
	vals := url.Values{}
	for n := range form.Descendants() {
		name := attr(n, "name")
		if !isField(n) || name == "" {
			continue
		}
		switch attr(n, "type") {
		case "submit", "button", "image", "file", "reset":
			continue
		case "checkbox", "radio":
			if !hasAttr(n, "checked") {
				continue
			}
		}
		vals.Add(name, fieldValue(n))
	}
	return vals
}

func describeForm(form *html.Node) map[string]any {
	var fields []map[string]string
	for n := range form.Descendants() {
		if !isField(n) {
			continue
		}
		typ := attr(n, "type")
		if typ == "" {
			typ = n.Data
		}
		fields = append(fields, map[string]string{
			"name":  attr(n, "name"),
			"type":  typ,
			"value": fieldValue(n),
		})
	}
	method := strings.ToUpper(attr(form, "method"))
	if method == "" {
		method = "GET"
	}
	return map[string]any{"action": attr(form, "action"), "method": method, "fields": fields}
}

func tableRows(table *html.Node) [][]string {
	var rows [][]string
	for tr := range table.Descendants() {
		if tr.Type != html.ElementNode || tr.DataAtom != atom.Tr || enclosing(tr, atom.Table) != table {
			continue
		}
		var row []string
		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
				row = append(row, nodeText(c))
			}
		}
		rows = append(rows, row)
	}
	return rows
}
