// Package htmldoc implements dom.Document over a parsed HTML tree. It keeps
// enough page state (form values, focus, scroll offset, listeners, history)
// to run the automation engine without a browser, and lays elements out from
// inline styles and <style> rules.
package htmldoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/browser/dom"
	"golang.org/x/net/html"
)

// ErrForeignElement is returned when an element from another document is passed in.
var ErrForeignElement = errors.New("element does not belong to this document")

var interactiveSel = cascadia.MustCompile(dom.InteractiveQuery)

// Loader fetches the markup for a navigation target.
type Loader func(ctx context.Context, url string) (io.ReadCloser, error)

// Listener observes dispatched events.
type Listener func(ev *Event)

// Event is a dispatched DOM event.
type Event struct {
	Type          string
	Target        *Element
	CurrentTarget *Element
	prevented     bool
}

// PreventDefault suppresses the default action (link navigation).
func (e *Event) PreventDefault() { e.prevented = true }

// DefaultPrevented reports whether a listener called PreventDefault.
func (e *Event) DefaultPrevented() bool { return e.prevented }

type listenerEntry struct {
	node *html.Node
	fn   Listener
}

// Option configures a Document.
type Option func(*Document)

// WithURL sets the document URL.
func WithURL(u string) Option { return func(d *Document) { d.url = u } }

// WithViewport sets the viewport size in CSS pixels.
func WithViewport(width, height int) Option {
	return func(d *Document) { d.width, d.height = width, height }
}

// WithLoader makes Navigate replace the document with the loaded markup.
// Without a loader navigation only updates the URL and history.
func WithLoader(l Loader) Option { return func(d *Document) { d.loader = l } }

// Document is a dom.Document over an HTML tree. It is safe for concurrent use.
type Document struct {
	mu sync.RWMutex

	root    *html.Node
	url     string
	history []string
	loader  Loader

	width, height    int
	scrollX, scrollY int

	order     map[*html.Node]int
	sheet     stylesheet
	values    map[*html.Node]string
	focused   *html.Node
	listeners map[string][]listenerEntry
	events    []Event
	frames    map[*html.Node]*Document
}

var _ dom.Document = (*Document)(nil)

// Parse reads an HTML document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	d := &Document{
		url:    "about:blank",
		width:  1280,
		height: 800,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.reset(root)
	d.history = []string{d.url}
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(markup string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(markup), opts...)
}

// reset installs a new tree and clears per-page state. Callers hold mu or
// own d exclusively.
func (d *Document) reset(root *html.Node) {
	d.root = root
	d.scrollX, d.scrollY = 0, 0
	d.values = make(map[*html.Node]string)
	d.focused = nil
	d.listeners = make(map[string][]listenerEntry)
	d.frames = make(map[*html.Node]*Document)
	d.order = make(map[*html.Node]int)
	d.sheet = parseStylesheets(root)

	i := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			d.order[n] = i
			i++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

func (d *Document) wrap(n *html.Node) *Element { return &Element{doc: d, node: n} }

func (d *Document) unwrap(el dom.Element) (*Element, error) {
	e, ok := el.(*Element)
	if !ok || e.doc != d {
		return nil, ErrForeignElement
	}
	return e, nil
}

func (d *Document) tree() *html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.root
}

// declared returns the cascaded author declarations of n: matching <style>
// rules in specificity order, then the style attribute.
func (d *Document) declared(n *html.Node) declarations {
	d.mu.RLock()
	sheet := d.sheet
	d.mu.RUnlock()

	out := declarations{}
	for _, rule := range sheet {
		if rule.sel.Match(n) {
			for k, v := range rule.decls {
				out[k] = v
			}
		}
	}
	if inline := htmlquery.SelectAttr(n, "style"); inline != "" {
		for k, v := range parseDeclarations(inline) {
			out[k] = v
		}
	}
	return out
}

// rendered reports whether n and all its ancestors generate boxes.
func (d *Document) rendered(n *html.Node) bool {
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		tag := strings.ToLower(cur.Data)
		display := d.declared(cur)["display"]
		if display == "" {
			display = defaultDisplay(tag)
			if htmlquery.ExistsAttr(cur, "hidden") {
				display = "none"
			}
		}
		if display == "none" {
			return false
		}
		if tag == "input" && strings.EqualFold(htmlquery.SelectAttr(cur, "type"), "hidden") {
			return false
		}
	}
	return true
}

// -- dom.Document --

func (d *Document) Info(ctx context.Context) (dom.PageInfo, error) {
	if err := ctx.Err(); err != nil {
		return dom.PageInfo{}, err
	}
	title := ""
	if t := htmlquery.FindOne(d.tree(), "//title"); t != nil {
		title = strings.TrimSpace(htmlquery.InnerText(t))
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return dom.PageInfo{
		URL:   d.url,
		Title: title,
		Viewport: schemas.Viewport{
			Width:   d.width,
			Height:  d.height,
			ScrollX: d.scrollX,
			ScrollY: d.scrollY,
		},
	}, nil
}

func (d *Document) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", dom.ErrInvalidSelector, selector, err)
	}
	nodes := sel.MatchAll(d.tree())
	out := make([]dom.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.wrap(n))
	}
	return out, nil
}

// FindByText prefers the first interactive element whose trimmed text equals
// text, then the innermost such element.
func (d *Document) FindByText(ctx context.Context, text string) (dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	nodes, err := htmlquery.QueryAll(d.tree(), "//body//*")
	if err != nil {
		return nil, fmt.Errorf("text lookup failed: %w", err)
	}

	var matches []*html.Node
	for _, n := range nodes {
		if strings.TrimSpace(htmlquery.InnerText(n)) == text {
			matches = append(matches, n)
		}
	}
	for _, m := range matches {
		if interactiveSel.Match(m) {
			return d.wrap(m), nil
		}
	}
	for i, m := range matches {
		if i+1 == len(matches) || !isAncestor(m, matches[i+1]) {
			return d.wrap(m), nil
		}
	}
	return nil, nil
}

func isAncestor(a, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == a {
			return true
		}
	}
	return false
}

// ScrollIntoView centres the element vertically, and horizontally when it
// lies outside the viewport.
func (d *Document) ScrollIntoView(ctx context.Context, el dom.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := d.unwrap(el)
	if err != nil {
		return err
	}
	r := e.Rect()

	d.mu.Lock()
	defer d.mu.Unlock()
	top := r.Y + float64(d.scrollY)
	left := r.X + float64(d.scrollX)
	d.scrollY = max(0, int(top+r.Height/2)-d.height/2)
	if left < float64(d.scrollX) || left+r.Width > float64(d.scrollX+d.width) {
		d.scrollX = max(0, int(left+r.Width/2)-d.width/2)
	}
	return nil
}

// Click dispatches a bubbling click. Unless prevented, clicking a link
// navigates to its href.
func (d *Document) Click(ctx context.Context, el dom.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := d.unwrap(el)
	if err != nil {
		return err
	}
	ev := d.dispatch(e, "click", true)
	if ev.DefaultPrevented() || e.TagName() != "a" {
		return nil
	}
	href, ok := e.Attribute("href")
	if !ok || href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return nil
	}
	return d.Navigate(ctx, href)
}

func (d *Document) Focus(ctx context.Context, el dom.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := d.unwrap(el)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.focused = e.node
	d.mu.Unlock()
	d.dispatch(e, "focus", false)
	return nil
}

// SetValue assigns the value property. A <select> only accepts the value of
// one of its options and is cleared otherwise, as browsers do.
func (d *Document) SetValue(ctx context.Context, el dom.Element, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := d.unwrap(el)
	if err != nil {
		return err
	}
	if e.TagName() == "select" {
		matched := false
		for _, o := range options(e.node) {
			if optionValue(o) == value {
				matched = true
				break
			}
		}
		if !matched {
			value = ""
		}
	}
	d.mu.Lock()
	d.values[e.node] = value
	d.mu.Unlock()
	return nil
}

func (d *Document) DispatchEvent(ctx context.Context, el dom.Element, eventType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := d.unwrap(el)
	if err != nil {
		return err
	}
	d.dispatch(e, eventType, true)
	return nil
}

func (d *Document) ScrollTo(ctx context.Context, x, y int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	d.scrollX, d.scrollY = max(0, x), max(0, y)
	d.mu.Unlock()
	return nil
}

func (d *Document) ScrollBy(ctx context.Context, dx, dy int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	d.scrollX, d.scrollY = max(0, d.scrollX+dx), max(0, d.scrollY+dy)
	d.mu.Unlock()
	return nil
}

// Navigate resolves target against the current URL and records it. With a
// Loader configured the document content is replaced.
func (d *Document) Navigate(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.RLock()
	current, loader := d.url, d.loader
	d.mu.RUnlock()

	resolved, err := resolveURL(current, target)
	if err != nil {
		return err
	}

	var root *html.Node
	if loader != nil && !sameDocument(current, resolved) {
		body, err := loader(ctx, resolved)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", resolved, err)
		}
		defer body.Close()
		if root, err = html.Parse(body); err != nil {
			return fmt.Errorf("failed to parse %s: %w", resolved, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = resolved
	d.history = append(d.history, resolved)
	if root != nil {
		d.reset(root)
	}
	return nil
}

func resolveURL(base, target string) (string, error) {
	t, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", target, err)
	}
	b, err := url.Parse(base)
	if err != nil || b.Scheme == "" || b.Scheme == "about" {
		return t.String(), nil
	}
	return b.ResolveReference(t).String(), nil
}

// sameDocument reports whether only the fragment differs.
func sameDocument(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	ua.Fragment, ub.Fragment = "", ""
	return ua.String() == ub.String() && strings.Contains(b, "#")
}

// -- Test and tooling helpers --

// AddEventListener registers fn for eventType on every element matching selector.
func (d *Document) AddEventListener(selector, eventType string, fn Listener) error {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", dom.ErrInvalidSelector, selector, err)
	}
	nodes := sel.MatchAll(d.tree())

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range nodes {
		d.listeners[eventType] = append(d.listeners[eventType], listenerEntry{node: n, fn: fn})
	}
	return nil
}

func (d *Document) dispatch(target *Element, eventType string, bubbles bool) *Event {
	ev := &Event{Type: eventType, Target: target}

	d.mu.Lock()
	d.events = append(d.events, Event{Type: eventType, Target: target})
	registered := d.listeners[eventType]
	d.mu.Unlock()

	// Listeners run without the lock so they may call back into the document.
	for n := target.node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		for _, l := range registered {
			if l.node == n {
				ev.CurrentTarget = d.wrap(n)
				l.fn(ev)
			}
		}
		if !bubbles {
			break
		}
	}
	return ev
}

// Events returns every event dispatched so far, in order.
func (d *Document) Events() []Event {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Event(nil), d.events...)
}

// History returns the URLs this document has been at, oldest first.
func (d *Document) History() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.history...)
}

// Focused returns the focused element, if any.
func (d *Document) Focused() *Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.focused == nil {
		return nil
	}
	return d.wrap(d.focused)
}

// Frame returns the content document of the first iframe matching selector,
// built from its srcdoc attribute. The same Document is returned on later calls.
func (d *Document) Frame(selector string) (*Document, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", dom.ErrInvalidSelector, selector, err)
	}
	var frame *html.Node
	for _, n := range sel.MatchAll(d.tree()) {
		if strings.EqualFold(n.Data, "iframe") {
			frame = n
			break
		}
	}
	if frame == nil {
		return nil, fmt.Errorf("no iframe matches %q", selector)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if child, ok := d.frames[frame]; ok {
		return child, nil
	}

	width, height := 300, 150
	decls := parseDeclarations(htmlquery.SelectAttr(frame, "style"))
	if w, ok := pixels(decls["width"]); ok {
		width = int(w)
	}
	if h, ok := pixels(decls["height"]); ok {
		height = int(h)
	}
	child, err := Parse(bytes.NewBufferString(htmlquery.SelectAttr(frame, "srcdoc")),
		WithURL("about:srcdoc"), WithViewport(width, height))
	if err != nil {
		return nil, err
	}
	d.frames[frame] = child
	return child, nil
}

// HTML renders the current tree.
func (d *Document) HTML() string {
	var buf bytes.Buffer
	_ = html.Render(&buf, d.tree())
	return buf.String()
}
