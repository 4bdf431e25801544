package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/browser/dom"
)

var (
	// ErrStaleElement is returned when an element handle no longer resolves
	// to a node attached to the document.
	ErrStaleElement = errors.New("element is no longer attached to the document")
	// ErrForeignElement is returned when an element from another tab is passed in.
	ErrForeignElement = errors.New("element does not belong to this page")
	// ErrPageClosed is returned by operations on a closed page.
	ErrPageClosed = errors.New("page is closed")
)

// driver is the minimal surface a Page needs from the tab.
type driver interface {
	Evaluate(ctx context.Context, expression string, res any) error
	Navigate(ctx context.Context, url string) error
}

// cdpDriver runs against a chromedp tab context.
type cdpDriver struct {
	tab        context.Context
	navTimeout time.Duration
}

func (d cdpDriver) Evaluate(ctx context.Context, expression string, res any) error {
	runCtx, cancel := CombineContext(d.tab, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, chromedp.Evaluate(expression, res))
	var exc *runtime.ExceptionDetails
	if errors.As(err, &exc) {
		return fmt.Errorf("page script threw: %w", exc)
	}
	return err
}

func (d cdpDriver) Navigate(ctx context.Context, target string) error {
	runCtx, cancel := CombineContext(d.tab, ctx)
	defer cancel()
	if d.navTimeout > 0 {
		var cancelNav context.CancelFunc
		runCtx, cancelNav = context.WithTimeout(runCtx, d.navTimeout)
		defer cancelNav()
	}
	return chromedp.Run(runCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Page is a dom.Document backed by a browser tab, or by the content document
// of an iframe inside one.
type Page struct {
	id     string
	drv    driver
	root   string
	frame  bool
	logger *zap.Logger

	mu      sync.Mutex
	closed  bool
	closeFn func() error
}

var _ dom.Document = (*Page)(nil)

func newPage(id string, drv driver, logger *zap.Logger, closeFn func() error) *Page {
	return &Page{
		id:      id,
		drv:     drv,
		root:    "document",
		logger:  logger.With(zap.String("page_id", id)),
		closeFn: closeFn,
	}
}

// ID identifies the tab.
func (p *Page) ID() string { return p.id }

// Close closes the tab. Closing a frame view is a no-op.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	fn := p.closeFn
	p.mu.Unlock()

	if p.frame || fn == nil {
		return nil
	}
	return fn()
}

func (p *Page) eval(ctx context.Context, body string, res any) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPageClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.drv.Evaluate(ctx, wrapScript(p.root, body), res)
}

type pageInfo struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	ScrollX int    `json:"scrollX"`
	ScrollY int    `json:"scrollY"`
}

func (p *Page) Info(ctx context.Context) (dom.PageInfo, error) {
	var info pageInfo
	if err := p.eval(ctx, infoJS, &info); err != nil {
		return dom.PageInfo{}, fmt.Errorf("failed to read page info: %w", err)
	}
	return dom.PageInfo{
		URL:   info.URL,
		Title: info.Title,
		Viewport: schemas.Viewport{
			Width:   info.Width,
			Height:  info.Height,
			ScrollX: info.ScrollX,
			ScrollY: info.ScrollY,
		},
	}, nil
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	var res collection
	if err := p.eval(ctx, queryAllJS(selector), &res); err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}
	if res.Invalid != "" {
		return nil, fmt.Errorf("%w: %q: %s", dom.ErrInvalidSelector, selector, res.Invalid)
	}
	return res.elements(p.id), nil
}

// FindByText prefers the first interactive element whose trimmed text equals
// text, then the innermost such element.
func (p *Page) FindByText(ctx context.Context, text string) (dom.Element, error) {
	var res collection
	if err := p.eval(ctx, findByTextJS(text, dom.InteractiveQuery), &res); err != nil {
		return nil, fmt.Errorf("text lookup failed: %w", err)
	}
	els := res.elements(p.id)
	if len(els) == 0 {
		return nil, nil
	}
	return els[0], nil
}

type actionResult struct {
	Stale bool `json:"stale"`
}

func (p *Page) act(ctx context.Context, el dom.Element, name, op string) error {
	e, ok := el.(*Element)
	if !ok || e == nil || e.tab != p.id {
		return ErrForeignElement
	}
	var res actionResult
	if err := p.eval(ctx, elementJS(e.Ref(), op), &res); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	if res.Stale {
		return fmt.Errorf("%s <%s>: %w", name, e.TagName(), ErrStaleElement)
	}
	return nil
}

func (p *Page) ScrollIntoView(ctx context.Context, el dom.Element) error {
	return p.act(ctx, el, "scroll into view", scrollIntoViewOp)
}

func (p *Page) Click(ctx context.Context, el dom.Element) error {
	return p.act(ctx, el, "click", clickOp)
}

func (p *Page) Focus(ctx context.Context, el dom.Element) error {
	return p.act(ctx, el, "focus", focusOp)
}

func (p *Page) SetValue(ctx context.Context, el dom.Element, value string) error {
	return p.act(ctx, el, "set value", setValueOp(value))
}

func (p *Page) DispatchEvent(ctx context.Context, el dom.Element, eventType string) error {
	return p.act(ctx, el, "dispatch "+eventType, dispatchEventOp(eventType))
}

func (p *Page) ScrollTo(ctx context.Context, x, y int) error {
	return p.eval(ctx, scrollJS("scrollTo", x, y), &actionResult{})
}

func (p *Page) ScrollBy(ctx context.Context, dx, dy int) error {
	return p.eval(ctx, scrollJS("scrollBy", dx, dy), &actionResult{})
}

// Navigate resolves target against the current URL. The top level document
// waits for the new body; a frame only starts loading.
func (p *Page) Navigate(ctx context.Context, target string) error {
	resolved, err := p.resolve(ctx, target)
	if err != nil {
		return err
	}
	if p.frame {
		if err := p.eval(ctx, assignLocationJS(resolved), &actionResult{}); err != nil {
			return fmt.Errorf("failed to navigate frame to %s: %w", resolved, err)
		}
		return nil
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPageClosed
	}
	p.logger.Debug("Navigating", zap.String("url", resolved))
	if err := p.drv.Navigate(ctx, resolved); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", resolved, err)
	}
	return nil
}

func (p *Page) resolve(ctx context.Context, target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid navigation target %q: %w", target, err)
	}
	if u.IsAbs() {
		return target, nil
	}
	info, err := p.Info(ctx)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(info.URL)
	if err != nil || !base.IsAbs() || base.Host == "" {
		return "", fmt.Errorf("cannot resolve %q against %q", target, info.URL)
	}
	return base.ResolveReference(u).String(), nil
}

type frameResult struct {
	Ref     int64  `json:"ref"`
	Blocked bool   `json:"blocked"`
	Invalid string `json:"invalid"`
}

// Frame scopes a view of the page to the content document of the first
// iframe matching selector. Only same origin frames are reachable.
func (p *Page) Frame(ctx context.Context, selector string) (*Page, error) {
	var res frameResult
	if err := p.eval(ctx, frameJS(selector), &res); err != nil {
		return nil, fmt.Errorf("frame lookup failed: %w", err)
	}
	switch {
	case res.Invalid != "":
		return nil, fmt.Errorf("%w: %q: %s", dom.ErrInvalidSelector, selector, res.Invalid)
	case res.Blocked:
		return nil, fmt.Errorf("iframe %q is not same origin", selector)
	case res.Ref == 0:
		return nil, fmt.Errorf("no iframe matches %q", selector)
	}
	return &Page{
		id:     p.id,
		drv:    p.drv,
		root:   fmt.Sprintf("pp.frame(%d)", res.Ref),
		frame:  true,
		logger: p.logger.With(zap.String("frame", selector)),
	}, nil
}

// dismissDialogs accepts alert, confirm and prompt dialogs so a click that
// opens one does not stall script evaluation.
func dismissDialogs(tab context.Context, logger *zap.Logger) {
	chromedp.ListenTarget(tab, func(ev any) {
		e, ok := ev.(*page.EventJavascriptDialogOpening)
		if !ok {
			return
		}
		logger.Debug("Accepting JavaScript dialog", zap.String("type", string(e.Type)), zap.String("message", e.Message))
		go func() {
			if err := chromedp.Run(tab, page.HandleJavaScriptDialog(true)); err != nil && tab.Err() == nil {
				logger.Warn("Failed to handle JavaScript dialog", zap.Error(err))
			}
		}()
	})
}
