// internal/automation/executor.go
package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/browser/dom"
	"github.com/xkilldash9x/pagepilot/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrElementNotFound is wrapped with the selector that failed to resolve.
	ErrElementNotFound = errors.New("Element not found")
	// ErrNoDocument is returned when an action needs a page and none is attached.
	ErrNoDocument = errors.New("no document attached")
)

// actionHandler performs one action type and fills in the echoed fields of res.
type actionHandler func(ctx context.Context, doc dom.Document, action *schemas.AutomationAction, res *schemas.ExecutionResult) error

// Executor applies AutomationActions to a document. It is the only component
// that mutates the page.
type Executor struct {
	logger   *zap.Logger
	cfg      config.AutomationConfig
	handlers map[schemas.ActionType]actionHandler
}

// NewExecutor builds an executor with the configured settle delay, scroll
// magnitude and default wait.
func NewExecutor(logger *zap.Logger, cfg config.AutomationConfig) *Executor {
	e := &Executor{
		logger:   logger.Named("executor"),
		cfg:      cfg,
		handlers: make(map[schemas.ActionType]actionHandler),
	}
	e.registerHandlers()
	return e
}

func (e *Executor) registerHandlers() {
	e.handlers[schemas.ActionClick] = e.handleClick
	e.handlers[schemas.ActionInput] = e.handleInput
	e.handlers[schemas.ActionTypeText] = e.handleInput
	e.handlers[schemas.ActionSelect] = e.handleSelect
	e.handlers[schemas.ActionScroll] = e.handleScroll
	e.handlers[schemas.ActionWait] = e.handleWait
	e.handlers[schemas.ActionNavigate] = e.handleNavigate
}

// Execute runs action against doc. On success the result echoes the action
// type and the fields that were used. Terminal and unknown action types are
// rejected.
func (e *Executor) Execute(ctx context.Context, action *schemas.AutomationAction, doc dom.Document) (*schemas.ExecutionResult, error) {
	if action == nil {
		return nil, errors.New("cannot execute a nil action")
	}
	if action.Type.IsTerminal() {
		return nil, fmt.Errorf("%s actions are terminal and cannot be executed", action.Type)
	}
	handler, ok := e.handlers[action.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported action type: %q", action.Type)
	}
	// wait is the only action that does not touch the page.
	if doc == nil && action.Type != schemas.ActionWait {
		return nil, fmt.Errorf("cannot execute %s: %w", action.Type, ErrNoDocument)
	}

	e.logger.Debug("Executing action",
		zap.String("type", string(action.Type)),
		zap.String("selector", action.Selector))

	res := &schemas.ExecutionResult{Action: action.Type}
	if err := handler(ctx, doc, action, res); err != nil {
		e.logger.Debug("Action failed", zap.String("type", string(action.Type)), zap.Error(err))
		return nil, err
	}
	res.Success = true
	return res, nil
}

// -- Action Handlers --

func (e *Executor) handleClick(ctx context.Context, doc dom.Document, action *schemas.AutomationAction, res *schemas.ExecutionResult) error {
	el, err := e.resolve(ctx, doc, action.Selector)
	if err != nil {
		return err
	}
	if err := e.bringIntoView(ctx, doc, el); err != nil {
		return err
	}
	if err := doc.Click(ctx, el); err != nil {
		return fmt.Errorf("click on %q failed: %w", action.Selector, err)
	}
	res.Selector = action.Selector
	return nil
}

func (e *Executor) handleInput(ctx context.Context, doc dom.Document, action *schemas.AutomationAction, res *schemas.ExecutionResult) error {
	el, err := e.resolve(ctx, doc, action.Selector)
	if err != nil {
		return err
	}
	if err := e.bringIntoView(ctx, doc, el); err != nil {
		return err
	}
	if err := doc.Focus(ctx, el); err != nil {
		return fmt.Errorf("focus on %q failed: %w", action.Selector, err)
	}
	if err := doc.SetValue(ctx, el, action.Value); err != nil {
		return fmt.Errorf("setting value on %q failed: %w", action.Selector, err)
	}
	// Framework-bound listeners only observe programmatic changes through events.
	for _, evt := range []string{"input", "change"} {
		if err := doc.DispatchEvent(ctx, el, evt); err != nil {
			return fmt.Errorf("dispatching %s on %q failed: %w", evt, action.Selector, err)
		}
	}
	res.Selector = action.Selector
	res.Value = action.Value
	return nil
}

func (e *Executor) handleSelect(ctx context.Context, doc dom.Document, action *schemas.AutomationAction, res *schemas.ExecutionResult) error {
	el, err := e.resolve(ctx, doc, action.Selector)
	if err != nil {
		return err
	}
	if tag := el.TagName(); tag != "select" {
		return fmt.Errorf("element is not a select: %s", tag)
	}
	if err := doc.SetValue(ctx, el, action.Value); err != nil {
		return fmt.Errorf("selecting %q on %q failed: %w", action.Value, action.Selector, err)
	}
	if err := doc.DispatchEvent(ctx, el, "change"); err != nil {
		return fmt.Errorf("dispatching change on %q failed: %w", action.Selector, err)
	}
	res.Selector = action.Selector
	res.Value = action.Value
	return nil
}

func (e *Executor) handleScroll(ctx context.Context, doc dom.Document, action *schemas.AutomationAction, res *schemas.ExecutionResult) error {
	if action.X != nil || action.Y != nil {
		x, y := 0, 0
		if action.X != nil {
			x = *action.X
		}
		if action.Y != nil {
			y = *action.Y
		}
		if err := doc.ScrollTo(ctx, x, y); err != nil {
			return fmt.Errorf("scroll to (%d, %d) failed: %w", x, y, err)
		}
		res.X, res.Y = action.X, action.Y
		return nil
	}

	amount := action.Amount
	if amount <= 0 {
		amount = e.cfg.ScrollAmount
	}
	direction := strings.ToLower(strings.TrimSpace(action.Direction))
	if direction == "" {
		direction = "down"
	}
	var dx, dy int
	switch direction {
	case "down":
		dy = amount
	case "up":
		dy = -amount
	case "right":
		dx = amount
	case "left":
		dx = -amount
	default:
		return fmt.Errorf("unknown scroll direction: %q", action.Direction)
	}
	if err := doc.ScrollBy(ctx, dx, dy); err != nil {
		return fmt.Errorf("scroll %s failed: %w", direction, err)
	}
	res.Direction = direction
	res.Amount = amount
	return nil
}

func (e *Executor) handleWait(ctx context.Context, _ dom.Document, action *schemas.AutomationAction, res *schemas.ExecutionResult) error {
	d := e.cfg.WaitDuration
	if action.Duration > 0 {
		d = time.Duration(action.Duration) * time.Millisecond
	}
	if err := sleep(ctx, d); err != nil {
		return err
	}
	res.Duration = int(d / time.Millisecond)
	return nil
}

func (e *Executor) handleNavigate(ctx context.Context, doc dom.Document, action *schemas.AutomationAction, res *schemas.ExecutionResult) error {
	if strings.TrimSpace(action.URL) == "" {
		return errors.New("navigate action requires a url")
	}
	if err := doc.Navigate(ctx, action.URL); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", action.URL, err)
	}
	res.URL = action.URL
	return nil
}

// -- Helpers --

// resolve finds the element a selector refers to. The string is tried as a
// CSS selector first; when it does not parse or matches nothing it is taken
// as the exact visible text of the element.
func (e *Executor) resolve(ctx context.Context, doc dom.Document, selector string) (dom.Element, error) {
	if strings.TrimSpace(selector) == "" {
		return nil, errors.New("action requires a selector")
	}

	els, err := doc.QueryAll(ctx, selector)
	switch {
	case err == nil && len(els) > 0:
		return els[0], nil
	case err != nil && !errors.Is(err, dom.ErrInvalidSelector):
		return nil, fmt.Errorf("resolving %q: %w", selector, err)
	}

	el, err := doc.FindByText(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("resolving %q by text: %w", selector, err)
	}
	if el == nil {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	e.logger.Debug("Resolved element by text content", zap.String("text", selector))
	return el, nil
}

func (e *Executor) bringIntoView(ctx context.Context, doc dom.Document, el dom.Element) error {
	if err := doc.ScrollIntoView(ctx, el); err != nil {
		return fmt.Errorf("scroll into view failed: %w", err)
	}
	return sleep(ctx, e.cfg.SettleDelay)
}

// sleep pauses for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
