package automation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/automation"
	"github.com/xkilldash9x/pagepilot/internal/browser/dom"
	"github.com/xkilldash9x/pagepilot/internal/browser/htmldoc"
	"github.com/xkilldash9x/pagepilot/internal/config"
)

const checkoutPage = `<html><head><title>Checkout</title></head><body>
  <button id="submit">Go</button>
  <button class="x" style="display:none">Hidden</button>
  <form>
    <input id="email" name="email">
    <select id="country"><option value="us">United States</option><option value="fr">France</option></select>
    <button type="button" class="pay">Pay now!</button>
  </form>
  <a id="docs" href="/docs">Docs</a>
</body></html>`

// testAutomationConfig keeps every delay at zero so tests run instantly.
func testAutomationConfig() config.AutomationConfig {
	return config.AutomationConfig{
		MaxSteps:     10,
		ScrollAmount: 500,
		WaitDuration: 0,
	}
}

func newTestExecutor(t *testing.T) *automation.Executor {
	t.Helper()
	return automation.NewExecutor(zaptest.NewLogger(t), testAutomationConfig())
}

func newCheckoutDoc(t *testing.T) *htmldoc.Document {
	t.Helper()
	doc, err := htmldoc.ParseString(checkoutPage, htmldoc.WithURL("https://shop.example.com/checkout"), htmldoc.WithViewport(800, 600))
	require.NoError(t, err)
	return doc
}

func eventTypes(doc *htmldoc.Document) []string {
	var out []string
	for _, ev := range doc.Events() {
		out = append(out, ev.Type)
	}
	return out
}

func TestExecute_ClickFiresHandler(t *testing.T) {
	doc := newCheckoutDoc(t)
	clicked := 0
	require.NoError(t, doc.AddEventListener("#submit", "click", func(*htmldoc.Event) { clicked++ }))

	res, err := newTestExecutor(t).Execute(context.Background(),
		&schemas.AutomationAction{Type: schemas.ActionClick, Selector: "#submit"}, doc)

	require.NoError(t, err)
	assert.Equal(t, &schemas.ExecutionResult{Success: true, Action: schemas.ActionClick, Selector: "#submit"}, res)
	assert.Equal(t, 1, clicked)
}

func TestExecute_ClickFallsBackToText(t *testing.T) {
	testCases := []struct {
		name     string
		selector string
		wantTag  string
	}{
		{"valid selector with no match", "Go", "button"},
		{"unparseable selector", "Pay now!", "button"},
		{"link text", "Docs", "a"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			doc := newCheckoutDoc(t)
			var target string
			require.NoError(t, doc.AddEventListener("button, a", "click", func(ev *htmldoc.Event) {
				target = ev.Target.TagName() + ":" + ev.Target.Text()
			}))

			res, err := newTestExecutor(t).Execute(context.Background(),
				&schemas.AutomationAction{Type: schemas.ActionClick, Selector: tc.selector}, doc)

			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, tc.wantTag+":"+tc.selector, target)
		})
	}
}

func TestExecute_ElementNotFound(t *testing.T) {
	doc := newCheckoutDoc(t)

	_, err := newTestExecutor(t).Execute(context.Background(),
		&schemas.AutomationAction{Type: schemas.ActionClick, Selector: "#missing"}, doc)

	require.Error(t, err)
	assert.Equal(t, "Element not found: #missing", err.Error())
	assert.ErrorIs(t, err, automation.ErrElementNotFound)
	assert.Empty(t, doc.Events(), "nothing may be dispatched for a missing target")
}

func TestExecute_ClickScrollsIntoView(t *testing.T) {
	doc, err := htmldoc.ParseString(`<body><button id="far" style="top:2000px">Far</button></body>`, htmldoc.WithViewport(800, 600))
	require.NoError(t, err)

	_, err = newTestExecutor(t).Execute(context.Background(),
		&schemas.AutomationAction{Type: schemas.ActionClick, Selector: "#far"}, doc)
	require.NoError(t, err)

	info, err := doc.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2000+10-300, info.Viewport.ScrollY)
}

func TestExecute_Input(t *testing.T) {
	for _, actionType := range []schemas.ActionType{schemas.ActionInput, schemas.ActionTypeText} {
		t.Run(string(actionType), func(t *testing.T) {
			doc := newCheckoutDoc(t)
			var seen []string
			require.NoError(t, doc.AddEventListener("#email", "input", func(ev *htmldoc.Event) {
				seen = append(seen, ev.Target.Value())
			}))

			res, err := newTestExecutor(t).Execute(context.Background(), &schemas.AutomationAction{
				Type: actionType, Selector: "#email", Value: "ada@example.com",
			}, doc)

			require.NoError(t, err)
			assert.Equal(t, &schemas.ExecutionResult{
				Success: true, Action: actionType, Selector: "#email", Value: "ada@example.com",
			}, res)
			assert.Equal(t, []string{"focus", "input", "change"}, eventTypes(doc))
			assert.Equal(t, []string{"ada@example.com"}, seen, "listeners observe the new value")
			require.NotNil(t, doc.Focused())
			assert.Equal(t, "email", doc.Focused().ID())
		})
	}
}

func TestExecute_InputWithoutValueClears(t *testing.T) {
	doc, err := htmldoc.ParseString(`<body><input id="q" value="old"></body>`)
	require.NoError(t, err)

	_, err = newTestExecutor(t).Execute(context.Background(),
		&schemas.AutomationAction{Type: schemas.ActionInput, Selector: "#q"}, doc)
	require.NoError(t, err)

	els, err := doc.QueryAll(context.Background(), "#q")
	require.NoError(t, err)
	assert.Equal(t, "", els[0].Value())
}

func TestExecute_Select(t *testing.T) {
	t.Run("sets the option and fires change", func(t *testing.T) {
		doc := newCheckoutDoc(t)
		res, err := newTestExecutor(t).Execute(context.Background(),
			&schemas.AutomationAction{Type: schemas.ActionSelect, Selector: "#country", Value: "fr"}, doc)

		require.NoError(t, err)
		assert.Equal(t, "fr", res.Value)
		assert.Equal(t, []string{"change"}, eventTypes(doc))
		els, err := doc.QueryAll(context.Background(), "#country")
		require.NoError(t, err)
		assert.Equal(t, "fr", els[0].Value())
	})

	t.Run("rejects other elements", func(t *testing.T) {
		doc := newCheckoutDoc(t)
		_, err := newTestExecutor(t).Execute(context.Background(),
			&schemas.AutomationAction{Type: schemas.ActionSelect, Selector: "#email", Value: "fr"}, doc)

		require.Error(t, err)
		assert.Equal(t, "element is not a select: input", err.Error())
		assert.Empty(t, doc.Events())
	})
}

func TestExecute_Scroll(t *testing.T) {
	intPtr := func(v int) *int { return &v }

	testCases := []struct {
		name       string
		action     schemas.AutomationAction
		start      [2]int
		wantScroll [2]int
		wantResult schemas.ExecutionResult
	}{
		{
			name:       "absolute coordinates",
			action:     schemas.AutomationAction{Type: schemas.ActionScroll, X: intPtr(0), Y: intPtr(250), Direction: "down"},
			wantScroll: [2]int{0, 250},
			wantResult: schemas.ExecutionResult{Success: true, Action: schemas.ActionScroll, X: intPtr(0), Y: intPtr(250)},
		},
		{
			name:       "default direction and amount",
			action:     schemas.AutomationAction{Type: schemas.ActionScroll},
			wantScroll: [2]int{0, 500},
			wantResult: schemas.ExecutionResult{Success: true, Action: schemas.ActionScroll, Direction: "down", Amount: 500},
		},
		{
			name:       "up with explicit amount",
			action:     schemas.AutomationAction{Type: schemas.ActionScroll, Direction: "Up", Amount: 200},
			start:      [2]int{0, 900},
			wantScroll: [2]int{0, 700},
			wantResult: schemas.ExecutionResult{Success: true, Action: schemas.ActionScroll, Direction: "up", Amount: 200},
		},
		{
			name:       "right",
			action:     schemas.AutomationAction{Type: schemas.ActionScroll, Direction: "right"},
			wantScroll: [2]int{500, 0},
			wantResult: schemas.ExecutionResult{Success: true, Action: schemas.ActionScroll, Direction: "right", Amount: 500},
		},
		{
			name:       "left clamps at the origin",
			action:     schemas.AutomationAction{Type: schemas.ActionScroll, Direction: "left"},
			start:      [2]int{100, 0},
			wantScroll: [2]int{0, 0},
			wantResult: schemas.ExecutionResult{Success: true, Action: schemas.ActionScroll, Direction: "left", Amount: 500},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			doc := newCheckoutDoc(t)
			require.NoError(t, doc.ScrollTo(ctx, tc.start[0], tc.start[1]))

			res, err := newTestExecutor(t).Execute(ctx, &tc.action, doc)
			require.NoError(t, err)
			assert.Equal(t, &tc.wantResult, res)

			info, err := doc.Info(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.wantScroll, [2]int{info.Viewport.ScrollX, info.Viewport.ScrollY})
		})
	}

	t.Run("unknown direction", func(t *testing.T) {
		_, err := newTestExecutor(t).Execute(context.Background(),
			&schemas.AutomationAction{Type: schemas.ActionScroll, Direction: "sideways"}, newCheckoutDoc(t))
		assert.ErrorContains(t, err, `unknown scroll direction: "sideways"`)
	})
}

func TestExecute_Wait(t *testing.T) {
	exec := newTestExecutor(t)

	start := time.Now()
	res, err := exec.Execute(context.Background(), &schemas.AutomationAction{Type: schemas.ActionWait, Duration: 20}, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, &schemas.ExecutionResult{Success: true, Action: schemas.ActionWait, Duration: 20}, res)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = exec.Execute(ctx, &schemas.AutomationAction{Type: schemas.ActionWait, Duration: 60_000}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_WaitUsesConfiguredDefault(t *testing.T) {
	cfg := testAutomationConfig()
	cfg.WaitDuration = 15 * time.Millisecond
	exec := automation.NewExecutor(zaptest.NewLogger(t), cfg)

	res, err := exec.Execute(context.Background(), &schemas.AutomationAction{Type: schemas.ActionWait}, nil)
	require.NoError(t, err)
	assert.Equal(t, 15, res.Duration)
}

func TestExecute_Navigate(t *testing.T) {
	doc := newCheckoutDoc(t)
	exec := newTestExecutor(t)

	res, err := exec.Execute(context.Background(), &schemas.AutomationAction{Type: schemas.ActionNavigate, URL: "/cart"}, doc)
	require.NoError(t, err)
	assert.Equal(t, "/cart", res.URL)

	info, err := doc.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/cart", info.URL)

	_, err = exec.Execute(context.Background(), &schemas.AutomationAction{Type: schemas.ActionNavigate}, doc)
	assert.EqualError(t, err, "navigate action requires a url")
}

func TestExecute_RejectedActions(t *testing.T) {
	exec := newTestExecutor(t)
	doc := newCheckoutDoc(t)

	testCases := []struct {
		name   string
		action *schemas.AutomationAction
		doc    dom.Document
		want   string
	}{
		{"nil action", nil, doc, "cannot execute a nil action"},
		{"complete", &schemas.AutomationAction{Type: schemas.ActionComplete}, doc, "complete actions are terminal"},
		{"error", &schemas.AutomationAction{Type: schemas.ActionError}, doc, "error actions are terminal"},
		{"unknown", &schemas.AutomationAction{Type: "hover", Selector: "#submit"}, doc, `unsupported action type: "hover"`},
		{"missing selector", &schemas.AutomationAction{Type: schemas.ActionClick}, doc, "action requires a selector"},
		{"no document", &schemas.AutomationAction{Type: schemas.ActionClick, Selector: "#submit"}, nil, "no document attached"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := exec.Execute(context.Background(), tc.action, tc.doc)
			assert.Nil(t, res)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
	assert.Empty(t, doc.Events())
}

func TestExecute_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestExecutor(t).Execute(ctx, &schemas.AutomationAction{Type: schemas.ActionClick, Selector: "#submit"}, newCheckoutDoc(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
