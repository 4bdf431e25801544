package automation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/automation"
	"github.com/xkilldash9x/pagepilot/internal/browser/htmldoc"
)

const submitPage = `<button id="submit">Go</button><button class="x" style="display:none">Hidden</button>`

func newSubmitDoc(t *testing.T) *htmldoc.Document {
	t.Helper()
	doc, err := htmldoc.ParseString(submitPage)
	require.NoError(t, err)
	return doc
}

func scrollDown() *schemas.AutomationAction {
	return &schemas.AutomationAction{Type: schemas.ActionScroll, Direction: "down", Reasoning: "look further"}
}

func TestRunStep_CompleteDoesNotExecute(t *testing.T) {
	inferrer := new(MockInferrer)
	exec := new(MockExecutor)
	doc := newSubmitDoc(t)

	onlySubmit := mock.MatchedBy(func(req *schemas.InferenceRequest) bool {
		return req.Prompt == "press go" &&
			len(req.DOMState.Elements) == 1 &&
			req.DOMState.Elements[0].Selector == "#submit" &&
			req.History == nil
	})
	inferrer.On("Infer", mock.Anything, onlySubmit).Return(&schemas.AutomationAction{
		Type: schemas.ActionComplete, Message: "Already done", Reasoning: "confirmation visible",
	}, nil).Once()

	runner := automation.NewRunner(inferrer, exec, testAutomationConfig(), zaptest.NewLogger(t))
	res := runner.RunStep(context.Background(), "press go", doc)

	assert.True(t, res.Success)
	assert.True(t, res.Complete)
	assert.Equal(t, "Already done", res.Message)
	assert.Equal(t, "confirmation visible", res.Reasoning)
	assert.Nil(t, res.Result)
	assert.False(t, res.Timestamp.IsZero())
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, doc.Events(), "the page is not touched")
	inferrer.AssertExpectations(t)
}

func TestRunStep_ErrorAction(t *testing.T) {
	inferrer := new(MockInferrer)
	exec := new(MockExecutor)
	inferrer.On("Infer", mock.Anything, mock.Anything).Return(&schemas.AutomationAction{
		Type: schemas.ActionError, Message: "The page requires a login",
	}, nil)

	res := automation.NewRunner(inferrer, exec, testAutomationConfig(), zaptest.NewLogger(t)).
		RunStep(context.Background(), "buy", newSubmitDoc(t))

	assert.False(t, res.Success)
	assert.False(t, res.Complete)
	assert.Equal(t, "The page requires a login", res.Error)
	require.NotNil(t, res.Action)
	assert.Equal(t, schemas.ActionError, res.Action.Type)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunStep_InferenceFailures(t *testing.T) {
	testCases := []struct {
		name    string
		action  *schemas.AutomationAction
		err     error
		wantErr string
	}{
		{"no action", nil, automation.ErrNoAction, "no action returned from AI"},
		{"nil without error", nil, nil, "no action returned from AI"},
		{"transport", nil, errors.New("inference request failed: connection refused"), "inference request failed: connection refused"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inferrer := new(MockInferrer)
			inferrer.On("Infer", mock.Anything, mock.Anything).Return(tc.action, tc.err)

			res := automation.NewRunner(inferrer, new(MockExecutor), testAutomationConfig(), zaptest.NewLogger(t)).
				RunStep(context.Background(), "anything", newSubmitDoc(t))

			assert.False(t, res.Success)
			assert.Equal(t, tc.wantErr, res.Error)
			assert.Nil(t, res.Action)
		})
	}
}

func TestRunStep_ClicksThroughExecutor(t *testing.T) {
	doc := newSubmitDoc(t)
	fired := false
	require.NoError(t, doc.AddEventListener("#submit", "click", func(*htmldoc.Event) { fired = true }))

	inferrer := new(MockInferrer)
	click := &schemas.AutomationAction{Type: schemas.ActionClick, Selector: "#submit", Reasoning: "the only button"}
	inferrer.On("Infer", mock.Anything, mock.Anything).Return(click, nil)

	res := automation.NewRunner(inferrer, newTestExecutor(t), testAutomationConfig(), zaptest.NewLogger(t)).
		RunStep(context.Background(), "press go", doc)

	require.True(t, res.Success, res.Error)
	assert.False(t, res.Complete)
	assert.Same(t, click, res.Action)
	assert.Equal(t, "the only button", res.Reasoning)
	assert.Equal(t, &schemas.ExecutionResult{Success: true, Action: schemas.ActionClick, Selector: "#submit"}, res.Result)
	assert.True(t, fired)
}

func TestRunStep_ExecutionFailure(t *testing.T) {
	inferrer := new(MockInferrer)
	inferrer.On("Infer", mock.Anything, mock.Anything).Return(&schemas.AutomationAction{Type: schemas.ActionClick, Selector: "#nope"}, nil)

	res := automation.NewRunner(inferrer, newTestExecutor(t), testAutomationConfig(), zaptest.NewLogger(t)).
		RunStep(context.Background(), "press it", newSubmitDoc(t))

	assert.False(t, res.Success)
	assert.Equal(t, "Element not found: #nope", res.Error)
	require.NotNil(t, res.Action)
	assert.Equal(t, "#nope", res.Action.Selector)
}

func TestRunStep_NoDocument(t *testing.T) {
	inferrer := new(MockInferrer)
	res := automation.NewRunner(inferrer, new(MockExecutor), testAutomationConfig(), zaptest.NewLogger(t)).
		RunStep(context.Background(), "anything", nil)

	assert.False(t, res.Success)
	assert.Equal(t, "no document attached", res.Error)
	inferrer.AssertNotCalled(t, "Infer", mock.Anything, mock.Anything)
}

func TestRunStep_RecoversFromPanic(t *testing.T) {
	inferrer := new(MockInferrer)
	inferrer.On("Infer", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })

	var res *schemas.StepResult
	require.NotPanics(t, func() {
		res = automation.NewRunner(inferrer, new(MockExecutor), testAutomationConfig(), zaptest.NewLogger(t)).
			RunStep(context.Background(), "anything", newSubmitDoc(t))
	})
	assert.False(t, res.Success)
	assert.Equal(t, "internal error: boom", res.Error)
}

func TestRunWorkflow_StopsAtMaxSteps(t *testing.T) {
	inferrer := new(MockInferrer)
	exec := new(MockExecutor)
	inferrer.On("Infer", mock.Anything, mock.Anything).Return(scrollDown(), nil)
	exec.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(&schemas.ExecutionResult{Success: true, Action: schemas.ActionScroll}, nil)

	wf := automation.NewRunner(inferrer, exec, testAutomationConfig(), zaptest.NewLogger(t)).
		RunWorkflow(context.Background(), "find the footer", 3, newSubmitDoc(t))

	inferrer.AssertNumberOfCalls(t, "Infer", 3)
	exec.AssertNumberOfCalls(t, "Execute", 3)
	assert.Equal(t, 3, wf.TotalSteps)
	assert.Len(t, wf.Steps, 3)
	assert.False(t, wf.IsComplete)
	assert.True(t, wf.Success, "the last step succeeded")
	assert.Equal(t, "find the footer", wf.TaskPrompt)
	assert.NotEmpty(t, wf.RunID)
	assert.False(t, wf.CompletedAt.IsZero())
}

func TestRunWorkflow_CompletesEarly(t *testing.T) {
	inferrer := new(MockInferrer)
	exec := new(MockExecutor)
	inferrer.On("Infer", mock.Anything, mock.Anything).Return(scrollDown(), nil).Once()
	inferrer.On("Infer", mock.Anything, mock.Anything).Return(&schemas.AutomationAction{Type: schemas.ActionComplete, Message: "found it"}, nil).Once()
	exec.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(&schemas.ExecutionResult{Success: true, Action: schemas.ActionScroll}, nil).Once()

	wf := automation.NewRunner(inferrer, exec, testAutomationConfig(), zaptest.NewLogger(t)).
		RunWorkflow(context.Background(), "find the footer", 10, newSubmitDoc(t))

	assert.True(t, wf.Success)
	assert.True(t, wf.IsComplete)
	assert.Equal(t, 2, wf.TotalSteps)
	assert.Equal(t, "found it", wf.Steps[1].Message)
	inferrer.AssertExpectations(t)
	exec.AssertExpectations(t)
}

func TestRunWorkflow_StopsOnFailure(t *testing.T) {
	inferrer := new(MockInferrer)
	inferrer.On("Infer", mock.Anything, mock.Anything).Return(&schemas.AutomationAction{Type: schemas.ActionClick, Selector: "#missing"}, nil)

	wf := automation.NewRunner(inferrer, newTestExecutor(t), testAutomationConfig(), zaptest.NewLogger(t)).
		RunWorkflow(context.Background(), "click the thing", 5, newSubmitDoc(t))

	inferrer.AssertNumberOfCalls(t, "Infer", 1)
	assert.False(t, wf.Success)
	assert.False(t, wf.IsComplete)
	require.Len(t, wf.Steps, 1)
	assert.Equal(t, "Element not found: #missing", wf.Steps[0].Error)
}

func TestRunWorkflow_DefaultMaxSteps(t *testing.T) {
	testCases := []struct {
		name       string
		configured int
		want       int
	}{
		{"configured default", 4, 4},
		{"built-in default", 0, automation.DefaultMaxSteps},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inferrer := new(MockInferrer)
			exec := new(MockExecutor)
			inferrer.On("Infer", mock.Anything, mock.Anything).Return(scrollDown(), nil)
			exec.On("Execute", mock.Anything, mock.Anything, mock.Anything).
				Return(&schemas.ExecutionResult{Success: true, Action: schemas.ActionScroll}, nil)

			cfg := testAutomationConfig()
			cfg.MaxSteps = tc.configured
			wf := automation.NewRunner(inferrer, exec, cfg, zaptest.NewLogger(t)).
				RunWorkflow(context.Background(), "keep scrolling", 0, newSubmitDoc(t))

			inferrer.AssertNumberOfCalls(t, "Infer", tc.want)
			assert.Equal(t, tc.want, wf.TotalSteps)
		})
	}
}

func TestRunWorkflow_History(t *testing.T) {
	run := func(t *testing.T, opts ...automation.RunnerOption) []*schemas.InferenceRequest {
		var requests []*schemas.InferenceRequest
		inferrer := new(MockInferrer)
		exec := new(MockExecutor)
		inferrer.On("Infer", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { requests = append(requests, args.Get(1).(*schemas.InferenceRequest)) }).
			Return(scrollDown(), nil)
		exec.On("Execute", mock.Anything, mock.Anything, mock.Anything).
			Return(&schemas.ExecutionResult{Success: true, Action: schemas.ActionScroll}, nil)

		automation.NewRunner(inferrer, exec, testAutomationConfig(), zaptest.NewLogger(t), opts...).
			RunWorkflow(context.Background(), "scroll", 3, newSubmitDoc(t))
		require.Len(t, requests, 3)
		return requests
	}

	t.Run("off by default", func(t *testing.T) {
		for _, req := range run(t) {
			assert.Nil(t, req.History)
		}
	})

	t.Run("summarizes earlier steps", func(t *testing.T) {
		requests := run(t, automation.WithHistory(true))
		assert.Empty(t, requests[0].History)
		assert.Equal(t, []schemas.StepSummary{
			{Action: schemas.ActionScroll, Target: "down", Success: true},
		}, requests[1].History)
		assert.Len(t, requests[2].History, 2)
	})
}

func TestRunWorkflow_Recorder(t *testing.T) {
	inferrer := new(MockInferrer)
	recorder := new(MockRecorder)
	inferrer.On("Infer", mock.Anything, mock.Anything).Return(&schemas.AutomationAction{Type: schemas.ActionComplete}, nil)
	recorder.On("SaveWorkflow", mock.Anything, mock.MatchedBy(func(wf *schemas.WorkflowResult) bool {
		return wf.IsComplete && wf.TotalSteps == 1
	})).Return(errors.New("database unavailable")).Once()

	wf := automation.NewRunner(inferrer, new(MockExecutor), testAutomationConfig(), zaptest.NewLogger(t),
		automation.WithRecorder(recorder)).
		RunWorkflow(context.Background(), "done already", 3, newSubmitDoc(t))

	assert.True(t, wf.Success, "a recording failure does not change the outcome")
	recorder.AssertExpectations(t)
}

func TestRunWorkflow_CancelledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inferrer := new(MockInferrer)
	exec := new(MockExecutor)
	inferrer.On("Infer", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(scrollDown(), nil)
	exec.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(&schemas.ExecutionResult{Success: true, Action: schemas.ActionScroll}, nil)

	cfg := testAutomationConfig()
	cfg.StepDelay = time.Hour
	wf := automation.NewRunner(inferrer, exec, cfg, zaptest.NewLogger(t)).
		RunWorkflow(ctx, "scroll", 5, newSubmitDoc(t))

	inferrer.AssertNumberOfCalls(t, "Infer", 1)
	require.Len(t, wf.Steps, 2)
	assert.Equal(t, "workflow cancelled: context canceled", wf.Steps[1].Error)
	assert.False(t, wf.Success)
}
