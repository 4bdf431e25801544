// internal/automation/runner.go
package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/browser/dom"
	"github.com/xkilldash9x/pagepilot/internal/config"
)

// DefaultMaxSteps bounds a workflow when neither the caller nor the
// configuration does.
const DefaultMaxSteps = 10

// ActionExecutor applies a single non-terminal action to a page.
type ActionExecutor interface {
	Execute(ctx context.Context, action *schemas.AutomationAction, doc dom.Document) (*schemas.ExecutionResult, error)
}

// Recorder receives every finished workflow.
type Recorder interface {
	SaveWorkflow(ctx context.Context, result *schemas.WorkflowResult) error
}

// Runner drives the capture, infer and execute loop.
type Runner struct {
	inferrer Inferrer
	executor ActionExecutor
	cfg      config.AutomationConfig
	logger   *zap.Logger
	recorder Recorder
	history  bool
	now      func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithRecorder hands each finished workflow to r.
func WithRecorder(r Recorder) RunnerOption {
	return func(rn *Runner) { rn.recorder = r }
}

// WithHistory overrides automation.include_history.
func WithHistory(enabled bool) RunnerOption {
	return func(rn *Runner) { rn.history = enabled }
}

// NewRunner wires an inferrer and an executor together.
func NewRunner(inferrer Inferrer, executor ActionExecutor, cfg config.AutomationConfig, logger *zap.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		inferrer: inferrer,
		executor: executor,
		cfg:      cfg,
		logger:   logger.Named("automation"),
		history:  cfg.IncludeHistory,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunStep captures doc, asks for the next action and applies it. It never
// returns an error; failures are reported in the result.
func (r *Runner) RunStep(ctx context.Context, prompt string, doc dom.Document) *schemas.StepResult {
	return r.runStep(ctx, prompt, doc, nil)
}

func (r *Runner) runStep(ctx context.Context, prompt string, doc dom.Document, history []schemas.StepSummary) (result *schemas.StepResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Recovered from panic during automation step", zap.Any("panic", p))
			result = r.failed(nil, fmt.Sprintf("internal error: %v", p))
		}
	}()

	if doc == nil {
		return r.failed(nil, ErrNoDocument.Error())
	}
	snapshot, err := dom.Capture(ctx, doc)
	if err != nil {
		return r.failed(nil, fmt.Sprintf("failed to capture page: %v", err))
	}

	action, err := r.inferrer.Infer(ctx, &schemas.InferenceRequest{
		DOMState: snapshot,
		Prompt:   prompt,
		History:  history,
	})
	if err != nil {
		return r.failed(nil, err.Error())
	}
	if action == nil {
		return r.failed(nil, ErrNoAction.Error())
	}

	r.logger.Debug("Model chose action",
		zap.String("type", string(action.Type)),
		zap.String("selector", action.Selector),
		zap.String("reasoning", action.Reasoning))

	switch action.Type {
	case schemas.ActionComplete:
		return &schemas.StepResult{
			Success:   true,
			Complete:  true,
			Action:    action,
			Message:   action.Message,
			Reasoning: action.Reasoning,
			Timestamp: r.now(),
		}
	case schemas.ActionError:
		reason := action.Message
		if reason == "" {
			reason = "model reported that the task cannot be completed"
		}
		res := r.failed(action, reason)
		res.Message = action.Message
		return res
	}

	execResult, err := r.executor.Execute(ctx, action, doc)
	if err != nil {
		return r.failed(action, err.Error())
	}
	return &schemas.StepResult{
		Success:   true,
		Action:    action,
		Reasoning: action.Reasoning,
		Result:    execResult,
		Timestamp: r.now(),
	}
}

func (r *Runner) failed(action *schemas.AutomationAction, msg string) *schemas.StepResult {
	res := &schemas.StepResult{
		Success:   false,
		Action:    action,
		Error:     msg,
		Timestamp: r.now(),
	}
	if action != nil {
		res.Reasoning = action.Reasoning
	}
	return res
}

// RunWorkflow repeats RunStep with the same prompt until the model reports
// completion, a step fails, or maxSteps inference calls have been made.
// maxSteps <= 0 uses the configured default. The full step log is always
// returned.
func (r *Runner) RunWorkflow(ctx context.Context, prompt string, maxSteps int, doc dom.Document) *schemas.WorkflowResult {
	if maxSteps <= 0 {
		maxSteps = r.cfg.MaxSteps
	}
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	wf := &schemas.WorkflowResult{
		RunID:      uuid.NewString(),
		TaskPrompt: prompt,
		Steps:      make([]schemas.StepResult, 0, maxSteps),
	}
	logger := r.logger.With(zap.String("run_id", wf.RunID))
	logger.Info("Starting workflow", zap.String("task", prompt), zap.Int("max_steps", maxSteps))

	var history []schemas.StepSummary
	for step := 0; step < maxSteps; step++ {
		res := r.runStep(ctx, prompt, doc, history)
		wf.Steps = append(wf.Steps, *res)
		if r.history {
			history = append(history, summarize(res))
		}

		if res.Complete {
			wf.IsComplete = true
			break
		}
		if !res.Success {
			logger.Warn("Workflow step failed", zap.Int("step", step+1), zap.String("error", res.Error))
			break
		}
		if step == maxSteps-1 {
			break
		}
		if err := sleep(ctx, r.cfg.StepDelay); err != nil {
			wf.Steps = append(wf.Steps, *r.failed(nil, fmt.Sprintf("workflow cancelled: %v", err)))
			break
		}
	}

	wf.TotalSteps = len(wf.Steps)
	switch {
	case wf.IsComplete:
		wf.Success = true
	case wf.TotalSteps > 0:
		wf.Success = wf.Steps[wf.TotalSteps-1].Success
	}
	wf.CompletedAt = r.now()

	logger.Info("Workflow finished",
		zap.Bool("success", wf.Success),
		zap.Bool("complete", wf.IsComplete),
		zap.Int("steps", wf.TotalSteps))

	r.record(ctx, wf)
	return wf
}

func (r *Runner) record(ctx context.Context, wf *schemas.WorkflowResult) {
	if r.recorder == nil {
		return
	}
	// Record even when the run was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := r.recorder.SaveWorkflow(ctx, wf); err != nil {
		r.logger.Error("Failed to record workflow", zap.String("run_id", wf.RunID), zap.Error(err))
	}
}

func summarize(res *schemas.StepResult) schemas.StepSummary {
	s := schemas.StepSummary{Success: res.Success, Error: res.Error}
	if a := res.Action; a != nil {
		s.Action = a.Type
		switch {
		case a.Selector != "":
			s.Target = a.Selector
		case a.URL != "":
			s.Target = a.URL
		case a.Direction != "":
			s.Target = a.Direction
		}
	}
	return s
}

