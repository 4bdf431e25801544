package schemas

import (
	"time"
)

// -- Automation Schemas --

// ActionType is the discriminator of an AutomationAction.
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionInput    ActionType = "input"
	ActionTypeText ActionType = "type" // Alias of ActionInput.
	ActionSelect   ActionType = "select"
	ActionScroll   ActionType = "scroll"
	ActionWait     ActionType = "wait"
	ActionNavigate ActionType = "navigate"

	// Terminal signals. They never reach the DOM.
	ActionComplete ActionType = "complete"
	ActionError    ActionType = "error"
)

// IsTerminal reports whether the action type ends a workflow instead of touching the page.
func (t ActionType) IsTerminal() bool {
	return t == ActionComplete || t == ActionError
}

// AutomationAction is one instruction produced by the inference service.
// Each type reads only the fields it needs.
type AutomationAction struct {
	Type      ActionType `json:"type"`
	Selector  string     `json:"selector,omitempty"`
	Value     string     `json:"value,omitempty"`
	X         *int       `json:"x,omitempty"`
	Y         *int       `json:"y,omitempty"`
	Direction string     `json:"direction,omitempty"`
	Amount    int        `json:"amount,omitempty"`
	Duration  int        `json:"duration,omitempty"` // Milliseconds.
	URL       string     `json:"url,omitempty"`
	Message   string     `json:"message,omitempty"`
	Reasoning string     `json:"reasoning,omitempty"`
}

// Position is an element's bounding rectangle in CSS pixels.
type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Viewport describes the visible window and its scroll offset.
type Viewport struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	ScrollX int `json:"scrollX"`
	ScrollY int `json:"scrollY"`
}

// ElementDescriptor describes one visible interactive element.
type ElementDescriptor struct {
	Index       int      `json:"index"`
	TagName     string   `json:"tagName"`
	ID          string   `json:"id"`
	ClassName   string   `json:"className"`
	Text        string   `json:"text"`
	Value       string   `json:"value"`
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Href        string   `json:"href"`
	Placeholder string   `json:"placeholder"`
	AriaLabel   string   `json:"ariaLabel"`
	Role        string   `json:"role"`
	Visible     bool     `json:"visible"`
	Position    Position `json:"position"`
	Selector    string   `json:"selector"`
}

// DOMSnapshot is a point-in-time description of the visible interactive page
// elements. It is immutable once captured and is never persisted.
type DOMSnapshot struct {
	URL       string              `json:"url"`
	Title     string              `json:"title"`
	Elements  []ElementDescriptor `json:"elements"`
	Viewport  Viewport            `json:"viewport"`
	Timestamp int64               `json:"timestamp"` // Unix milliseconds.
}

// CapturedAt returns the snapshot timestamp as a time.Time.
func (s *DOMSnapshot) CapturedAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// StepSummary is the compact form of an earlier step sent back to the
// inference service when step history is enabled.
type StepSummary struct {
	Action  ActionType `json:"action"`
	Target  string     `json:"target,omitempty"`
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
}

// InferenceRequest is the body sent to the action-inference endpoint.
type InferenceRequest struct {
	DOMState *DOMSnapshot  `json:"domState"`
	Prompt   string        `json:"prompt"`
	History  []StepSummary `json:"history,omitempty"`
}

// InferenceResponse is the body returned by the action-inference endpoint.
type InferenceResponse struct {
	Action *AutomationAction `json:"action"`
}

// ExecutionResult echoes an action that was applied to the page.
type ExecutionResult struct {
	Success   bool       `json:"success"`
	Action    ActionType `json:"action"`
	Selector  string     `json:"selector,omitempty"`
	Value     string     `json:"value,omitempty"`
	X         *int       `json:"x,omitempty"`
	Y         *int       `json:"y,omitempty"`
	Direction string     `json:"direction,omitempty"`
	Amount    int        `json:"amount,omitempty"`
	Duration  int        `json:"duration,omitempty"`
	URL       string     `json:"url,omitempty"`
}

// StepResult is the outcome of one perception/action cycle.
type StepResult struct {
	Success   bool              `json:"success"`
	Complete  bool              `json:"complete,omitempty"`
	Action    *AutomationAction `json:"action"`
	Message   string            `json:"message,omitempty"`
	Reasoning string            `json:"reasoning,omitempty"`
	Result    *ExecutionResult  `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// WorkflowResult is the full record of a multi-step automation run. Steps is
// always populated, including on failure.
type WorkflowResult struct {
	RunID       string       `json:"runId,omitempty"`
	Success     bool         `json:"success"`
	TaskPrompt  string       `json:"taskPrompt"`
	TotalSteps  int          `json:"totalSteps"`
	IsComplete  bool         `json:"isComplete"`
	Steps       []StepResult `json:"steps"`
	CompletedAt time.Time    `json:"completedAt"`
}
