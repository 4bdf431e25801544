package automation_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/browser/dom"
)

// MockInferrer is a mock implementation of automation.Inferrer.
type MockInferrer struct {
	mock.Mock
}

func (m *MockInferrer) Infer(ctx context.Context, req *schemas.InferenceRequest) (*schemas.AutomationAction, error) {
	args := m.Called(ctx, req)
	action, _ := args.Get(0).(*schemas.AutomationAction)
	return action, args.Error(1)
}

// MockExecutor is a mock implementation of automation.ActionExecutor.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, action *schemas.AutomationAction, doc dom.Document) (*schemas.ExecutionResult, error) {
	args := m.Called(ctx, action, doc)
	res, _ := args.Get(0).(*schemas.ExecutionResult)
	return res, args.Error(1)
}

// MockRecorder is a mock implementation of automation.Recorder.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) SaveWorkflow(ctx context.Context, result *schemas.WorkflowResult) error {
	return m.Called(ctx, result).Error(0)
}

// MockLLMClient is a mock implementation of schemas.LLMClient.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}
