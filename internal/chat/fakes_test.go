package chat_test

import (
	"context"
	"errors"
	"sync"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/chat"
)

type persistedMessage struct {
	ConversationID string
	Role           schemas.Role
	Content        string
}

// fakeBackend scripts completion responses and records everything it receives.
type fakeBackend struct {
	mu           sync.Mutex
	complete     func(call int, req *schemas.CompletionRequest) (*schemas.CompletionResponse, error)
	requests     []*schemas.CompletionRequest
	persisted    []persistedMessage
	conversation *schemas.Conversation
}

var _ chat.Backend = (*fakeBackend)(nil)

func (f *fakeBackend) Complete(ctx context.Context, req *schemas.CompletionRequest) (*schemas.CompletionResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	call := len(f.requests)
	f.mu.Unlock()
	return f.complete(call, req)
}

func (f *fakeBackend) PersistMessage(ctx context.Context, conversationID string, msg schemas.PersistMessageRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persisted = append(f.persisted, persistedMessage{ConversationID: conversationID, Role: msg.Role, Content: msg.Content})
	return nil
}

func (f *fakeBackend) FetchConversation(ctx context.Context, conversationID string) (*schemas.Conversation, error) {
	if f.conversation == nil {
		return nil, errors.New("conversation not found")
	}
	return f.conversation, nil
}

func (f *fakeBackend) Requests() []*schemas.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*schemas.CompletionRequest(nil), f.requests...)
}

func (f *fakeBackend) Persisted() []persistedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]persistedMessage(nil), f.persisted...)
}

// scripted answers each completion call with the next response and repeats
// the last one when the script runs out.
func scripted(responses ...*schemas.CompletionResponse) func(int, *schemas.CompletionRequest) (*schemas.CompletionResponse, error) {
	return func(call int, _ *schemas.CompletionRequest) (*schemas.CompletionResponse, error) {
		if call > len(responses) {
			call = len(responses)
		}
		return responses[call-1], nil
	}
}

func textOf(msgs []schemas.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ": " + m.Text()
	}
	return out
}
