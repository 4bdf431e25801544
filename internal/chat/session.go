package chat

import (
	"sync"

	"github.com/google/uuid"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

// Session is the state of one chat: its history, its backend conversation id
// and whether a turn is in flight. Sessions are independent; one process can
// run many.
type Session struct {
	mu             sync.Mutex
	messages       []schemas.Message
	conversationID string
	userConfig     map[string]any
	busy           bool

	// Visible messages waiting for a conversation id, and the completion
	// signal of the last persistence batch so batches stay in order.
	unpersisted []schemas.Message
	persistTail chan struct{}
}

// NewSession starts an empty session. userConfig is sent with every
// completion and handed to client actions.
func NewSession(userConfig map[string]any) *Session {
	return &Session{userConfig: userConfig}
}

// ConversationID returns the backend conversation id, empty until the
// backend assigns one.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// UserConfig returns the configuration passed to client actions.
func (s *Session) UserConfig() map[string]any {
	return s.userConfig
}

// Messages returns a copy of the full model-visible history.
func (s *Session) Messages() []schemas.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Transcript returns the messages a user should see.
func (s *Session) Transcript() []schemas.Message {
	return VisibleMessages(s.Messages())
}

// Busy reports whether a turn is being processed.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Session) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Session) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Session) append(msg schemas.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

func (s *Session) messagesSince(n int) []schemas.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.messages) {
		return nil
	}
	out := make([]schemas.Message, len(s.messages)-n)
	copy(out, s.messages[n:])
	return out
}

func (s *Session) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *Session) setConversationID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.conversationID = id
	s.mu.Unlock()
}

func newTextMessage(role schemas.Role, text string, hidden bool) schemas.Message {
	return schemas.Message{
		ID:     uuid.NewString(),
		Role:   role,
		Parts:  []schemas.MessagePart{{Type: schemas.PartText, Text: text}},
		Hidden: hidden,
	}
}
