package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
)

// DefaultMaxActionDepth bounds action resolution when the configuration does not.
const DefaultMaxActionDepth = 8

const persistTimeout = 10 * time.Second

var (
	// ErrSessionBusy is returned when a message arrives while the session is
	// still resolving the previous one.
	ErrSessionBusy = errors.New("session is already processing a message")
	// ErrActionDepthExceeded is returned when the backend keeps requesting
	// actions past the configured depth.
	ErrActionDepthExceeded = errors.New("maximum action resolution depth exceeded")
)

// ActionDispatcher executes the actions a completion asks for.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, callerConfig map[string]any, inv schemas.ActionInvocation) (any, error)
}

// Reply is the outcome of one user turn.
type Reply struct {
	// Messages holds everything appended to the session during the turn,
	// hidden action results included.
	Messages []schemas.Message
	Err      error
}

// Visible returns the reply's messages that a user should see.
func (r *Reply) Visible() []schemas.Message {
	return VisibleMessages(r.Messages)
}

// Orchestrator runs conversation turns against the completion backend.
type Orchestrator struct {
	backend    Backend
	dispatcher ActionDispatcher
	agentID    string
	maxDepth   int
	persist    bool
	actionText bool
	logger     *zap.Logger

	// mu guards closed and every inflight.Add so none can race Close's Wait.
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewOrchestrator wires a backend and a dispatcher together.
func NewOrchestrator(backend Backend, dispatcher ActionDispatcher, cfg config.ChatConfig, agentID string, logger *zap.Logger) *Orchestrator {
	depth := cfg.MaxActionDepth
	if depth <= 0 {
		depth = DefaultMaxActionDepth
	}
	return &Orchestrator{
		backend:    backend,
		dispatcher: dispatcher,
		agentID:    agentID,
		maxDepth:   depth,
		persist:    cfg.PersistMessages,
		actionText: cfg.ShowActionText,
		logger:     logger.Named("orchestrator"),
	}
}

// ProcessMessage submits text as a user turn and resolves every action the
// backend requests until it answers with plain text. It never fails outright:
// errors end the turn with an assistant-visible error message and are also
// returned in the reply.
func (o *Orchestrator) ProcessMessage(ctx context.Context, s *Session, text string) *Reply {
	if !s.tryAcquire() {
		return &Reply{Err: ErrSessionBusy}
	}
	defer s.release()

	start := s.size()
	err := o.submit(ctx, s, newTextMessage(schemas.RoleUser, text, false), 0)
	if err != nil {
		o.logger.Error("Conversation turn failed",
			zap.String("conversation_id", s.ConversationID()),
			zap.Error(err))
		o.appendMessage(ctx, s, newTextMessage(schemas.RoleAssistant, "Error: "+err.Error(), false))
	}
	return &Reply{Messages: s.messagesSince(start), Err: err}
}

func (o *Orchestrator) submit(ctx context.Context, s *Session, msg schemas.Message, depth int) error {
	if depth > o.maxDepth {
		return fmt.Errorf("%w (limit %d)", ErrActionDepthExceeded, o.maxDepth)
	}
	o.appendMessage(ctx, s, msg)

	resp, err := o.backend.Complete(ctx, &schemas.CompletionRequest{
		Messages:       s.Messages(),
		UserConfig:     s.UserConfig(),
		AgentID:        o.agentID,
		IdempotencyKey: uuid.NewString(),
		ConversationID: s.ConversationID(),
	})
	if err != nil {
		return err
	}
	if resp.ConversationID != "" && resp.ConversationID != s.ConversationID() {
		s.setConversationID(resp.ConversationID)
		o.flush(ctx, s)
	}

	invocations, err := ParseInvocations(resp.ToolResults)
	if err != nil {
		return err
	}
	if len(invocations) == 0 {
		o.appendMessage(ctx, s, newTextMessage(schemas.RoleAssistant, resp.Text, false))
		return nil
	}
	if o.actionText && resp.Text != "" {
		o.appendMessage(ctx, s, newTextMessage(schemas.RoleAssistant, resp.Text, false))
	}

	results, err := o.dispatchAll(ctx, s, invocations)
	if err != nil {
		return err
	}

	// Results are fed back one at a time, in the order the backend listed them.
	for i, inv := range invocations {
		o.appendMessage(ctx, s, newTextMessage(schemas.RoleAssistant,
			fmt.Sprintf("The action %s was successfully executed.", inv.Name), false))

		envelope, err := ResultEnvelope(results[i])
		if err != nil {
			return err
		}
		if err := o.submit(ctx, s, newTextMessage(schemas.RoleUser, envelope, true), depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) dispatchAll(ctx context.Context, s *Session, invocations []schemas.ActionInvocation) ([]any, error) {
	results := make([]any, len(invocations))
	g, gctx := errgroup.WithContext(ctx)
	for i, inv := range invocations {
		g.Go(func() error {
			res, err := o.dispatcher.Dispatch(gctx, s.UserConfig(), inv)
			if err != nil {
				return fmt.Errorf("action %s failed: %w", inv.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (o *Orchestrator) appendMessage(ctx context.Context, s *Session, msg schemas.Message) {
	s.append(msg)
	if !o.persist || msg.Hidden {
		return
	}
	s.mu.Lock()
	s.unpersisted = append(s.unpersisted, msg)
	s.mu.Unlock()
	o.flush(ctx, s)
}

// flush persists queued visible messages in the background once the
// conversation has an id. Batches are written in the order they were queued.
func (o *Orchestrator) flush(ctx context.Context, s *Session) {
	s.mu.Lock()
	if s.conversationID == "" || len(s.unpersisted) == 0 {
		s.mu.Unlock()
		return
	}
	id, batch, prev := s.conversationID, s.unpersisted, s.persistTail
	done := make(chan struct{})
	s.unpersisted, s.persistTail = nil, done
	s.mu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.logger.Warn("Orchestrator closed, dropping unpersisted messages",
			zap.String("conversation_id", id),
			zap.Int("messages", len(batch)))
		close(done)
		return
	}
	o.inflight.Add(1)
	o.mu.Unlock()

	persistCtx := context.WithoutCancel(ctx)
	go func() {
		defer o.inflight.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		for _, msg := range batch {
			pctx, cancel := context.WithTimeout(persistCtx, persistTimeout)
			err := o.backend.PersistMessage(pctx, id, schemas.PersistMessageRequest{Role: msg.Role, Content: msg.Text()})
			cancel()
			if err != nil {
				o.logger.Warn("Failed to persist message",
					zap.String("conversation_id", id),
					zap.String("message_id", msg.ID),
					zap.Error(err))
			}
		}
	}()
}

// Close stops accepting new persistence work and waits for queued writes to
// finish or ctx to expire. Messages appended after Close are not persisted.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume rebuilds a session from a stored conversation. Stored action results
// come back hidden.
func (o *Orchestrator) Resume(ctx context.Context, conversationID string, userConfig map[string]any) (*Session, error) {
	conv, err := o.backend.FetchConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	s := NewSession(userConfig)
	s.conversationID = conv.ID
	for _, stored := range conv.Messages {
		msg := newTextMessage(stored.Role, stored.Content, schemas.IsActionResultText(stored.Content))
		if stored.ID != "" {
			msg.ID = stored.ID
		}
		s.messages = append(s.messages, msg)
	}
	o.logger.Info("Resumed conversation",
		zap.String("conversation_id", conv.ID),
		zap.Int("messages", len(s.messages)))
	return s, nil
}
