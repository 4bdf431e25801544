package schemas

import (
	"encoding/json"
	"strings"
)

// -- Conversation Schemas --

// Role identifies the author of a message in a chat session.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType discriminates the MessagePart union.
type PartType string

const (
	PartText PartType = "text"
	PartHTML PartType = "html"
)

// Wire prefixes shared with the completion backend. They are matched exactly
// and must not change without a coordinated backend release.
const (
	// ActionResultPrefix tags a synthetic turn carrying an action result. Such
	// turns stay in the model-visible history but are never rendered.
	ActionResultPrefix = "ACTION_RESULT:"
	// ClientActionPrefix marks a tool name that resolves to a locally registered function.
	ClientActionPrefix = "ACTION_CLIENT_"
	// ServerActionPrefix marks a tool name that resolves to an outbound HTTP request.
	ServerActionPrefix = "ACTION_SERVER_"
)

// MessagePart is one renderable chunk of a message. Only text parts take part
// in control decisions; html parts are opaque to the core.
type MessagePart struct {
	Type    PartType `json:"type"`
	Text    string   `json:"text,omitempty"`
	Content string   `json:"content,omitempty"`
}

// Message is a single entry in a conversation's append-only history.
type Message struct {
	ID    string        `json:"id"`
	Role  Role          `json:"role"`
	Parts []MessagePart `json:"parts"`
	// Hidden is decided once, when the message is created or parsed, and
	// excludes the message from the user-visible transcript.
	Hidden bool `json:"hidden,omitempty"`
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// IsActionResultText reports whether text carries the action-result envelope.
func IsActionResultText(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), ActionResultPrefix)
}

// ActionKind says where an ActionInvocation runs.
type ActionKind string

const (
	ActionKindClient ActionKind = "client"
	ActionKindServer ActionKind = "server"
)

// ActionInvocation is a backend-requested call to a client function or a
// server endpoint. Kind and Name are derived from ToolName when the completion
// response is parsed and are authoritative from then on. FunctionName is the
// optional name a client action output carries next to its args.
type ActionInvocation struct {
	ToolName     string            `json:"toolName"`
	Kind         ActionKind        `json:"kind"`
	Name         string            `json:"name"`
	FunctionName string            `json:"functionName,omitempty"`
	Args         map[string]any    `json:"args,omitempty"`
	URL          string            `json:"url,omitempty"`
	Method       string            `json:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         json.RawMessage   `json:"body,omitempty"`
}

// ToolResult is a raw tool entry in a completion response.
type ToolResult struct {
	ToolName string          `json:"toolName"`
	Output   json.RawMessage `json:"output,omitempty"`
}

// CompletionRequest is the body of POST {base}/api/chat.
type CompletionRequest struct {
	Messages       []Message      `json:"messages"`
	UserConfig     map[string]any `json:"userConfig,omitempty"`
	AgentID        string         `json:"agentId"`
	IdempotencyKey string         `json:"idempotencyKey"`
	ConversationID string         `json:"conversationId,omitempty"`
}

// CompletionResponse is the body returned by POST {base}/api/chat.
type CompletionResponse struct {
	Text           string       `json:"text,omitempty"`
	ToolResults    []ToolResult `json:"toolResults,omitempty"`
	Error          string       `json:"error,omitempty"`
	Message        string       `json:"message,omitempty"`
	ConversationID string       `json:"conversationId,omitempty"`
}

// PersistMessageRequest is the body of POST {base}/api/conversations/{id}/messages.
type PersistMessageRequest struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StoredMessage is a persisted message as returned by the conversation fetch endpoint.
type StoredMessage struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the body returned by GET {base}/api/conversations/{id}.
type Conversation struct {
	ID       string          `json:"id"`
	Messages []StoredMessage `json:"messages"`
}
