package app

import (
	"encoding/json"
	"strings"
	"time"
)

// Session is owned by the store; the coordinator treats it as read-mostly.
// Which session is "active" (displayed) is tracked by the coordinator, not here.
type Session struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
	// Settings is an opaque per-session settings blob the UI round-trips.
	Settings json.RawMessage `json:"settings,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	RoleUser         = "user"
	RoleAssistant    = "assistant"
	RoleSystem       = "system"
	RoleSystemNotify = "system_notify"
)

const (
	MessageText        = "text"
	MessageToolCall    = "tool_call"
	MessageToolResult  = "tool_result"
	MessageDockerEvent = "docker_event"
	MessageSSHEvent    = "ssh_event"
	MessageErrorEvent  = "error_event"
)

// Message is immutable once appended. Corrections happen by appending new
// messages or by truncating a suffix of the log and reloading.
type Message struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Role      string          `json:"role"` // user|assistant|system|system_notify
	Type      string          `json:"type"` // text|tool_call|tool_result|docker_event|ssh_event|error_event
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// MessageMeta is the subset of the metadata blob the coordinator reads.
// Unknown fields stay in the raw blob and are ignored here.
type MessageMeta struct {
	ToolCallID string          `json:"toolCallId,omitempty"`
	TurnIndex  *int            `json:"turnIndex,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Images     []string        `json:"images,omitempty"`
	Thinking   string          `json:"thinking,omitempty"`
	Usage      *Usage          `json:"usage,omitempty"`
}

// Meta decodes the message metadata. A missing or malformed blob degrades to
// an empty meta rather than failing the caller.
func (m Message) Meta() MessageMeta {
	var meta MessageMeta
	if len(m.Metadata) == 0 {
		return meta
	}
	if err := json.Unmarshal(m.Metadata, &meta); err != nil {
		return MessageMeta{}
	}
	return meta
}

// IsToolItem reports whether the message renders as part of a tool turn.
func (m Message) IsToolItem() bool {
	return m.Type == MessageToolCall || m.Type == MessageToolResult
}

// Usage is the token accounting the runtime reports on agent_end.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type SessionSummary struct {
	Session      Session   `json:"session"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
}

// DeriveTitle produces a session title from the first user message.
func DeriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if len(title) > 64 {
		title = strings.TrimSpace(title[:64]) + "…"
	}
	return title
}
