package app

import "encoding/json"

// EventKind discriminates the variants of the inbound runtime stream.
type EventKind string

const (
	EventAgentStart           EventKind = "agent_start"
	EventTextDelta            EventKind = "text_delta"
	EventThinkingDelta        EventKind = "thinking_delta"
	EventImageData            EventKind = "image_data"
	EventTextEnd              EventKind = "text_end"
	EventToolStart            EventKind = "tool_start"
	EventToolApprovalRequest  EventKind = "tool_approval_request"
	EventUserInputRequest     EventKind = "user_input_request"
	EventSSHCredentialRequest EventKind = "ssh_credential_request"
	EventToolEnd              EventKind = "tool_end"
	EventDockerEvent          EventKind = "docker_event"
	EventSSHEvent             EventKind = "ssh_event"
	EventAgentEnd             EventKind = "agent_end"
	EventError                EventKind = "error"
)

// RuntimeEvent is one item on the multiplexed inbound stream. Every event
// carries the originating SessionID; the remaining fields are populated per
// kind. Within one session events arrive in order; across sessions there is
// no ordering guarantee.
type RuntimeEvent struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`

	// text_delta / thinking_delta / error
	Delta string `json:"delta,omitempty"`
	Error string `json:"error,omitempty"`

	// image_data
	Image string `json:"image,omitempty"`

	// tool_start / tool_approval_request / *_request / tool_end
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	TurnIndex  *int            `json:"turn_index,omitempty"`

	// Gate flags carried on tool_start when the gate is known at creation.
	ApprovalRequired      bool `json:"approval_required,omitempty"`
	UserInputRequired     bool `json:"user_input_required,omitempty"`
	SSHCredentialRequired bool `json:"ssh_credential_required,omitempty"`

	// tool_end
	IsError bool   `json:"is_error,omitempty"`
	Result  string `json:"result,omitempty"`

	// Link to the persisted message, when the runtime already knows it.
	MessageID string `json:"message_id,omitempty"`

	// agent_end
	Usage        *Usage `json:"usage,omitempty"`
	FinalMessage string `json:"message,omitempty"`
}

// SSHCredentials is what the credential gate collects from the user.
type SSHCredentials struct {
	Host       string `json:"host"`
	Port       int    `json:"port,omitempty"`
	User       string `json:"user"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
}

// AgentRuntime is the outbound command surface of the external agent runtime.
// Calls are fire-and-forget from the coordinator's perspective: the
// authoritative state change arrives later as a RuntimeEvent.
type AgentRuntime interface {
	ApproveToolCall(toolCallID string, approved bool) error
	RespondToAsk(toolCallID string, selections []string) error
	// RespondToSSHCredentials with nil credentials cancels the gate.
	RespondToSSHCredentials(toolCallID string, creds *SSHCredentials) error
	Abort(sessionID string) error
}
