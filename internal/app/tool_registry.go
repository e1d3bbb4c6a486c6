package app

import "encoding/json"

// ToolStatus is the per-call state machine:
//
//	running → done | error
//	running → pending_approval → running (approve) | error (deny)
//	running → pending_user_input → running (respond)
//	running → pending_ssh_credentials → running (submit) | error (cancel)
//
// A call may also enter a pending_* state directly at creation when the
// producing event carries the gate flag. done and error are terminal.
type ToolStatus string

const (
	ToolRunning               ToolStatus = "running"
	ToolPendingApproval       ToolStatus = "pending_approval"
	ToolPendingUserInput      ToolStatus = "pending_user_input"
	ToolPendingSSHCredentials ToolStatus = "pending_ssh_credentials"
	ToolDone                  ToolStatus = "done"
	ToolError                 ToolStatus = "error"
)

func (s ToolStatus) Terminal() bool { return s == ToolDone || s == ToolError }

func (s ToolStatus) Pending() bool {
	return s == ToolPendingApproval || s == ToolPendingUserInput || s == ToolPendingSSHCredentials
}

// ToolExecution tracks one logical tool invocation, correlated across events
// by ToolCallID. MessageID links to the persisted tool_call message once
// known; consumers tolerate it being empty transiently.
type ToolExecution struct {
	ToolCallID string
	ToolName   string
	Args       json.RawMessage
	Status     ToolStatus
	Result     string
	IsError    bool
	TurnIndex  *int
	MessageID  string
}

// ToolRegistry keeps the ordered per-session tool-call records for the turn
// in flight. Entries are removed only by Clear (turn end or abort), never when
// an individual call reaches a terminal status. Not safe for concurrent use on
// its own; the coordinator serializes access.
type ToolRegistry struct {
	calls map[string][]*ToolExecution // session id → creation order
	index map[string]map[string]*ToolExecution
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		calls: make(map[string][]*ToolExecution),
		index: make(map[string]map[string]*ToolExecution),
	}
}

func (r *ToolRegistry) get(sessionID, toolCallID string) *ToolExecution {
	return r.index[sessionID][toolCallID]
}

func (r *ToolRegistry) insert(sessionID string, exec *ToolExecution) {
	r.calls[sessionID] = append(r.calls[sessionID], exec)
	byID, ok := r.index[sessionID]
	if !ok {
		byID = make(map[string]*ToolExecution)
		r.index[sessionID] = byID
	}
	byID[exec.ToolCallID] = exec
}

// gateStatus maps the tool_start gate flags to an initial status. When several
// flags are set the credential gate wins, then approval, then user input,
// mirroring the surfacing priority.
func gateStatus(ev RuntimeEvent) ToolStatus {
	switch {
	case ev.SSHCredentialRequired:
		return ToolPendingSSHCredentials
	case ev.ApprovalRequired:
		return ToolPendingApproval
	case ev.UserInputRequired:
		return ToolPendingUserInput
	default:
		return ToolRunning
	}
}

// Start registers a call from a tool_start event. Seeing the same ToolCallID
// again refreshes name/args/links on the existing record but never moves a
// terminal call back to a live status.
func (r *ToolRegistry) Start(ev RuntimeEvent) *ToolExecution {
	if exec := r.get(ev.SessionID, ev.ToolCallID); exec != nil {
		if exec.Status.Terminal() {
			return exec
		}
		if ev.ToolName != "" {
			exec.ToolName = ev.ToolName
		}
		if len(ev.Args) > 0 {
			exec.Args = ev.Args
		}
		if ev.TurnIndex != nil {
			exec.TurnIndex = ev.TurnIndex
		}
		if ev.MessageID != "" {
			exec.MessageID = ev.MessageID
		}
		return exec
	}
	exec := &ToolExecution{
		ToolCallID: ev.ToolCallID,
		ToolName:   ev.ToolName,
		Args:       ev.Args,
		Status:     gateStatus(ev),
		TurnIndex:  ev.TurnIndex,
		MessageID:  ev.MessageID,
	}
	r.insert(ev.SessionID, exec)
	return exec
}

// Gate flips a live call into the given pending state, creating the record if
// the gate event arrived before its tool_start. Args are only replaced when
// the event explicitly carries new ones (the approval content-revision case).
// Terminal calls are left untouched.
func (r *ToolRegistry) Gate(sessionID, toolCallID string, status ToolStatus, args json.RawMessage) *ToolExecution {
	exec := r.get(sessionID, toolCallID)
	if exec == nil {
		exec = &ToolExecution{ToolCallID: toolCallID, Status: status, Args: args}
		r.insert(sessionID, exec)
		return exec
	}
	if exec.Status.Terminal() {
		return exec
	}
	exec.Status = status
	if len(args) > 0 {
		exec.Args = args
	}
	return exec
}

// Resolve applies the resolver's optimistic transition for a pending call:
// back to running on approve/respond/submit, to error on deny/cancel. It
// reports false when the call is unknown or not pending, so stale UI actions
// become no-ops. The eventual tool_end still wins over this transition.
func (r *ToolRegistry) Resolve(sessionID, toolCallID string, to ToolStatus) bool {
	exec := r.get(sessionID, toolCallID)
	if exec == nil || !exec.Status.Pending() {
		return false
	}
	if to != ToolRunning && to != ToolError {
		return false
	}
	exec.Status = to
	return true
}

// Finish applies a terminal tool_end event. The terminal event is
// authoritative: it overwrites any optimistic status, including an optimistic
// error. An unknown ToolCallID (e.g. the process restarted mid-turn) gets a
// record synthesized on the fly rather than dropping the event.
func (r *ToolRegistry) Finish(ev RuntimeEvent) *ToolExecution {
	exec := r.get(ev.SessionID, ev.ToolCallID)
	if exec == nil {
		exec = &ToolExecution{
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
			Args:       ev.Args,
			TurnIndex:  ev.TurnIndex,
		}
		r.insert(ev.SessionID, exec)
	}
	if ev.IsError {
		exec.Status = ToolError
	} else {
		exec.Status = ToolDone
	}
	exec.IsError = ev.IsError
	exec.Result = ev.Result
	if ev.MessageID != "" {
		exec.MessageID = ev.MessageID
	}
	return exec
}

// AttachMessageID links a call to its persisted tool_call message once the
// id becomes known via a follow-up log fetch.
func (r *ToolRegistry) AttachMessageID(sessionID, toolCallID, messageID string) {
	if exec := r.get(sessionID, toolCallID); exec != nil && exec.MessageID == "" {
		exec.MessageID = messageID
	}
}

// Get returns a copy of one call record.
func (r *ToolRegistry) Get(sessionID, toolCallID string) (ToolExecution, bool) {
	exec := r.get(sessionID, toolCallID)
	if exec == nil {
		return ToolExecution{}, false
	}
	return *exec, true
}

// List returns copies of the session's records in creation order.
func (r *ToolRegistry) List(sessionID string) []ToolExecution {
	live := r.calls[sessionID]
	if len(live) == 0 {
		return nil
	}
	out := make([]ToolExecution, len(live))
	for i, exec := range live {
		out[i] = *exec
	}
	return out
}

// Clear wipes every record for the session. This runs on agent_end, on a
// stream error and on user abort, and is the recovery path for calls whose
// tool_end never arrived.
func (r *ToolRegistry) Clear(sessionID string) {
	delete(r.calls, sessionID)
	delete(r.index, sessionID)
}

// SurfacedGate picks the single pending call to present to the user. The
// priority is a pure function of registry contents, not arrival order:
// credential requests beat approval requests beat option-selection requests;
// within a class the earliest-created call wins.
func (r *ToolRegistry) SurfacedGate(sessionID string) (ToolExecution, bool) {
	for _, want := range []ToolStatus{ToolPendingSSHCredentials, ToolPendingApproval, ToolPendingUserInput} {
		for _, exec := range r.calls[sessionID] {
			if exec.Status == want {
				return *exec, true
			}
		}
	}
	return ToolExecution{}, false
}
