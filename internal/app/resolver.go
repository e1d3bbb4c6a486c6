package app

import "errors"

// ErrGateNotPending is returned for a stale submission: the tool call is
// unknown, already resolved, or waiting on a different gate. Callers surface
// it as a no-op, never as user-facing failure.
var ErrGateNotPending = errors.New("tool call is not pending this gate")

// Resolver is the bridge from a pending tool execution to a human decision.
// Each submission issues the command to the agent runtime and applies the
// matching optimistic transition immediately; the runtime's eventual tool_end
// remains authoritative and wins on disagreement.
type Resolver struct {
	c *Coordinator
}

func (c *Coordinator) Resolver() *Resolver {
	return &Resolver{c: c}
}

// resolve validates the gate under the coordinator lock, applies the
// optimistic transition, and only then issues the runtime command.
func (r *Resolver) resolve(sessionID, toolCallID string, gate, to ToolStatus, send func() error) error {
	c := r.c

	c.mu.Lock()
	exec, ok := c.tools.Get(sessionID, toolCallID)
	if !ok || exec.Status != gate {
		c.mu.Unlock()
		c.logger.Warn("stale gate submission ignored", map[string]interface{}{
			"session":   sessionID,
			"tool_call": toolCallID,
			"gate":      string(gate),
		})
		return ErrGateNotPending
	}
	c.tools.Resolve(sessionID, toolCallID, to)
	if sessionID == c.activeSession {
		c.publishLocked()
	}
	c.mu.Unlock()

	if err := send(); err != nil {
		c.logger.Error("runtime command failed", map[string]interface{}{
			"session":   sessionID,
			"tool_call": toolCallID,
			"err":       err.Error(),
		})
		return err
	}
	return nil
}

// SubmitApproval resolves a pending_approval gate. Denial moves the call to
// error locally; approval returns it to running until tool_end arrives.
func (r *Resolver) SubmitApproval(sessionID, toolCallID string, approved bool) error {
	to := ToolRunning
	if !approved {
		to = ToolError
	}
	return r.resolve(sessionID, toolCallID, ToolPendingApproval, to, func() error {
		return r.c.runtime.ApproveToolCall(toolCallID, approved)
	})
}

// SubmitSelection resolves a pending_user_input gate with the chosen options.
func (r *Resolver) SubmitSelection(sessionID, toolCallID string, selections []string) error {
	return r.resolve(sessionID, toolCallID, ToolPendingUserInput, ToolRunning, func() error {
		return r.c.runtime.RespondToAsk(toolCallID, selections)
	})
}

// SubmitCredentials resolves a pending_ssh_credentials gate. nil credentials
// is a cancellation: the call moves to error locally and the runtime is told
// to cancel, so the gate never lingers.
func (r *Resolver) SubmitCredentials(sessionID, toolCallID string, creds *SSHCredentials) error {
	to := ToolRunning
	if creds == nil {
		to = ToolError
	}
	return r.resolve(sessionID, toolCallID, ToolPendingSSHCredentials, to, func() error {
		return r.c.runtime.RespondToSSHCredentials(toolCallID, creds)
	})
}
