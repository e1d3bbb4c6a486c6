package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockRuntime simulates the external agent runtime for the --mock flag and
// for tests: each user prompt produces a scripted turn on the event channel,
// including a tool call behind an approval gate when the prompt asks for a
// command. Gate resolutions arrive back through the AgentRuntime interface
// and unblock the scripted tool, like the real runtime would.
type MockRuntime struct {
	Events chan RuntimeEvent
	Store  SessionStore
	Delay  time.Duration

	mu      sync.Mutex
	gates   map[string]mockGate // tool call id → pending gate
	aborted map[string]bool
}

// mockGate is one blocked scripted tool waiting for a human decision. The
// channel is closed on abort so the turn goroutine unwinds instead of
// waiting forever.
type mockGate struct {
	sessionID string
	ch        chan bool
}

func NewMockRuntime(store SessionStore) *MockRuntime {
	return &MockRuntime{
		Events:  make(chan RuntimeEvent, 256),
		Store:   store,
		Delay:   30 * time.Millisecond,
		gates:   make(map[string]mockGate),
		aborted: make(map[string]bool),
	}
}

func (m *MockRuntime) ApproveToolCall(toolCallID string, approved bool) error {
	m.mu.Lock()
	gate, ok := m.gates[toolCallID]
	delete(m.gates, toolCallID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending gate for %s", toolCallID)
	}
	gate.ch <- approved
	return nil
}

func (m *MockRuntime) RespondToAsk(toolCallID string, selections []string) error {
	return m.ApproveToolCall(toolCallID, len(selections) > 0)
}

func (m *MockRuntime) RespondToSSHCredentials(toolCallID string, creds *SSHCredentials) error {
	return m.ApproveToolCall(toolCallID, creds != nil)
}

func (m *MockRuntime) Abort(sessionID string) error {
	m.mu.Lock()
	m.aborted[sessionID] = true
	var pending []chan bool
	for id, gate := range m.gates {
		if gate.sessionID == sessionID {
			delete(m.gates, id)
			pending = append(pending, gate.ch)
		}
	}
	m.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	return nil
}

func (m *MockRuntime) isAborted(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aborted[sessionID] {
		delete(m.aborted, sessionID)
		return true
	}
	return false
}

// RunTurn scripts one agent turn for the prompt. It streams a little
// thinking, optionally runs a gated bash call, streams an answer and persists
// the messages the way the real runtime would, reporting message ids on the
// events.
func (m *MockRuntime) RunTurn(sessionID, prompt string) {
	go m.runTurn(sessionID, prompt)
}

func (m *MockRuntime) runTurn(sessionID, prompt string) {
	emit := func(ev RuntimeEvent) {
		ev.SessionID = sessionID
		m.Events <- ev
	}
	emit(RuntimeEvent{Kind: EventAgentStart})

	for _, chunk := range []string{"Considering ", "the request…"} {
		time.Sleep(m.Delay)
		emit(RuntimeEvent{Kind: EventThinkingDelta, Delta: chunk})
	}

	turn := 0
	if strings.Contains(strings.ToLower(prompt), "run") {
		if !m.runScriptedTool(sessionID, prompt, turn, emit) {
			return
		}
	}

	if m.isAborted(sessionID) {
		return
	}
	reply := "Done. Let me know what to look at next."
	for _, word := range strings.SplitAfter(reply, " ") {
		time.Sleep(m.Delay)
		emit(RuntimeEvent{Kind: EventTextDelta, Delta: word})
	}
	emit(RuntimeEvent{Kind: EventTextEnd})

	usage := &Usage{InputTokens: 42, OutputTokens: 17}
	msg, err := m.Store.AppendMessage(Message{
		SessionID: sessionID,
		Role:      RoleAssistant,
		Type:      MessageText,
		Content:   reply,
		Metadata:  mustMeta(MessageMeta{Usage: usage}),
	})
	if err == nil {
		emit(RuntimeEvent{Kind: EventAgentEnd, MessageID: msg.ID, Usage: usage})
	} else {
		emit(RuntimeEvent{Kind: EventError, Error: err.Error()})
	}
}

func (m *MockRuntime) runScriptedTool(sessionID, prompt string, turn int, emit func(RuntimeEvent)) bool {
	command := strings.TrimSpace(prompt)
	toolCallID := uuid.NewString()
	args, _ := json.Marshal(map[string]string{"command": command})

	gate := make(chan bool, 1)
	m.mu.Lock()
	if m.aborted[sessionID] {
		// Abort landed before the gate opened; do not block on it.
		delete(m.aborted, sessionID)
		m.mu.Unlock()
		return false
	}
	m.gates[toolCallID] = mockGate{sessionID: sessionID, ch: gate}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.gates, toolCallID)
		m.mu.Unlock()
	}()

	callMsg, _ := m.Store.AppendMessage(Message{
		SessionID: sessionID,
		Role:      RoleAssistant,
		Type:      MessageToolCall,
		Content:   command,
		Metadata:  mustMeta(MessageMeta{ToolCallID: toolCallID, TurnIndex: &turn, Args: args}),
	})

	emit(RuntimeEvent{
		Kind:             EventToolStart,
		ToolCallID:       toolCallID,
		ToolName:         "bash",
		Args:             args,
		TurnIndex:        &turn,
		ApprovalRequired: true,
		MessageID:        callMsg.ID,
	})

	approved := <-gate
	if m.isAborted(sessionID) {
		return false
	}

	result := "ok"
	if !approved {
		result = "command denied by user"
	}
	resultMsg, _ := m.Store.AppendMessage(Message{
		SessionID: sessionID,
		Role:      RoleSystem,
		Type:      MessageToolResult,
		Content:   result,
		Metadata:  mustMeta(MessageMeta{ToolCallID: toolCallID, TurnIndex: &turn}),
	})
	emit(RuntimeEvent{
		Kind:       EventToolEnd,
		ToolCallID: toolCallID,
		IsError:    !approved,
		Result:     result,
		MessageID:  resultMsg.ID,
	})
	return true
}

func mustMeta(meta MessageMeta) json.RawMessage {
	data, _ := json.Marshal(meta)
	return data
}
