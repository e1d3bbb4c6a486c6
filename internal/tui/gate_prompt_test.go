package tui

import (
	"encoding/json"
	"testing"

	"agent-desk/internal/app"

	tea "github.com/charmbracelet/bubbletea"
)

func keyPress(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func TestGatePromptApprovalKeys(t *testing.T) {
	cases := []struct {
		name     string
		keys     []string
		approved bool
	}{
		{"enter confirms default allow", []string{"enter"}, true},
		{"arrow then enter denies", []string{"down", "enter"}, false},
		{"shortcut deny", []string{"2"}, false},
		{"shortcut allow", []string{"1"}, true},
		{"esc denies", []string{"esc"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newGatePrompt(app.ToolExecution{ToolCallID: "t1", ToolName: "bash", Status: app.ToolPendingApproval})
			var res gateResolution
			var done bool
			for _, k := range tc.keys {
				res, done, _ = g.handleKey(keyPress(k))
			}
			if !done {
				t.Fatal("expected a resolution")
			}
			if res.approved != tc.approved {
				t.Errorf("approved = %v, want %v", res.approved, tc.approved)
			}
		})
	}
}

func TestGatePromptOptionSelection(t *testing.T) {
	args, _ := json.Marshal(askArgs{Question: "Which env?", Options: []string{"staging", "production"}})
	g := newGatePrompt(app.ToolExecution{ToolCallID: "t1", Status: app.ToolPendingUserInput, Args: args})

	g.handleKey(keyPress("down"))
	res, done, _ := g.handleKey(keyPress("enter"))
	if !done {
		t.Fatal("expected a resolution")
	}
	if len(res.selections) != 1 || res.selections[0] != "production" {
		t.Errorf("selections = %v, want [production]", res.selections)
	}
}

func TestGatePromptCredentialsCancel(t *testing.T) {
	g := newGatePrompt(app.ToolExecution{ToolCallID: "t1", Status: app.ToolPendingSSHCredentials})
	res, done, _ := g.handleKey(keyPress("esc"))
	if !done || !res.cancelled {
		t.Errorf("esc should cancel the credential gate, got done=%v res=%+v", done, res)
	}
}

func TestGatePromptMatches(t *testing.T) {
	exec := app.ToolExecution{ToolCallID: "t1", Status: app.ToolPendingApproval}
	g := newGatePrompt(exec)
	if !g.matches(exec) {
		t.Error("same gate should match")
	}
	if g.matches(app.ToolExecution{ToolCallID: "t2", Status: app.ToolPendingApproval}) {
		t.Error("different call must not match")
	}
	var nilPrompt *gatePrompt
	if nilPrompt.matches(exec) {
		t.Error("nil prompt never matches")
	}
}
