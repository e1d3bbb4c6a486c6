package tui

import (
	"fmt"
	"strings"
	"time"

	"agent-desk/internal/app"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
)

type snapshotMsg struct{ snap app.ViewSnapshot }

type keyMap struct {
	Quit        key.Binding
	Send        key.Binding
	NewSession  key.Binding
	NextSession key.Binding
	Abort       key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Quit:        key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
		Send:        key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		NewSession:  key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "new session")),
		NextSession: key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "next session")),
		Abort:       key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "stop turn")),
	}
}

// StartTurn hands a user prompt to whatever produces runtime events (the real
// agent runtime or the mock).
type StartTurn func(sessionID, prompt string)

// Model renders the coordinator's active-view facade. It owns no coordination
// state of its own: every frame is drawn from the latest ViewSnapshot plus the
// turn-grouped visible items pulled from the coordinator.
type Model struct {
	coord     *app.Coordinator
	resolver  *app.Resolver
	store     app.SessionStore
	startTurn StartTurn

	theme Theme
	keys  keyMap

	width  int
	height int
	ready  bool

	sessions   []app.SessionSummary
	sessionIdx int

	snap  app.ViewSnapshot
	items []app.VisibleItem

	gate *gatePrompt

	input  textarea.Model
	chatVP viewport.Model
	status string
}

func NewModel(coord *app.Coordinator, store app.SessionStore, startTurn StartTurn) *Model {
	ta := textarea.New()
	ta.Placeholder = "Message the agent. Enter sends, esc stops the turn."
	ta.Focus()
	ta.CharLimit = 8000
	ta.SetHeight(1)
	ta.Prompt = " "
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle.CursorLine = lipgloss.NewStyle()

	m := &Model{
		coord:     coord,
		resolver:  coord.Resolver(),
		store:     store,
		startTurn: startTurn,
		theme:     NewTheme(),
		keys:      newKeyMap(),
		width:     100,
		height:    30,
		input:     ta,
		status:    "Ready",
	}
	m.loadSessions()
	return m
}

func (m *Model) loadSessions() {
	summaries, err := m.store.ListSessions(50)
	if err != nil {
		m.status = "session list failed: " + err.Error()
		return
	}
	m.sessions = summaries
	current, _ := m.store.CurrentSession()
	for i, s := range summaries {
		if s.Session.ID == current {
			m.sessionIdx = i
			break
		}
	}
}

func (m *Model) activeSessionID() string {
	if len(m.sessions) == 0 {
		return ""
	}
	return m.sessions[m.sessionIdx].Session.ID
}

func (m *Model) listenForSnapshots() tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg{snap: <-m.coord.Updates()}
	}
}

func (m *Model) Init() tea.Cmd {
	if sid := m.activeSessionID(); sid != "" {
		m.coord.SetActiveSession(sid)
	}
	return tea.Batch(textarea.Blink, m.listenForSnapshots())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chatH := m.height - 6
		if chatH < 3 {
			chatH = 3
		}
		if !m.ready {
			m.chatVP = viewport.New(m.width, chatH)
			m.ready = true
		} else {
			m.chatVP.Width = m.width
			m.chatVP.Height = chatH
		}
		m.input.SetWidth(m.width - 4)
		m.refreshChat()
		return m, nil

	case snapshotMsg:
		m.applySnapshot(msg.snap)
		return m, m.listenForSnapshots()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) applySnapshot(snap app.ViewSnapshot) {
	m.snap = snap
	m.items = m.coord.VisibleItems(snap.SessionID)
	if snap.HasGate {
		if !m.gate.matches(snap.Gate) {
			m.gate = newGatePrompt(snap.Gate)
		}
	} else {
		m.gate = nil
	}
	m.refreshChat()
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}

	if m.gate != nil {
		res, done, cmd := m.gate.handleKey(msg)
		if !done {
			return m, cmd
		}
		m.submitGate(res)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Send):
		prompt := strings.TrimSpace(m.input.Value())
		sid := m.activeSessionID()
		if prompt == "" || sid == "" {
			return m, nil
		}
		if _, err := m.coord.SendUserMessage(sid, prompt); err != nil {
			m.status = "send failed: " + err.Error()
			return m, nil
		}
		m.input.Reset()
		m.status = "Working…"
		if m.startTurn != nil {
			m.startTurn(sid, prompt)
		}
		return m, nil

	case key.Matches(msg, m.keys.NewSession):
		sess, err := m.store.CreateSession("", "")
		if err != nil {
			m.status = "new session failed: " + err.Error()
			return m, nil
		}
		m.loadSessions()
		m.coord.SetActiveSession(sess.ID)
		return m, nil

	case key.Matches(msg, m.keys.NextSession):
		if len(m.sessions) > 1 {
			m.sessionIdx = (m.sessionIdx + 1) % len(m.sessions)
			m.coord.SetActiveSession(m.activeSessionID())
		}
		return m, nil

	case key.Matches(msg, m.keys.Abort):
		if sid := m.activeSessionID(); sid != "" && m.snap.Stream.IsStreaming {
			m.coord.AbortSession(sid)
			m.status = "Turn stopped"
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submitGate(res gateResolution) {
	sid := m.snap.SessionID
	id := m.snap.Gate.ToolCallID
	var err error
	switch m.snap.Gate.Status {
	case app.ToolPendingApproval:
		err = m.resolver.SubmitApproval(sid, id, res.approved && !res.cancelled)
	case app.ToolPendingUserInput:
		if res.cancelled {
			err = m.resolver.SubmitSelection(sid, id, nil)
		} else {
			err = m.resolver.SubmitSelection(sid, id, res.selections)
		}
	case app.ToolPendingSSHCredentials:
		if res.cancelled {
			err = m.resolver.SubmitCredentials(sid, id, nil)
		} else {
			err = m.resolver.SubmitCredentials(sid, id, res.creds)
		}
	}
	// A stale gate just means the runtime beat us to it.
	if err != nil && err != app.ErrGateNotPending {
		m.status = "gate submit failed: " + err.Error()
	}
	m.gate = nil
}

func (m *Model) refreshChat() {
	if !m.ready {
		return
	}
	m.chatVP.SetContent(m.renderChat())
	m.chatVP.GotoBottom()
}

func (m *Model) renderChat() string {
	var b strings.Builder
	width := m.width - 2

	compressedRun := 0
	flushCompressed := func() {
		if compressedRun > 0 {
			b.WriteString(m.theme.Compressed.Render(fmt.Sprintf("… %d earlier tool steps", compressedRun)))
			b.WriteString("\n")
			compressedRun = 0
		}
	}

	for _, item := range m.items {
		if item.WillBeCompressed {
			compressedRun++
			continue
		}
		flushCompressed()
		b.WriteString(m.renderItem(item, width))
		b.WriteString("\n")
	}
	flushCompressed()

	// In-flight turn: stream state from the facade.
	if m.snap.Stream.Thinking != "" {
		b.WriteString(m.theme.Thinking.Render(truncate.StringWithTail(m.snap.Stream.Thinking, uint(width), "…")))
		b.WriteString("\n")
	}
	for _, exec := range m.snap.Tools {
		b.WriteString(m.renderTool(exec, width))
		b.WriteString("\n")
	}
	if m.snap.Stream.Content != "" {
		b.WriteString(m.theme.RoleAI.Render("agent "))
		b.WriteString(m.theme.TextPrimary.Render(m.snap.Stream.Content))
		b.WriteString("\n")
	}
	if len(m.snap.Stream.Images) > 0 {
		b.WriteString(m.theme.TextMuted.Render(fmt.Sprintf("[%d image(s) generating]", len(m.snap.Stream.Images))))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderItem(item app.VisibleItem, width int) string {
	msg := item.Message
	switch msg.Type {
	case app.MessageText:
		prefix := m.theme.RoleAI.Render("agent ")
		if msg.Role == app.RoleUser {
			prefix = m.theme.RoleYou.Render("you ")
		}
		return prefix + m.theme.TextPrimary.Render(msg.Content)
	case app.MessageToolResult:
		line := "✓ " + firstLine(msg.Content)
		if len(item.CallArgs) > 0 {
			line += m.theme.TextMuted.Render("  " + truncate.StringWithTail(app.ToolArgsJSON(item.CallArgs), 48, "…"))
		}
		return m.theme.Success.Render(truncate.StringWithTail(line, uint(width), "…"))
	case app.MessageToolCall:
		return m.theme.Warn.Render(truncate.StringWithTail("→ "+firstLine(msg.Content), uint(width), "…"))
	case app.MessageErrorEvent:
		return m.theme.Error.Render(truncate.StringWithTail("✗ "+firstLine(msg.Content), uint(width), "…"))
	case app.MessageDockerEvent, app.MessageSSHEvent:
		return m.theme.TextMuted.Render(truncate.StringWithTail("• "+firstLine(msg.Content), uint(width), "…"))
	default:
		return m.theme.TextPrimary.Render(msg.Content)
	}
}

func (m *Model) renderTool(exec app.ToolExecution, width int) string {
	var line string
	switch exec.Status {
	case app.ToolRunning:
		line = m.theme.Accent.Render("⟳ " + exec.ToolName + " running")
	case app.ToolDone:
		line = m.theme.Success.Render("✓ " + exec.ToolName + " " + firstLine(exec.Result))
	case app.ToolError:
		line = m.theme.Error.Render("✗ " + exec.ToolName + " " + firstLine(exec.Result))
	default:
		line = m.theme.Warn.Render("⏸ " + exec.ToolName + " waiting for you")
	}
	return truncate.StringWithTail(line, uint(width), "…")
}

func (m *Model) View() string {
	if !m.ready {
		return "loading…"
	}

	title := "agent-desk"
	if len(m.sessions) > 0 {
		sess := m.sessions[m.sessionIdx].Session
		if sess.Title != "" {
			title = sess.Title
		}
		title = fmt.Sprintf("%s  (%d/%d)", title, m.sessionIdx+1, len(m.sessions))
	}
	header := m.theme.TopBar.Render(truncate.StringWithTail(title, uint(m.width), "…"))

	var parts []string
	parts = append(parts, header, m.chatVP.View())
	if m.gate != nil {
		parts = append(parts, m.gate.render(m.theme, m.width-4))
	} else {
		parts = append(parts, m.theme.InputBox.Width(m.width-2).Render(m.input.View()))
	}

	status := m.status
	if m.snap.Stream.IsStreaming {
		status = "Streaming " + spinnerFrame()
	}
	parts = append(parts, m.theme.Footer.Render(status+"  •  ctrl+n new  •  ctrl+s switch  •  ctrl+c quit"))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func spinnerFrame() string {
	return spinnerFrames[int(time.Now().UnixMilli()/120)%len(spinnerFrames)]
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
