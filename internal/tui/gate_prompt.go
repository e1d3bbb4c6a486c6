package tui

import (
	"encoding/json"
	"strings"

	"agent-desk/internal/app"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
)

const (
	gateChoiceAllow = 0
	gateChoiceDeny  = 1
)

// gatePrompt is the interactive surface for the one pending gate the
// coordinator says to show. The kind decides which input widgets render:
// yes/no rows for approval, an option list for asks, text fields for SSH
// credentials.
type gatePrompt struct {
	exec   app.ToolExecution
	choice int

	options   []string
	optionSel int

	credInputs []textinput.Model
	credFocus  int
}

// askArgs is the shape the runtime puts in tool args for an ask gate.
type askArgs struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

func newGatePrompt(exec app.ToolExecution) *gatePrompt {
	g := &gatePrompt{exec: exec}
	switch exec.Status {
	case app.ToolPendingUserInput:
		var args askArgs
		_ = json.Unmarshal(exec.Args, &args)
		g.options = args.Options
		if len(g.options) == 0 {
			g.options = []string{"Continue"}
		}
	case app.ToolPendingSSHCredentials:
		for _, cfg := range []struct {
			placeholder string
			secret      bool
		}{
			{"host", false},
			{"user", false},
			{"password", true},
		} {
			in := textinput.New()
			in.Placeholder = cfg.placeholder
			in.CharLimit = 256
			if cfg.secret {
				in.EchoMode = textinput.EchoPassword
			}
			g.credInputs = append(g.credInputs, in)
		}
		g.credInputs[0].Focus()
	}
	return g
}

// matches reports whether the prompt still shows the same gate of the same
// kind, so snapshot refreshes don't reset in-progress input.
func (g *gatePrompt) matches(exec app.ToolExecution) bool {
	return g != nil && g.exec.ToolCallID == exec.ToolCallID && g.exec.Status == exec.Status
}

// gateResolution is what the prompt hands back to the model on confirm.
type gateResolution struct {
	approved   bool
	selections []string
	creds      *app.SSHCredentials
	cancelled  bool
}

// handleKey consumes one key press. done is true when the user confirmed or
// cancelled and the resolution should go to the resolver.
func (g *gatePrompt) handleKey(msg tea.KeyMsg) (res gateResolution, done bool, cmd tea.Cmd) {
	switch g.exec.Status {
	case app.ToolPendingApproval:
		switch msg.String() {
		case "up", "down", "tab":
			g.choice = 1 - g.choice
		case "1", "y":
			return gateResolution{approved: true}, true, nil
		case "2", "n", "esc":
			return gateResolution{approved: false}, true, nil
		case "enter":
			return gateResolution{approved: g.choice == gateChoiceAllow}, true, nil
		}
	case app.ToolPendingUserInput:
		switch msg.String() {
		case "up":
			if g.optionSel > 0 {
				g.optionSel--
			}
		case "down":
			if g.optionSel < len(g.options)-1 {
				g.optionSel++
			}
		case "enter":
			return gateResolution{selections: []string{g.options[g.optionSel]}}, true, nil
		case "esc":
			return gateResolution{cancelled: true}, true, nil
		}
	case app.ToolPendingSSHCredentials:
		switch msg.String() {
		case "tab", "down":
			g.focusCred((g.credFocus + 1) % len(g.credInputs))
		case "shift+tab", "up":
			g.focusCred((g.credFocus + len(g.credInputs) - 1) % len(g.credInputs))
		case "enter":
			if g.credFocus < len(g.credInputs)-1 {
				g.focusCred(g.credFocus + 1)
				return gateResolution{}, false, nil
			}
			return gateResolution{creds: &app.SSHCredentials{
				Host:     strings.TrimSpace(g.credInputs[0].Value()),
				User:     strings.TrimSpace(g.credInputs[1].Value()),
				Password: g.credInputs[2].Value(),
			}}, true, nil
		case "esc":
			// Cancellation: nil credentials, the gate must not stay pending.
			return gateResolution{cancelled: true}, true, nil
		default:
			var c tea.Cmd
			g.credInputs[g.credFocus], c = g.credInputs[g.credFocus].Update(msg)
			return gateResolution{}, false, c
		}
	}
	return gateResolution{}, false, nil
}

func (g *gatePrompt) focusCred(idx int) {
	g.credInputs[g.credFocus].Blur()
	g.credFocus = idx
	g.credInputs[idx].Focus()
}

func (g *gatePrompt) render(theme Theme, width int) string {
	if width < 30 {
		width = 30
	}

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorWarn))
	activeStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent2))

	row := func(selected bool, text string) string {
		if selected {
			return activeStyle.Render("› " + text)
		}
		return theme.TextPrimary.Render("  " + text)
	}

	var b strings.Builder
	switch g.exec.Status {
	case app.ToolPendingApproval:
		b.WriteString(titleStyle.Render("Tool approval"))
		b.WriteString("\n")
		detail := g.exec.ToolName
		if args := app.ToolArgsJSON(g.exec.Args); args != "" {
			detail += " " + args
		}
		detail = strings.ReplaceAll(detail, "\n", " ")
		b.WriteString(theme.TextMuted.Render(truncate.StringWithTail(detail, uint(width), "…")))
		b.WriteString("\n\n")
		b.WriteString(row(g.choice == gateChoiceAllow, "1. Yes, run it"))
		b.WriteString("\n")
		b.WriteString(row(g.choice == gateChoiceDeny, "2. Don't run (stop tool)"))
		b.WriteString("\n")
		b.WriteString(theme.Footer.Render("↑/↓ choose  •  enter confirm  •  esc deny"))

	case app.ToolPendingUserInput:
		var args askArgs
		_ = json.Unmarshal(g.exec.Args, &args)
		b.WriteString(titleStyle.Render("Agent is asking"))
		b.WriteString("\n")
		if args.Question != "" {
			b.WriteString(theme.TextMuted.Render(truncate.StringWithTail(args.Question, uint(width), "…")))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		for i, opt := range g.options {
			b.WriteString(row(i == g.optionSel, opt))
			b.WriteString("\n")
		}
		b.WriteString(theme.Footer.Render("↑/↓ choose  •  enter confirm  •  esc cancel"))

	case app.ToolPendingSSHCredentials:
		b.WriteString(titleStyle.Render("SSH credentials required"))
		b.WriteString("\n")
		b.WriteString(theme.TextMuted.Render("The agent needs to open a remote connection."))
		b.WriteString("\n\n")
		for _, in := range g.credInputs {
			b.WriteString(in.View())
			b.WriteString("\n")
		}
		b.WriteString(theme.Footer.Render("tab next field  •  enter submit  •  esc cancel"))
	}

	return theme.GateBox.Width(width).Render(b.String())
}
