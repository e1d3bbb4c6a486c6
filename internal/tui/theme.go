package tui

import (
	"github.com/charmbracelet/lipgloss"
)

const (
	colorFg      = "#d8dee9"
	colorMuted   = "#6b7280"
	colorAccent  = "#7aa2f7"
	colorAccent2 = "#9ece6a"
	colorWarn    = "#e0af68"
	colorError   = "#f7768e"
	colorBorder  = "#3b4261"
)

type Theme struct {
	TextPrimary lipgloss.Style
	TextMuted   lipgloss.Style
	Accent      lipgloss.Style
	Success     lipgloss.Style
	Warn        lipgloss.Style
	Error       lipgloss.Style

	TopBar   lipgloss.Style
	Footer   lipgloss.Style
	InputBox lipgloss.Style
	GateBox  lipgloss.Style

	RoleYou lipgloss.Style
	RoleAI  lipgloss.Style
	RoleSys lipgloss.Style

	Thinking   lipgloss.Style
	Compressed lipgloss.Style
}

func NewTheme() Theme {
	return Theme{
		TextPrimary: lipgloss.NewStyle().Foreground(lipgloss.Color(colorFg)),
		TextMuted:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted)),
		Accent:      lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)),
		Success:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent2)),
		Warn:        lipgloss.NewStyle().Foreground(lipgloss.Color(colorWarn)),
		Error:       lipgloss.NewStyle().Foreground(lipgloss.Color(colorError)),

		TopBar: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		Footer: lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted)),
		InputBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorBorder)).
			Padding(0, 1),
		GateBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorWarn)).
			Padding(0, 1),

		RoleYou: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent2)),
		RoleAI:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		RoleSys: lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted)),

		Thinking:   lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color(colorMuted)),
		Compressed: lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color(colorMuted)),
	}
}
