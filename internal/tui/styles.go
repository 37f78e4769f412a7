package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorUser    = lipgloss.Color("#10B981")
	colorAccent  = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#6B7280")
	colorFg      = lipgloss.Color("#F9FAFB")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	stateStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	buttonStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 2).
			Bold(true)

	activeButtonStyle = buttonStyle.
				BorderForeground(colorUser).
				Foreground(colorUser)

	retryButtonStyle = buttonStyle.
				BorderForeground(colorError).
				Foreground(colorError)

	transcriptStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted)

	userStyle = lipgloss.NewStyle().
			Foreground(colorUser).
			Bold(true)

	aiStyle = lipgloss.NewStyle().
		Foreground(colorFg)

	systemStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Italic(true)

	errorBannerStyle = lipgloss.NewStyle().
				Foreground(colorFg).
				Background(colorError).
				Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
)
