package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.Color("39")
	colorMuted  = lipgloss.Color("244")
	colorWarn   = lipgloss.Color("214")
	colorError  = lipgloss.Color("196")
	colorOK     = lipgloss.Color("42")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarn)
	errorStyle  = lipgloss.NewStyle().Foreground(colorError)
	okStyle     = lipgloss.NewStyle().Foreground(colorOK)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted)
	focusedPanelStyle = panelStyle.BorderForeground(colorAccent)

	cursorStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	visitorStyle   = lipgloss.NewStyle().Bold(true)
	automatedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	humanStyle     = lipgloss.NewStyle().Foreground(colorOK)
)
