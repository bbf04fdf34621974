package main

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// kv renders one aligned "key: value" line.
func kv(key, value string) string {
	return keyStyle.Render(key+": ") + valueStyle.Render(value)
}

// statusStyle picks a color for a task status string.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed":
		return okStyle
	case "failed":
		return errorStyle
	case "started":
		return warnStyle
	}
	return dimStyle
}
