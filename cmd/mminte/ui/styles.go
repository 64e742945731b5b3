// Package ui renders batch summaries on the terminal.
package ui

import "github.com/charmbracelet/lipgloss"

// Palette.
var (
	Primary     = lipgloss.Color("#101F38")
	Accent      = lipgloss.Color("#8BC34A")
	MutedColor  = lipgloss.Color("#6B7280")
	Destructive = lipgloss.Color("#e53935")
	Warning     = lipgloss.Color("#FFC107")
)

// Styles holds the text styles used by the summary views.
type Styles struct {
	Title   lipgloss.Style
	Body    lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
}

// DefaultStyles returns the summary styles. lipgloss drops the colours
// when the output is not a terminal.
func DefaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(Accent),
		Body:    lipgloss.NewStyle(),
		Bold:    lipgloss.NewStyle().Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(MutedColor),
		Success: lipgloss.NewStyle().Foreground(Accent),
		Error:   lipgloss.NewStyle().Foreground(Destructive),
		Warning: lipgloss.NewStyle().Foreground(Warning),
	}
}
