// Package ui provides terminal styling helpers for CLI output.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RenderPass styles text as a success indicator.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderFail styles text as a failure indicator.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderWarn styles text as a warning indicator.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderAccent styles text for emphasis.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderDim styles text as secondary detail.
func RenderDim(s string) string { return dimStyle.Render(s) }
