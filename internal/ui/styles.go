// Package ui renders operator-facing CLI output.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/mschirtzinger/acctsync/internal/account"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Bold(true).Width(18)
)

// DisableColor strips colors and attributes from all later output.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders s as a success marker.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s as a warning marker.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s as a failure marker.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted renders s de-emphasized.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderStatus renders a status name colored by lifecycle stage.
func RenderStatus(s account.Status) string {
	switch s {
	case account.StatusSubscribed, account.StatusVerified:
		return passStyle.Render(string(s))
	case account.StatusLinkReady, account.StatusPendingCheck:
		return accentStyle.Render(string(s))
	case account.StatusError, account.StatusIneligible:
		return failStyle.Render(string(s))
	case account.StatusRunning, account.StatusProcessing:
		return warnStyle.Render(string(s))
	default:
		return mutedStyle.Render(string(s))
	}
}
