// Package ui provides the terminal styling helpers shared by the CLI
// commands. Color is dropped automatically when NO_COLOR is set and can
// be switched off explicitly with --no-color.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true)
)

var colorDisabled = termenv.EnvNoColor()

// DisableColor turns off all styling for the rest of the process.
func DisableColor() {
	colorDisabled = true
}

func render(style lipgloss.Style, s string) string {
	if colorDisabled {
		return s
	}
	return style.Render(s)
}

// RenderAccent styles informational markers.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass styles success markers.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn styles warning markers.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail styles error markers.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderDim styles secondary detail like timestamps and ids.
func RenderDim(s string) string { return render(dimStyle, s) }

// RenderHeader styles section headings.
func RenderHeader(s string) string { return render(headerStyle, s) }
