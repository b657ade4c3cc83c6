package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary   = lipgloss.Color("12")
	colorSuccess   = lipgloss.Color("10")
	colorWarning   = lipgloss.Color("11")
	colorError     = lipgloss.Color("9")
	colorMuted     = lipgloss.Color("8")
	colorHighlight = lipgloss.Color("14")
)

var (
	styleError   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	styleHelp    = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleSuccess = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleInfo    = lipgloss.NewStyle().Foreground(colorHighlight)
	styleCode    = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	stylePath    = lipgloss.NewStyle().Bold(true)
	styleDim     = lipgloss.NewStyle().Foreground(colorMuted)
	styleHeader  = lipgloss.NewStyle().Bold(true).Foreground(colorHighlight)
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)

	badgeApplied = lipgloss.NewStyle().
			Background(colorSuccess).
			Foreground(lipgloss.Color("0")).
			Padding(0, 1).
			Bold(true)

	badgePending = lipgloss.NewStyle().
			Background(colorWarning).
			Foreground(lipgloss.Color("0")).
			Padding(0, 1).
			Bold(true)
)

func render(style lipgloss.Style, s string) string {
	if !EnableColors() {
		return s
	}
	return style.Render(s)
}

// Error returns text styled as an error label.
func Error(s string) string { return render(styleError, s) }

// Warning returns text styled as a warning label.
func Warning(s string) string { return render(styleWarning, s) }

// Help returns text styled as a help label.
func Help(s string) string { return render(styleHelp, s) }

// Success returns text styled as a success message.
func Success(s string) string { return render(styleSuccess, s) }

// Info returns text styled as informational text.
func Info(s string) string { return render(styleInfo, s) }

// Code returns text styled as an error code.
func Code(s string) string { return render(styleCode, s) }

// FilePath returns text styled as a file path.
func FilePath(s string) string { return render(stylePath, s) }

// Dim returns muted text.
func Dim(s string) string { return render(styleDim, s) }

// Header returns text styled as a table header.
func Header(s string) string { return render(styleHeader, s) }

// RenderTitle renders a section title.
func RenderTitle(text string) string {
	if !EnableColors() {
		return "=== " + text + " ==="
	}
	return styleTitle.Render(text)
}

// AppliedBadge marks an applied migration.
func AppliedBadge() string {
	if !EnableColors() {
		return "[applied]"
	}
	return badgeApplied.Render("applied")
}

// PendingBadge marks a migration the database has not recorded.
func PendingBadge() string {
	if !EnableColors() {
		return "[pending]"
	}
	return badgePending.Render("pending")
}

// FormatCount formats a count with singular/plural form.
func FormatCount(count int, singular, plural string) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, singular)
	}
	return fmt.Sprintf("%d %s", count, plural)
}
