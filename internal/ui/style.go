// Package ui holds terminal styling shared by rulebook commands.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	headingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true).Underline(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// colorEnabled reports whether styled output should be emitted. It is a
// variable so tests can force plain text.
var colorEnabled = detectColor

func detectColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return IsTerminal(os.Stdout)
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled() {
		return s
	}
	return style.Render(s)
}

// OK styles a success marker or message.
func OK(s string) string { return render(okStyle, s) }

// Warn styles a warning marker or message.
func Warn(s string) string { return render(warnStyle, s) }

// Fail styles a failure marker or message.
func Fail(s string) string { return render(failStyle, s) }

// Heading styles a section heading.
func Heading(s string) string { return render(headingStyle, s) }

// Dim styles secondary text.
func Dim(s string) string { return render(dimStyle, s) }

// Check returns a pass/fail marker.
func Check(passed bool) string {
	if passed {
		return OK("✓")
	}
	return Fail("✗")
}

// Width returns the terminal width of stdout, or fallback when unknown.
func Width(fallback int) int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}
