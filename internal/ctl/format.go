// Package ctl implements the client-side commands for poisectl.
// It talks to a running poised over HTTP and WebSocket and renders the results to the terminal.
package ctl

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// stdout is where every command writes. Styles degrade to plain text when it
// is not a terminal.
var stdout io.Writer = os.Stdout

var (
	dim    = lipgloss.NewStyle().Faint(true)
	bold   = lipgloss.NewStyle().Bold(true)
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("#f38ba8"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("#f9e2af"))
	blue   = lipgloss.NewStyle().Foreground(lipgloss.Color("#89b4fa"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("#74c7ec"))
)

func outf(format string, args ...any) { fmt.Fprintf(stdout, format, args...) }

func outln(args ...any) { fmt.Fprintln(stdout, args...) }

// phaseStyle returns the style used for a session phase.
func phaseStyle(phase string) lipgloss.Style {
	switch phase {
	case "idle":
		return green
	case "thinking":
		return yellow
	case "response":
		return blue
	case "finishing":
		return cyan
	case "done":
		return bold
	default:
		return dim
	}
}

// colorize renders text in a style.
func colorize(s lipgloss.Style, text string) string {
	return s.Render(text)
}

// header prints a bold section title followed by a rule.
func header(title string, width int) {
	outln()
	outln(bold.Render("  " + title))
	outln(dim.Render("  " + strings.Repeat("─", width)))
}

// padRight pads s with spaces to reach the given width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// field prints one aligned key/value line.
func field(key string, val any) {
	outf("  %s %v\n", dim.Render(padRight(key+":", 14)), val)
}

// formatDuration renders a time.Duration as a compact human string like
// "2h 14m 8s" or "45s".
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// formatBytes renders a byte count as a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// progressBar builds a simple bar of the given width. The filled portion is
// green above goodPct and yellow below.
func progressBar(pct, width, goodPct int) string {
	pct = max(0, min(pct, 100))
	filled := (pct * width) / 100
	style := green
	if pct < goodPct {
		style = yellow
	}
	return style.Render(strings.Repeat("█", filled)) + dim.Render(strings.Repeat("·", width-filled))
}

// scoreText renders an optional score.
func scoreText(v *int) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprintf("%d", *v)
}
