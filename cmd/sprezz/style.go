package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	primaryColor = lipgloss.Color("#FF79C6")
	accentColor  = lipgloss.Color("#50FA7B")
	warningColor = lipgloss.Color("#FFB86C")
	dangerColor  = lipgloss.Color("#FF5555")
	mutedColor   = lipgloss.Color("#6272A4")
	borderColor  = lipgloss.Color("#7571f9")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(16)

	valueStyle = lipgloss.NewStyle().
			Bold(true)

	okStyle = lipgloss.NewStyle().
		Foreground(accentColor).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(dangerColor).
			Bold(true)
)

// newTable returns a rounded table with a bold header row.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().
					Foreground(lipgloss.Color("#ffffff")).
					Bold(true).
					Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...)
}

type field struct {
	label string
	value string
}

// writeFields prints a title followed by aligned label/value lines.
func writeFields(w io.Writer, title string, fields []field) {
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	for _, f := range fields {
		b.WriteString(labelStyle.Render(f.label))
		b.WriteString(valueStyle.Render(f.value))
		b.WriteString("\n")
	}
	fmt.Fprint(w, b.String())
}

func yesNo(v bool) string {
	if v {
		return okStyle.Render("yes")
	}
	return "no"
}

// shorten truncates long hashes and keys for display.
func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
