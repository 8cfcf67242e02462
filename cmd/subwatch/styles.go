package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const AppName = "subwatch"

var (
	PrimaryColor   = lipgloss.Color("#FF6B6B") // Warm coral
	SecondaryColor = lipgloss.Color("#4ECDC4") // Teal
	AccentColor    = lipgloss.Color("#95E1D3") // Mint
	MutedColor     = lipgloss.Color("#94A3B8")
	UnwatchedColor = lipgloss.Color("#FFE66D")
	ErrorColor     = lipgloss.Color("#EF4444")
	SuccessColor   = lipgloss.Color("#10B981")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	UnwatchedStyle = lipgloss.NewStyle().
			Foreground(UnwatchedColor).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(AccentColor).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(MutedColor)
)

var bannerColors = []lipgloss.Color{PrimaryColor, lipgloss.Color("#FFA86B"), AccentColor, SecondaryColor}

// banner renders the application name with one color per letter.
func banner(tagline string) string {
	var b strings.Builder
	for i, r := range AppName {
		b.WriteString(lipgloss.NewStyle().
			Foreground(bannerColors[i%len(bannerColors)]).
			Bold(true).
			Render(string(r)))
	}

	body := lipgloss.JoinVertical(lipgloss.Center, b.String(), MutedStyle.Render(tagline))
	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(SecondaryColor).
		Padding(0, 3).
		Render(body)
}

// table lays out rows in padded columns. The first row is the header.
func table(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); i < len(widths) && w > widths[i] {
				widths[i] = w
			}
		}
	}

	var lines []string
	for n, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			style := lipgloss.NewStyle().Width(widths[i]).MarginRight(2)
			if n == 0 {
				style = style.Inherit(TitleStyle)
			}
			cells[i] = style.Render(cell)
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return strings.Join(lines, "\n")
}
