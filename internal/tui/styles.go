package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Semantic palette using AdaptiveColor for light/dark terminals.
var (
	colorAllowed   = lipgloss.AdaptiveColor{Light: "28", Dark: "42"}   // green
	colorFlagged   = lipgloss.AdaptiveColor{Light: "136", Dark: "214"} // yellow
	colorBlocked   = lipgloss.AdaptiveColor{Light: "160", Dark: "196"} // red
	colorInfo      = lipgloss.AdaptiveColor{Light: "245", Dark: "243"} // gray
	colorAccent    = lipgloss.AdaptiveColor{Light: "25", Dark: "75"}   // blue
	colorMuted     = lipgloss.AdaptiveColor{Light: "245", Dark: "244"} // light gray
	colorHighlight = lipgloss.AdaptiveColor{Light: "141", Dark: "57"}  // selection bg
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("231")).
			Background(colorAccent).
			Padding(0, 1)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("231")).
			Background(colorAccent).
			Padding(0, 2)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(colorMuted).
				Padding(0, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	selectedStyle = lipgloss.NewStyle().
			Background(colorHighlight).
			Foreground(lipgloss.Color("231"))

	statusStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlocked)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
)

// decisionStyle colors a decision cell by outcome.
func decisionStyle(decision string) lipgloss.Style {
	switch decision {
	case "allowed":
		return lipgloss.NewStyle().Foreground(colorAllowed)
	case "blocked":
		return lipgloss.NewStyle().Foreground(colorBlocked).Bold(true)
	case "flagged":
		return lipgloss.NewStyle().Foreground(colorFlagged)
	default:
		return lipgloss.NewStyle().Foreground(colorInfo)
	}
}
