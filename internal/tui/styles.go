package tui

import "github.com/charmbracelet/lipgloss"

// Palette taken from the web client's gradient.
var (
	ColorRed    = lipgloss.Color("#B73939")
	ColorAmber  = lipgloss.Color("#976F3E")
	ColorOlive  = lipgloss.Color("#7D8F35")
	ColorFg     = lipgloss.Color("#E5E7EB")
	ColorMuted  = lipgloss.Color("#9CA3AF")
	ColorError  = lipgloss.Color("#F87171")
	ColorOK     = lipgloss.Color("#A3E635")
	ColorBorder = lipgloss.Color("#3F4451")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true).
			MarginBottom(1)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(1, 2)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorAmber).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	NoticeStyle = lipgloss.NewStyle().
			Foreground(ColorOK)

	SelectedStyle = lipgloss.NewStyle().
			Foreground(ColorFg).
			Background(ColorAmber)

	ItemStyle = lipgloss.NewStyle().
			Foreground(ColorFg)

	SiteStyle = lipgloss.NewStyle().
			Foreground(ColorOlive)

	HelpStyle = lipgloss.NewStyle().
			Foreground(ColorMuted).
			MarginTop(1)
)
