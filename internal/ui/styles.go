package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"Respondr/internal/store"
)

// Styles holds every lipgloss style the view uses for one theme.
type Styles struct {
	Theme store.Theme

	App        lipgloss.Style
	Header     lipgloss.Style
	Emergency  lipgloss.Style
	Sidebar    lipgloss.Style
	ChatItem   lipgloss.Style
	ChatActive lipgloss.Style

	User       lipgloss.Style
	AI         lipgloss.Style
	Notice     lipgloss.Style
	Persistent lipgloss.Style
	Loading    lipgloss.Style

	Input  lipgloss.Style
	Status lipgloss.Style
	Alert  lipgloss.Style
	Help   lipgloss.Style
}

var (
	accent    = lipgloss.Color("#7C5CFF")
	danger    = lipgloss.Color("#FF3B30")
	darkText  = lipgloss.Color("#E6E6E6")
	darkMuted = lipgloss.Color("#8A8A8A")
	lightText = lipgloss.Color("#1F1F1F")
	lightMute = lipgloss.Color("#6B6B6B")
)

// NewStyles returns the styles for theme.
func NewStyles(theme store.Theme) Styles {
	text, muted := darkText, darkMuted
	userBg := lipgloss.Color("#2B2540")
	if theme == store.ThemeLight {
		text, muted = lightText, lightMute
		userBg = lipgloss.Color("#ECE8FF")
	}

	return Styles{
		Theme: theme,

		App:       lipgloss.NewStyle().Foreground(text),
		Header:    lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1),
		Emergency: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(danger).Padding(0, 1),
		Sidebar: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(muted).
			Padding(0, 1),
		ChatItem:   lipgloss.NewStyle().Foreground(muted),
		ChatActive: lipgloss.NewStyle().Bold(true).Foreground(accent),

		User:       lipgloss.NewStyle().Foreground(text).Background(userBg).Padding(0, 1),
		AI:         lipgloss.NewStyle().Foreground(text),
		Notice:     lipgloss.NewStyle().Italic(true).Foreground(muted).Align(lipgloss.Center),
		Persistent: lipgloss.NewStyle().Bold(true).Foreground(danger).Align(lipgloss.Center),
		Loading:    lipgloss.NewStyle().Foreground(accent),

		Input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent),
		Status: lipgloss.NewStyle().Foreground(muted),
		Alert: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(danger).
			Padding(1, 2),
		Help: lipgloss.NewStyle().Foreground(muted),
	}
}

// Renderer formats AI replies as markdown.
type Renderer struct {
	theme store.Theme
	width int
	tr    *glamour.TermRenderer
}

// NewRenderer builds a glamour renderer for theme and wrap width. A renderer that
// cannot be built falls back to plain text.
func NewRenderer(theme store.Theme, width int) *Renderer {
	if width < 20 {
		width = 20
	}
	style := "dark"
	if theme == store.ThemeLight {
		style = "light"
	}
	tr, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		tr = nil
	}
	return &Renderer{theme: theme, width: width, tr: tr}
}

// Render returns text formatted for the terminal.
func (r *Renderer) Render(text string) string {
	if r == nil || r.tr == nil {
		return text
	}
	out, err := r.tr.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}
