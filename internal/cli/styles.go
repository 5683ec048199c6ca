package cli

import "github.com/charmbracelet/lipgloss"

const Logo = "🧰"
const Version = "0.2.0"

var (
	Accent = lipgloss.Color("#00D4FF")
	Subtle = lipgloss.Color("#555555")
	Green  = lipgloss.Color("#04B575")
	Yellow = lipgloss.Color("#E5C07B")
	Red    = lipgloss.Color("#FF4444")

	TitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(Accent)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
	CursorStyle = lipgloss.NewStyle().Bold(true).Foreground(Accent)
	ErrStyle    = lipgloss.NewStyle().Foreground(Red)
	WarnStyle   = lipgloss.NewStyle().Foreground(Yellow)
	OkStyle     = lipgloss.NewStyle().Foreground(Green).Bold(true)
	DimStyle    = lipgloss.NewStyle().Foreground(Subtle)
)

func StatusBadge(ok bool) string {
	if ok {
		return OkStyle.Render("✓")
	}
	return DimStyle.Render("✗")
}

// Banner renders the title line shown by every subcommand.
func Banner(title string) string {
	if title == "" {
		return TitleStyle.Render("  " + Logo + " utilbot")
	}
	return TitleStyle.Render("  " + Logo + " utilbot " + title)
}
