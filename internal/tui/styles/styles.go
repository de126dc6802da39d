package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors meet WCAG AA contrast on black and dark surfaces
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	SurfaceColor   = lipgloss.Color("#1F2937") // Dark surface
	TextColor      = lipgloss.Color("#F9FAFB") // Light text
	BorderColor    = lipgloss.Color("#6B7280") // Gray
	BlueColor      = lipgloss.Color("#60A5FA") // Blue

	// Convenience styles for colors
	Primary   = lipgloss.NewStyle().Foreground(PrimaryColor)
	Secondary = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning   = lipgloss.NewStyle().Foreground(WarningColor)
	Error     = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted     = lipgloss.NewStyle().Foreground(MutedColor)
	Text      = lipgloss.NewStyle().Foreground(TextColor)

	// Link and agent state colors
	StatusOnline  = lipgloss.Color("#10B981") // Green
	StatusWaiting = lipgloss.Color("#F59E0B") // Amber
	StatusOffline = lipgloss.Color("#9CA3AF") // Gray
	StatusDone    = lipgloss.Color("#A78BFA") // Purple
	StatusBlocked = lipgloss.Color("#FB923C") // Orange, refused forward move

	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(TextColor).
		Background(PrimaryColor).
		Padding(0, 1)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		MarginBottom(1)

	Label = lipgloss.NewStyle().
		Foreground(MutedColor).
		Width(14)

	Value = lipgloss.NewStyle().
		Foreground(TextColor).
		Bold(true)

	StatusBadge = lipgloss.NewStyle().
			Padding(0, 1).
			MarginRight(1)

	ContentBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 2)

	ErrorMsg = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	SuccessMsg = lipgloss.NewStyle().
			Foreground(SecondaryColor)

	HelpBar = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)
)

// StatusColor returns the badge color for an agent or link state
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "online", "ready":
		return StatusOnline
	case "waiting", "joining":
		return StatusWaiting
	case "done":
		return StatusDone
	case "blocked":
		return StatusBlocked
	default:
		return StatusOffline
	}
}

// StatusIcon returns the glyph shown in front of a state badge
func StatusIcon(status string) string {
	switch status {
	case "online", "ready":
		return "●"
	case "waiting", "joining":
		return "○"
	case "done":
		return "✓"
	case "blocked":
		return "✗"
	default:
		return "·"
	}
}

// Badge renders a colored state badge
func Badge(status string) string {
	return StatusBadge.
		Foreground(SurfaceColor).
		Background(StatusColor(status)).
		Render(StatusIcon(status) + " " + status)
}

// RewardStyle colors a reward: penalties beyond the step cost stand out
func RewardStyle(reward int) lipgloss.Style {
	switch {
	case reward >= 0:
		return Secondary
	case reward < -1:
		return Error
	default:
		return Text
	}
}
