// Package styles holds the lipgloss palette of the watch dashboard.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/odooctl/internal/event"
	"github.com/Iron-Ham/odooctl/internal/task"
)

var (
	// Colors - all meet WCAG AA contrast (4.5:1) on black and dark surfaces
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	InfoColor      = lipgloss.Color("#60A5FA") // Blue
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	SurfaceColor   = lipgloss.Color("#1F2937") // Dark surface
	TextColor      = lipgloss.Color("#F9FAFB") // Light text
	BorderColor    = lipgloss.Color("#6B7280") // Gray

	Primary   = lipgloss.NewStyle().Foreground(PrimaryColor)
	Secondary = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning   = lipgloss.NewStyle().Foreground(WarningColor)
	Error     = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted     = lipgloss.NewStyle().Foreground(MutedColor)
	Text      = lipgloss.NewStyle().Foreground(TextColor)

	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(BorderColor).
		MarginBottom(1)

	// Selected task row
	Selected = lipgloss.NewStyle().
			Bold(true).
			Foreground(TextColor).
			Background(SurfaceColor)

	HelpBar = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)

	HelpKey = lipgloss.NewStyle().
		Bold(true).
		Foreground(SecondaryColor)

	// Toast is the frame of one notification; the border takes the
	// severity color.
	Toast = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1)
)

// SeverityColor returns the accent for a notification severity.
func SeverityColor(s event.Severity) lipgloss.Color {
	switch s {
	case event.SeveritySuccess:
		return SecondaryColor
	case event.SeverityWarning:
		return WarningColor
	case event.SeverityError:
		return ErrorColor
	default:
		return InfoColor
	}
}

// StatusColor returns the color of a task status badge.
func StatusColor(s task.Status) lipgloss.Color {
	switch s {
	case task.StatusRunning:
		return InfoColor
	case task.StatusSuccess:
		return SecondaryColor
	case task.StatusFailed:
		return ErrorColor
	default:
		return MutedColor
	}
}

// ToastFor styles a notification frame.
func ToastFor(s event.Severity) lipgloss.Style {
	return Toast.BorderForeground(SeverityColor(s))
}
