package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary = lipgloss.Color("#22d3ee") // Cyan accent
	Success = lipgloss.Color("#10B981") // Emerald
	Warning = lipgloss.Color("#F59E0B") // Amber
	Error   = lipgloss.Color("#EF4444") // Red
	Muted   = lipgloss.Color("#6B7280") // Gray
)

// Text styles
var (
	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	BoldStyle = lipgloss.NewStyle().
			Bold(true)
)

// Box styles
var (
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(0, 2)
)

// Table styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Primary).
				Align(lipgloss.Center)

	tableCellStyle = lipgloss.NewStyle().Padding(0, 1)

	TableRowStyle = tableCellStyle.Foreground(lipgloss.Color("255"))

	TableRowAltStyle = tableCellStyle.Foreground(lipgloss.Color("245"))
)

// Layout styles
var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			Background(lipgloss.Color("#1F2937")).
			Padding(0, 2).
			MarginBottom(1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(Muted).
			MarginTop(1)
)

// Spinner style
var SpinnerStyle = lipgloss.NewStyle().Foreground(Primary)

// Emoji helpers for consistent iconography
const (
	IconSuccess = "✅"
	IconError   = "❌"
	IconWarning = "⚠️"
	IconInfo    = "ℹ️"
	IconRoom    = "🚪"
	IconPeer    = "👤"
	IconConnect = "🔌"
	IconVideo   = "🎬"
	IconPlay    = "▶"
	IconPause   = "⏸"
	IconMic     = "🎙"
	IconMuted   = "🔇"
	IconCamera  = "📷"
	IconSync    = "🔄"
)

func PrintError(msg string) {
	fmt.Printf("%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func PrintWarning(msg string) {
	fmt.Printf("%s %s\n", WarningStyle.Render(IconWarning), WarningStyle.Render(msg))
}

func PrintInfo(msg string) {
	fmt.Printf("%s %s\n", IconInfo, msg)
}

func PrintInfof(format string, args ...any) {
	PrintInfo(fmt.Sprintf(format, args...))
}

// FormatPosition renders a playback position in seconds as [h:]mm:ss.
func FormatPosition(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second)).Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// ShortID truncates an endpoint id for display.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// FormatSize formats a byte count for display.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit && exp < 2; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMG"[exp])
}
