// Package theme provides the Lip Gloss color palette and reusable styles
// for the examwatch TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Event kind colors.
var (
	ColorLifecycle = lipgloss.Color("#7c3aed")
	ColorFocus     = lipgloss.Color("#d97706")
	ColorSuspect   = lipgloss.Color("#dc2626")
)

// Session state colors.
var (
	ColorRunning = lipgloss.Color("#16a34a")
	ColorStopped = lipgloss.Color("#2563eb")
	ColorIdle    = lipgloss.Color("#4b5563")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorDefault = lipgloss.Color("#9ca3af")
)

// KindColor returns the color for an event kind wire name.
func KindColor(kind string) lipgloss.Color {
	switch kind {
	case "session_start", "session_stop":
		return ColorLifecycle
	case "no_face", "looking_away":
		return ColorFocus
	case "multi_face", "suspicious_object", "suspicious_audio":
		return ColorSuspect
	default:
		return ColorDefault
	}
}

// KindGlyph returns a short marker for an event kind wire name.
func KindGlyph(kind string) string {
	switch kind {
	case "session_start":
		return "▶"
	case "session_stop":
		return "■"
	case "no_face":
		return "∅"
	case "looking_away":
		return "↪"
	case "multi_face":
		return "⚇"
	case "suspicious_object":
		return "◆"
	case "suspicious_audio":
		return "♪"
	default:
		return "·"
	}
}

// StateColor returns the color for a session state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "running":
		return ColorRunning
	case "stopped":
		return ColorStopped
	default:
		return ColorIdle
	}
}

// HealthColor returns the color for a signal health status.
func HealthColor(status string) lipgloss.Color {
	switch status {
	case "healthy":
		return ColorHealthy
	case "degraded":
		return ColorWarning
	case "failed":
		return ColorDanger
	default:
		return ColorDimmed
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleAlert = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright).
			Background(ColorSuspect)
)
