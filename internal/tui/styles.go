// Package tui provides terminal output styling for cub commands.
//
// All colors use AdaptiveColor for light/dark terminal support. Status
// displays keep icon + color + text redundancy so NO_COLOR terminals lose
// nothing. Call CheckNoColor at the start of commands that emit styled text.
package tui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/cubtools/cub/internal/constants"
)

//nolint:gochecknoglobals // package-level styling API
var (
	// ColorPrimary is blue, used for active states and identifiers.
	ColorPrimary = lipgloss.AdaptiveColor{Light: "#0087AF", Dark: "#00D7FF"}

	// ColorSuccess is green, used for closed tasks and successful runs.
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#008700", Dark: "#00FF87"}

	// ColorWarning is yellow, used for warnings and in-progress work.
	ColorWarning = lipgloss.AdaptiveColor{Light: "#AF8700", Dark: "#FFD700"}

	// ColorError is red, used for failures.
	ColorError = lipgloss.AdaptiveColor{Light: "#AF0000", Dark: "#FF5F5F"}

	// ColorMuted is gray, used for secondary text.
	ColorMuted = lipgloss.AdaptiveColor{Light: "#585858", Dark: "#6C6C6C"}

	// StyleBold applies bold formatting.
	StyleBold = lipgloss.NewStyle().Bold(true)

	// StyleDim applies dim formatting.
	StyleDim = lipgloss.NewStyle().Foreground(ColorMuted)
)

// OutputStyles holds the common output styles.
type OutputStyles struct {
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Dim     lipgloss.Style
}

// NewOutputStyles creates the common output styles.
func NewOutputStyles() *OutputStyles {
	return &OutputStyles{
		Success: lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true),
		Error:   lipgloss.NewStyle().Foreground(ColorError).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(ColorWarning),
		Info:    lipgloss.NewStyle().Foreground(ColorPrimary),
		Dim:     lipgloss.NewStyle().Foreground(ColorMuted),
	}
}

// CheckNoColor respects the NO_COLOR environment variable.
func CheckNoColor() {
	if !HasColorSupport() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// HasColorSupport reports whether styled output should be emitted. Follows
// the NO_COLOR standard (https://no-color.org/) and disables colors for
// dumb terminals.
func HasColorSupport() bool {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return true
}

// TaskStatusColors returns the semantic color per task status.
func TaskStatusColors() map[constants.TaskStatus]lipgloss.AdaptiveColor {
	return map[constants.TaskStatus]lipgloss.AdaptiveColor{
		constants.TaskStatusOpen:       {Light: "#0087AF", Dark: "#00D7FF"},
		constants.TaskStatusInProgress: {Light: "#D7AF00", Dark: "#FFD700"},
		constants.TaskStatusClosed:     {Light: "#00875F", Dark: "#00FF87"},
	}
}

// TaskStatusIcon returns the status symbol for task listings.
func TaskStatusIcon(status constants.TaskStatus) string {
	switch status {
	case constants.TaskStatusOpen:
		return "○"
	case constants.TaskStatusInProgress:
		return "●"
	case constants.TaskStatusClosed:
		return "✓"
	default:
		return "?"
	}
}

// RunPhaseIcon returns the symbol for run-session phases.
func RunPhaseIcon(phase constants.RunPhase) string {
	switch phase {
	case constants.RunPhaseInitializing, constants.RunPhaseRunning:
		return "●"
	case constants.RunPhaseCompleted:
		return "✓"
	case constants.RunPhaseStopped:
		return "■"
	case constants.RunPhaseFailed:
		return "✗"
	case constants.RunPhaseOrphaned:
		return "◌"
	default:
		return "?"
	}
}

// FormatTaskStatus renders icon + colored text for a task status.
func FormatTaskStatus(status constants.TaskStatus) string {
	icon := TaskStatusIcon(status)
	if !HasColorSupport() {
		return icon + " " + string(status)
	}
	style := lipgloss.NewStyle().Foreground(TaskStatusColors()[status])
	return icon + " " + style.Render(string(status))
}
