package output

import "github.com/charmbracelet/lipgloss"

// Color palette, 256-color codes.
const (
	colorCyan     = "51"  // Primary accent
	colorWhite    = "255" // Headers
	colorGray     = "245" // Labels, secondary text
	colorDarkGray = "238" // Separators
	colorGreen    = "118" // Success, high confidence
	colorYellow   = "220" // Warnings, medium confidence
	colorRed      = "196" // Errors, low confidence
)

// Styles holds the lipgloss styles used by the writer.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Label   lipgloss.Style
	Accent  lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorWhite)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorDarkGray)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
		Accent:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorCyan)),
	}
}

// NoColorStyles returns unstyled equivalents for plain output.
func NoColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
		Accent:  lipgloss.NewStyle(),
	}
}

// GetStyles picks styles based on the color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
