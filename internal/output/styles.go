package output

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5F5F")
	colorGreen  = lipgloss.Color("#5FD75F")
	colorYellow = lipgloss.Color("#FFD75F")
	colorCyan   = lipgloss.Color("#5FD7FF")
	colorGray   = lipgloss.Color("#808080")
)

type styles struct {
	title    lipgloss.Style
	started  lipgloss.Style
	progress lipgloss.Style
	done     lipgloss.Style
	failed   lipgloss.Style
	warning  lipgloss.Style
	dim      lipgloss.Style
}

// newStyles binds every style to r so the color profile follows the output writer.
func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:    r.NewStyle().Bold(true).Foreground(colorCyan),
		started:  r.NewStyle().Foreground(colorCyan),
		progress: r.NewStyle().Foreground(colorGray),
		done:     r.NewStyle().Foreground(colorGreen).Bold(true),
		failed:   r.NewStyle().Foreground(colorRed).Bold(true),
		warning:  r.NewStyle().Foreground(colorYellow),
		dim:      r.NewStyle().Foreground(colorGray),
	}
}
