package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	TITLE = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7d56f4"))

	INFO = lipgloss.NewStyle().
		Italic(true).
		Foreground(lipgloss.Color("#888888"))

	SUCCESS = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#28a745"))

	WARNING = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#f0ad4e"))

	ERROR = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#ee4b2b"))

	KEY = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Width(10)

	VALUE = lipgloss.NewStyle().
		Bold(true)
)

// Fields renders key/value pairs one per line, keys aligned.
func Fields(pairs ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(KEY.Render(pairs[i]))
		b.WriteString(VALUE.Render(pairs[i+1]))
	}
	return b.String()
}
