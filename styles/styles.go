package styles

import (
	"hash/fnv"

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

	ERROR = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#ee4b2b"))

	PROMPT = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#f4b400"))

	ROOM = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#5fafd7"))

	PRIVATE = lipgloss.NewStyle().
		Italic(true).
		Foreground(lipgloss.Color("#d75f87"))

	SELF = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7d56f4"))

	MUTED = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#5f5f5f"))
)

var nickColors = []lipgloss.Color{"#28a745", "#5fafd7", "#f4b400", "#d75f87", "#00afaf", "#af87ff"}

// Nick renders a nickname in a color derived from the name, so a peer keeps
// its color for the whole run.
func Nick(name string) string {
	h := fnv.New32a()
	h.Write([]byte(name))
	color := nickColors[h.Sum32()%uint32(len(nickColors))]

	return lipgloss.NewStyle().Bold(true).Foreground(color).Render(name)
}
