package stream

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color constants
const (
	ColorLabel   = "6"  // Cyan
	ColorTool    = "3"  // Yellow
	ColorMuted   = "8"  // Gray
	ColorError   = "9"  // Red
	ColorResult  = "5"  // Magenta
	ColorWarning = "11" // Bright yellow
)

// Status icons
const (
	IconSuccess = "✓"
	IconFailed  = "✗"
)

// Styles contains every style used to render agent output and the session
// controller's own notices.
type Styles struct {
	Label   lipgloss.Style
	Tool    lipgloss.Style
	Muted   lipgloss.Style
	Error   lipgloss.Style
	Result  lipgloss.Style
	Warning lipgloss.Style
}

// DefaultStyles returns colored styles bound to w. The renderer detects the
// color profile of w, so output piped to a file comes out plain.
func DefaultStyles(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w)
	return Styles{
		Label:   r.NewStyle().Foreground(lipgloss.Color(ColorLabel)),
		Tool:    r.NewStyle().Foreground(lipgloss.Color(ColorTool)),
		Muted:   r.NewStyle().Foreground(lipgloss.Color(ColorMuted)).TabWidth(lipgloss.NoTabConversion),
		Error:   r.NewStyle().Foreground(lipgloss.Color(ColorError)),
		Result:  r.NewStyle().Foreground(lipgloss.Color(ColorResult)),
		Warning: r.NewStyle().Foreground(lipgloss.Color(ColorWarning)),
	}
}

// PlainStyles returns styles that render text unchanged.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle().TabWidth(lipgloss.NoTabConversion)
	return Styles{
		Label:   plain,
		Tool:    plain,
		Muted:   plain,
		Error:   plain,
		Result:  plain,
		Warning: plain,
	}
}

// RenderLines applies style to each line of text separately. Rendering a
// multi-line string in one call would pad every line to the widest one.
func RenderLines(style lipgloss.Style, text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		lines[i] = style.Render(line)
	}
	return strings.Join(lines, "\n")
}
