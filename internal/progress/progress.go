// Package progress maps task progress onto a displayable state and renders it as a text bar.
package progress

import (
	"fmt"
	"math"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
)

const defaultBarWidth = 30

// State is what the user sees for one progress update.
type State struct {
	Percent int
	Text    string
	Error   bool
}

// Present turns raw values into a State. Percent is rounded and clamped to 0..100;
// NaN renders as 0. The error flag only changes styling, never the number.
func Present(percent float64, statusText string, isError bool) State {
	return State{
		Percent: clampPercent(percent),
		Text:    statusText,
		Error:   isError,
	}
}

func clampPercent(p float64) int {
	if math.IsNaN(p) || p <= 0 {
		return 0
	}
	if p >= 100 {
		return 100
	}
	return int(math.Round(p))
}

// Bar renders states as a single text line.
type Bar struct {
	Width    int
	Colorize bool
}

// Render returns the line for s, e.g. "[#########.....]  60%  Processing".
func (b Bar) Render(s State) string {
	width := b.Width
	if width <= 0 {
		width = defaultBarWidth
	}
	filled := s.Percent * width / 100
	line := fmt.Sprintf("[%s%s] %3d%%  %s",
		strings.Repeat("#", filled),
		strings.Repeat(".", width-filled),
		s.Percent,
		s.Text,
	)
	if !b.Colorize {
		return line
	}
	if s.Error {
		return text.Colors{text.FgRed}.Sprint(line)
	}
	if s.Percent >= 100 {
		return text.Colors{text.FgGreen}.Sprint(line)
	}
	return text.Colors{text.FgBlue}.Sprint(line)
}
