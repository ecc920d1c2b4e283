package ui

import (
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// ShouldUseColor reports whether record listings and event streams on
// stdout should carry ANSI colors. CTXREG_COLOR=always|never wins over
// NO_COLOR, CLICOLOR_FORCE and CLICOLOR; otherwise stdout must be a TTY.
func ShouldUseColor() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CTXREG_COLOR"))) {
	case "always":
		return true
	case "never":
		return false
	}
	// https://no-color.org
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Init disables color when ShouldUseColor reports false. CLI entry points
// call it once before rendering anything.
func Init() {
	if !ShouldUseColor() {
		ForceNoColor()
	}
}

const (
	defaultWidth = 100
	minColumn    = 12
	maxColumn    = 60
)

// ColumnWidth is the widest a free-text column (record name, worker groups)
// may be in a table whose fixed columns take reserved cells. It follows the
// terminal width, falling back to 100 columns when stdout is not a TTY.
func ColumnWidth(reserved int) int {
	width := defaultWidth
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}
	return min(max((width-reserved)/2, minColumn), maxColumn)
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}
