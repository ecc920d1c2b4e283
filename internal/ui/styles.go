package ui

import (
	"fmt"
	"strings"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent  = 74  // blue
	colorCmd     = 250 // light gray
	colorMuted   = 245 // medium gray
	colorCreated = 114 // green
	colorUpdated = 179 // amber
	colorDeleted = 203 // red
)

var noColor bool

func paint(color int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderError returns s in the deletion/error (red) color.
func RenderError(s string) string { return paint(colorDeleted, s) }

// RenderTopic colors an event topic by its final segment: created, updated
// or deleted. Other topics are rendered muted.
func RenderTopic(topic string) string {
	verb := topic
	if i := strings.LastIndexByte(topic, '.'); i >= 0 {
		verb = topic[i+1:]
	}
	switch verb {
	case "created":
		return paint(colorCreated, topic)
	case "updated":
		return paint(colorUpdated, topic)
	case "deleted":
		return paint(colorDeleted, topic)
	}
	return RenderMuted(topic)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
