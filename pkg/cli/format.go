// Package cli provides shared formatting helpers for the newtorch CLI.
package cli

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// colorEnabled is false when NO_COLOR env var is set (per no-color.org) or
// stdout is not a terminal.
var colorEnabled = os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))

// SetColor forces colored output on or off.
func SetColor(on bool) { colorEnabled = on }

func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func Green(s string) string  { return paint("32", s) }
func Yellow(s string) string { return paint("33", s) }
func Red(s string) string    { return paint("31", s) }
func Bold(s string) string   { return paint("1", s) }
func Dim(s string) string    { return paint("2", s) }

// Status colors a health or lifecycle status word: ok green, warning
// and deferred yellow, critical and failed red.
func Status(s string) string {
	switch strings.ToLower(s) {
	case "ok", "active", "ready":
		return Green(strings.ToUpper(s))
	case "warning", "deferred", "retrying":
		return Yellow(strings.ToUpper(s))
	case "critical", "failed", "error":
		return Red(strings.ToUpper(s))
	default:
		return strings.ToUpper(s)
	}
}

// DotPad pads name with a space and dots to width, leaving names that do
// not fit untouched: DotPad("ports", 12) is "ports ......".
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	dots := width - len(name) - 1
	return name + " " + strings.Repeat(".", dots)
}
