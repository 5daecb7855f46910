package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// statusOut receives progress and result lines; command payloads go to
// cmd.OutOrStdout so --json output stays parseable.
var statusOut io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func notice(color, mark, format string, args ...any) {
	fmt.Fprintln(statusOut, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notice(colorGreen, "✓", format, args...) }

func printError(format string, args ...any) { notice(colorRed, "✗", format, args...) }

func printStep(format string, args ...any) { notice(colorCyan, "→", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(statusOut, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// priorityColor maps a suggestion priority to its display color.
func priorityColor(priority string) string {
	switch strings.ToLower(priority) {
	case "high":
		return colorRed
	case "medium":
		return colorYellow
	default:
		return colorCyan
	}
}
