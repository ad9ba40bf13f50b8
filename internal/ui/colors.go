package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/quantmind-br/hpkg/internal/core"
)

// Color scheme for hpkg
var (
	// Primary actions
	Success = color.New(color.FgGreen)
	Error   = color.New(color.FgRed, color.Bold)
	Warning = color.New(color.FgYellow)
	Info    = color.New(color.FgCyan)

	// Secondary actions
	Highlight = color.New(color.FgHiCyan, color.Bold)
	Muted     = color.New(color.Faint)
	Bold      = color.New(color.Bold)

	// Install reasons
	ReasonExplicit   = color.New(color.FgGreen)
	ReasonDependency = color.New(color.FgBlue)
	ReasonGroup      = color.New(color.FgMagenta)
)

// Status indicators
const (
	checkMark = "✓"
	crossMark = "✗"
	arrow     = "→"
	bullet    = "•"
)

// Output streams. Commands print through these so tests can capture them.
var (
	Out    io.Writer = os.Stdout
	ErrOut io.Writer = os.Stderr
)

// InitColors applies a color mode: "always", "never" or "auto". Auto
// respects NO_COLOR and TERM=dumb and leaves the TTY detection of
// fatih/color in place.
func InitColors(mode string) {
	switch mode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	default:
		if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
			color.NoColor = true
		}
	}
}

// PrintSuccess prints a success message
func PrintSuccess(format string, args ...any) {
	Success.Fprintf(Out, "%s %s\n", checkMark, fmt.Sprintf(format, args...))
}

// PrintError prints an error message
func PrintError(format string, args ...any) {
	Error.Fprintf(ErrOut, "%s Error: %s\n", crossMark, fmt.Sprintf(format, args...))
}

// PrintWarning prints a warning message
func PrintWarning(format string, args ...any) {
	Warning.Fprintf(ErrOut, "Warning: %s\n", fmt.Sprintf(format, args...))
}

// PrintInfo prints an info message
func PrintInfo(format string, args ...any) {
	Info.Fprintf(Out, "%s %s\n", arrow, fmt.Sprintf(format, args...))
}

// PrintStep prints a step indicator
func PrintStep(step, total int, format string, args ...any) {
	Highlight.Fprintf(Out, "[%d/%d] ", step, total)
	fmt.Fprintf(Out, format+"\n", args...)
}

// PrintKeyValue prints a key-value pair
func PrintKeyValue(key, value string) {
	Bold.Fprintf(Out, "%-16s ", key+":")
	fmt.Fprintln(Out, value)
}

// PrintHeader prints a section header
func PrintHeader(text string) {
	fmt.Fprintln(Out)
	Bold.Fprintln(Out, text)
	Muted.Fprintln(Out, "────────────────────────────────────────")
}

// PrintList prints a bulleted list
func PrintList(items []string) {
	for _, item := range items {
		fmt.Fprintf(Out, "  %s %s\n", Muted.Sprint(bullet), item)
	}
}

// ColorizeReason returns a colored install reason
func ColorizeReason(reason core.InstallReason) string {
	switch reason {
	case core.ReasonExplicit:
		return ReasonExplicit.Sprint(reason)
	case core.ReasonDependency:
		return ReasonDependency.Sprint(reason)
	case core.ReasonGroup:
		return ReasonGroup.Sprint(reason)
	default:
		return string(reason)
	}
}

// ColorizeStatus returns a colored audit status
func ColorizeStatus(status core.TransactionStatus) string {
	switch status {
	case core.TxCompleted:
		return Success.Sprint(status)
	case core.TxFailed:
		return Error.Sprint(status)
	case core.TxPending:
		return Warning.Sprint(status)
	default:
		return string(status)
	}
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// AreColorsEnabled returns whether colors are currently enabled
func AreColorsEnabled() bool {
	return !color.NoColor
}
