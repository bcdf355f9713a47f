// Package ui formats CLI output. Colors follow fatih/color's terminal
// detection and are disabled by NO_COLOR, in which case each formatter falls
// back to a plain-text decoration.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Formatter applies semantic formatting to text.
type Formatter struct {
	color  *color.Color
	prefix string
	suffix string
}

func (f Formatter) Sprint(a ...any) string {
	text := fmt.Sprint(a...)
	if noColor() {
		return f.prefix + text + f.suffix
	}
	return f.color.Sprint(text)
}

func (f Formatter) Sprintf(format string, a ...any) string {
	return f.Sprint(fmt.Sprintf(format, a...))
}

func noColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	return color.NoColor
}

var (
	// Path formats logical certificate paths such as k1/web.
	Path = Formatter{color.New(color.FgYellow), "", ""}

	// CA marks certificate authorities. Bold blue, [CA] suffix without color.
	CA = Formatter{color.New(color.FgBlue, color.Bold), "", " [CA]"}

	// Serial formats serial numbers and fingerprints.
	Serial = Formatter{color.New(color.FgHiBlack), "", ""}

	// Missing marks recorded certificates whose file is gone.
	Missing = Formatter{color.New(color.FgRed), "", " (missing)"}

	Success = Formatter{color.New(color.FgGreen), "", ""}
	Error   = Formatter{color.New(color.FgRed), "", ""}
	Warning = Formatter{color.New(color.FgYellow), "", ""}

	// Muted formats secondary details, in parentheses without color.
	Muted = Formatter{color.New(color.FgHiBlack), "(", ")"}
)
