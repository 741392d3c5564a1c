package terminal

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// getColorableWriter returns the writer used for the debugger's output.
// Escape sequences are removed when stdout is not a terminal.
func getColorableWriter(stdout *os.File) io.Writer {
	if isatty.IsTerminal(stdout.Fd()) || isatty.IsCygwinTerminal(stdout.Fd()) {
		return colorable.NewColorable(stdout)
	}
	return colorable.NewNonColorable(stdout)
}
