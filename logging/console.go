// Package logging provides the operator console logger, the protocol
// debug log and the packet monitor log.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// NewConsole returns the operator-facing logger. Unknown levels fall back
// to info.
func NewConsole(level string) *log.Logger {
	return newConsole(os.Stderr, level)
}

func newConsole(w io.Writer, level string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
		Level:           lvl,
		Prefix:          "aprsgate",
	})
}

// NewConsoleWriter is NewConsole writing to w.
func NewConsoleWriter(w io.Writer, level string) *log.Logger {
	return newConsole(w, level)
}
