// Package logger provides charmbracelet/log loggers for the popcomplete packages.
// Everything is written to stderr since stdout carries the host protocol.
package logger

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

var output io.Writer = os.Stderr

// SetOutput redirects loggers created afterwards, and the default logger.
func SetOutput(w io.Writer) {
	output = w
	log.SetOutput(w)
}

// New creates a prefixed logger that follows the global log level.
func New(prefix string) *log.Logger {
	return log.NewWithOptions(output, log.Options{
		Prefix:          prefix,
		ReportCaller:    false,
		ReportTimestamp: log.GetLevel() <= log.DebugLevel,
		Formatter:       log.TextFormatter,
		Level:           log.GetLevel(),
	})
}

// NewWithConfig creates a charm log with custom config
func NewWithConfig(prefix string, level log.Level, caller bool, showTimestamp bool, fmt log.Formatter) *log.Logger {
	return log.NewWithOptions(output, log.Options{
		Prefix:          prefix,
		Level:           level,
		ReportCaller:    caller,
		ReportTimestamp: showTimestamp,
		Formatter:       fmt,
	})
}
