package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Logger prints severity-prefixed messages to stderr with redaction support
type Logger struct {
	debug   bool
	noColor bool
	out     io.Writer

	green  *color.Color
	yellow *color.Color
	red    *color.Color
	cyan   *color.Color
	blue   *color.Color
}

// New creates a new logger instance
func New(debug, noColor bool) *Logger {
	l := &Logger{
		debug:   debug,
		noColor: noColor,
		out:     os.Stderr,
		green:   color.New(color.FgGreen),
		yellow:  color.New(color.FgYellow),
		red:     color.New(color.FgRed),
		cyan:    color.New(color.FgCyan),
		blue:    color.New(color.FgBlue),
	}
	if noColor {
		for _, c := range []*color.Color{l.green, l.yellow, l.red, l.cyan, l.blue} {
			c.DisableColor()
		}
	}
	return l
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	l := New(false, true)
	l.out = io.Discard
	return l
}

// SetOutput redirects log output.
func (l *Logger) SetOutput(w io.Writer) {
	l.out = w
}

// DebugEnabled reports whether Debug messages are printed.
func (l *Logger) DebugEnabled() bool {
	return l.debug
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.print(l.green, "✓", format, args...)
}

// Step logs the start of a workflow stage
func (l *Logger) Step(format string, args ...interface{}) {
	l.print(l.blue, "→", format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.print(l.yellow, "⚠", format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.print(l.red, "✗", format, args...)
}

// Debug logs a debug message if debug mode is enabled
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.print(l.cyan, "[DEBUG]", format, args...)
}

func (l *Logger) print(c *color.Color, prefix, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	_, _ = fmt.Fprintf(l.out, "%s %s\n", c.Sprint(prefix), msg)
}

// Secret represents a value that should be redacted in logs
type Secret string

// String implements the Stringer interface, always returning a redacted value
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString implements the GoStringer interface for %#v formatting
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// Redact replaces sensitive values in a string with [REDACTED]
func Redact(s string, secrets []string) string {
	result := s
	for _, secret := range secrets {
		if secret != "" && len(secret) > 3 { // Only redact non-trivial secrets
			result = strings.ReplaceAll(result, secret, "[REDACTED]")
		}
	}
	return result
}
