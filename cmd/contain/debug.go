package main

import (
	"fmt"
	"io"
	"strings"
)

// DebugLogger provides structured debug output for sandbox startup. It is
// disabled by default (when output is nil) and writes to output when
// enabled; all methods are no-ops on a nil *DebugLogger.
type DebugLogger struct {
	output io.Writer
}

// NewDebugLogger creates a new debug logger. If output is nil, the logger is
// disabled.
func NewDebugLogger(output io.Writer) *DebugLogger {
	return &DebugLogger{output: output}
}

// Enabled reports whether this logger is enabled.
func (d *DebugLogger) Enabled() bool {
	return d != nil && d.output != nil
}

// Logf writes a formatted debug message.
func (d *DebugLogger) Logf(format string, args ...any) {
	if !d.Enabled() {
		return
	}

	_, _ = fmt.Fprintf(d.output, format+"\n", args...)
}

// Section writes a section header.
func (d *DebugLogger) Section(name string) {
	if !d.Enabled() {
		return
	}

	_, _ = fmt.Fprintf(d.output, "\n=== %s ===\n", name)
}

// Bulletf writes an indented bullet item.
func (d *DebugLogger) Bulletf(format string, args ...any) {
	if !d.Enabled() {
		return
	}

	_, _ = fmt.Fprintf(d.output, "  • "+format+"\n", args...)
}

// Policy dumps a policy's fields for a startup debug section.
func (d *DebugLogger) Policy(label string, files, dirs, rofiles, rodirs []string) {
	if !d.Enabled() {
		return
	}

	d.Bulletf("%s files: %s", label, strings.Join(files, ", "))
	d.Bulletf("%s dirs: %s", label, strings.Join(dirs, ", "))
	d.Bulletf("%s ro-files: %s", label, strings.Join(rofiles, ", "))
	d.Bulletf("%s ro-dirs: %s", label, strings.Join(rodirs, ", "))
}

// fn returns a contain.Debugf bound to this logger, or nil if disabled, so
// the core package's side-channel tracing never fires when debug output
// wasn't requested.
func (d *DebugLogger) fn() func(format string, args ...any) {
	if !d.Enabled() {
		return nil
	}

	return func(format string, args ...any) {
		_, _ = fmt.Fprintf(d.output, format+"\n", args...)
	}
}
