package logger

import (
	"io"

	"github.com/fatih/color" // Colored console output for leveled log messages
)

// Package-level printf-style logging functions, one per level, colored with
// fatih/color. They behave like fmt.Printf but write colorized text:
// green for info, bright magenta for warnings, red for errors, cyan for debug.
//
// Debug is a no-op until Init(true) enables it, so debug logging carries no
// runtime cost in normal runs.
var (
	Info  func(format string, a ...any)
	Warn  func(format string, a ...any)
	Error func(format string, a ...any)
	Debug func(format string, a ...any)
)

// out is the destination all levels write to. Defaults to the color package's
// terminal-aware writer; tests swap it with SetOutput to capture messages.
var out io.Writer = color.Output

var debugEnabled bool

func init() {
	rebind()
}

// Init enables or disables debug logging. When disabled, Debug is assigned a
// no-op function that silently drops its arguments.
func Init(enableDebug bool) {
	debugEnabled = enableDebug
	rebind()
}

// SetOutput redirects all log levels to w. Intended for tests that assert on
// emitted warnings; production code never calls it.
func SetOutput(w io.Writer) {
	out = w
	rebind()
}

// rebind rebuilds the level functions against the current writer and debug flag.
func rebind() {
	Info = levelFunc(color.FgGreen)
	Warn = levelFunc(color.FgHiMagenta)
	Error = levelFunc(color.FgRed)
	if debugEnabled {
		Debug = levelFunc(color.FgCyan)
	} else {
		Debug = func(format string, a ...any) {}
	}
}

// levelFunc returns a printf-style function writing in the given color to the
// current output writer.
func levelFunc(attr color.Attribute) func(format string, a ...any) {
	c := color.New(attr)
	w := out
	return func(format string, a ...any) {
		c.Fprintf(w, format, a...)
	}
}
